// Package transport defines the contract delivery workers use to hand a
// message to an external provider.
package transport

import (
	"context"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
)

// Message is the channel-neutral view of an outbound notification.
type Message struct {
	MessageID  string
	To         string
	From       string
	Subject    string
	Text       string
	HTML       string
	Template   string
	Language   string
	Components []map[string]any
}

// Result identifies the accepted message at the provider.
type Result struct {
	Provider          string
	ProviderMessageID string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// PermanentError is a provider rejection that retrying cannot fix.
type PermanentError struct {
	Provider string
	Status   int
	Err      error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s rejected message (status %d): %v", e.Provider, e.Status, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func (e *PermanentError) Is(target error) bool { return target == appErrors.ErrRejected }

// IsPermanent reports whether err is a rejection that must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, appErrors.ErrRejected)
}

// ClassifyStatus turns a non-2xx provider status into an error, marking 4xx
// other than 408 and 429 as permanent.
func ClassifyStatus(provider string, status int, detail string) error {
	err := fmt.Errorf("%s returned %d: %s", provider, status, detail)
	if status >= 400 && status < 500 && status != 408 && status != 429 {
		return &PermanentError{Provider: provider, Status: status, Err: err}
	}
	return err
}
