// Package collector is the HTTP client for the external data-collection
// service. Calls go through a circuit breaker and a fixed timeout.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
)

var (
	// ErrNotFound means the collector has no such account. It must not be
	// retried.
	ErrNotFound = fmt.Errorf("collector: %w", appErrors.ErrNotFound)
	// ErrTransient covers network failures, 5xx, 429 and an open breaker.
	ErrTransient = errors.New("collector: transient failure")
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "collector",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
	}
}

// FetchAnalytics calls GET /users/{username}/analytics?platform=.
func (c *Client) FetchAnalytics(ctx context.Context, platform, username string) (*Analytics, error) {
	endpoint := fmt.Sprintf("%s/users/%s/analytics?platform=%s",
		c.baseURL, url.PathEscape(username), url.QueryEscape(platform))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build collector request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.http.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("collector returned %d", r.StatusCode)
		}
		return r, nil
	})
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrTransient, platform, username, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, platform, username)
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, fmt.Errorf("%w: %s/%s: collector returned %d", ErrTransient, platform, username, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, appErrors.NewValidation("collector returned %d for %s/%s: %s", resp.StatusCode, platform, username, body)
	}

	var env analyticsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode collector response for %s/%s: %w", platform, username, err)
	}
	if !env.OK || env.Data == nil {
		return nil, fmt.Errorf("%w: %s/%s: %s", ErrTransient, platform, username, env.Error)
	}
	return env.Data, nil
}
