package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/unclebandit/creatorsync/internal/transport"
)

// Sender posts templated messages to a business-messaging Graph-style API at
// {base}/{phone_number_id}/messages.
type Sender struct {
	provider      string
	baseURL       string
	phoneNumberID string
	accessToken   string
	http          *http.Client
	breaker       *gobreaker.CircuitBreaker[*http.Response]
}

func NewSender(provider, baseURL, phoneNumberID, accessToken string, timeout time.Duration) *Sender {
	return &Sender{
		provider:      provider,
		baseURL:       strings.TrimRight(baseURL, "/"),
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		http:          &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        provider,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

type templatePayload struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templateMessage `json:"template"`
}

type templateMessage struct {
	Name       string           `json:"name"`
	Language   templateLanguage `json:"language"`
	Components []map[string]any `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (s *Sender) Send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	body, err := json.Marshal(templatePayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(msg.To, "+"),
		Type:             "template",
		Template: templateMessage{
			Name:       msg.Template,
			Language:   templateLanguage{Code: msg.Language},
			Components: msg.Components,
		},
	})
	if err != nil {
		return transport.Result{}, fmt.Errorf("encode chat payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return transport.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		r, doErr := s.http.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 {
			return r, fmt.Errorf("%s returned %d", s.provider, r.StatusCode)
		}
		return r, nil
	})
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return transport.Result{}, fmt.Errorf("%s send: %w", s.provider, err)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return transport.Result{}, transport.ClassifyStatus(s.provider, resp.StatusCode, string(raw))
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return transport.Result{}, fmt.Errorf("decode %s response: %w", s.provider, err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return transport.Result{}, fmt.Errorf("%s response carried no message id", s.provider)
	}
	return transport.Result{Provider: s.provider, ProviderMessageID: out.Messages[0].ID}, nil
}
