package mail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/unclebandit/creatorsync/internal/transport"
)

type SendGridSender struct {
	APIKey   string
	BaseURL  string
	FromName string
	FromMail string
	client   *rest.Client
}

func NewSendGridSender(apiKey, baseURL, fromName, fromMail string, timeout time.Duration) *SendGridSender {
	return &SendGridSender{
		APIKey:   apiKey,
		BaseURL:  baseURL,
		FromName: fromName,
		FromMail: fromMail,
		client:   &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
	}
}

// Send posts to /v3/mail/send. The message_id custom arg comes back on every
// event webhook, and X-Message-Id is the prefix of sg_message_id.
func (s *SendGridSender) Send(ctx context.Context, msg transport.Message) (transport.Result, error) {
	fromMail := msg.From
	if fromMail == "" {
		fromMail = s.FromMail
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(sgmail.NewEmail(s.FromName, fromMail))
	m.Subject = msg.Subject

	p := sgmail.NewPersonalization()
	p.AddTos(sgmail.NewEmail("", msg.To))
	p.SetCustomArg("message_id", msg.MessageID)
	m.AddPersonalizations(p)

	if msg.Text != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTML))
	}

	req := sendgrid.GetRequest(s.APIKey, "/v3/mail/send", s.BaseURL)
	req.Method = rest.Post
	req.Body = sgmail.GetRequestBody(m)

	resp, err := s.client.SendWithContext(ctx, req)
	if err != nil {
		return transport.Result{}, fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 300 {
		return transport.Result{}, transport.ClassifyStatus("sendgrid", resp.StatusCode, resp.Body)
	}

	var providerID string
	for k, v := range resp.Headers {
		if http.CanonicalHeaderKey(k) == "X-Message-Id" && len(v) > 0 {
			providerID = v[0]
		}
	}
	return transport.Result{Provider: "sendgrid", ProviderMessageID: providerID}, nil
}
