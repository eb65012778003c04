package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/unclebandit/creatorsync/internal/transport"
)

type TwilioSender struct {
	FromNumber string
	Client     *twilio.RestClient
}

func NewTwilioSender(accountSid, authToken, fromNumber string, timeout time.Duration) *TwilioSender {
	c := &client.Client{
		Credentials: client.NewCredentials(accountSid, authToken),
		HTTPClient:  &http.Client{Timeout: timeout},
	}
	c.SetAccountSid(accountSid)

	return &TwilioSender{
		FromNumber: fromNumber,
		Client:     twilio.NewRestClientWithParams(twilio.ClientParams{Client: c}),
	}
}

// Send creates a Message resource. The returned SID is what status callbacks
// carry as MessageSid.
func (t *TwilioSender) Send(_ context.Context, s transport.Message) (transport.Result, error) {
	to, err := NormalizeNumber(s.To)
	if err != nil {
		return transport.Result{}, &transport.PermanentError{Provider: "twilio", Status: http.StatusBadRequest, Err: err}
	}

	params := &api.CreateMessageParams{}
	params.SetBody(s.Text)
	params.SetFrom(t.FromNumber)
	params.SetTo(to)

	resp, err := t.Client.Api.CreateMessage(params)
	if err != nil {
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) {
			return transport.Result{}, transport.ClassifyStatus("twilio", restErr.Status, restErr.Message)
		}
		return transport.Result{}, fmt.Errorf("twilio send: %w", err)
	}
	if resp.Sid == nil {
		return transport.Result{}, fmt.Errorf("twilio response carried no sid")
	}
	return transport.Result{Provider: "twilio", ProviderMessageID: *resp.Sid}, nil
}

// NormalizeNumber checks that num is a valid E.164 number and returns it in
// canonical form.
func NormalizeNumber(num string) (string, error) {
	if num == "" {
		return "", fmt.Errorf("missing number")
	}
	if num[0] != '+' {
		return "", fmt.Errorf("phone number must be in E.164 format with +")
	}
	parsed, err := phonenumbers.Parse(num, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number %q", num)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
