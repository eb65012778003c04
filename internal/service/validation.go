package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type mailFields struct {
	Recipient string `validate:"required,email"`
	Subject   string `validate:"required"`
	Body      string `validate:"required_without=HTML"`
	HTML      string
}

type chatFields struct {
	Recipient string `validate:"required"`
	Template  string `validate:"required"`
	Language  string `validate:"required"`
}

type smsFields struct {
	Recipient string `validate:"required,e164"`
	Body      string `validate:"required"`
}

// ValidateJob checks the fields the given worker channel needs. A job routed
// to the wrong channel's queue is invalid.
func ValidateJob(job *model.NotificationJob, channel model.Channel) error {
	if job.Channel != channel {
		return appErrors.NewValidation("job channel %q does not match worker channel %q", job.Channel, channel)
	}

	var fields any
	switch channel {
	case model.ChannelMail:
		fields = mailFields{Recipient: job.Recipient, Subject: job.Subject, Body: job.Body, HTML: job.HTML}
	case model.ChannelChat:
		fields = chatFields{Recipient: job.Recipient, Template: job.Template, Language: job.Language}
	case model.ChannelSMS:
		fields = smsFields{Recipient: job.Recipient, Body: job.Body}
	default:
		return appErrors.NewValidation("unknown channel %q", channel)
	}

	if err := validate.Struct(fields); err != nil {
		return appErrors.NewValidation("%s", describe(err))
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
