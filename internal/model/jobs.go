package model

import "time"

// NotificationJob is the payload published on the per-channel notification
// queues.
type NotificationJob struct {
	MessageID  string            `json:"message_id"`
	Channel    Channel           `json:"channel"`
	Recipient  string            `json:"recipient"`
	Identity   string            `json:"identity,omitempty"`
	From       string            `json:"from,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body,omitempty"`
	HTML       string            `json:"html,omitempty"`
	Template   string            `json:"template,omitempty"`
	Language   string            `json:"language,omitempty"`
	Components []map[string]any  `json:"components,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	Metadata   Metadata          `json:"metadata,omitempty"`
}

// RateLimitIdentity is who the per-identity rate limit is keyed on.
func (j *NotificationJob) RateLimitIdentity() string {
	if j.Identity != "" {
		return j.Identity
	}
	if id := j.Metadata.String("user_id"); id != "" {
		return id
	}
	return j.Recipient
}

const (
	ScrapeRequestTypeUser = "user"
	EventScrapeCompleted  = "scrape_completed"
)

// ScrapeRequest is published to the collector's inbound queue.
type ScrapeRequest struct {
	RequestID   string `json:"request_id"`
	Username    string `json:"username"`
	Platform    string `json:"platform"`
	RequestType string `json:"request_type"`
	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"max_attempts"`
}

// ScrapeCompletion is emitted by the collector once a scrape has finished.
type ScrapeCompletion struct {
	Event      string     `json:"event"`
	Platform   string     `json:"platform"`
	Username   string     `json:"username"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
