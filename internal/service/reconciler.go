package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/metrics"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/repository"
)

type extractor func(payload map[string]any) string

// Tried in order; the first non-empty value wins.
var messageIDExtractors = []extractor{
	field("provider_message_id"),
	field("message_id"),
	field("messageId"),
	field("MessageSid"),
	field("SmsSid"),
	sendGridMessageID,
	field("wamid"),
	field("id"),
	nestedStatus("id"),
}

var statusExtractors = []extractor{
	statusWord("status"),
	field("MessageStatus"),
	field("SmsStatus"),
	field("event"),
	field("state"),
	field("delivery_status"),
	nestedStatus("status"),
}

func field(name string) extractor {
	return func(p map[string]any) string {
		return stringValue(p[name])
	}
}

// Bounce and drop events put the SMTP enhanced status code (5.1.1) in
// "status"; the status word is then in "event".
var smtpStatusCode = regexp.MustCompile(`^\d\.\d{1,3}\.\d{1,3}$`)

func statusWord(name string) extractor {
	return func(p map[string]any) string {
		v := stringValue(p[name])
		if smtpStatusCode.MatchString(v) {
			return ""
		}
		return v
	}
}

// sendGridMessageID strips the filter suffix SendGrid appends after the
// first dot so the value matches the X-Message-Id returned at send time.
func sendGridMessageID(p map[string]any) string {
	id := stringValue(p["sg_message_id"])
	if i := strings.Index(id, "."); i >= 0 {
		id = id[:i]
	}
	return id
}

// nestedStatus reads entry[].changes[].value.statuses[].<key> from
// Graph-style business-messaging callbacks, or a top-level statuses[].
func nestedStatus(key string) extractor {
	return func(p map[string]any) string {
		if v := firstStatusValue(p["statuses"], key); v != "" {
			return v
		}
		for _, entry := range asSlice(p["entry"]) {
			for _, change := range asSlice(asMap(entry)["changes"]) {
				value := asMap(asMap(change)["value"])
				if v := firstStatusValue(value["statuses"], key); v != "" {
					return v
				}
			}
		}
		return ""
	}
}

func firstStatusValue(statuses any, key string) string {
	for _, s := range asSlice(statuses) {
		if v := stringValue(asMap(s)[key]); v != "" {
			return v
		}
	}
	return ""
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

func extract(p map[string]any, extractors []extractor) string {
	for _, fn := range extractors {
		if v := fn(p); v != "" {
			return v
		}
	}
	return ""
}

var statusAliases = map[string]model.DeliveryStatus{
	"queued":        model.StatusQueued,
	"accepted":      model.StatusQueued,
	"scheduled":     model.StatusQueued,
	"processed":     model.StatusQueued,
	"sending":       model.StatusQueued,
	"sent":          model.StatusSent,
	"deferred":      model.StatusSent,
	"delivered":     model.StatusDelivered,
	"delivery":      model.StatusDelivered,
	"read":          model.StatusRead,
	"open":          model.StatusRead,
	"opened":        model.StatusRead,
	"seen":          model.StatusRead,
	"click":         model.StatusRead,
	"failed":        model.StatusFailed,
	"failure":       model.StatusFailed,
	"error":         model.StatusFailed,
	"canceled":      model.StatusFailed,
	"undelivered":   model.StatusUndelivered,
	"undeliverable": model.StatusUndelivered,
	"bounce":        model.StatusUndelivered,
	"bounced":       model.StatusUndelivered,
	"rejected":      model.StatusRejected,
	"dropped":       model.StatusRejected,
	"blocked":       model.StatusRejected,
}

// NormalizeStatus maps a provider status word onto the delivery status set.
// Unrecognized words count as sent.
func NormalizeStatus(raw string) model.DeliveryStatus {
	if s, ok := statusAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return model.StatusSent
}

type ReconcileResult string

const (
	ReconcileApplied   ReconcileResult = "applied"
	ReconcileIgnored   ReconcileResult = "ignored"
	ReconcileUnmatched ReconcileResult = "unmatched"
	ReconcileInvalid   ReconcileResult = "invalid"
)

// Reconciler applies provider status callbacks to delivery records.
type Reconciler struct {
	Records repository.DeliveryRecordRepositoryInterface
	Logger  *zap.Logger
	Now     func() time.Time
}

func NewReconciler(records repository.DeliveryRecordRepositoryInterface, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		Records: records,
		Logger:  logger,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile applies one callback object. Only store failures are returned;
// callbacks that match nothing are logged and reported as unmatched.
func (r *Reconciler) Reconcile(ctx context.Context, provider string, payload map[string]any) (ReconcileResult, error) {
	id := extract(payload, messageIDExtractors)
	raw := extract(payload, statusExtractors)
	if id == "" || raw == "" {
		r.Logger.Warn("status callback without message id or status",
			zap.String("provider", provider), zap.Any("payload", payload))
		metrics.WebhookCallbacksTotal.WithLabelValues(provider, string(ReconcileInvalid)).Inc()
		return ReconcileInvalid, nil
	}

	status := NormalizeStatus(raw)
	log := r.Logger.With(
		zap.String("provider", provider),
		zap.String("id", id),
		zap.String("raw_status", raw),
		zap.String("status", string(status)))

	now := r.Now()
	rec, changed, err := r.Records.ApplyStatus(ctx, provider, id, func(rec *model.DeliveryRecord) bool {
		return rec.Advance(status, now)
	})
	switch {
	case errors.Is(err, appErrors.ErrNotFound):
		log.Warn("status callback matched no delivery record")
		metrics.WebhookCallbacksTotal.WithLabelValues(provider, string(ReconcileUnmatched)).Inc()
		return ReconcileUnmatched, nil
	case err != nil:
		return "", fmt.Errorf("apply %s status for %s: %w", provider, id, err)
	}

	result := ReconcileIgnored
	if changed {
		result = ReconcileApplied
		log.Info("delivery status updated", zap.String("message_id", rec.MessageID))
	} else {
		log.Debug("stale status callback ignored", zap.String("current", string(rec.Status)))
	}
	metrics.WebhookCallbacksTotal.WithLabelValues(provider, string(result)).Inc()
	return result, nil
}
