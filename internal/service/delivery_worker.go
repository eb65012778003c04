package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecodeclub/ekit/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/metrics"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/repository"
	"github.com/unclebandit/creatorsync/internal/transport"
)

type WorkerOptions struct {
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	IdleInterval    time.Duration
	DefaultLanguage string
	// Sleep blocks between attempts. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration)
	Now   func() time.Time
}

// DeliveryWorker consumes one channel's notification queue, one message at a
// time, and drives each job to a terminal delivery record.
type DeliveryWorker struct {
	channel   model.Channel
	queue     string
	broker    queue.Broker
	records   repository.DeliveryRecordRepositoryInterface
	admission *Admission
	sender    transport.Sender
	logger    *zap.Logger
	opts      WorkerOptions
}

func NewDeliveryWorker(
	channel model.Channel,
	broker queue.Broker,
	records repository.DeliveryRecordRepositoryInterface,
	admission *Admission,
	sender transport.Sender,
	logger *zap.Logger,
	opts WorkerOptions,
) (*DeliveryWorker, error) {
	q, err := queue.QueueForChannel(channel)
	if err != nil {
		return nil, err
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en_US"
	}

	return &DeliveryWorker{
		channel:   channel,
		queue:     q,
		broker:    broker,
		records:   records,
		admission: admission,
		sender:    sender,
		logger:    logger.With(zap.String("channel", string(channel)), zap.String("queue", q)),
		opts:      opts,
	}, nil
}

// Run polls the queue until ctx is canceled. The message in flight when ctx
// is canceled is finished before Run returns.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	w.logger.Info("delivery worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("delivery worker stopping")
			return nil
		}

		msg, err := w.broker.ConsumeNext(ctx, w.queue)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consume %s: %w", w.queue, err)
		}
		if msg == nil {
			select {
			case <-ctx.Done():
			case <-time.After(w.opts.IdleInterval):
			}
			continue
		}

		if err := w.Handle(context.WithoutCancel(ctx), msg); err != nil {
			return err
		}
	}
}

// Handle processes one message and acks it, or nacks it for redelivery when
// the store or broker failed underneath it.
func (w *DeliveryWorker) Handle(ctx context.Context, msg *queue.Message) error {
	if err := w.process(ctx, msg); err != nil {
		w.logger.Error("job failed on infrastructure error, requeueing",
			zap.String("broker_message_id", msg.ID), zap.Error(err))
		metrics.QueueOutcomesTotal.WithLabelValues(w.queue, "requeued").Inc()
		if nackErr := w.broker.Nack(msg, true); nackErr != nil {
			return fmt.Errorf("nack %s: %w", msg.ID, nackErr)
		}
		return nil
	}

	metrics.QueueOutcomesTotal.WithLabelValues(w.queue, "acked").Inc()
	if err := w.broker.Ack(msg); err != nil {
		return fmt.Errorf("ack %s: %w", msg.ID, err)
	}
	return nil
}

func (w *DeliveryWorker) process(ctx context.Context, msg *queue.Message) error {
	var job model.NotificationJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		w.logger.Warn("dropping malformed job", zap.String("broker_message_id", msg.ID), zap.Error(appErrors.NewMalformed(err)))
		metrics.DeliveriesTotal.WithLabelValues(string(w.channel), "malformed").Inc()
		return nil
	}
	if job.MessageID == "" {
		job.MessageID = msg.ID
	}
	if job.MessageID == "" {
		job.MessageID = uuid.NewString()
	}
	log := w.logger.With(zap.String("message_id", job.MessageID))

	existing, err := w.records.GetByMessageID(ctx, job.MessageID)
	if err != nil {
		return fmt.Errorf("look up %s: %w", job.MessageID, err)
	}
	if existing != nil {
		log.Info("duplicate job skipped", zap.String("status", string(existing.Status)))
		return nil
	}

	if job.Channel == "" {
		job.Channel = w.channel
	}
	if job.Channel == model.ChannelChat && job.Language == "" {
		job.Language = w.opts.DefaultLanguage
	}
	if err := ValidateJob(&job, w.channel); err != nil {
		log.Warn("dropping invalid job", zap.Error(err))
		metrics.DeliveriesTotal.WithLabelValues(string(w.channel), "invalid").Inc()
		return nil
	}

	reason, err := w.admission.Check(ctx, &job)
	if err != nil {
		return fmt.Errorf("admission for %s: %w", job.MessageID, err)
	}

	rec := &model.DeliveryRecord{
		MessageID: job.MessageID,
		Channel:   w.channel,
		Recipient: job.Recipient,
		Template:  job.Template,
		Status:    model.StatusQueued,
		CreatedAt: w.opts.Now(),
		Metadata:  job.Metadata,
	}
	if reason != "" {
		rec.Status = model.StatusFailed
		rec.ErrorLog = &reason
	}

	if err := w.records.Create(ctx, rec); err != nil {
		if errors.Is(err, appErrors.ErrDuplicate) {
			log.Info("concurrent duplicate skipped")
			return nil
		}
		return fmt.Errorf("create record %s: %w", job.MessageID, err)
	}

	if reason != "" {
		log.Warn("job rejected by admission control", zap.Error(appErrors.NewRejected("%s", reason)))
		metrics.AdmissionRejectionsTotal.WithLabelValues(string(w.channel), rejectionKind(reason)).Inc()
		metrics.DeliveriesTotal.WithLabelValues(string(w.channel), string(model.StatusFailed)).Inc()
		return nil
	}

	return w.deliver(ctx, log, rec, &job)
}

// deliver makes up to MaxRetries attempts with exponential backoff between
// them. Only store failures are returned.
func (w *DeliveryWorker) deliver(ctx context.Context, log *zap.Logger, rec *model.DeliveryRecord, job *model.NotificationJob) error {
	backoff, err := retry.NewExponentialBackoffRetryStrategy(w.opts.BackoffInitial, w.opts.BackoffMax, int32(w.opts.MaxRetries))
	if err != nil {
		return fmt.Errorf("build backoff: %w", err)
	}
	out := w.buildMessage(job)

	for attempt := 1; ; attempt++ {
		start := time.Now()
		res, sendErr := w.sender.Send(ctx, out)
		metrics.DeliveryAttemptDuration.WithLabelValues(string(w.channel), res.Provider).Observe(time.Since(start).Seconds())

		if sendErr == nil {
			now := w.opts.Now()
			rec.Status = model.StatusSent
			rec.SentAt = &now
			rec.Provider = &res.Provider
			if res.ProviderMessageID != "" {
				rec.ProviderMessageID = &res.ProviderMessageID
			}
			if err := w.records.MarkSent(ctx, rec, w.admission.Charge(job)); err != nil {
				return fmt.Errorf("mark %s sent: %w", rec.MessageID, err)
			}
			log.Info("message sent",
				zap.String("provider", res.Provider),
				zap.String("provider_message_id", res.ProviderMessageID),
				zap.Int("attempt", attempt))
			metrics.DeliveriesTotal.WithLabelValues(string(w.channel), string(model.StatusSent)).Inc()
			return nil
		}

		rec.RetryCount = attempt
		errText := fmt.Sprintf("attempt %d: %v", attempt, sendErr)
		rec.ErrorLog = &errText

		next, more := backoff.Next()
		switch {
		case transport.IsPermanent(sendErr):
			rec.Status = model.StatusRejected
		case attempt >= w.opts.MaxRetries || !more:
			rec.Status = model.StatusFailed
		default:
			rec.Status = model.StatusRetrying
		}

		if err := w.records.UpdateAttempt(ctx, rec); err != nil {
			return fmt.Errorf("record attempt %d for %s: %w", attempt, rec.MessageID, err)
		}
		if rec.Status != model.StatusRetrying {
			log.Warn("delivery gave up",
				zap.String("status", string(rec.Status)),
				zap.Int("attempts", attempt),
				zap.Error(sendErr))
			metrics.DeliveriesTotal.WithLabelValues(string(w.channel), string(rec.Status)).Inc()
			return nil
		}

		log.Info("send failed, backing off", zap.Int("attempt", attempt), zap.Duration("backoff", next), zap.Error(sendErr))
		w.opts.Sleep(ctx, next)
	}
}

func (w *DeliveryWorker) buildMessage(job *model.NotificationJob) transport.Message {
	return transport.Message{
		MessageID:  job.MessageID,
		To:         job.Recipient,
		From:       job.From,
		Subject:    RenderTemplate(job.Subject, job.Params),
		Text:       RenderTemplate(job.Body, job.Params),
		HTML:       RenderTemplate(job.HTML, job.Params),
		Template:   job.Template,
		Language:   job.Language,
		Components: job.Components,
	}
}

func rejectionKind(reason string) string {
	if strings.HasPrefix(reason, "rate limit") {
		return "rate_limited"
	}
	return "insufficient_credits"
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
