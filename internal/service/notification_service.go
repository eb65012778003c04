// internal/service/notification_service.go
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/queue"
)

// NotificationService puts jobs on the per-channel delivery queues.
type NotificationService struct {
	Broker queue.Broker
	Logger *zap.Logger
}

// Enqueue publishes job on its channel's queue and returns its message_id,
// assigning one when the caller did not.
func (s *NotificationService) Enqueue(ctx context.Context, job *model.NotificationJob, priority queue.Priority) (string, error) {
	q, err := queue.QueueForChannel(job.Channel)
	if err != nil {
		return "", appErrors.NewValidation("%v", err)
	}
	if job.Recipient == "" {
		return "", appErrors.NewValidation("recipient is required")
	}
	if job.MessageID == "" {
		job.MessageID = uuid.NewString()
	}

	if _, err := s.Broker.Publish(ctx, q, job, priority); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", job.MessageID, err)
	}
	s.Logger.Info("notification queued",
		zap.String("message_id", job.MessageID),
		zap.String("channel", string(job.Channel)),
		zap.Uint8("priority", uint8(priority)))
	return job.MessageID, nil
}
