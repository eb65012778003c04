// internal/controller/notification_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/service"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, job *model.NotificationJob, priority queue.Priority) (string, error)
}

type ProfileSyncer interface {
	SyncByID(ctx context.Context, id int64, force bool) error
}

type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepSummary, error)
}

// NotificationController is the HTTP entry point to the delivery and sync
// queues.
type NotificationController struct {
	Notifications Enqueuer
	Profiles      ProfileSyncer
	Scheduler     Sweeper
	Logger        *zap.Logger
}

func (c *NotificationController) Routes(r chi.Router) {
	r.Post("/notifications", c.EnqueueNotification)
	r.Post("/profiles/{id}/sync", c.SyncProfile)
	r.Post("/sync/sweep", c.RunSweep)
}

func (c *NotificationController) EnqueueNotification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		model.NotificationJob
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		c.fail(w, appErrors.NewMalformed(err))
		return
	}

	priority := queue.PriorityDefault
	if body.Priority == "high" {
		priority = queue.PriorityHigh
	}

	id, err := c.Notifications.Enqueue(r.Context(), &body.NotificationJob, priority)
	if err != nil {
		c.fail(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": id,
		"status":     model.StatusQueued,
	})
}

func (c *NotificationController) SyncProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid profile id", http.StatusBadRequest)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := c.Profiles.SyncByID(r.Context(), id, force); err != nil {
		c.fail(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"profile_id": id,
		"forced":     force,
	})
}

func (c *NotificationController) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := c.Scheduler.Sweep(r.Context())
	if err != nil {
		c.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (c *NotificationController) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appErrors.ErrValidation), errors.Is(err, appErrors.ErrMalformedInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, appErrors.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		c.Logger.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
