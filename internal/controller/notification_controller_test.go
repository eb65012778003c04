package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/creatorsync/internal/controller"
	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/model"
	"github.com/unclebandit/creatorsync/internal/queue"
	"github.com/unclebandit/creatorsync/internal/service"
)

// --- Mocks ---

type MockEnqueuer struct {
	job      *model.NotificationJob
	priority queue.Priority
	err      error
}

func (m *MockEnqueuer) Enqueue(_ context.Context, job *model.NotificationJob, p queue.Priority) (string, error) {
	m.job, m.priority = job, p
	if m.err != nil {
		return "", m.err
	}
	return "generated-id", nil
}

type MockSyncer struct {
	id    int64
	force bool
	err   error
}

func (m *MockSyncer) SyncByID(_ context.Context, id int64, force bool) error {
	m.id, m.force = id, force
	return m.err
}

type MockSweeper struct {
	summary service.SweepSummary
	err     error
}

func (m *MockSweeper) Sweep(context.Context) (service.SweepSummary, error) {
	return m.summary, m.err
}

func newRouter(c *controller.NotificationController) http.Handler {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	r := chi.NewRouter()
	c.Routes(r)
	return r
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestEnqueueNotification(t *testing.T) {
	enq := &MockEnqueuer{}
	h := newRouter(&controller.NotificationController{Notifications: enq})

	w := do(h, http.MethodPost, "/notifications",
		`{"channel":"mail","recipient":"a@b.co","subject":"s","body":"b","priority":"high"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "generated-id", resp["message_id"])
	assert.Equal(t, "queued", resp["status"])
	assert.Equal(t, queue.PriorityHigh, enq.priority)
	assert.Equal(t, model.ChannelMail, enq.job.Channel)
	assert.Equal(t, "a@b.co", enq.job.Recipient)
}

func TestEnqueueNotificationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"validation", `{"channel":"fax"}`, appErrors.NewValidation("unknown channel"), http.StatusBadRequest},
		{"broker down", `{"channel":"sms","recipient":"+1"}`, errors.New("connection closed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&controller.NotificationController{Notifications: &MockEnqueuer{err: tt.err}})
			w := do(h, http.MethodPost, "/notifications", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestEnqueueNotificationMalformedBody(t *testing.T) {
	enq := &MockEnqueuer{}
	h := newRouter(&controller.NotificationController{Notifications: enq})

	w := do(h, http.MethodPost, "/notifications", `{"channel":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "malformed input")
	assert.Nil(t, enq.job)
}

func TestSyncProfile(t *testing.T) {
	syncer := &MockSyncer{}
	h := newRouter(&controller.NotificationController{Profiles: syncer})

	w := do(h, http.MethodPost, "/profiles/42/sync?force=true", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int64(42), syncer.id)
	assert.True(t, syncer.force)

	w = do(h, http.MethodPost, "/profiles/abc/sync", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncProfileNotFound(t *testing.T) {
	h := newRouter(&controller.NotificationController{Profiles: &MockSyncer{err: appErrors.ErrNotFound}})
	w := do(h, http.MethodPost, "/profiles/7/sync", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunSweep(t *testing.T) {
	sweeper := &MockSweeper{summary: service.SweepSummary{TotalNeedingSync: 3, Queued: 2, Errors: []string{"publish failed"}}}
	h := newRouter(&controller.NotificationController{Scheduler: sweeper})

	w := do(h, http.MethodPost, "/sync/sweep", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got service.SweepSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, sweeper.summary, got)
}
