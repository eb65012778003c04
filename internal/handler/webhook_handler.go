// internal/handler/webhook_handler.go
package handler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/creatorsync/internal/errors"
	"github.com/unclebandit/creatorsync/internal/service"
)

const maxWebhookBody = 1 << 20

type StatusReconciler interface {
	Reconcile(ctx context.Context, provider string, payload map[string]any) (service.ReconcileResult, error)
}

// WebhookHandler receives provider delivery-status callbacks.
type WebhookHandler struct {
	Reconciler StatusReconciler
	// Secret is compared against X-Webhook-Secret or a "secret" body field.
	// Empty accepts every caller.
	Secret string
	Logger *zap.Logger
}

func (h *WebhookHandler) Routes(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.With(middlewares...).Post("/webhooks/{provider}", h.HandleStatus)
}

// HandleStatus applies each callback in the body. Unmatched callbacks still
// answer 200 so providers stop retrying them; store failures answer 500 so
// they do not.
func (h *WebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	events, err := decodeEvents(r)
	if err != nil {
		http.Error(w, appErrors.NewMalformed(err).Error(), http.StatusBadRequest)
		return
	}
	if !h.authorized(r, events) {
		h.Logger.Warn("webhook rejected: bad secret", zap.String("provider", provider), zap.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	counts := map[service.ReconcileResult]int{}
	for _, ev := range events {
		delete(ev, "secret")
		res, err := h.Reconciler.Reconcile(r.Context(), provider, ev)
		if err != nil {
			h.Logger.Error("webhook reconcile failed", zap.String("provider", provider), zap.Error(err))
			http.Error(w, "failed to apply status", http.StatusInternalServerError)
			return
		}
		counts[res]++
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"received": len(events),
		"results":  counts,
	})
}

func (h *WebhookHandler) authorized(r *http.Request, events []map[string]any) bool {
	if h.Secret == "" {
		return true
	}
	if got := r.Header.Get("X-Webhook-Secret"); got != "" {
		return secretEqual(got, h.Secret)
	}
	if len(events) == 0 {
		return false
	}
	for _, ev := range events {
		s, _ := ev["secret"].(string)
		if !secretEqual(s, h.Secret) {
			return false
		}
	}
	return true
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// decodeEvents accepts a JSON object, a JSON array of objects, or a
// form-encoded body as sent by SMS status callbacks.
func decodeEvents(r *http.Request) ([]map[string]any, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxWebhookBody))
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		ev := make(map[string]any, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				ev[k] = v[0]
			}
		}
		return []map[string]any{ev}, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var events []map[string]any
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
		return events, nil
	}

	var ev map[string]any
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return []map[string]any{ev}, nil
}
