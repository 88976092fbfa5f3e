package httpapi

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/oagudo/newsletter/internal/logging"
	"github.com/oagudo/newsletter/pkg/idempotency"
	"github.com/oagudo/newsletter/pkg/newsletter"
)

// HealthCheck answers 200 with an empty body.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// PublishNewsletter handles the publish form: title, html, text and
// idempotency_key. The response is the stored snapshot, so a retried
// submission gets back exactly what the first one got.
func (h *Handler) PublishNewsletter(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorID(r)
	if !ok {
		http.Error(w, "missing or invalid actor", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	resp, err := h.publisher.Publish(r.Context(), actorID, newsletter.PublishRequest{
		Title:          r.PostForm.Get("title"),
		HTML:           r.PostForm.Get("html"),
		Text:           r.PostForm.Get("text"),
		IdempotencyKey: r.PostForm.Get("idempotency_key"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSnapshot(w, resp)
}

type subscribeResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

// Subscribe handles the subscription form: email and name. The subscriber is
// stored pending confirmation and sent a link to confirm.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	sub, token, err := h.subscribers.Add(r.Context(), r.PostForm.Get("email"), r.PostForm.Get("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.mailer.SendConfirmation(r.Context(), sub.Email, token); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, subscribeResponse{
		ID:     sub.ID.String(),
		Email:  sub.Email,
		Status: sub.Status,
	})
}

// ConfirmSubscription confirms the subscriber owning the subscription_token
// query parameter. Unknown tokens are rejected with 401.
func (h *Handler) ConfirmSubscription(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("subscription_token")
	if token == "" {
		http.Error(w, "missing subscription_token", http.StatusBadRequest)
		return
	}

	if err := h.subscribers.ConfirmByToken(r.Context(), token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) actorID(r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(h.config.ActorHeader)
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// writeSnapshot replays a stored response: status, headers in their saved
// order, then the body.
func writeSnapshot(w http.ResponseWriter, resp *idempotency.Response) {
	for _, hdr := range resp.Headers {
		w.Header().Add(hdr.Name, string(hdr.Value))
	}
	w.WriteHeader(int(resp.StatusCode))
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *idempotency.ValidationError
		payloadErr    *newsletter.PayloadError
	)

	switch {
	case errors.As(err, &validationErr), errors.As(err, &payloadErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, newsletter.ErrSubscriptionTokenNotFound):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		// Includes idempotency.ErrConflictRace: the caller retries and gets the saved response.
		logging.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
