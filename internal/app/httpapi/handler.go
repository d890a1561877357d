// Package httpapi exposes the interaction services over REST.
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	app "github.com/windrunne/6ix-app/internal/app"
	"github.com/windrunne/6ix-app/internal/app/domain/intro"
	"github.com/windrunne/6ix-app/internal/app/metrics"
	"github.com/windrunne/6ix-app/internal/app/storage"
	"github.com/windrunne/6ix-app/internal/errors"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/intros", h.createIntro).Methods(http.MethodPost)
	r.HandleFunc("/intros/{id}/respond", h.respondIntro).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/intros", h.listIntros).Methods(http.MethodGet)

	r.HandleFunc("/ghost-asks", h.createGhostAsk).Methods(http.MethodPost)
	r.HandleFunc("/ghost-asks/{id}/unlock-event", h.unlockGhostAsk).Methods(http.MethodPost)
	r.HandleFunc("/ghost-asks/{id}/attempt", h.attemptGhostAsk).Methods(http.MethodPost)
	r.HandleFunc("/ghost-asks/{id}/force", h.forceGhostAsk).Methods(http.MethodPost)

	r.HandleFunc("/users/{id}/notifications", h.listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{id}/read", h.markNotificationRead).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createIntro(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequesterID  string   `json:"requester_id"`
		TargetID     string   `json:"target_id"`
		QueryContext string   `json:"query_context"`
		WhyMatch     string   `json:"why_match"`
		MutualIDs    []string `json:"mutual_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body: %v", err))
		return
	}

	req, err := h.app.Intros.Request(r.Context(), payload.RequesterID, payload.TargetID,
		payload.QueryContext, payload.WhyMatch, payload.MutualIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) respondIntro(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ResponderID string `json:"responder_id"`
		Accept      bool   `json:"accept"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body: %v", err))
		return
	}

	resp, err := h.app.Intros.Respond(r.Context(), mux.Vars(r)["id"], payload.ResponderID, payload.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) listIntros(w http.ResponseWriter, r *http.Request) {
	status := intro.Status(r.URL.Query().Get("status"))

	intros, err := h.app.Intros.ListForUser(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, intros)
}

func (h *handler) createGhostAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SenderID    string `json:"sender_id"`
		RecipientID string `json:"recipient_id"`
		Message     string `json:"message"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body: %v", err))
		return
	}

	ask, err := h.app.GhostAsks.Create(r.Context(), payload.SenderID, payload.RecipientID, payload.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ask)
}

func (h *handler) unlockGhostAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		EventTime time.Time `json:"event_time"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body: %v", err))
		return
	}
	if payload.EventTime.IsZero() {
		payload.EventTime = time.Now().UTC()
	}

	unlocked, err := h.app.GhostAsks.NotifyUnlockEvent(r.Context(), mux.Vars(r)["id"], payload.EventTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"unlocked": unlocked})
}

func (h *handler) attemptGhostAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SenderID string `json:"sender_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body: %v", err))
		return
	}

	result, err := h.app.GhostAsks.AttemptSend(r.Context(), mux.Vars(r)["id"], payload.SenderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) forceGhostAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SenderID string `json:"sender_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body: %v", err))
		return
	}

	result, err := h.app.GhostAsks.ForceSend(r.Context(), mux.Vars(r)["id"], payload.SenderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	list, err := h.app.Notifications.List(r.Context(), mux.Vars(r)["id"], unreadOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.app.Notifications.MarkRead(r.Context(), id); err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			err = errors.NotFound("notification", id)
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// errorBody is the wire shape of a failed request.
type errorBody struct {
	Error     string      `json:"error"`
	Code      errors.Code `json:"code,omitempty"`
	Attempts  int         `json:"attempts,omitempty"`
	Threshold int         `json:"threshold,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	if svcErr, ok := errors.AsService(err); ok {
		status = svcErr.HTTPStatus
		body.Code = svcErr.Code
		body.Attempts = svcErr.Attempts
		body.Threshold = svcErr.Threshold
		if svcErr.RetryAfter > 0 {
			seconds := int64(math.Ceil(svcErr.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
