package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shohag/apilogger/internal/models"
	"github.com/shohag/apilogger/internal/storage"
)

type LogHandler struct {
	attempts storage.AttemptLog
	payloads storage.PayloadStore
	log      zerolog.Logger
}

func NewLogHandler(attempts storage.AttemptLog, payloads storage.PayloadStore, log zerolog.Logger) *LogHandler {
	return &LogHandler{attempts: attempts, payloads: payloads, log: log}
}

// List returns attempt records whose day bucket lies in [from, to].
// Bad dates and store failures both answer 500.
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := models.BucketRange(q.Get("from"), q.Get("to"))
	if err != nil {
		h.log.Error().Err(err).Msg("error getting logs")
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	records, err := storage.Collect(h.attempts.QueryRange(r.Context(), from, to))
	if err != nil {
		h.log.Error().Err(err).Str("from", from).Str("to", to).Msg("error getting logs")
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Payload streams one stored response body.
func (h *LogHandler) Payload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "logId")

	exists, err := h.payloads.Exists(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("payload_id", id).Msg("error getting payload")
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	if !exists {
		writeStatus(w, http.StatusNotFound)
		return
	}

	rc, err := h.payloads.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeStatus(w, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("payload_id", id).Msg("error getting payload")
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("payload_id", id).Msg("payload stream interrupted")
	}
}
