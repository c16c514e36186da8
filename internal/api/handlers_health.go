package api

import (
	"net/http"

	"github.com/shohag/apilogger/internal/poller"
)

// PollStatus reports the last finished poll.
type PollStatus interface {
	LastResult() (poller.Result, bool)
}

type HealthHandler struct {
	status PollStatus
}

func NewHealthHandler(status PollStatus) *HealthHandler {
	return &HealthHandler{status: status}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"service": "apilogger",
	}

	if h.status != nil {
		if res, ok := h.status.LastResult(); ok {
			body["lastPoll"] = res.Summary()
		}
	}

	writeJSON(w, http.StatusOK, body)
}
