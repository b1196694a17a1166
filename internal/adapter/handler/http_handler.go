package handler

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/adapter/messaging"
)

// StateSource is satisfied by *messaging.Consumer.
type StateSource interface {
	States() map[string]messaging.ConsumerState
}

// HTTPHandler serves liveness, readiness and metrics. A nil StateSource
// means no consumer is running and the process is ready once it serves.
type HTTPHandler struct {
	states  StateSource
	metrics http.Handler
	log     *logrus.Logger
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Consumers map[string]string `json:"consumers,omitempty"`
}

func NewHTTPHandler(states StateSource, metrics http.Handler, log *logrus.Logger) *HTTPHandler {
	return &HTTPHandler{states: states, metrics: metrics, log: log}
}

func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /ready", h.Ready)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return mux
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ok, consumers := ready(h.states)
	if !ok {
		h.writeJSON(w, http.StatusServiceUnavailable, readinessResponse{Status: "not ready", Consumers: consumers})
		return
	}
	h.writeJSON(w, http.StatusOK, readinessResponse{Status: "ready", Consumers: consumers})
}

// ready is true when every subscribed topic is running.
func ready(src StateSource) (bool, map[string]string) {
	if src == nil {
		return true, nil
	}
	states := src.States()
	if len(states) == 0 {
		return false, nil
	}
	out := make(map[string]string, len(states))
	ok := true
	for topic, state := range states {
		out[topic] = state.String()
		if state != messaging.StateRunning {
			ok = false
		}
	}
	return ok, out
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.WithField("error", err).Warn("write response")
	}
}
