package httpadapter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kirillkom/docchat/internal/core/ports"
	"github.com/kirillkom/docchat/internal/observability/metrics"
)

const serviceName = "docchat-api"

// TrafficControl bounds what the API accepts before any work starts.
type TrafficControl struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxConcurrent  int
	AdmissionWait  time.Duration
}

type Router struct {
	chat      ports.ChatService
	publisher ports.TurnPublisher
	metrics   *metrics.HTTPServerMetrics
	traffic   TrafficControl
}

func NewRouter(
	chat ports.ChatService,
	publisher ports.TurnPublisher,
	serverMetrics *metrics.HTTPServerMetrics,
	traffic TrafficControl,
) *Router {
	return &Router{
		chat:      chat,
		publisher: publisher,
		metrics:   serverMetrics,
		traffic:   traffic,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/chat/ask", rt.askChat)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.traffic.MaxConcurrent, rt.admissionWait())
	handler = rateLimitMiddleware(handler, rt.traffic.RateLimitRPS, rt.traffic.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) admissionWait() time.Duration {
	if rt.traffic.AdmissionWait <= 0 {
		return 50 * time.Millisecond
	}
	return rt.traffic.AdmissionWait
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
