package server

import (
	"chat-relay/contract"
	"chat-relay/runtime"
	"chat-relay/transport/ws"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handler struct {
	log           *slog.Logger
	orchestrator  *runtime.Orchestrator
	authenticator contract.Authenticator
	upgrader      *websocket.Upgrader
	wsOptions     ws.Options
}

func NewHandler(log *slog.Logger, orchestrator *runtime.Orchestrator, authenticator contract.Authenticator,
	allowedOrigins []string, wsOptions ws.Options) *Handler {
	return &Handler{
		log:           log,
		orchestrator:  orchestrator,
		authenticator: authenticator,
		upgrader:      ws.NewUpgrader(allowedOrigins),
		wsOptions:     wsOptions,
	}
}

// NewRouter exposes the WebSocket endpoint, the presence debug endpoint,
// the liveness probe and the Prometheus metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Get("/ws", h.handleWebSocket)
	r.Get("/presence", h.handlePresence)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// handleWebSocket authenticates the handshake before any registry mutation,
// upgrades the connection and serves the session until it ends.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session := h.orchestrator.NewSession()

	identity, err := h.authenticator.Authenticate(r)
	if err != nil {
		session.Reject(err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied to the client.
		session.Reject(err)
		return
	}

	transport := ws.NewConn(conn, h.wsOptions)
	if err = session.Attach(identity, transport); err != nil {
		h.log.Error("Cannot attach transport", "error", err)
		_ = transport.Close(websocket.CloseInternalServerErr, "internal error")
		return
	}
	if err = h.orchestrator.Serve(session); err != nil {
		h.log.Warn("Session ended with error", "identity", identity, "error", err)
	}
}

type presenceResponse struct {
	Online []string `json:"online"`
}

func (h *Handler) handlePresence(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(presenceResponse{Online: h.orchestrator.Roster().Strings()}); err != nil {
		h.log.Debug("Presence response not written", "error", err)
	}
}
