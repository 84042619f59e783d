// Package api provides the HTTP Query Surface and WebSocket push endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/just-ship-it/slingshot-trade-orchestrator/internal/orchestrator"
)

// Server is the HTTP/WebSocket API server (§4.11).
type Server struct {
	logger *zap.Logger
	host   string
	port   int

	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	hub *Hub
	orc *orchestrator.Orchestrator
}

// Config controls the HTTP surface's bind address.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new API server wired to a running orchestrator.
func NewServer(logger *zap.Logger, cfg Config, orc *orchestrator.Orchestrator, hub *Hub) *Server {
	s := &Server{
		logger: logger.Named("api"),
		host:   cfg.Host,
		port:   cfg.Port,
		router: mux.NewRouter(),
		orc:    orc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/trading/enable", s.handleSetTrading(true)).Methods("POST")
	s.router.HandleFunc("/trading/disable", s.handleSetTrading(false)).Methods("POST")

	s.router.HandleFunc("/api/trading/positions", s.handlePositions).Methods("GET")
	s.router.HandleFunc("/api/trading/orders", s.handleOrders).Methods("GET")
	s.router.HandleFunc("/api/trading/enhanced-status", s.handleEnhancedStatus).Methods("GET")
	s.router.HandleFunc("/api/trading/registry-stats", s.handleRegistryStats).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the fully wrapped (CORS + routing) HTTP handler, used by
// Start and exercised directly in tests via httptest.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start serves HTTP until the process is stopped; intended to run in its
// own goroutine, mirroring the orchestrator's own background run loop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting HTTP query surface", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orc.Health())
}

func (s *Server) handleSetTrading(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.orc.SetTradingEnabled(enabled)
		writeJSON(w, http.StatusOK, map[string]any{"tradingEnabled": enabled})
	}
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"positions": s.orc.Positions()})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"orders": s.orc.WorkingOrders()})
}

func (s *Server) handleEnhancedStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"health":    s.orc.Health(),
		"positions": s.orc.Positions(),
		"orders":    s.orc.WorkingOrders(),
		"registry":  s.orc.RegistryStats(),
	})
}

func (s *Server) handleRegistryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orc.RegistryStats())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.NewString(), s.hub, conn)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
