package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lectern/internal/chat"
	"lectern/internal/classroom"
	"lectern/internal/config"
	"lectern/internal/homework"
	"lectern/internal/hub"
	"lectern/internal/signaling"
	"lectern/internal/store"
	"lectern/internal/websocket"
	"lectern/pkg/interfaces"
	"lectern/pkg/logger"
	"lectern/pkg/metrics"
)

// Application owns every component and their initialization order:
// store, registry, relays, managers, hub, transport, HTTP server.
type Application struct {
	cfg        *config.Config
	store      *store.Store
	registry   *websocket.Registry
	classroom  *classroom.Manager
	homework   *homework.Manager
	signaling  *signaling.Relay
	chat       *chat.Relay
	hub        *hub.Hub
	handler    *websocket.Handler
	httpServer *http.Server
	log        *zap.Logger
}

// New builds the application. auth may be nil, in which case identity is
// taken from query parameters.
func New(cfg *config.Config, auth interfaces.Authenticator) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log := logger.WithComponent("app")

	st, err := store.Open(cfg.Database.Path, logger.WithComponent("store"))
	if err != nil {
		return nil, fmt.Errorf("open lesson store: %w", err)
	}

	registry := websocket.NewRegistry(logger.WithComponent("registry"))
	signalRelay := signaling.NewRelay(registry, cfg.Limits.CandidateQueue, logger.WithComponent("signaling"))
	homeworkMgr := homework.NewManager(st, signalRelay, cfg.Limits.TerminalBytes, logger.WithComponent("homework"))
	chatRelay := chat.NewRelay(registry, st, logger.WithComponent("chat"))
	classroomMgr := classroom.NewManager(registry, logger.WithComponent("classroom"))

	messageHub := hub.New(classroomMgr, homeworkMgr, signalRelay, chatRelay, registry, logger.WithComponent("hub"))

	handler := websocket.NewHandler(registry, classroomMgr, messageHub, auth, websocket.HandlerOptions{
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongWait:        cfg.WebSocket.PongWait,
		RateLimit:       cfg.Limits.MessagesPerMinute,
		RateWindow:      time.Minute,
	}, logger.WithComponent("websocket"))

	appl := &Application{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		classroom: classroomMgr,
		homework:  homeworkMgr,
		signaling: signalRelay,
		chat:      chatRelay,
		hub:       messageHub,
		handler:   handler,
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	mux.HandleFunc("/healthz", appl.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	appl.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return appl, nil
}

// Start serves HTTP until the listener fails or Stop is called.
func (a *Application) Start() error {
	a.log.Info("listening", zap.String("addr", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts down in reverse dependency order: stop accepting traffic,
// drain connections, then close the store.
func (a *Application) Stop(ctx context.Context) error {
	a.log.Info("shutting down")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown failed", zap.Error(err))
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", zap.Error(err))
		return err
	}

	a.log.Info("shutdown complete")
	return nil
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := a.store.HealthCheck(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"status":   status,
		"sessions": len(a.classroom.SessionIDs()),
	}
	for k, v := range a.registry.Stats() {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
