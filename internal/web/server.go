// Package web is the gateway's HTTP surface: workflow submission and
// tracking, registry and peer inspection, scheduled tasks, secrets, and a
// websocket feed of workflow events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/maestros/internal/config"
	"github.com/mtzanidakis/maestros/internal/natsbus"
	"github.com/mtzanidakis/maestros/internal/peers"
	"github.com/mtzanidakis/maestros/internal/runtime"
	"github.com/mtzanidakis/maestros/internal/specialist"
	"github.com/mtzanidakis/maestros/internal/store"
	"github.com/mtzanidakis/maestros/internal/tracker"
	"github.com/mtzanidakis/maestros/internal/vault"
)

type Server struct {
	store     *store.Store
	bus       *natsbus.Bus
	nats      *natsbus.Client
	registry  *specialist.Registry
	tracker   *tracker.Tracker
	peers     *peers.Directory
	runtime   *runtime.Manager
	secrets   *vault.Manager
	defs      map[string]config.SpecialistDefinition
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

// Deps carries the server's collaborators. Runtime and secrets may be nil
// when the gateway runs without Docker or a vault passphrase.
type Deps struct {
	Store       *store.Store
	Bus         *natsbus.Bus
	Registry    *specialist.Registry
	Tracker     *tracker.Tracker
	Peers       *peers.Directory
	Runtime     *runtime.Manager
	Secrets     *vault.Manager
	Definitions []config.SpecialistDefinition
	Version     string
}

func NewServer(deps Deps, cfg config.WebConfig) *Server {
	defs := make(map[string]config.SpecialistDefinition, len(deps.Definitions))
	for _, def := range deps.Definitions {
		defs[def.Name] = def
	}
	return &Server{
		store:     deps.Store,
		bus:       deps.Bus,
		registry:  deps.Registry,
		tracker:   deps.Tracker,
		peers:     deps.Peers,
		runtime:   deps.Runtime,
		secrets:   deps.Secrets,
		defs:      defs,
		hub:       NewHub(),
		cfg:       cfg,
		version:   deps.Version,
		startedAt: time.Now(),
	}
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.subscribeEvents()

	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("/api/ws", s.handleWebSocket)

	handler := s.withMiddleware(mux)
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" {
			if _, pass, ok := r.BasicAuth(); !ok || pass != s.cfg.Auth {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// subscribeEvents forwards every bus event to connected websocket clients.
func (s *Server) subscribeEvents() {
	if s.bus == nil {
		return
	}
	client, err := natsbus.NewClient(s.bus)
	if err != nil {
		slog.Error("web server nats client failed", "error", err)
		return
	}
	s.nats = client

	_, _ = client.Subscribe(natsbus.TopicEventsAll, func(msg *nats.Msg) {
		var event natsbus.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("invalid event payload", "error", err)
			return
		}
		s.hub.Broadcast(event)
	})
}

func jsonResponse(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
