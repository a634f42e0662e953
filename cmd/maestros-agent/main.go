// The maestros-agent binary runs one specialist out of process, typically
// inside a container the gateway launched. It serves its task topic on the
// bus and a small peer HTTP API (agent card and direct invocation) on the
// peer port.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mtzanidakis/maestros/internal/llm"
	"github.com/mtzanidakis/maestros/internal/natsbus"
	"github.com/mtzanidakis/maestros/internal/remote"
	"github.com/mtzanidakis/maestros/internal/specialist"
)

var version = "dev"

type agentConfig struct {
	ID           string
	Role         string
	Capabilities []string
	PeerPort     int
	NATSUrl      string
	Model        specialist.ModelConfig
	APIKey       string
	MaxTokens    int64
}

func main() {
	cfg, err := loadAgentConfig()
	if err != nil {
		slog.Error("invalid agent configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("agent failed", "agent", cfg.ID, "error", err)
		os.Exit(1)
	}
}

func loadAgentConfig() (*agentConfig, error) {
	cfg := &agentConfig{
		ID:      os.Getenv("MAESTROS_AGENT_ID"),
		Role:    os.Getenv("MAESTROS_AGENT_ROLE"),
		NATSUrl: os.Getenv("NATS_URL"),
		APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		Model: specialist.ModelConfig{
			Model:        os.Getenv("MAESTROS_MODEL"),
			SystemPrompt: os.Getenv("MAESTROS_SYSTEM_PROMPT"),
		},
		MaxTokens: 4096,
	}

	if cfg.ID == "" {
		return nil, fmt.Errorf("MAESTROS_AGENT_ID not set")
	}
	if cfg.NATSUrl == "" {
		return nil, fmt.Errorf("NATS_URL not set")
	}
	if cfg.Role == "" {
		cfg.Role = "assistant"
	}

	for _, c := range strings.Split(os.Getenv("MAESTROS_AGENT_CAPABILITIES"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			cfg.Capabilities = append(cfg.Capabilities, c)
		}
	}

	if v := os.Getenv("MAESTROS_PEER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MAESTROS_PEER_PORT: %w", err)
		}
		cfg.PeerPort = port
	}
	if v := os.Getenv("MAESTROS_TEMPERATURE"); v != "" {
		temp, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAESTROS_TEMPERATURE: %w", err)
		}
		cfg.Model.Temperature = temp
	}
	if v := os.Getenv("MAESTROS_MAX_TOKENS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAESTROS_MAX_TOKENS: %w", err)
		}
		cfg.MaxTokens = n
	}

	return cfg, nil
}

func run(cfg *agentConfig) error {
	slog.Info("starting agent", "agent", cfg.ID, "version", version, "role", cfg.Role)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := natsbus.NewClientFromURL(cfg.NATSUrl)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer client.Close()

	invoker := llm.New(cfg.APIKey, cfg.MaxTokens, cfg.Model)

	shutdown := make(chan struct{})
	var once sync.Once

	listener := remote.NewListener(client, cfg.ID, invoker)
	listener.OnShutdown(func() {
		once.Do(func() { close(shutdown) })
	})
	if err := listener.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}
	defer listener.Stop()

	if cfg.PeerPort > 0 {
		go servePeerAPI(ctx, cfg, invoker)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info("agent shutting down", "agent", cfg.ID, "signal", sig)
	case <-shutdown:
		slog.Info("agent shutting down", "agent", cfg.ID, "reason", "bus command")
	}
	return nil
}

// agentCard describes this agent to its peers.
type agentCard struct {
	AgentID      string   `json:"agent_id"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	Version      string   `json:"version"`
}

// servePeerAPI exposes the agent card and direct invocation on the peer
// port, the agent-to-agent surface of the addressing plan.
func servePeerAPI(ctx context.Context, cfg *agentConfig, invoker specialist.Invoker) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /card", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(agentCard{
			AgentID:      cfg.ID,
			Role:         cfg.Role,
			Capabilities: cfg.Capabilities,
			Version:      version,
		})
	})

	mux.HandleFunc("POST /invoke", func(w http.ResponseWriter, r *http.Request) {
		var req remote.TaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(remote.TaskReply{Error: "bad request: " + err.Error()})
			return
		}

		output, err := invoker.Invoke(r.Context(), req.Task)
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			_ = json.NewEncoder(w).Encode(remote.TaskReply{Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(remote.TaskReply{Output: output})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.PeerPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("peer api listening", "agent", cfg.ID, "port", cfg.PeerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("peer api error", "agent", cfg.ID, "error", err)
	}
}
