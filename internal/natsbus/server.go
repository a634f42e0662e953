// Package natsbus runs the embedded NATS server that connects the gateway,
// the specialist agents and the websocket event feed, and provides the
// client plumbing and topic scheme used on top of it.
package natsbus

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/mtzanidakis/maestros/internal/config"
)

const readyTimeout = 5 * time.Second

// Bus is the embedded NATS server. The gateway owns exactly one.
type Bus struct {
	server *natsserver.Server
	port   int
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		return nil, fmt.Errorf("nats server not ready after %s", readyTimeout)
	}

	slog.Info("message bus started", "url", ns.ClientURL())
	return &Bus{server: ns, port: cfg.Port}, nil
}

// ClientURL is the connection URL for in-process and agent clients.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

func (b *Bus) Port() int {
	return b.port
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
