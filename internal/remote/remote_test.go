package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/maestros/internal/config"
	"github.com/mtzanidakis/maestros/internal/natsbus"
	"github.com/mtzanidakis/maestros/internal/specialist"
)

func newTestClient(t *testing.T) *natsbus.Client {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestInvokeRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	listener := NewListener(client, "coder", specialist.InvokeFunc(func(_ context.Context, task string) (string, error) {
		return "done: " + task, nil
	}))
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("listener start error: %v", err)
	}
	defer listener.Stop()
	client.Flush()

	inv := NewInvoker(client, "coder")
	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := inv.Invoke(callCtx, "fix the bug")
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	if out != "done: fix the bug" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestInvokeRemoteError(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	listener := NewListener(client, "analyst", specialist.InvokeFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model overloaded")
	}))
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("listener start error: %v", err)
	}
	defer listener.Stop()
	client.Flush()

	inv := NewInvoker(client, "analyst")
	callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := inv.Invoke(callCtx, "analyze")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("expected remote error message, got %v", err)
	}
}

func TestShutdownControlCommand(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	shutdown := make(chan struct{})
	listener := NewListener(client, "coder", specialist.InvokeFunc(func(context.Context, string) (string, error) {
		return "", nil
	}))
	listener.OnShutdown(func() { close(shutdown) })
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("listener start error: %v", err)
	}
	defer listener.Stop()
	client.Flush()

	// An unknown command is ignored.
	if err := client.PublishJSON(natsbus.TopicSpecialistControl("coder"), ControlCommand{Command: "reload"}); err != nil {
		t.Fatalf("publish error: %v", err)
	}

	if err := client.PublishJSON(natsbus.TopicSpecialistControl("coder"), ControlCommand{Command: "shutdown"}); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case <-shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never fired")
	}
}

func TestInvokeNoListener(t *testing.T) {
	client := newTestClient(t)

	inv := NewInvoker(client, "ghost")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := inv.Invoke(ctx, "anything"); err == nil {
		t.Fatal("expected error with no listener")
	}
}
