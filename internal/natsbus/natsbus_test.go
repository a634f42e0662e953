package natsbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/maestros/internal/config"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{
		Port:    -1, // random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)
	if bus.ClientURL() == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe(TopicSpecialistTask("coder"), func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish(TopicSpecialistTask("coder"), []byte("review this")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "review this" {
			t.Errorf("expected 'review this', got %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestRequestReply(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	_, err = client.Subscribe("specialist.echo.task", func(msg *nats.Msg) {
		msg.Respond(append([]byte("echo: "), msg.Data...))
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := client.Request(ctx, "specialist.echo.task", []byte("ping"))
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if string(reply.Data) != "echo: ping" {
		t.Errorf("expected 'echo: ping', got %q", reply.Data)
	}
}

func TestEventsPublish(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan Event, 1)
	_, err = client.Subscribe(TopicEventsAll, func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			t.Errorf("unmarshal event: %v", err)
			return
		}
		received <- evt
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	events := NewEvents(client)
	events.PublishEvent("exec-1", "workflow_started", map[string]any{"workflow_type": "parallel"})
	client.Flush()

	select {
	case evt := <-received:
		if evt.ExecutionID != "exec-1" {
			t.Errorf("expected execution exec-1, got %s", evt.ExecutionID)
		}
		if evt.Type != "workflow_started" {
			t.Errorf("expected workflow_started, got %s", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicSpecialistTask("coder"); got != "specialist.coder.task" {
		t.Errorf("expected specialist.coder.task, got %s", got)
	}
	if got := TopicSpecialistControl("coder"); got != "specialist.coder.control" {
		t.Errorf("expected specialist.coder.control, got %s", got)
	}
	if got := TopicWorkflowEvents("e1"); got != "events.workflow.e1" {
		t.Errorf("expected events.workflow.e1, got %s", got)
	}
}
