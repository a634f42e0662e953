// Package remote invokes specialists that run out of process. The gateway
// side is an Invoker that performs a request/reply exchange on the
// specialist's task topic; the agent side is a Listener that serves its
// local invoker on the same topic.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/maestros/internal/natsbus"
	"github.com/mtzanidakis/maestros/internal/specialist"
)

// TaskRequest is the wire format of a remote invocation.
type TaskRequest struct {
	Task string `json:"task"`
}

// TaskReply carries the result back. Error is the remote failure message;
// empty means success.
type TaskReply struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Invoker dispatches tasks to a remote specialist over the bus. It
// satisfies the specialist invoker interface, so the engine cannot tell a
// remote specialist from an in-process one.
type Invoker struct {
	client *natsbus.Client
	name   string
}

func NewInvoker(client *natsbus.Client, name string) *Invoker {
	return &Invoker{client: client, name: name}
}

func (i *Invoker) Invoke(ctx context.Context, task string) (string, error) {
	data, err := json.Marshal(TaskRequest{Task: task})
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	msg, err := i.client.Request(ctx, natsbus.TopicSpecialistTask(i.name), data)
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", i.name, err)
	}

	var reply TaskReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return "", fmt.Errorf("decode reply from %s: %w", i.name, err)
	}
	if reply.Error != "" {
		return "", fmt.Errorf("remote %s: %s", i.name, reply.Error)
	}
	return reply.Output, nil
}

// ControlCommand is the wire format of the control topic. The gateway sends
// "shutdown" before it stops a specialist's container.
type ControlCommand struct {
	Command string `json:"command"`
}

// Listener serves a local invoker on a specialist's task topic and reacts to
// control commands. Runs inside the agent process.
type Listener struct {
	client     *natsbus.Client
	name       string
	handle     specialist.Invoker
	onShutdown func()
	sub        *nats.Subscription
	ctrlSub    *nats.Subscription
}

func NewListener(client *natsbus.Client, name string, handle specialist.Invoker) *Listener {
	return &Listener{client: client, name: name, handle: handle}
}

// OnShutdown registers the callback for a shutdown control command. Must be
// set before Start.
func (l *Listener) OnShutdown(fn func()) {
	l.onShutdown = fn
}

// Start subscribes to the task and control topics. Each request is handled
// in its own goroutine so a slow task does not block the subscription.
func (l *Listener) Start(ctx context.Context) error {
	sub, err := l.client.Subscribe(natsbus.TopicSpecialistTask(l.name), func(msg *nats.Msg) {
		go l.serve(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", l.name, err)
	}
	l.sub = sub

	ctrl, err := l.client.Subscribe(natsbus.TopicSpecialistControl(l.name), l.control)
	if err != nil {
		return fmt.Errorf("subscribe %s control: %w", l.name, err)
	}
	l.ctrlSub = ctrl

	slog.Info("specialist listening", "name", l.name, "topic", natsbus.TopicSpecialistTask(l.name))
	return nil
}

func (l *Listener) control(msg *nats.Msg) {
	var cmd ControlCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("bad control message", "name", l.name, "error", err)
		return
	}
	switch cmd.Command {
	case "shutdown":
		slog.Info("shutdown requested over the bus", "name", l.name)
		if l.onShutdown != nil {
			l.onShutdown()
		}
	default:
		slog.Warn("unknown control command", "name", l.name, "command", cmd.Command)
	}
}

func (l *Listener) serve(ctx context.Context, msg *nats.Msg) {
	var req TaskRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		l.respond(msg, TaskReply{Error: fmt.Sprintf("bad request: %v", err)})
		return
	}

	output, err := l.handle.Invoke(ctx, req.Task)
	if err != nil {
		l.respond(msg, TaskReply{Error: err.Error()})
		return
	}
	l.respond(msg, TaskReply{Output: output})
}

func (l *Listener) respond(msg *nats.Msg, reply TaskReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("failed to marshal reply", "name", l.name, "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("failed to respond", "name", l.name, "error", err)
	}
}

func (l *Listener) Stop() {
	if l.sub != nil {
		l.sub.Unsubscribe()
	}
	if l.ctrlSub != nil {
		l.ctrlSub.Unsubscribe()
	}
}
