package natsbus

import (
	"log/slog"
	"time"
)

// Event is the wire format of a workflow lifecycle notification.
type Event struct {
	ExecutionID string         `json:"execution_id"`
	Type        string         `json:"type"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Events publishes workflow lifecycle events onto the bus. It satisfies the
// engine's publisher interface; delivery is best-effort and never blocks a
// workflow.
type Events struct {
	client *Client
}

func NewEvents(client *Client) *Events {
	return &Events{client: client}
}

func (e *Events) PublishEvent(executionID, eventType string, data map[string]any) {
	evt := Event{
		ExecutionID: executionID,
		Type:        eventType,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
	if err := e.client.PublishJSON(TopicWorkflowEvents(executionID), evt); err != nil {
		slog.Warn("failed to publish event", "execution", executionID, "type", eventType, "error", err)
	}
}
