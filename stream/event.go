// Package stream provides a real-time event broker for dispatcher lifecycle
// events. It bridges the ext.Extension system to subscribers (status
// panels, progress indicators, remote observers) via topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Operation events.
	EventOperationQueued     EventType = "operation.queued"
	EventOperationDispatched EventType = "operation.dispatched"
	EventOperationCompleted  EventType = "operation.completed"
	EventOperationFailed     EventType = "operation.failed"
	EventOperationAborted    EventType = "operation.aborted"
	EventOperationSuperseded EventType = "operation.superseded"

	// Document events.
	EventDocumentOpened EventType = "document.opened"
	EventDocumentClosed EventType = "document.closed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the document channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// OperationEventData is the payload for operation lifecycle events.
type OperationEventData struct {
	Seq        uint64 `json:"seq"`
	Method     string `json:"method"`
	DocID      string `json:"doc_id,omitempty"`
	Class      string `json:"class"`
	DedupKey   string `json:"dedup_key,omitempty"`
	WaitedMs   int64  `json:"waited_ms,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	Error      string `json:"error,omitempty"`
	Dispatched bool   `json:"dispatched,omitempty"`
}

// DocumentEventData is the payload for document lifecycle events.
type DocumentEventData struct {
	DocID     string `json:"doc_id"`
	PageCount int    `json:"page_count,omitempty"`
}
