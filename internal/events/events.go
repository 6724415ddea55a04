// Package events carries session events from the orchestrator to whoever listens.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Name identifies the kind of payload an Event carries.
type Name string

// Event names.
const (
	// NameState carries an entity.State.
	NameState Name = "state"
	// NameMetadata carries an entity.DownloadMetadata. Emitted once per request.
	NameMetadata Name = "metadata"
	// NameProgress carries an entity.Progress.
	NameProgress Name = "progress"
	// NameResult carries an entity.Result. Always the last event of a request.
	NameResult Name = "result"
)

// Event is one named payload scoped to a request.
type Event struct {
	Name      Name      `json:"name"`
	RequestID string    `json:"requestId"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (e Event) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", string(e.Name)),
		slog.String("requestId", e.RequestID),
		slog.Time("at", e.At),
	)
}

// New stamps an event with the current time.
func New(name Name, requestID string, payload any) Event {
	return Event{Name: name, RequestID: requestID, Payload: payload, At: time.Now()}
}

// Sink receives events. Publish must not block on slow consumers.
type Sink interface {
	Publish(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event)

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Fanout publishes to every sink in order.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) {})
