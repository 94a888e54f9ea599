package workflow

import (
	"sync"

	"github.com/litforge/bibliography-service/internal/domain"
)

// EventType names the progress event kinds consumed by API clients. The
// values are part of the SSE wire format.
type EventType string

const (
	EventStatus          EventType = "status"
	EventWorkflowInit    EventType = "workflow_init"
	EventDirectionResult EventType = "direction_result"
	EventWorkflowDone    EventType = "workflow_done"
	EventError           EventType = "error"
)

// Event is one progress event. Payload is JSON-serializable.
type Event struct {
	Type    EventType
	Payload interface{}
}

// InitPayload announces a started run.
type InitPayload struct {
	RunID      string   `json:"run_id"`
	Directions []string `json:"directions"`
	Message    string   `json:"message"`
}

// DonePayload closes a successful run with the aggregated result.
type DonePayload struct {
	RunID      string                   `json:"run_id"`
	Directions []domain.DirectionDetail `json:"directions"`
	BibTeX     string                   `json:"bibtex_text"`
	Count      int                      `json:"count"`
	Articles   []domain.Article         `json:"articles,omitempty"`
	Message    string                   `json:"message"`
}

// ErrorPayload reports a failed run.
type ErrorPayload struct {
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
}

// Emitter receives progress events in emission order. Implementations must
// be safe for use from the single orchestrator goroutine; pipelines never
// call Emit directly.
type Emitter interface {
	Emit(Event)
}

// BufferedEmitter collects events in memory for the non-streaming API mode.
type BufferedEmitter struct {
	mu     sync.Mutex
	events []Event
}

// NewBufferedEmitter creates an empty buffer.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{}
}

// Emit implements Emitter.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

// Events returns a copy of the collected events.
func (b *BufferedEmitter) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// StreamEmitter forwards events onto a buffered channel consumed by exactly
// one reader (the SSE responder). Emit blocks when the consumer falls
// behind, preserving order end to end.
type StreamEmitter struct {
	ch chan Event
}

// NewStreamEmitter creates a stream emitter with the given channel buffer.
func NewStreamEmitter(buffer int) *StreamEmitter {
	if buffer < 1 {
		buffer = 64
	}
	return &StreamEmitter{ch: make(chan Event, buffer)}
}

// Emit implements Emitter.
func (s *StreamEmitter) Emit(event Event) {
	s.ch <- event
}

// Events returns the receive side of the stream.
func (s *StreamEmitter) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Emit must not be called afterwards.
func (s *StreamEmitter) Close() {
	close(s.ch)
}
