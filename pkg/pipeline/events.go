package pipeline

import (
	"log/slog"
	"time"
)

// EventType enumerates pipeline lifecycle events.
type EventType string

const (
	EventPipelineStarted   EventType = "pipeline_started"
	EventLayerStarted      EventType = "layer_started"
	EventLayerCompleted    EventType = "layer_completed"
	EventLayerSkipped      EventType = "layer_skipped"
	EventLayerFailed       EventType = "layer_failed"
	EventPipelineCompleted EventType = "pipeline_completed"
)

// Event is one lifecycle notification delivered to registered listeners.
type Event struct {
	Type       EventType `json:"type"`
	IntentID   string    `json:"intent_id,omitempty"`
	LayerID    string    `json:"layer_id,omitempty"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Listener receives lifecycle events. Listeners run synchronously on the
// pipeline goroutine; panics are recovered and logged, never propagated.
type Listener func(Event)

func (p *Pipeline) emit(ev Event) {
	ev.Timestamp = p.clock.Now()
	for _, l := range p.listeners {
		p.deliver(l, ev)
	}
}

func (p *Pipeline) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("pipeline listener panicked",
				slog.String("event", string(ev.Type)),
				slog.Any("panic", r))
		}
	}()
	l(ev)
}
