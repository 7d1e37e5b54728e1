package events

// Sink is a destination for stream events. Implementations publish to
// watermill topics, logs, or test buffers.
type Sink interface {
	PublishEvent(event Event) error
}

// NullSink drops every event.
type NullSink struct{}

func (NullSink) PublishEvent(Event) error { return nil }

var _ Sink = NullSink{}
