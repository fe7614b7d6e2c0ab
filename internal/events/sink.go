package events

import "context"

// Handler 处理从事件源读取的事件。
type Handler func(ctx context.Context, evt Event) error

// Sink 负责投递事件。投递是尽力而为的，失败不会回滚已提交的调用。
type Sink interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Source 负责从事件通道中读取事件。
type Source interface {
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Stream 同时具备投递与消费能力。
type Stream interface {
	Sink
	Source
}

// Discard drops every event.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, Event) error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }
