package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryStream 使用 channel 模拟事件通道，同时以环形缓冲保留最近 size 条事件的副本。
type MemoryStream struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
	log    []Event
	head   int
}

// NewMemoryStream 创建一个内存事件通道，size 同时是通道容量和副本保留上限。
func NewMemoryStream(size int) *MemoryStream {
	if size <= 0 {
		size = 256
	}
	return &MemoryStream{ch: make(chan Event, size), log: make([]Event, 0, size)}
}

// Publish 将事件写入通道；通道已满时只保留副本而不阻塞调用方。副本超过上限时覆盖最旧的一条。
func (s *MemoryStream) Publish(ctx context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("事件通道已关闭")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.log) < cap(s.log) {
		s.log = append(s.log, evt)
	} else {
		s.log[s.head] = evt
		s.head = (s.head + 1) % len(s.log)
	}
	select {
	case s.ch <- evt:
	default:
	}
	return nil
}

// Consume 逐个处理事件直到 ctx 结束或通道关闭。
func (s *MemoryStream) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-s.ch:
			if !ok {
				return nil
			}
			if err := handler(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// Events returns the retained events, oldest first.
func (s *MemoryStream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.log))
	out = append(out, s.log[s.head:]...)
	return append(out, s.log[:s.head]...)
}

// Topics returns the topics of the retained events in order.
func (s *MemoryStream) Topics() []string {
	evts := s.Events()
	topics := make([]string, len(evts))
	for i, evt := range evts {
		topics[i] = evt.Topic
	}
	return topics
}

// Close 关闭内存通道。
func (s *MemoryStream) Close() error {
	s.mu.Lock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	s.mu.Unlock()
	return nil
}
