package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend 使用内存 map 保存状态，主要用于开发与测试。
type MemoryBackend struct {
	mu    sync.RWMutex
	state map[Key][]byte
}

// NewMemoryBackend 创建空的内存状态。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{state: make(map[Key][]byte)}
}

// Get implements Backend.
func (b *MemoryBackend) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.state[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Commit implements Backend.
func (b *MemoryBackend) Commit(ctx context.Context, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range writes {
		if w.Delete {
			delete(b.state, w.Key)
			continue
		}
		value := make([]byte, len(w.Value))
		copy(value, w.Value)
		b.state[w.Key] = value
	}
	return nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (b *MemoryBackend) Keys(prefix string) []Key {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []Key
	for k := range b.state {
		if strings.HasPrefix(string(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Close implements Backend.
func (b *MemoryBackend) Close() error { return nil }
