package ledger

import "context"

// Write is one entry of a committed write set. Delete removes the key.
type Write struct {
	Key    Key
	Value  []byte
	Delete bool
}

// Backend persists the keyed store. Commit must apply the whole write set or
// none of it.
type Backend interface {
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	Commit(ctx context.Context, writes []Write) error
	Close() error
}
