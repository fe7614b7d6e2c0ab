package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/events"
)

// Env is the execution context handed to an operation. It is only valid for
// the duration of the invocation that created it.
type Env struct {
	ctx       context.Context
	txID      string
	operation string
	signers   map[common.Address]struct{}
	now       uint64
	sequence  uint64
	backend   Backend
	writes    map[Key]*[]byte
	frames    []common.Address
	events    []events.Event
	readOnly  bool
}

func newEnv(ctx context.Context, backend Backend, inv Invocation, now, sequence uint64, readOnly bool) *Env {
	signers := make(map[common.Address]struct{}, len(inv.Signers))
	for _, s := range inv.Signers {
		signers[s] = struct{}{}
	}
	return &Env{
		ctx:       ctx,
		txID:      uuid.NewString(),
		operation: inv.Operation,
		signers:   signers,
		now:       now,
		sequence:  sequence,
		backend:   backend,
		writes:    make(map[Key]*[]byte),
		readOnly:  readOnly,
	}
}

// Context returns the invocation context.
func (e *Env) Context() context.Context { return e.ctx }

// TxID identifies the invocation.
func (e *Env) TxID() string { return e.txID }

// Operation names the public operation being executed.
func (e *Env) Operation() string { return e.operation }

// Now returns the ledger timestamp in seconds.
func (e *Env) Now() uint64 { return e.now }

// Sequence returns the ledger height the invocation commits at.
func (e *Env) Sequence() uint64 { return e.sequence }

// Get loads the JSON value stored at key into out. It reports false when the
// key is absent.
func (e *Env) Get(key Key, out any) (bool, error) {
	raw, ok, err := e.load(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("decode %s", key))
	}
	return true, nil
}

// Has reports whether key holds a value.
func (e *Env) Has(key Key) (bool, error) {
	_, ok, err := e.load(key)
	return ok, err
}

func (e *Env) load(key Key) ([]byte, bool, error) {
	if pending, ok := e.writes[key]; ok {
		if pending == nil {
			return nil, false, nil
		}
		return *pending, true, nil
	}
	raw, ok, err := e.backend.Get(e.ctx, key)
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("read %s", key))
	}
	return raw, ok, nil
}

// Set stores value at key as JSON.
func (e *Env) Set(key Key, value any) error {
	if e.readOnly {
		return xerrors.Newf(xerrors.CodeInvalidState, "write to %s in read-only view", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("encode %s", key))
	}
	e.writes[key] = &raw
	return nil
}

// Remove deletes key.
func (e *Env) Remove(key Key) error {
	if e.readOnly {
		return xerrors.Newf(xerrors.CodeInvalidState, "remove %s in read-only view", key)
	}
	e.writes[key] = nil
	return nil
}

// IsSigner reports whether addr signed the invocation.
func (e *Env) IsSigner(addr common.Address) bool {
	_, ok := e.signers[addr]
	return ok
}

// RequireAuth fails unless addr signed the invocation or is the contract
// whose frame is currently executing.
func (e *Env) RequireAuth(addr common.Address) error {
	if e.IsSigner(addr) {
		return nil
	}
	if len(e.frames) > 0 && e.frames[len(e.frames)-1] == addr {
		return nil
	}
	return xerrors.Newf(xerrors.CodeUnauthorized, "%s did not authorize %s", addr.Hex(), e.operation)
}

// Call runs fn inside the frame of contract. Nested calls see contract as
// their caller.
func (e *Env) Call(contract common.Address, fn func() error) error {
	e.frames = append(e.frames, contract)
	defer func() { e.frames = e.frames[:len(e.frames)-1] }()
	return fn()
}

// CurrentContract returns the executing contract, or the zero address at the
// top level.
func (e *Env) CurrentContract() common.Address {
	if len(e.frames) == 0 {
		return common.Address{}
	}
	return e.frames[len(e.frames)-1]
}

// Caller returns the contract that invoked the current frame, or the zero
// address when the current frame was entered directly.
func (e *Env) Caller() common.Address {
	if len(e.frames) < 2 {
		return common.Address{}
	}
	return e.frames[len(e.frames)-2]
}

// Emit buffers an event. Events are only published when the invocation
// commits.
func (e *Env) Emit(topic string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("encode %s event", topic))
	}
	var contract string
	if c := e.CurrentContract(); c != (common.Address{}) {
		contract = c.Hex()
	}
	e.events = append(e.events, events.Event{
		ID:        uuid.NewString(),
		TxID:      e.txID,
		Topic:     topic,
		Contract:  contract,
		Sequence:  e.sequence,
		Timestamp: e.now,
		Data:      raw,
	})
	return nil
}

// Events returns the events buffered so far.
func (e *Env) Events() []events.Event {
	out := make([]events.Event, len(e.events))
	copy(out, e.events)
	return out
}

func (e *Env) writeSet() []Write {
	keys := make([]Key, 0, len(e.writes))
	for k := range e.writes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]Write, 0, len(keys))
	for _, k := range keys {
		if v := e.writes[k]; v != nil {
			out = append(out, Write{Key: k, Value: *v})
		} else {
			out = append(out, Write{Key: k, Delete: true})
		}
	}
	return out
}
