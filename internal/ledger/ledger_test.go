package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/events"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type recordingObserver struct {
	invocations []string
	failures    int
	publishErrs int
}

func (o *recordingObserver) ObserveInvocation(op string, _ time.Duration, err error) {
	o.invocations = append(o.invocations, op)
	if err != nil {
		o.failures++
	}
}

func (o *recordingObserver) ObservePublish(_ string, err error) {
	if err != nil {
		o.publishErrs++
	}
}

type failingSink struct{}

func (failingSink) Publish(context.Context, events.Event) error { return errors.New("broker down") }
func (failingSink) Close() error                                { return nil }

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *MemoryBackend, *events.MemoryStream) {
	t.Helper()
	backend := NewMemoryBackend()
	stream := events.NewMemoryStream(16)
	base := []Option{WithSink(stream), WithClock(NewManualClock(1_000))}
	l := New(backend, append(base, opts...)...)
	return l, backend, stream
}

func TestInvokeCommitsWritesAndEvents(t *testing.T) {
	l, _, stream := newTestLedger(t)
	ctx := context.Background()
	key := NewKey("test", "counter")

	receipt, err := l.Invoke(ctx, Invocation{Operation: "bump", Signers: []common.Address{alice}}, func(env *Env) error {
		if err := env.RequireAuth(alice); err != nil {
			return err
		}
		if err := env.Set(key, 7); err != nil {
			return err
		}
		return env.Emit("bumped", map[string]int{"value": 7})
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receipt.Sequence)
	assert.Equal(t, uint64(1_000), receipt.Timestamp)
	assert.Len(t, receipt.Events, 1)
	assert.Equal(t, []string{"bumped"}, stream.Topics())

	var got int
	require.NoError(t, l.View(ctx, func(env *Env) error {
		ok, err := env.Get(key, &got)
		require.True(t, ok)
		return err
	}))
	assert.Equal(t, 7, got)
}

func TestFailedInvocationLeavesStateUntouched(t *testing.T) {
	observer := &recordingObserver{}
	l, backend, stream := newTestLedger(t, WithObserver(observer))
	ctx := context.Background()
	key := NewKey("test", "value")

	_, err := l.Invoke(ctx, Invocation{Operation: "seed"}, func(env *Env) error {
		return env.Set(key, "before")
	})
	require.NoError(t, err)

	boom := xerrors.New(xerrors.CodeInvalidState, "abort")
	_, err = l.Invoke(ctx, Invocation{Operation: "mutate"}, func(env *Env) error {
		require.NoError(t, env.Set(key, "after"))
		require.NoError(t, env.Set(NewKey("test", "other"), 1))
		require.NoError(t, env.Emit("mutated", nil))

		var seen string
		ok, err := env.Get(key, &seen)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "after", seen)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var value string
	require.NoError(t, l.View(ctx, func(env *Env) error {
		_, err := env.Get(key, &value)
		return err
	}))
	assert.Equal(t, "before", value)
	assert.Empty(t, backend.Keys("test/other"))
	assert.Empty(t, stream.Topics())

	seq, err := l.Sequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, 1, observer.failures)
}

func TestRemoveIsVisibleInsideInvocation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	key := NewKey("test", "gone")

	_, err := l.Invoke(ctx, Invocation{Operation: "seed"}, func(env *Env) error { return env.Set(key, true) })
	require.NoError(t, err)

	_, err = l.Invoke(ctx, Invocation{Operation: "drop"}, func(env *Env) error {
		require.NoError(t, env.Remove(key))
		ok, err := env.Has(key)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, l.View(ctx, func(env *Env) error {
		ok, err := env.Has(key)
		assert.False(t, ok)
		return err
	}))
}

func TestRequireAuthHonoursSignersAndFrames(t *testing.T) {
	l, _, _ := newTestLedger(t)
	contract := ContractAddress("escrow")
	custody := ContractAddress("custody")

	_, err := l.Invoke(context.Background(), Invocation{Operation: "auth", Signers: []common.Address{alice}}, func(env *Env) error {
		assert.NoError(t, env.RequireAuth(alice))
		assert.True(t, xerrors.HasCode(env.RequireAuth(bob), xerrors.CodeUnauthorized))
		assert.Error(t, env.RequireAuth(contract))

		return env.Call(contract, func() error {
			assert.NoError(t, env.RequireAuth(contract))
			assert.Equal(t, contract, env.CurrentContract())
			assert.Equal(t, common.Address{}, env.Caller())
			return env.Call(custody, func() error {
				assert.Equal(t, contract, env.Caller())
				assert.Error(t, env.RequireAuth(contract))
				assert.NoError(t, env.RequireAuth(custody))
				return nil
			})
		})
	})
	require.NoError(t, err)
}

func TestViewRejectsWrites(t *testing.T) {
	l, _, _ := newTestLedger(t)
	err := l.View(context.Background(), func(env *Env) error {
		return env.Set(NewKey("test", "x"), 1)
	})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidState))
}

func TestPublishFailureDoesNotRollBack(t *testing.T) {
	observer := &recordingObserver{}
	backend := NewMemoryBackend()
	l := New(backend, WithSink(failingSink{}), WithObserver(observer))
	key := NewKey("test", "kept")

	_, err := l.Invoke(context.Background(), Invocation{Operation: "emit"}, func(env *Env) error {
		if err := env.Set(key, 1); err != nil {
			return err
		}
		return env.Emit("noisy", nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, observer.publishErrs)
	assert.Len(t, backend.Keys("test/kept"), 1)
}

func TestTimestampNeverMovesBackwards(t *testing.T) {
	clock := NewManualClock(500)
	l, _, _ := newTestLedger(t, WithClock(clock))
	ctx := context.Background()
	noop := func(*Env) error { return nil }

	first, err := l.Invoke(ctx, Invocation{Operation: "a"}, noop)
	require.NoError(t, err)
	clock.Set(100)
	second, err := l.Invoke(ctx, Invocation{Operation: "b"}, noop)
	require.NoError(t, err)

	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, first.Sequence+1, second.Sequence)
}

func TestHeadSurvivesRestart(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()
	first := New(backend, WithClock(NewManualClock(10)))
	for i := 0; i < 3; i++ {
		_, err := first.Invoke(ctx, Invocation{Operation: "tick"}, func(*Env) error { return nil })
		require.NoError(t, err)
	}

	second := New(backend, WithClock(NewManualClock(10)))
	seq, err := second.Sequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}
