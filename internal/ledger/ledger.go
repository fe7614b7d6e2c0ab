package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/events"
	"FlowPay-Chain/pkg/logger"
)

var headKey = NewKey("ledger", "head")

// Invocation describes one public operation submitted to the ledger.
type Invocation struct {
	Operation string
	Signers   []common.Address
}

// Receipt summarises a committed invocation.
type Receipt struct {
	TxID      string         `json:"tx_id"`
	Sequence  uint64         `json:"sequence"`
	Timestamp uint64         `json:"timestamp"`
	Writes    int            `json:"writes"`
	Events    []events.Event `json:"events,omitempty"`
}

// Observer receives invocation and publication outcomes, typically to feed
// metrics.
type Observer interface {
	ObserveInvocation(operation string, duration time.Duration, err error)
	ObservePublish(topic string, err error)
}

type head struct {
	Sequence  uint64 `json:"sequence"`
	Timestamp uint64 `json:"timestamp"`
}

// Ledger serializes invocations against a Backend.
type Ledger struct {
	mu       sync.Mutex
	backend  Backend
	clock    Clock
	sink     events.Sink
	observer Observer
	logger   *slog.Logger
	head     *head
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the system clock.
func WithClock(clock Clock) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithSink sets the event sink used after commit.
func WithSink(sink events.Sink) Option {
	return func(l *Ledger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithObserver registers an invocation observer.
func WithObserver(observer Observer) Option {
	return func(l *Ledger) {
		l.observer = observer
	}
}

// WithLogger overrides the component logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.logger = log
		}
	}
}

// New creates a ledger over backend.
func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend: backend,
		clock:   SystemClock{},
		sink:    events.Discard{},
		logger:  logger.Named("ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Invoke runs fn as one atomic invocation. Writes made through the Env are
// committed only if fn returns nil; any error discards them all.
func (l *Ledger) Invoke(ctx context.Context, inv Invocation, fn func(*Env) error) (Receipt, error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.loadHead(ctx)
	if err != nil {
		l.observe(inv.Operation, start, err)
		return Receipt{}, err
	}
	now := l.clock.Now()
	if now < current.Timestamp {
		now = current.Timestamp
	}
	env := newEnv(ctx, l.backend, inv, now, current.Sequence+1, false)

	if err := fn(env); err != nil {
		l.observe(inv.Operation, start, err)
		l.logger.Debug("invocation rejected",
			slog.String("tx_id", env.txID),
			slog.String("operation", inv.Operation),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return Receipt{}, err
	}

	next := head{Sequence: env.sequence, Timestamp: now}
	if err := env.Set(headKey, next); err != nil {
		l.observe(inv.Operation, start, err)
		return Receipt{}, err
	}
	writes := env.writeSet()
	if err := l.backend.Commit(ctx, writes); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit invocation")
		l.observe(inv.Operation, start, wrapped)
		l.logger.Error("commit failed",
			slog.String("tx_id", env.txID),
			slog.String("operation", inv.Operation),
			slog.Any("error", err),
		)
		return Receipt{}, wrapped
	}
	l.head = &next
	l.observe(inv.Operation, start, nil)

	receipt := Receipt{
		TxID:      env.txID,
		Sequence:  next.Sequence,
		Timestamp: next.Timestamp,
		Writes:    len(writes),
		Events:    env.Events(),
	}
	logger.Audit().Info("invocation committed",
		slog.String("tx_id", receipt.TxID),
		slog.String("operation", inv.Operation),
		slog.Any("signers", signerStrings(inv.Signers)),
		slog.Uint64("sequence", receipt.Sequence),
		slog.Uint64("timestamp", receipt.Timestamp),
		slog.Int("writes", receipt.Writes),
		slog.Int("events", len(receipt.Events)),
	)
	l.publish(ctx, receipt.Events)
	return receipt, nil
}

// View runs fn against committed state. Writes are rejected. View must not
// be called from inside an invocation.
func (l *Ledger) View(ctx context.Context, fn func(*Env) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.loadHead(ctx)
	if err != nil {
		return err
	}
	now := l.clock.Now()
	if now < current.Timestamp {
		now = current.Timestamp
	}
	env := newEnv(ctx, l.backend, Invocation{Operation: "view"}, now, current.Sequence, true)
	return fn(env)
}

// Sequence returns the height of the last committed invocation.
func (l *Ledger) Sequence(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, err := l.loadHead(ctx)
	if err != nil {
		return 0, err
	}
	return current.Sequence, nil
}

// Close releases the backend and the sink.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sinkErr := l.sink.Close()
	if err := l.backend.Close(); err != nil {
		return err
	}
	return sinkErr
}

func (l *Ledger) loadHead(ctx context.Context) (head, error) {
	if l.head != nil {
		return *l.head, nil
	}
	var loaded head
	raw, ok, err := l.backend.Get(ctx, headKey)
	if err != nil {
		return head{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "load ledger head")
	}
	if ok {
		if err := json.Unmarshal(raw, &loaded); err != nil {
			return head{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode ledger head")
		}
	}
	l.head = &loaded
	return loaded, nil
}

func (l *Ledger) publish(ctx context.Context, evts []events.Event) {
	for _, evt := range evts {
		err := l.sink.Publish(ctx, evt)
		if l.observer != nil {
			l.observer.ObservePublish(evt.Topic, err)
		}
		if err != nil {
			l.logger.Warn("event publication failed",
				slog.String("tx_id", evt.TxID),
				slog.String("topic", evt.Topic),
				slog.Any("error", xerrors.Wrap(xerrors.CodePublishFailure, err, "publish event")),
			)
		}
	}
}

func (l *Ledger) observe(operation string, start time.Time, err error) {
	if l.observer != nil {
		l.observer.ObserveInvocation(operation, time.Since(start), err)
	}
}

func signerStrings(signers []common.Address) []string {
	out := make([]string, len(signers))
	for i, s := range signers {
		out[i] = s.Hex()
	}
	return out
}
