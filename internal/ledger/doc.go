// Package ledger hosts the platform components. Every public operation runs
// as one Invocation: reads and writes go through a copy-on-write overlay of
// the keyed store, authorization is checked against the invocation signers
// and the active contract frame, and the write set is committed atomically
// through a Backend only when the operation succeeds. Events buffered during
// the invocation are published after commit.
package ledger
