package firebirdsql

import (
	"context"

	"github.com/lirix-data/firebirdsql/internal/fberr"
	"github.com/lirix-data/firebirdsql/internal/protocol"
	"github.com/lirix-data/firebirdsql/internal/wire"
)

// TransactionOptions selects isolation level and lock-wait behavior for a
// new transaction.
type TransactionOptions struct {
	Isolation protocol.IsolationLevel
	LockWait  protocol.LockWaitMode
}

// DefaultTransactionOptions is ReadCommitted with an indefinite wait,
// Firebird's own default.
func DefaultTransactionOptions() TransactionOptions {
	return TransactionOptions{Isolation: protocol.ReadCommitted, LockWait: protocol.Wait()}
}

// SnapshotOptions is a convenience constructor for a Snapshot (concurrency)
// transaction that waits indefinitely on lock conflicts.
func SnapshotOptions() TransactionOptions {
	return TransactionOptions{Isolation: protocol.Snapshot, LockWait: protocol.Wait()}
}

// SerializableOptions is a convenience constructor for a Serializable
// (consistency) transaction.
func SerializableOptions() TransactionOptions {
	return TransactionOptions{Isolation: protocol.Serializable, LockWait: protocol.Wait()}
}

// SnapshotReadOnlyOptions is a convenience constructor for a read-only
// Snapshot transaction, useful for long-running reporting queries that
// must not block writers.
func SnapshotReadOnlyOptions() TransactionOptions {
	return TransactionOptions{Isolation: protocol.SnapshotReadOnly, LockWait: protocol.Wait()}
}

// Transaction is a handle plus a finished flag. If a Transaction is
// dropped without an explicit Commit or Rollback, Drop issues exactly one
// rollback.
type Transaction struct {
	conn     *Connection
	handle   int32
	finished bool
}

// Begin starts a new transaction with the given options.
func (c *Connection) Begin(ctx context.Context, opts TransactionOptions) (*Transaction, error) {
	if err := c.checkPoisoned(); err != nil {
		return nil, err
	}

	tpb := protocol.NewTPBBuilder(opts.Isolation, opts.LockWait)

	var buf []byte
	buf = wire.PutInt32(buf, int32(wire.OpTransaction))
	buf = wire.PutInt32(buf, c.dbHandle)
	buf = wire.PutOpaque(buf, tpb.Bytes())
	if err := c.ch.Write(buf); err != nil {
		return nil, c.poison(err)
	}
	if err := c.ch.Flush(); err != nil {
		return nil, c.poison(err)
	}

	handle, _, err := c.readResponse()
	if err != nil {
		return nil, c.poison(err)
	}

	return &Transaction{conn: c, handle: handle}, nil
}

// Commit commits the transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	return t.end(wire.OpCommit)
}

// Rollback rolls back the transaction.
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.end(wire.OpRollback)
}

// Drop ends the transaction if it has not already been committed or
// rolled back, issuing a rollback — the same cleanup-on-scope-exit
// guarantee a borrowed transaction gets when its owner goes out of scope.
// Calling Drop on an already-finished transaction is a no-op.
func (t *Transaction) Drop(ctx context.Context) error {
	if t.finished {
		return nil
	}
	return t.Rollback(ctx)
}

func (t *Transaction) end(op wire.Op) error {
	if t.finished {
		return fberr.New(fberr.Internal, "transaction already finished")
	}
	if err := t.conn.checkPoisoned(); err != nil {
		return err
	}

	var buf []byte
	buf = wire.PutInt32(buf, int32(op))
	buf = wire.PutInt32(buf, t.handle)
	if err := t.conn.ch.Write(buf); err != nil {
		return t.conn.poison(err)
	}
	if err := t.conn.ch.Flush(); err != nil {
		return t.conn.poison(err)
	}
	_, _, err := t.conn.readResponse()
	if err == nil {
		t.finished = true
		return nil
	}
	// If a response arrived at all, the server has processed the request
	// and the handle's fate is sealed even though the outcome was an
	// error — latch finished so a deferred Drop does not re-issue a
	// rollback against it. Only a transport failure (no response) leaves
	// the transaction unfinished, and that path poisons the connection so
	// the retry fails fast instead of reaching the wire.
	if fe, ok := err.(*fberr.Error); ok && fe.Kind != fberr.Network {
		t.finished = true
	}
	return t.conn.poison(err)
}

// Prepare prepares sql for execution bound to this transaction rather than
// the connection's auto-commit transaction.
func (t *Transaction) Prepare(ctx context.Context, sql string) (*Statement, error) {
	return t.conn.prepare(ctx, sql, t, false)
}
