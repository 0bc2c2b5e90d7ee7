package walletdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/go-errors/errors"
	_ "modernc.org/sqlite"
)

var (
	// ErrOutsideQueue is returned when a transaction body is executed
	// without the write queue being held. It indicates a programming
	// error that would let top-level transactions interleave.
	ErrOutsideQueue = errors.New("transaction executed outside the " +
		"write queue")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// read helpers can serve both plain reads and in-transaction reads.
type querier interface {
	ExecContext(ctx context.Context, query string,
		args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string,
		args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string,
		args ...interface{}) *sql.Row
}

// DB is the wallet store handle. Writers are serialised through a FIFO
// queue so top-level transactions never interleave; readers query the
// connection directly and take no lock.
type DB struct {
	conn *sql.DB

	// queueMu guards queueTail.
	queueMu   sync.Mutex
	queueTail chan struct{}

	// inQueue is set while the write queue is held. Transaction bodies
	// check it to fail fast when entered from outside the queue.
	inQueue atomic.Bool

	closed atomic.Bool

	now func() time.Time
}

// Tx is an open store transaction. Nested Transact calls on it run under
// savepoints and roll back independently of the outer scope.
type Tx struct {
	db    *DB
	tx    *sql.Tx
	ctx   context.Context
	depth int
}

// Open opens, and if needed creates, the wallet database at the given path
// and applies schema migrations. Initialisation is idempotent.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)"+
		"&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}

	// A single connection keeps savepoint nesting on one session.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, now: time.Now}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}

	log.Infof("Wallet store opened at %s", path)
	return db, nil
}

// Close closes the store.
func (db *DB) Close() error {
	db.closed.Store(true)
	return db.conn.Close()
}

// Transact runs fn inside a top-level transaction. Concurrent callers are
// queued in FIFO order, not merged. Any error from fn rolls the whole
// transaction back.
func (db *DB) Transact(ctx context.Context,
	fn func(tx *Tx) error) error {

	if db.closed.Load() {
		return ErrClosed
	}

	release, err := db.acquireQueue(ctx)
	if err != nil {
		return err
	}
	defer release()

	db.inQueue.Store(true)
	defer db.inQueue.Store(false)

	return db.executeTransaction(ctx, fn)
}

// executeTransaction runs the transaction body. It must only ever be
// reached while the write queue is held; the guard protects the queue
// invariant against future misuse.
func (db *DB) executeTransaction(ctx context.Context,
	fn func(tx *Tx) error) error {

	if !db.inQueue.Load() {
		return ErrOutsideQueue
	}

	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	tx := &Tx{db: db, tx: sqlTx, ctx: ctx}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			log.Errorf("Rollback failed: %v", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return goerrors.Wrap(err, 0)
	}
	return nil
}

// Transact runs fn under a savepoint inside the already-open transaction.
// An error from fn rolls back to the savepoint only, leaving the outer
// scope intact.
func (t *Tx) Transact(fn func(tx *Tx) error) error {
	if !t.db.inQueue.Load() {
		return ErrOutsideQueue
	}

	t.depth++
	name := fmt.Sprintf("sp_%d", t.depth)

	if _, err := t.tx.ExecContext(t.ctx,
		"SAVEPOINT "+name); err != nil {

		t.depth--
		return goerrors.Wrap(err, 0)
	}

	if err := fn(t); err != nil {
		if _, rbErr := t.tx.ExecContext(t.ctx,
			"ROLLBACK TO "+name); rbErr != nil {

			log.Errorf("Savepoint rollback failed: %v", rbErr)
		}
		t.tx.ExecContext(t.ctx, "RELEASE "+name)
		t.depth--
		return err
	}

	if _, err := t.tx.ExecContext(t.ctx, "RELEASE "+name); err != nil {
		t.depth--
		return goerrors.Wrap(err, 0)
	}
	t.depth--
	return nil
}

// acquireQueue joins the FIFO write queue and blocks until the caller is at
// its head or the context is cancelled.
func (db *DB) acquireQueue(ctx context.Context) (func(), error) {
	db.queueMu.Lock()
	prev := db.queueTail
	next := make(chan struct{})
	db.queueTail = next
	db.queueMu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep the chain intact for waiters behind us.
			go func() {
				<-prev
				close(next)
			}()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			db.queueMu.Lock()
			if db.queueTail == next {
				db.queueTail = nil
			}
			db.queueMu.Unlock()
			close(next)
		})
	}, nil
}

// nowMillis returns the current time in milliseconds since the epoch.
func (db *DB) nowMillis() int64 {
	return db.now().UnixMilli()
}

// SetNow overrides the store's clock. It exists for tests.
func (db *DB) SetNow(now func() time.Time) {
	db.now = now
}
