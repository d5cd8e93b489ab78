package db

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const (
	defaultTableSize        = 10
	defaultWriteWaitTimeout = 100 * time.Millisecond
)

type options struct {
	tableSize        int
	writeWaitTimeout time.Duration
}

// Option is a potential customization of a Database's behavior.
type Option func(*options) error

// WithTableSize establishes the positive number of key slots in the database's table. The table
// never grows afterward.
func WithTableSize(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return errors.New("table size must be positive")
		}
		o.tableSize = n
		return nil
	}
}

// WithWriteWaitTimeout establishes the positive duration for which a write waits for an earlier,
// still active writer of the same key to commit or abort before giving up with ErrWriteConflict.
func WithWriteWaitTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("write wait timeout must be positive")
		}
		o.writeWaitTimeout = d
		return nil
	}
}

// Database is a fixed table of keys, each holding a history of versions. Transactions read a
// consistent snapshot of the table while writing keys in isolation from one another.
type Database struct {
	txm              *TxManager
	chains           []versionChain
	writeWaitTimeout time.Duration
}

// MakeDatabase creates an empty Database ready to accept transactions.
func MakeDatabase(opts ...Option) (*Database, error) {
	o := options{
		tableSize:        defaultTableSize,
		writeWaitTimeout: defaultWriteWaitTimeout,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	d := Database{
		txm:              NewTxManager(),
		chains:           make([]versionChain, o.tableSize),
		writeWaitTimeout: o.writeWaitTimeout,
	}
	for i := range d.chains {
		d.chains[i] = makeVersionChain()
	}
	return &d, nil
}

// Size returns the number of key slots in the table. Valid keys lie in [0, Size()).
func (d *Database) Size() int {
	return len(d.chains)
}

// TxManager returns the manager tracking this database's transactions.
func (d *Database) TxManager() *TxManager {
	return d.txm
}

// Begin starts a new transaction.
func (d *Database) Begin() *Transaction {
	return Begin(d.txm)
}

// Commit makes the transaction's writes visible to transactions whose snapshots can see it.
func (d *Database) Commit(tx *Transaction) error {
	return d.txm.Commit(tx.id)
}

// Abort discards the transaction's writes.
func (d *Database) Abort(tx *Transaction) error {
	return d.txm.Abort(tx.id)
}

func (d *Database) chainFor(k Key) *versionChain {
	if k < 0 || int(k) >= len(d.chains) {
		panic(fmt.Sprintf("key %d out of range for table of size %d", k, len(d.chains)))
	}
	return &d.chains[k]
}

func (d *Database) ensureActive(tx *Transaction) error {
	if s := d.txm.Status(tx.id); s != StatusActive {
		return errors.Wrapf(ErrTransactionNotActive, "transaction %d is %s", tx.id, s)
	}
	return nil
}

// Put writes the given value for the given key within the transaction. The write stays invisible to
// other transactions until the transaction commits.
//
// If an earlier transaction is still writing the key, Put waits for it to finish, up to the
// database's write wait timeout. If that transaction doesn't finish in time, or if a transaction
// ordered after this one already wrote the key, Put returns ErrWriteConflict, and the caller should
// abort the transaction and try again in a new one.
//
// Put panics if the key lies outside the table.
func (d *Database) Put(ctx context.Context, tx *Transaction, k Key, v Value) error {
	c := d.chainFor(k)
	if err := d.ensureActive(tx); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, d.writeWaitTimeout)
	defer cancel()
	for {
		outcome, other, err := c.put(ctx, tx.id, v, tx.snapshot.CanSee, d.txm.Status)
		if err != nil {
			return err
		}
		switch outcome {
		case putApplied:
			return nil
		case putConflicted:
			glog.V(2).Infof("transaction %d lost write of key %d to transaction %d", tx.id, k, other)
			return writeConflictError{key: k, writer: tx.id, against: other}
		}
		glog.V(2).Infof("transaction %d waiting for transaction %d to finish writing key %d", tx.id, other, k)
		// Writers only wait for transactions with smaller IDs, so these waits can't form a cycle.
		if _, err := d.txm.Wait(waitCtx, other); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			glog.Warningf("transaction %d gave up waiting after %s for transaction %d to finish writing key %d", tx.id, d.writeWaitTimeout, other, k)
			return writeConflictError{key: k, writer: tx.id, against: other, timedOut: true}
		}
	}
}

// Get reads the value of the given key as of the transaction's snapshot: the value written by the
// greatest visible transaction that has committed.
//
// If no such version exists, Get returns ErrNotFound.
//
// Get panics if the key lies outside the table.
func (d *Database) Get(ctx context.Context, tx *Transaction, k Key) (Value, error) {
	c := d.chainFor(k)
	if err := d.ensureActive(tx); err != nil {
		return 0, err
	}
	v, ok, err := c.get(ctx, tx.snapshot.CanSee, d.txm.Status)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, keyNotFoundError(k)
	}
	return v, nil
}

// Versions returns a copy of every version recorded for the given key, oldest first, regardless of
// whether their creators committed.
//
// Versions panics if the key lies outside the table.
func (d *Database) Versions(k Key) []Record {
	return d.chainFor(k).versions()
}
