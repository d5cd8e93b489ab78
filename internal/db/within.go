package db

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// WithinTransaction runs the given function within a new transaction, committing the transaction if
// the function asks to and aborting it otherwise. If the function panics, WithinTransaction aborts
// the transaction before propagating the panic.
//
// If the function returns an error, WithinTransaction returns that error even if the function also
// asked to commit; the commit still happens.
func (d *Database) WithinTransaction(ctx context.Context, f func(context.Context, *Transaction) (commit bool, err error)) (err error) {
	if f == nil {
		return errors.New("transaction-consuming function must be non-nil")
	}
	tx := d.Begin()
	finished := false
	defer func() {
		if !finished {
			// Only a panic gets us here.
			if abortErr := d.Abort(tx); abortErr != nil {
				glog.Errorf("failed to abort transaction %d after panic: %v", tx.id, abortErr)
			}
		}
	}()
	commit, err := f(ctx, tx)
	finished = true
	if commit {
		if commitErr := d.Commit(tx); commitErr != nil {
			return errors.Wrapf(commitErr, "committing transaction %d", tx.id)
		}
		return err
	}
	if abortErr := d.Abort(tx); abortErr != nil {
		return errors.Wrapf(abortErr, "aborting transaction %d", tx.id)
	}
	return err
}

const (
	retryBackoffBase     = time.Millisecond
	retryBackoffMaxShift = 8
)

// RetryOnConflict runs the given function within successive transactions, per WithinTransaction,
// for as many as the given number of attempts, for as long as each attempt fails with
// ErrWriteConflict. Between attempts it pauses for a duration that grows with each conflict.
//
// Once it runs out of attempts, RetryOnConflict returns the last conflict error.
func (d *Database) RetryOnConflict(ctx context.Context, attempts int, f func(context.Context, *Transaction) (commit bool, err error)) error {
	if attempts < 1 {
		return errors.New("attempt count must be positive")
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = d.WithinTransaction(ctx, f)
		if err == nil || !errors.Is(err, ErrWriteConflict) {
			return err
		}
		if attempt == attempts {
			break
		}
		shift := attempt - 1
		if shift > retryBackoffMaxShift {
			shift = retryBackoffMaxShift
		}
		pause := retryBackoffBase << shift
		if glog.V(2) {
			glog.Infof("attempt %d of %d conflicted, retrying after %s: %v", attempt, attempts, pause, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return errors.Wrapf(err, "gave up after %d attempts", attempts)
}
