package db

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is the error returned for attempts to read a key for which no committed version is
// visible to the reading transaction. This may be wrapped in another error, and should normally be
// tested using errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("no visible version")

type keyNotFoundError Key

func (e keyNotFoundError) Error() string {
	return fmt.Sprintf("no visible committed version of key %d", int(e))
}

func (e keyNotFoundError) Is(err error) bool {
	if err == ErrNotFound {
		return true
	}
	downcasted, ok := err.(keyNotFoundError)
	return ok && downcasted == e
}

// ErrWriteConflict is the error returned for attempts to write a key when another transaction's
// version of that key precludes it, either because that transaction is ordered after the writer or
// because it did not finish in time. The writing transaction should abort and retry in a new
// transaction. This may be wrapped in another error, and should normally be tested using
// errors.Is(err, ErrWriteConflict).
var ErrWriteConflict = errors.New("write attempt conflicts with another transaction")

type writeConflictError struct {
	key     Key
	writer  TransactionID
	against TransactionID
	// Whether the other transaction was still active when the writer gave up waiting for it.
	timedOut bool
}

func (e writeConflictError) Error() string {
	if e.timedOut {
		return fmt.Sprintf("transaction %d timed out waiting for transaction %d to finish writing key %d", e.writer, e.against, e.key)
	}
	return fmt.Sprintf("attempt by transaction %d to write key %d conflicts with later transaction %d", e.writer, e.key, e.against)
}

func (e writeConflictError) Is(err error) bool {
	if err == ErrWriteConflict {
		return true
	}
	downcasted, ok := err.(writeConflictError)
	return ok && downcasted == e
}

// ErrTransactionNotActive is the error returned for attempts to use, commit, or abort a transaction
// that has already committed or aborted. This may be wrapped in another error, and should normally
// be tested using errors.Is(err, ErrTransactionNotActive).
var ErrTransactionNotActive = errors.New("transaction is not active")
