package db

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// TransactionID identifies a transaction. IDs are issued in increasing order and never reused, so
// comparing two IDs orders the transactions by when they began.
type TransactionID uint64

const (
	// NoTransaction is never issued. The first valid transaction ID is one.
	NoTransaction TransactionID = 0
	// Unbounded marks a record version that no later transaction has superseded yet.
	Unbounded            TransactionID = math.MaxUint64
	guardAgainstOverflow               = true
)

// TransactionStatus describes where a transaction is in its lifecycle.
type TransactionStatus uint8

const (
	// StatusUnknown is reported for IDs that the TxManager never issued. It counts as not
	// committed.
	StatusUnknown TransactionStatus = iota
	StatusActive
	StatusCommitted
	StatusAborted
)

func (s TransactionStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible from this status.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCommitted || s == StatusAborted
}

type transactionEntry struct {
	status TransactionStatus
	// Closed once status becomes terminal.
	done chan struct{}
}

// TxManager issues transaction IDs and tracks the status of each one.
type TxManager struct {
	latestID atomic.Uint64

	mu      sync.RWMutex
	entries map[TransactionID]*transactionEntry
	// IDs of transactions still active, ordered ascending.
	active *treeset.Set
}

// NewTxManager creates a TxManager that has not issued any transaction IDs yet.
func NewTxManager() *TxManager {
	return &TxManager{
		entries: make(map[TransactionID]*transactionEntry),
		active: treeset.NewWith(func(a, b interface{}) int {
			switch x, y := a.(TransactionID), b.(TransactionID); {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}),
	}
}

func (m *TxManager) claimNext() TransactionID {
	next := TransactionID(m.latestID.Add(1))
	if guardAgainstOverflow && (next == NoTransaction || next == Unbounded) {
		panic("database transaction ID sequence overflowed")
	}
	return next
}

// Begin issues a fresh transaction ID and records it as active.
func (m *TxManager) Begin() TransactionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Claiming under the lock keeps the active set in step with ID order.
	id := m.claimNext()
	m.entries[id] = &transactionEntry{
		status: StatusActive,
		done:   make(chan struct{}),
	}
	m.active.Add(id)
	glog.V(4).Infof("began transaction %d", id)
	return id
}

// Commit moves the given active transaction to the committed status.
//
// If the transaction is not active, Commit returns ErrTransactionNotActive.
func (m *TxManager) Commit(id TransactionID) error {
	return m.finish(id, StatusCommitted)
}

// Abort moves the given active transaction to the aborted status.
//
// If the transaction is not active, Abort returns ErrTransactionNotActive.
func (m *TxManager) Abort(id TransactionID) error {
	return m.finish(id, StatusAborted)
}

func (m *TxManager) finish(id TransactionID, to TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return errors.Wrapf(ErrTransactionNotActive, "cannot mark transaction %d %s: never issued", id, to)
	}
	if e.status != StatusActive {
		return errors.Wrapf(ErrTransactionNotActive, "cannot mark transaction %d %s: already %s", id, to, e.status)
	}
	e.status = to
	close(e.done)
	m.active.Remove(id)
	glog.V(4).Infof("transaction %d %s", id, to)
	return nil
}

// Status reports the current status of the given transaction.
func (m *TxManager) Status(id TransactionID) TransactionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[id]; ok {
		return e.status
	}
	return StatusUnknown
}

// Wait blocks until the given transaction reaches a terminal status, returning that status, or
// until the Context is done, returning its error.
func (m *TxManager) Wait(ctx context.Context, id TransactionID) (TransactionStatus, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return StatusUnknown, fmt.Errorf("cannot wait for transaction %d: never issued", id)
	}
	select {
	case <-e.done:
		return m.Status(id), nil
	case <-ctx.Done():
		return StatusActive, ctx.Err()
	}
}

// ActiveCount reports how many transactions are still active.
func (m *TxManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active.Size()
}

// OldestActive reports the smallest ID among the active transactions, if any are active.
func (m *TxManager) OldestActive() (TransactionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it := m.active.Iterator()
	if !it.First() {
		return NoTransaction, false
	}
	return it.Value().(TransactionID), true
}
