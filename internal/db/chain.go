package db

import (
	"context"

	"github.com/golang/glog"
)

type putOutcome uint8

const (
	putApplied putOutcome = iota
	// The newest live version belongs to a transaction ordered after the writer.
	putConflicted
	// The newest live version belongs to an earlier transaction that is still active.
	putBlocked
)

// versionChain holds the history of versions of one key, ordered from oldest to newest.
//
// Each creating transaction owns at most one record in the chain. The chain only grows by
// appending records or by patching the value or superseding transaction of existing ones.
type versionChain struct {
	lock    chainLock
	records []Record
}

func makeVersionChain() versionChain {
	return versionChain{
		lock: makeChainLock(),
	}
}

// put writes a version of the key on behalf of the given transaction.
//
// canSee orders other transactions against the writer's snapshot, and statusOf reports their
// status. When put returns putConflicted or putBlocked, it also returns the transaction in the way,
// and the chain is left unchanged.
func (c *versionChain) put(ctx context.Context, txid TransactionID, v Value, canSee func(TransactionID) bool, statusOf func(TransactionID) TransactionStatus) (putOutcome, TransactionID, error) {
	if !c.lock.tryLockUntil(ctx) {
		return putApplied, NoTransaction, ctx.Err()
	}
	defer c.lock.unlock()
	for i := range c.records {
		if r := &c.records[i]; r.Creator == txid {
			// Writing again within the same transaction replaces the pending value.
			r.Value = v
			return putApplied, NoTransaction, nil
		}
	}
	// Find the newest version whose creator hasn't rolled back. Aborted versions are never
	// visible, so the writer only needs to order itself against the live ones.
	var prior *Record
	for i := len(c.records) - 1; i >= 0; i-- {
		if statusOf(c.records[i].Creator) != StatusAborted {
			prior = &c.records[i]
			break
		}
	}
	if prior != nil {
		switch {
		case !canSee(prior.Creator):
			return putConflicted, prior.Creator, nil
		case statusOf(prior.Creator) == StatusCommitted:
			prior.SupersededBy = txid
		default:
			// We must not write over a version that another transaction is still forming.
			return putBlocked, prior.Creator, nil
		}
	}
	c.records = append(c.records, newRecord(txid, v))
	if glog.V(4) {
		glog.Infof("transaction %d appended version %d of %d", txid, len(c.records), v)
	}
	return putApplied, NoTransaction, nil
}

// get returns the value of the visible committed version with the greatest creating transaction,
// reporting false if there is no such version.
//
// Concurrent writers can leave the chain in an order that is not one linear committed history, so
// get considers every version rather than stopping at the first visible one.
func (c *versionChain) get(ctx context.Context, canSee func(TransactionID) bool, statusOf func(TransactionID) TransactionStatus) (Value, bool, error) {
	if !c.lock.tryRLockUntil(ctx) {
		return 0, false, ctx.Err()
	}
	defer c.lock.runlock()
	var (
		best  *Record
		found bool
	)
	for i := len(c.records) - 1; i >= 0; i-- {
		r := &c.records[i]
		if found && r.Creator < best.Creator {
			continue
		}
		if canSee(r.Creator) && statusOf(r.Creator) == StatusCommitted {
			best, found = r, true
		}
	}
	if !found {
		return 0, false, nil
	}
	return best.Value, true, nil
}

// versions returns a copy of every record in the chain, oldest first.
func (c *versionChain) versions() []Record {
	c.lock.rlock()
	defer c.lock.runlock()
	return append([]Record(nil), c.records...)
}
