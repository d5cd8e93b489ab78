package db

import "context"

// chainLock is a readers-writer lock whose acquisition can be abandoned when a Context is done.
// Writers hold it exclusively; readers share it.
//
// Basis of inspiration: https://blogtitle.github.io/go-advanced-concurrency-patterns-part-3-channels/#read-write-mutexes
type chainLock struct {
	writer  chan struct{}
	readers chan uint
}

func makeChainLock() chainLock {
	return chainLock{
		writer:  make(chan struct{}, 1),
		readers: make(chan uint, 1),
	}
}

func (m chainLock) unlock() {
	// There is only an item to receive if a writer is holding the lock. (There could be an item
	// available due to readers holding the lock, but calling unlock before runlock violates the
	// protocol for using the lock.)
	<-m.writer
}

func (m chainLock) rlock() {
	// A Context that is never done can't cause acquisition to fail.
	m.tryRLockUntil(context.Background())
}

func (m chainLock) runlock() {
	readers := <-m.readers
	readers--
	if readers == 0 {
		// Allow any writers to acquire the lock again.
		<-m.writer
		return
	}
	// NB: We never send a nonpositive value to the readers channel.
	// NB: The writer channel still holds a value, blocking attempts to send a value.
	m.readers <- readers
}

func (m chainLock) tryLockUntil(ctx context.Context) bool {
	select {
	// There's only room if no other writer or readers are holding the lock.
	case m.writer <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m chainLock) tryRLockUntil(ctx context.Context) bool {
	var readers uint
	select {
	case m.writer <- struct{}{}:
		// We have no readers and no writer.
	case readers = <-m.readers:
		// We have other readers.
	case <-ctx.Done():
		return false
	}
	readers++
	m.readers <- readers
	return true
}
