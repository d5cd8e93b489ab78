package db

// Snapshot decides which transactions' writes a reading transaction may consider. It is fixed when
// the transaction begins and never changes afterward.
//
// A Snapshot only orders transactions. Whether a transaction it can see has committed is a separate
// question, answered by the TxManager wherever the Snapshot is used.
type Snapshot struct {
	boundary TransactionID
}

// CanSee reports whether writes made by the given transaction fall within this snapshot.
func (s Snapshot) CanSee(id TransactionID) bool {
	return id != NoTransaction && id <= s.boundary
}

// Boundary returns the greatest transaction ID this snapshot can see.
func (s Snapshot) Boundary() TransactionID {
	return s.boundary
}

// Transaction bundles a transaction's identity with the snapshot captured when it began.
type Transaction struct {
	id       TransactionID
	snapshot Snapshot
}

// Begin starts a new transaction with the given TxManager.
func Begin(m *TxManager) *Transaction {
	id := m.Begin()
	return &Transaction{
		id:       id,
		snapshot: Snapshot{boundary: id},
	}
}

func (t *Transaction) ID() TransactionID {
	return t.id
}

func (t *Transaction) Snapshot() Snapshot {
	return t.snapshot
}
