package db

type (
	// Key is the index of a slot in the database's fixed table.
	Key int
	// Value is the scalar payload stored in each key slot.
	Value uint64
)

// Record is one version of a key's value.
type Record struct {
	// Creator is the transaction that wrote this version.
	Creator TransactionID
	// SupersededBy is the transaction that wrote the next version, or Unbounded.
	SupersededBy TransactionID
	Value        Value
	// Backup holds the value as first written, for restoring it if the creator rolls back. Reads
	// never consult it.
	Backup Value
}

func newRecord(creator TransactionID, v Value) Record {
	return Record{
		Creator:      creator,
		SupersededBy: Unbounded,
		Value:        v,
		Backup:       v,
	}
}
