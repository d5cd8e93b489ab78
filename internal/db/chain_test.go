package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statuses stands in for a TxManager, reporting a fixed status per transaction.
type statuses map[TransactionID]TransactionStatus

func (s statuses) of(id TransactionID) TransactionStatus {
	return s[id]
}

func seeUpTo(boundary TransactionID) func(TransactionID) bool {
	return Snapshot{boundary: boundary}.CanSee
}

func chainWith(records ...Record) *versionChain {
	c := makeVersionChain()
	c.records = records
	return &c
}

func TestChainPutIntoEmptyChain(t *testing.T) {
	c := chainWith()
	outcome, other, err := c.put(context.Background(), 1, 42, seeUpTo(1), statuses{1: StatusActive}.of)
	require.NoError(t, err)
	assert.Equal(t, putApplied, outcome)
	assert.Equal(t, NoTransaction, other)
	assert.Equal(t, []Record{{Creator: 1, SupersededBy: Unbounded, Value: 42, Backup: 42}}, c.versions())
}

func TestChainPutSameTransactionOverwritesInPlace(t *testing.T) {
	c := chainWith()
	st := statuses{1: StatusActive}
	ctx := context.Background()
	for _, v := range []Value{1, 2, 3} {
		outcome, _, err := c.put(ctx, 1, v, seeUpTo(1), st.of)
		require.NoError(t, err)
		require.Equal(t, putApplied, outcome)
	}
	versions := c.versions()
	require.Len(t, versions, 1)
	assert.Equal(t, Value(3), versions[0].Value)
	assert.Equal(t, Value(1), versions[0].Backup)
}

func TestChainPutSupersedesCommittedPrior(t *testing.T) {
	c := chainWith(newRecord(1, 10))
	st := statuses{1: StatusCommitted, 2: StatusActive}
	outcome, _, err := c.put(context.Background(), 2, 20, seeUpTo(2), st.of)
	require.NoError(t, err)
	assert.Equal(t, putApplied, outcome)
	assert.Equal(t, []Record{
		{Creator: 1, SupersededBy: 2, Value: 10, Backup: 10},
		{Creator: 2, SupersededBy: Unbounded, Value: 20, Backup: 20},
	}, c.versions())
}

func TestChainPutRejectsLaterPrior(t *testing.T) {
	for name, status := range map[string]TransactionStatus{
		"committed": StatusCommitted,
		"active":    StatusActive,
	} {
		t.Run(name, func(t *testing.T) {
			before := []Record{newRecord(5, 50)}
			c := chainWith(append([]Record(nil), before...)...)
			st := statuses{5: status, 3: StatusActive}
			outcome, other, err := c.put(context.Background(), 3, 30, seeUpTo(3), st.of)
			require.NoError(t, err)
			assert.Equal(t, putConflicted, outcome)
			assert.Equal(t, TransactionID(5), other)
			assert.Equal(t, before, c.versions())
		})
	}
}

func TestChainPutBlocksOnActiveEarlierPrior(t *testing.T) {
	before := []Record{newRecord(1, 10), newRecord(2, 20)}
	before[0].SupersededBy = 2
	c := chainWith(append([]Record(nil), before...)...)
	st := statuses{1: StatusCommitted, 2: StatusActive, 3: StatusActive}
	outcome, other, err := c.put(context.Background(), 3, 30, seeUpTo(3), st.of)
	require.NoError(t, err)
	assert.Equal(t, putBlocked, outcome)
	assert.Equal(t, TransactionID(2), other)
	assert.Equal(t, before, c.versions())
}

func TestChainPutStepsOverAbortedVersions(t *testing.T) {
	// Transaction 4 wrote and rolled back; transaction 3 may still write over transaction 1.
	c := chainWith(newRecord(1, 10), newRecord(4, 40))
	st := statuses{1: StatusCommitted, 3: StatusActive, 4: StatusAborted}
	outcome, _, err := c.put(context.Background(), 3, 30, seeUpTo(3), st.of)
	require.NoError(t, err)
	assert.Equal(t, putApplied, outcome)
	versions := c.versions()
	require.Len(t, versions, 3)
	assert.Equal(t, TransactionID(3), versions[0].SupersededBy)
	assert.Equal(t, Unbounded, versions[1].SupersededBy, "aborted version stays untouched")
	assert.Equal(t, TransactionID(3), versions[2].Creator)
}

func TestChainPutOnlyAbortedHistory(t *testing.T) {
	c := chainWith(newRecord(1, 10))
	st := statuses{1: StatusAborted, 2: StatusActive}
	outcome, _, err := c.put(context.Background(), 2, 20, seeUpTo(2), st.of)
	require.NoError(t, err)
	assert.Equal(t, putApplied, outcome)
	assert.Len(t, c.versions(), 2)
}

func TestChainPutAbandonsLockWhenContextIsDone(t *testing.T) {
	c := chainWith()
	require.True(t, c.lock.tryLockUntil(context.Background()))
	defer c.lock.unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.put(ctx, 1, 1, seeUpTo(1), statuses{1: StatusActive}.of)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChainGetEmpty(t *testing.T) {
	_, ok, err := chainWith().get(context.Background(), seeUpTo(10), statuses{}.of)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChainGetPicksGreatestVisibleCommittedCreator(t *testing.T) {
	// The physical order does not follow creator order.
	records := []Record{newRecord(5, 50), newRecord(3, 30), newRecord(4, 40), newRecord(7, 70)}
	tests := []struct {
		name     string
		boundary TransactionID
		statuses statuses
		want     Value
		wantOK   bool
	}{
		{
			name:     "all committed and visible",
			boundary: 10,
			statuses: statuses{3: StatusCommitted, 4: StatusCommitted, 5: StatusCommitted, 7: StatusCommitted},
			want:     70,
			wantOK:   true,
		},
		{
			name:     "newest beyond boundary",
			boundary: 6,
			statuses: statuses{3: StatusCommitted, 4: StatusCommitted, 5: StatusCommitted, 7: StatusCommitted},
			want:     50,
			wantOK:   true,
		},
		{
			name:     "boundary between scattered versions",
			boundary: 4,
			statuses: statuses{3: StatusCommitted, 4: StatusCommitted, 5: StatusCommitted, 7: StatusCommitted},
			want:     40,
			wantOK:   true,
		},
		{
			name:     "greatest visible still active",
			boundary: 6,
			statuses: statuses{3: StatusCommitted, 4: StatusCommitted, 5: StatusActive, 7: StatusCommitted},
			want:     40,
			wantOK:   true,
		},
		{
			name:     "greatest visible aborted",
			boundary: 6,
			statuses: statuses{3: StatusCommitted, 4: StatusAborted, 5: StatusAborted, 7: StatusCommitted},
			want:     30,
			wantOK:   true,
		},
		{
			name:     "nothing committed",
			boundary: 10,
			statuses: statuses{3: StatusActive, 4: StatusAborted, 5: StatusActive, 7: StatusAborted},
		},
		{
			name:     "nothing visible",
			boundary: 2,
			statuses: statuses{3: StatusCommitted, 4: StatusCommitted, 5: StatusCommitted, 7: StatusCommitted},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := chainWith(append([]Record(nil), records...)...)
			got, ok, err := c.get(context.Background(), seeUpTo(tt.boundary), tt.statuses.of)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChainGetIgnoresBackup(t *testing.T) {
	r := newRecord(1, 10)
	r.Value = 11
	c := chainWith(r)
	got, ok, err := c.get(context.Background(), seeUpTo(1), statuses{1: StatusCommitted}.of)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Value(11), got)
}
