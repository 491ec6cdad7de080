package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crypto_custody/draftvault/internal/dbtest"
	"github.com/crypto_custody/draftvault/repository"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func TestReserveAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)
	d := f.insertDraft(t, signer1, "")

	res, err := f.locks.Reserve(ctx, d.ID, []string{u1.ID, u2.ID, u1.ID}, ReserveOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.LockedCount)
	require.Equal(t, d.ID, f.holder(t, u1.ID))
	require.Equal(t, d.ID, f.holder(t, u2.ID))

	n, err := f.locks.Release(ctx, d.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Empty(t, f.holder(t, u1.ID))

	// Releasing again is a no-op.
	n, err = f.locks.Release(ctx, d.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReserveConflictIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)
	a := f.insertDraft(t, signer1, "")
	b := f.insertDraft(t, signer2, "")

	res, err := f.locks.Reserve(ctx, a.ID, []string{u1.ID}, ReserveOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = f.locks.Reserve(ctx, b.ID, []string{u2.ID, u1.ID}, ReserveOptions{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, []string{u1.ID}, res.FailedUTXOIDs)
	require.Equal(t, []string{a.ID}, res.LockedByDraftIDs)

	require.Zero(t, f.held(t, b.ID), "loser must not keep a partial reservation")
	require.Empty(t, f.holder(t, u2.ID))
	require.Equal(t, a.ID, f.holder(t, u1.ID))
}

func TestReserveReplacesOwnSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)
	u3 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 3)
	d := f.insertDraft(t, signer1, "")

	_, err := f.locks.Reserve(ctx, d.ID, []string{u1.ID, u2.ID}, ReserveOptions{})
	require.NoError(t, err)

	res, err := f.locks.Reserve(ctx, d.ID, []string{u2.ID, u3.ID}, ReserveOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.EqualValues(t, 2, f.held(t, d.ID))
	require.Empty(t, f.holder(t, u1.ID))
	require.Equal(t, d.ID, f.holder(t, u3.ID))
}

func TestReserveSkipsRBFAndEmptySelections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	d := f.insertDraft(t, signer1, "")

	res, err := f.locks.Reserve(ctx, d.ID, []string{u1.ID}, ReserveOptions{IsRBF: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Zero(t, res.LockedCount)

	res, err = f.locks.Reserve(ctx, d.ID, nil, ReserveOptions{})
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Zero(t, f.held(t, d.ID))
}

// TestReserveRace launches many drafts at the same UTXOs; exactly one may win.
func TestReserveRace(t *testing.T) {
	f := newFixture(t)
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)

	const racers = 8
	ids := make([]string, racers)
	for i := range ids {
		ids[i] = f.insertDraft(t, signer1, "").ID
	}

	var wins atomic.Int32
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := f.locks.Reserve(context.Background(), id, []string{u1.ID, u2.ID}, ReserveOptions{})
			if err != nil {
				return err
			}
			if res.Success {
				wins.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, wins.Load())

	winner := f.holder(t, u1.ID)
	require.NotEmpty(t, winner)
	require.Equal(t, winner, f.holder(t, u2.ID))
}

// beforeLockInsert runs fn once, inside the reservation transaction, just
// before the lock rows are inserted.
func beforeLockInsert(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	var fired atomic.Bool
	err := db.Callback().Create().Before("gorm:create").Register("test:competing_lock", func(tx *gorm.DB) {
		if tx.Statement.Table != "draft_utxo_locks" || !fired.CompareAndSwap(false, true) {
			return
		}
		fn(tx)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Callback().Create().Remove("test:competing_lock") })
}

// TestReserveLosesAfterPreCheck has another draft take a UTXO between the
// pre-check and the insert. The skipped row must be caught by the ownership
// re-read and the whole reservation rolled back.
func TestReserveLosesAfterPreCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)
	loser := f.insertDraft(t, signer1, "")
	winner := f.insertDraft(t, signer2, "")

	beforeLockInsert(t, f.db, func(tx *gorm.DB) {
		tx.Session(&gorm.Session{NewDB: true}).
			Exec("INSERT INTO draft_utxo_locks (utxo_id, draft_id, created_at) VALUES (?, ?, ?)",
				u1.ID, winner.ID, time.Now().UTC())
	})

	res, err := f.locks.Reserve(ctx, loser.ID, []string{u1.ID, u2.ID}, ReserveOptions{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, []string{u1.ID}, res.FailedUTXOIDs)
	require.Equal(t, []string{winner.ID}, res.LockedByDraftIDs)

	require.Zero(t, f.held(t, loser.ID), "loser must not keep a partial reservation")
	require.Empty(t, f.holder(t, u2.ID))
}

func TestReserveDuplicateKeyIsAConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	d := f.insertDraft(t, signer1, "")

	beforeLockInsert(t, f.db, func(tx *gorm.DB) {
		_ = tx.AddError(gorm.ErrDuplicatedKey)
	})

	res, err := f.locks.Reserve(ctx, d.ID, []string{u1.ID}, ReserveOptions{})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, []string{u1.ID}, res.FailedUTXOIDs)
	require.Empty(t, res.LockedByDraftIDs, "nobody holds the utxo once the transaction rolled back")
	require.Zero(t, f.held(t, d.ID))
}

func TestLostRaceNamesWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)
	loser := f.insertDraft(t, signer1, "")
	winner := f.insertDraft(t, signer2, "")

	_, err := f.locks.Reserve(ctx, winner.ID, []string{u2.ID}, ReserveOptions{})
	require.NoError(t, err)

	res := f.locks.lostRace(ctx, loser.ID, []string{u1.ID, u2.ID})
	require.False(t, res.Success)
	require.Equal(t, []string{u2.ID}, res.FailedUTXOIDs)
	require.Equal(t, []string{winner.ID}, res.LockedByDraftIDs)
}

func TestDeletingDraftCascadesToLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	d := f.insertDraft(t, signer1, "")

	_, err := f.locks.Reserve(ctx, d.ID, []string{u1.ID}, ReserveOptions{})
	require.NoError(t, err)

	n, err := repository.NewDraftRepository(f.db).Delete(ctx, d.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Empty(t, f.holder(t, u1.ID))
}

func TestFindLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)
	d := f.insertDraft(t, signer1, "payroll")

	_, err := f.locks.Reserve(ctx, d.ID, []string{u1.ID}, ReserveOptions{})
	require.NoError(t, err)

	check, err := f.locks.FindLocked(ctx, []string{u1.ID, u2.ID}, "")
	require.NoError(t, err)
	require.Equal(t, []string{u2.ID}, check.Available)
	require.Len(t, check.Locked, 1)
	require.Equal(t, u1.ID, check.Locked[0].UTXOID)
	require.Equal(t, d.ID, check.Locked[0].DraftID)
	require.Equal(t, signer1, check.Locked[0].CreatedBy)
	require.NotNil(t, check.Locked[0].DraftLabel)
	require.Equal(t, "payroll", *check.Locked[0].DraftLabel)

	check, err = f.locks.FindLocked(ctx, []string{u1.ID, u2.ID}, d.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{u1.ID, u2.ID}, check.Available)
	require.Empty(t, check.Locked)
}
