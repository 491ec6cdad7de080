package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/crypto_custody/draftvault/internal/dbtest"
	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newDraft(walletID string, expires time.Time) *model.Draft {
	return &model.Draft{
		ID:              uuid.NewString(),
		WalletID:        walletID,
		UserID:          "bob",
		Recipient:       "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		Amount:          "1000",
		FeeRate:         2,
		PSBTBase64:      "cHNidP8=",
		SelectedUTXOIDs: datatypes.JSONSlice[string]{"a:0", "b:1"},
		Status:          model.DraftStatusUnsigned,
		ExpiresAt:       expires,
	}
}

func TestDraftRoundTrip(t *testing.T) {
	db := dbtest.NewDB(t)
	w := dbtest.SeedWallet(t, db, "w")
	repo := repository.NewDraftRepository(db)
	ctx := context.Background()

	d := newDraft(w.ID, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, d))
	require.NotZero(t, d.UpdatedAt)

	got, err := repo.FindInWallet(ctx, w.ID, d.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a:0", "b:1"}, []string(got.SelectedUTXOIDs))
	require.NotNil(t, got.SignedDeviceIDs, "empty lists are stored as [] not null")
	require.Empty(t, got.SignedDeviceIDs)
	require.NotNil(t, got.InputPaths)
	require.Equal(t, d.UpdatedAt, got.UpdatedAt)

	other := dbtest.SeedWallet(t, db, "other")
	_, err = repo.FindInWallet(ctx, other.ID, d.ID)
	require.Error(t, err)
}

func TestUpdateIfUnmodified(t *testing.T) {
	db := dbtest.NewDB(t)
	w := dbtest.SeedWallet(t, db, "w")
	repo := repository.NewDraftRepository(db)
	ctx := context.Background()

	d := newDraft(w.ID, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, d))
	token := d.UpdatedAt

	n, err := repo.UpdateIfUnmodified(ctx, d.ID, token, map[string]interface{}{
		"signed_device_ids": datatypes.JSONSlice[string]{"dev-1"},
		"updated_at":        token + 1,
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// The stale token no longer matches.
	n, err = repo.UpdateIfUnmodified(ctx, d.ID, token, map[string]interface{}{"label": "late"})
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := repo.FindInWallet(ctx, w.ID, d.ID)
	require.NoError(t, err)
	require.Equal(t, token+1, got.UpdatedAt)
	require.Equal(t, []string{"dev-1"}, []string(got.SignedDeviceIDs))
	require.Nil(t, got.Label)
}

func TestDeleteExpiredRechecksDeadline(t *testing.T) {
	db := dbtest.NewDB(t)
	w := dbtest.SeedWallet(t, db, "w")
	repo := repository.NewDraftRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := newDraft(w.ID, now.Add(-time.Hour))
	live := newDraft(w.ID, now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, expired))
	require.NoError(t, repo.Create(ctx, live))

	ids, err := repo.ListExpiredIDs(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{expired.ID}, ids)

	// A live id slipped into the batch must survive.
	n, err := repo.DeleteExpired(ctx, []string{expired.ID, live.ID}, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = repo.FindInWallet(ctx, w.ID, live.ID)
	require.NoError(t, err)
}
