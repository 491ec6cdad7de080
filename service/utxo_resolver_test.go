package service

import (
	"context"
	"strings"
	"testing"

	"github.com/crypto_custody/draftvault/internal/dbtest"
	"github.com/crypto_custody/draftvault/internal/psbttest"
	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestResolveRefs(t *testing.T) {
	f := newFixture(t)
	resolver := NewUTXOResolverService(repository.NewUTXORepository(f.db))

	u1 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 1)
	u2 := dbtest.AddUTXO(t, f.db, f.wallet.ID, 2)
	spent := dbtest.AddUTXO(t, f.db, f.wallet.ID, 3)
	require.NoError(t, f.db.Model(spent).Update("spent", true).Error)

	other := dbtest.SeedWallet(t, f.db, "cold storage")
	foreign := dbtest.AddUTXO(t, f.db, other.ID, 4)

	refs := []string{
		dbtest.Ref(u2),
		"nonsense",
		dbtest.Ref(u1),
		dbtest.Ref(u2),
		dbtest.Ref(spent),
		dbtest.Ref(foreign),
		u1.TxID + ":7",
	}
	resolved, unresolved, err := resolver.Resolve(context.Background(), f.wallet.ID, refs)
	require.NoError(t, err)

	require.Equal(t, []ResolvedUTXO{
		{ID: u2.ID, Ref: dbtest.Ref(u2)},
		{ID: u1.ID, Ref: dbtest.Ref(u1)},
	}, resolved)
	require.ElementsMatch(t, []string{"nonsense", dbtest.Ref(spent), dbtest.Ref(foreign), u1.TxID + ":7"}, unresolved)
}

func TestResolveNothing(t *testing.T) {
	f := newFixture(t)
	resolver := NewUTXOResolverService(repository.NewUTXORepository(f.db))

	resolved, unresolved, err := resolver.Resolve(context.Background(), f.wallet.ID, nil)
	require.NoError(t, err)
	require.Empty(t, resolved)
	require.Empty(t, unresolved)
}

// TestResolveIgnoresStoredTxIDCase checks that a txid recorded in uppercase
// still matches the canonical lowercase ref.
func TestResolveIgnoresStoredTxIDCase(t *testing.T) {
	f := newFixture(t)
	resolver := NewUTXOResolverService(repository.NewUTXORepository(f.db))

	u := &model.UTXO{
		ID:       uuid.NewString(),
		WalletID: f.wallet.ID,
		TxID:     strings.ToUpper(psbttest.TxID(9)),
		Vout:     1,
		Amount:   42_000,
	}
	require.NoError(t, f.db.Create(u).Error)

	for _, ref := range []string{psbttest.TxID(9) + ":1", u.TxID + ":1"} {
		resolved, unresolved, err := resolver.Resolve(context.Background(), f.wallet.ID, []string{ref})
		require.NoError(t, err)
		require.Empty(t, unresolved, ref)
		require.Equal(t, []ResolvedUTXO{{ID: u.ID, Ref: ref}}, resolved)
	}
}
