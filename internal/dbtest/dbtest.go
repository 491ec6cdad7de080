// Package dbtest opens isolated, migrated databases for tests and seeds
// wallet fixtures into them.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/crypto_custody/draftvault/internal/psbttest"
	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB returns a fresh SQLite database file under t.TempDir() with foreign
// keys enforced, so ON DELETE CASCADE behaves as it does on Postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "drafts.db") +
		"?_foreign_keys=on&_busy_timeout=5000"
	db, err := repository.OpenDB("sqlite", dsn, false)
	require.NoError(t, err, "failed to open sqlite database")
	require.NoError(t, model.AutoMigrate(db), "failed to migrate")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedWallet creates a mainnet wallet.
func SeedWallet(t testing.TB, db *gorm.DB, name string) *model.Wallet {
	t.Helper()
	w := &model.Wallet{
		ID:      uuid.NewString(),
		Name:    name,
		Type:    "multi_sig",
		Network: "mainnet",
		QuorumM: 2,
		QuorumN: 3,
	}
	require.NoError(t, db.Create(w).Error)
	return w
}

// AddMember grants userID role on the wallet.
func AddMember(t testing.TB, db *gorm.DB, walletID, userID string, role model.WalletRole) {
	t.Helper()
	require.NoError(t, db.Create(&model.WalletUser{
		WalletID: walletID,
		UserID:   userID,
		Role:     role,
	}).Error)
}

// AddUTXO records an unspent output of psbttest.TxID(seed):0 for the wallet
// and returns it. Its ref is "txid:0".
func AddUTXO(t testing.TB, db *gorm.DB, walletID string, seed int) *model.UTXO {
	t.Helper()
	u := &model.UTXO{
		ID:            uuid.NewString(),
		WalletID:      walletID,
		TxID:          psbttest.TxID(seed),
		Vout:          0,
		Amount:        100_000,
		Confirmations: 6,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// Ref formats a UTXO the way clients refer to it.
func Ref(u *model.UTXO) string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}
