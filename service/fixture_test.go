package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crypto_custody/draftvault/internal/dbtest"
	"github.com/crypto_custody/draftvault/internal/psbttest"
	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	owner   = "alice"
	signer1 = "bob"
	signer2 = "carol"
	viewer  = "victor"

	mainnetAddr = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
)

type recordingNotifier struct {
	events chan DraftEvent
}

func (n *recordingNotifier) Notify(_ context.Context, e DraftEvent) error {
	select {
	case n.events <- e:
	default:
	}
	return nil
}

type fixture struct {
	db       *gorm.DB
	wallet   *model.Wallet
	locks    *LockService
	drafts   *DraftService
	settings *repository.SettingsRepository
	notes    *recordingNotifier

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dbtest.NewDB(t)
	w := dbtest.SeedWallet(t, db, "treasury")
	dbtest.AddMember(t, db, w.ID, owner, model.RoleOwner)
	dbtest.AddMember(t, db, w.ID, signer1, model.RoleSigner)
	dbtest.AddMember(t, db, w.ID, signer2, model.RoleSigner)
	dbtest.AddMember(t, db, w.ID, viewer, model.RoleViewer)

	log := zap.NewNop()
	f := &fixture{
		db:       db,
		wallet:   w,
		settings: repository.NewSettingsRepository(db),
		notes:    &recordingNotifier{events: make(chan DraftEvent, 16)},
		now:      time.Now().UTC().Truncate(time.Second),
	}
	f.locks = NewLockService(repository.NewLockRepository(db), log)
	f.drafts = NewDraftService(DraftDeps{
		Drafts:   repository.NewDraftRepository(db),
		Locks:    f.locks,
		Wallets:  NewWalletService(repository.NewWalletRepository(db)),
		UTXOs:    NewUTXOResolverService(repository.NewUTXORepository(db)),
		Notifier: f.notes,
		Settings: NewSettingsService(f.settings, log),
		Log:      log,
		Network:  "mainnet",
	})
	f.drafts.now = f.clock
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// input returns a valid draft input selecting refs.
func (f *fixture) input(t *testing.T, refs ...string) DraftInput {
	t.Helper()
	return DraftInput{
		Recipient:       mainnetAddr,
		Amount:          "50000",
		FeeRate:         4.5,
		SelectedUTXOIDs: refs,
		EnableRBF:       true,
		PSBTBase64:      psbttest.Encode(t, psbttest.NewUnsigned(t, 100, 1)),
	}
}

// insertDraft writes a bare draft row so reservations have an owner.
func (f *fixture) insertDraft(t *testing.T, userID string, label string) *model.Draft {
	t.Helper()
	d := &model.Draft{
		ID:         uuid.NewString(),
		WalletID:   f.wallet.ID,
		UserID:     userID,
		Recipient:  mainnetAddr,
		Amount:     "1",
		FeeRate:    1,
		PSBTBase64: "cHNidP8=",
		Status:     model.DraftStatusUnsigned,
		ExpiresAt:  f.clock().Add(24 * time.Hour),
	}
	if label != "" {
		d.Label = &label
	}
	require.NoError(t, repository.NewDraftRepository(f.db).Create(context.Background(), d))
	return d
}

func (f *fixture) holder(t *testing.T, utxoID string) string {
	t.Helper()
	locked, draftID, err := f.locks.IsLocked(context.Background(), utxoID)
	require.NoError(t, err)
	if !locked {
		return ""
	}
	return draftID
}

func (f *fixture) held(t *testing.T, draftID string) int64 {
	t.Helper()
	n, err := f.locks.Held(context.Background(), draftID)
	require.NoError(t, err)
	return n
}

func (f *fixture) draftCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.Draft{}).Where("wallet_id = ?", f.wallet.ID).Count(&n).Error)
	return n
}
