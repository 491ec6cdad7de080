package repository

import (
	"context"

	"github.com/crypto_custody/draftvault/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// Transaction runs fn against a repository bound to a single database
// transaction. Returning an error from fn rolls everything back.
func (r *LockRepository) Transaction(ctx context.Context, fn func(tx *LockRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LockRepository{db: tx})
	})
}

// FindHeldByOthers returns reservations on utxoIDs owned by any draft other than draftID.
func (r *LockRepository) FindHeldByOthers(ctx context.Context, utxoIDs []string, draftID string) ([]*model.DraftUTXOLock, error) {
	var list []*model.DraftUTXOLock
	if len(utxoIDs) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Where("utxo_id IN ? AND draft_id <> ?", utxoIDs, draftID).
		Order("utxo_id asc").
		Find(&list).Error
	return list, err
}

// FindByUTXOs loads reservations on utxoIDs together with the owning draft.
func (r *LockRepository) FindByUTXOs(ctx context.Context, utxoIDs []string) ([]*model.DraftUTXOLock, error) {
	var list []*model.DraftUTXOLock
	if len(utxoIDs) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Preload("Draft").
		Where("utxo_id IN ?", utxoIDs).
		Order("utxo_id asc").
		Find(&list).Error
	return list, err
}

func (r *LockRepository) FindByUTXO(ctx context.Context, utxoID string) (*model.DraftUTXOLock, error) {
	var l model.DraftUTXOLock
	if err := r.db.WithContext(ctx).Where("utxo_id = ?", utxoID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LockRepository) CountByDraft(ctx context.Context, draftID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.DraftUTXOLock{}).Where("draft_id = ?", draftID).Count(&n).Error
	return n, err
}

func (r *LockRepository) DeleteByDraft(ctx context.Context, draftID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("draft_id = ?", draftID).Delete(&model.DraftUTXOLock{})
	return res.RowsAffected, res.Error
}

// InsertSkipDuplicates inserts locks with ON CONFLICT DO NOTHING. Rows
// whose utxo_id is already reserved are silently skipped; callers must
// re-read ownership afterwards.
func (r *LockRepository) InsertSkipDuplicates(ctx context.Context, locks []*model.DraftUTXOLock) error {
	if len(locks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&locks).Error
}
