package repository

import (
	"context"
	"time"

	"github.com/crypto_custody/draftvault/model"
	"gorm.io/gorm"
)

type DraftRepository struct {
	db *gorm.DB
}

func NewDraftRepository(db *gorm.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

func (r *DraftRepository) Create(ctx context.Context, draft *model.Draft) error {
	return r.db.WithContext(ctx).Omit("Wallet").Create(draft).Error
}

func (r *DraftRepository) FindInWallet(ctx context.Context, walletID, draftID string) (*model.Draft, error) {
	var d model.Draft
	if err := r.db.WithContext(ctx).Where("id = ? AND wallet_id = ?", draftID, walletID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DraftRepository) ListByWallet(ctx context.Context, walletID string) ([]*model.Draft, error) {
	var list []*model.Draft
	err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at desc, id asc").
		Find(&list).Error
	return list, err
}

// UpdateIfUnmodified applies fields only when the row still carries token as
// its updated_at. Zero rows affected means another writer got there first.
func (r *DraftRepository) UpdateIfUnmodified(ctx context.Context, draftID string, token int64, fields map[string]interface{}) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Draft{}).
		Where("id = ? AND updated_at = ?", draftID, token).
		Updates(fields)
	return res.RowsAffected, res.Error
}

func (r *DraftRepository) Delete(ctx context.Context, draftID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("id = ?", draftID).Delete(&model.Draft{})
	return res.RowsAffected, res.Error
}

func (r *DraftRepository) ListExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Draft{}).
		Where("expires_at < ?", now).
		Pluck("id", &ids).Error
	return ids, err
}

// DeleteExpired removes the given drafts, re-checking expiry so a draft whose
// deadline moved since ListExpiredIDs survives.
func (r *DraftRepository) DeleteExpired(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("id IN ? AND expires_at < ?", ids, now).
		Delete(&model.Draft{})
	return res.RowsAffected, res.Error
}
