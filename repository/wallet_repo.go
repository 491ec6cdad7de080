package repository

import (
	"context"

	"github.com/crypto_custody/draftvault/model"
	"gorm.io/gorm"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) FindByID(ctx context.Context, walletID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("id = ?", walletID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) FindMember(ctx context.Context, walletID, userID string) (*model.WalletUser, error) {
	var m model.WalletUser
	if err := r.db.WithContext(ctx).Where("wallet_id = ? AND user_id = ?", walletID, userID).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *WalletRepository) ListMemberIDs(ctx context.Context, walletID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.WalletUser{}).
		Where("wallet_id = ?", walletID).
		Order("id asc").
		Pluck("user_id", &ids).Error
	return ids, err
}

type UTXORepository struct {
	db *gorm.DB
}

func NewUTXORepository(db *gorm.DB) *UTXORepository {
	return &UTXORepository{db: db}
}

// FindUnspentByTxIDs returns the wallet's unspent outputs created by any of
// txids. txids must be lowercase; stored ids are compared case-insensitively.
func (r *UTXORepository) FindUnspentByTxIDs(ctx context.Context, walletID string, txids []string) ([]*model.UTXO, error) {
	var list []*model.UTXO
	if len(txids) == 0 {
		return list, nil
	}
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND spent = ? AND LOWER(txid) IN ?", walletID, false, txids).
		Find(&list).Error
	return list, err
}
