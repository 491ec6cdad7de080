package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/repository"
	"gorm.io/gorm"
)

// WalletService answers wallet lookups and role checks for the draft layer.
type WalletService struct {
	walletRepo *repository.WalletRepository
}

func NewWalletService(walletRepo *repository.WalletRepository) *WalletService {
	return &WalletService{walletRepo: walletRepo}
}

// ResolveRole returns the user's role on the wallet, or "" when the user is
// not a member.
func (s *WalletService) ResolveRole(ctx context.Context, walletID, userID string) (model.WalletRole, error) {
	m, err := s.walletRepo.FindMember(ctx, walletID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve role: %w", err)
	}
	return m.Role, nil
}

// GetWallet loads the wallet together with the caller's role. A wallet the
// caller cannot see is reported as not found.
func (s *WalletService) GetWallet(ctx context.Context, walletID, userID string) (*model.Wallet, model.WalletRole, error) {
	w, err := s.walletRepo.FindByID(ctx, walletID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", notFound("wallet %s not found", walletID)
	}
	if err != nil {
		return nil, "", fmt.Errorf("load wallet: %w", err)
	}

	role, err := s.ResolveRole(ctx, walletID, userID)
	if err != nil {
		return nil, "", err
	}
	if role == "" {
		return nil, "", notFound("wallet %s not found", walletID)
	}
	return w, role, nil
}

// Participants lists every member of the wallet.
func (s *WalletService) Participants(ctx context.Context, walletID string) ([]string, error) {
	ids, err := s.walletRepo.ListMemberIDs(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("list wallet members: %w", err)
	}
	return ids, nil
}
