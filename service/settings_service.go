package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/crypto_custody/draftvault/repository"
	"go.uber.org/zap"
)

const (
	// SettingDraftExpirationDays is the system_settings key for draft lifetime.
	SettingDraftExpirationDays = "draftExpirationDays"

	DefaultDraftExpirationDays = 7
)

// ExpirySettings supplies the lifetime of newly created drafts.
type ExpirySettings interface {
	DraftExpirationDays(ctx context.Context) int
}

type SettingsService struct {
	repo *repository.SettingsRepository
	log  *zap.Logger
}

func NewSettingsService(repo *repository.SettingsRepository, log *zap.Logger) *SettingsService {
	return &SettingsService{repo: repo, log: log}
}

// DraftExpirationDays falls back to DefaultDraftExpirationDays when the
// setting is missing, unreadable or not a positive integer.
func (s *SettingsService) DraftExpirationDays(ctx context.Context) int {
	raw, ok, err := s.repo.Get(ctx, SettingDraftExpirationDays)
	if err != nil {
		s.log.Warn("read draft expiration setting", zap.Error(err))
		return DefaultDraftExpirationDays
	}
	if !ok {
		return DefaultDraftExpirationDays
	}
	days, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || days <= 0 {
		s.log.Warn("invalid draft expiration setting", zap.String("value", raw))
		return DefaultDraftExpirationDays
	}
	return days
}
