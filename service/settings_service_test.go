package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDraftExpirationDays(t *testing.T) {
	f := newFixture(t)
	svc := NewSettingsService(f.settings, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, DefaultDraftExpirationDays, svc.DraftExpirationDays(ctx))

	for _, tt := range []struct {
		raw  string
		want int
	}{
		{"14", 14},
		{" 2 ", 2},
		{"0", DefaultDraftExpirationDays},
		{"-3", DefaultDraftExpirationDays},
		{"a week", DefaultDraftExpirationDays},
	} {
		require.NoError(t, f.settings.Set(ctx, SettingDraftExpirationDays, tt.raw))
		require.Equal(t, tt.want, svc.DraftExpirationDays(ctx), "setting %q", tt.raw)
	}
}
