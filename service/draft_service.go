package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/psbtcombine"
	"github.com/crypto_custody/draftvault/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxUpdateAttempts bounds the optimistic-concurrency retry loop.
const maxUpdateAttempts = 3

const notifyTimeout = 10 * time.Second

// WalletAccess resolves a wallet and the caller's role on it.
type WalletAccess interface {
	GetWallet(ctx context.Context, walletID, userID string) (*model.Wallet, model.WalletRole, error)
	Participants(ctx context.Context, walletID string) ([]string, error)
}

// DraftInput carries the fields of a new draft.
type DraftInput struct {
	Recipient       string
	Amount          string
	FeeRate         float64
	SelectedUTXOIDs []string // "txid:vout" refs
	EnableRBF       bool
	IsRBF           bool
	ReplacesTxID    *string
	PSBTBase64      string
	Label           *string
	Memo            *string
	TotalInput      string
	TotalOutput     string
	ChangeAmount    string
	ChangeAddress   *string
	EffectiveFee    string
	InputPaths      []string
}

// DraftPatch is a partial update. Nil fields are left alone.
type DraftPatch struct {
	SignedPSBTBase64 *string
	SignedDeviceID   *string
	Status           *model.DraftStatus
	Label            *string
	Memo             *string
}

// mergeSensitive reports whether the patch touches the signature state,
// which must be merged against the latest stored draft.
func (p DraftPatch) mergeSensitive() bool {
	return p.SignedPSBTBase64 != nil || p.SignedDeviceID != nil
}

type DraftDeps struct {
	Drafts   *repository.DraftRepository
	Locks    *LockService
	Wallets  WalletAccess
	UTXOs    UTXOResolver
	Notifier Notifier
	Settings ExpirySettings
	Log      *zap.Logger

	// Network is used for address checks when a wallet has none recorded.
	Network string
}

// DraftService owns the draft lifecycle: creation with UTXO reservation,
// signature accumulation under optimistic concurrency, and deletion.
type DraftService struct {
	drafts   *repository.DraftRepository
	locks    *LockService
	wallets  WalletAccess
	utxos    UTXOResolver
	notifier Notifier
	settings ExpirySettings
	log      *zap.Logger
	network  string
	now      func() time.Time
}

func NewDraftService(deps DraftDeps) *DraftService {
	return &DraftService{
		drafts:   deps.Drafts,
		locks:    deps.Locks,
		wallets:  deps.Wallets,
		utxos:    deps.UTXOs,
		notifier: deps.Notifier,
		settings: deps.Settings,
		log:      deps.Log,
		network:  deps.Network,
		now:      time.Now,
	}
}

// List returns the wallet's drafts, newest first. Any member may read.
func (s *DraftService) List(ctx context.Context, walletID, actorID string) ([]*model.Draft, error) {
	if _, _, err := s.wallets.GetWallet(ctx, walletID, actorID); err != nil {
		return nil, err
	}
	list, err := s.drafts.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return list, nil
}

// Get returns one draft. Any member may read.
func (s *DraftService) Get(ctx context.Context, walletID, draftID, actorID string) (*model.Draft, error) {
	if _, _, err := s.wallets.GetWallet(ctx, walletID, actorID); err != nil {
		return nil, err
	}
	return s.load(ctx, walletID, draftID)
}

// Create persists a draft and reserves its selected UTXOs. If the
// reservation fails the draft is deleted again before the conflict is
// returned, so no orphan row is left behind.
func (s *DraftService) Create(ctx context.Context, walletID, actorID string, in DraftInput) (*model.Draft, error) {
	wallet, role, err := s.wallets.GetWallet(ctx, walletID, actorID)
	if err != nil {
		return nil, err
	}
	if !role.AtLeast(model.RoleSigner) {
		return nil, forbidden("signer role required to create drafts")
	}
	network := wallet.Network
	if network == "" {
		network = s.network
	}
	if err := validateDraftInput(network, in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	days := s.settings.DraftExpirationDays(ctx)
	draft := &model.Draft{
		ID:              uuid.NewString(),
		WalletID:        walletID,
		UserID:          actorID,
		Recipient:       strings.TrimSpace(in.Recipient),
		Amount:          strings.TrimSpace(in.Amount),
		FeeRate:         in.FeeRate,
		SelectedUTXOIDs: datatypes.NewJSONSlice(dedupe(in.SelectedUTXOIDs)),
		EnableRBF:       in.EnableRBF,
		IsRBF:           in.IsRBF,
		ReplacesTxID:    in.ReplacesTxID,
		PSBTBase64:      strings.TrimSpace(in.PSBTBase64),
		TotalInput:      in.TotalInput,
		TotalOutput:     in.TotalOutput,
		ChangeAmount:    in.ChangeAmount,
		ChangeAddress:   in.ChangeAddress,
		EffectiveFee:    in.EffectiveFee,
		InputPaths:      datatypes.NewJSONSlice(in.InputPaths),
		SignedDeviceIDs: datatypes.JSONSlice[string]{},
		Status:          model.DraftStatusUnsigned,
		Label:           in.Label,
		Memo:            in.Memo,
		ExpiresAt:       now.AddDate(0, 0, days),
	}
	if err := s.drafts.Create(ctx, draft); err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}

	if len(draft.SelectedUTXOIDs) > 0 && !draft.IsRBF {
		if err := s.reserveSelection(ctx, draft); err != nil {
			s.discard(ctx, draft.ID)
			return nil, err
		}
	}

	s.notifyCreated(ctx, wallet, draft)
	return draft, nil
}

func (s *DraftService) reserveSelection(ctx context.Context, draft *model.Draft) error {
	resolved, unresolved, err := s.utxos.Resolve(ctx, draft.WalletID, draft.SelectedUTXOIDs)
	if err != nil {
		return err
	}
	if len(unresolved) > 0 {
		s.log.Warn("skipping unresolved utxo references",
			zap.String("draft_id", draft.ID),
			zap.Strings("refs", unresolved))
	}

	ids := make([]string, 0, len(resolved))
	refs := make(map[string]string, len(resolved))
	for _, r := range resolved {
		ids = append(ids, r.ID)
		refs[r.ID] = r.Ref
	}

	res, err := s.locks.Reserve(ctx, draft.ID, ids, ReserveOptions{IsRBF: draft.IsRBF})
	if err != nil {
		return err
	}
	if !res.Success {
		contended := make([]string, 0, len(res.FailedUTXOIDs))
		for _, id := range res.FailedUTXOIDs {
			if ref, ok := refs[id]; ok {
				contended = append(contended, ref)
			} else {
				contended = append(contended, id)
			}
		}
		return lockConflict(contended, res.LockedByDraftIDs)
	}
	return nil
}

// discard is the compensating delete for a draft whose creation failed
// after the row was written. It must run even if ctx is already cancelled.
func (s *DraftService) discard(ctx context.Context, draftID string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.drafts.Delete(ctx, draftID); err != nil {
		s.log.Error("failed to roll back draft", zap.String("draft_id", draftID), zap.Error(err))
		return
	}
	if _, err := s.locks.Release(ctx, draftID); err != nil {
		s.log.Error("failed to release reservations of rolled back draft",
			zap.String("draft_id", draftID), zap.Error(err))
	}
}

func (s *DraftService) notifyCreated(ctx context.Context, wallet *model.Wallet, draft *model.Draft) {
	members, err := s.wallets.Participants(ctx, wallet.ID)
	if err != nil {
		s.log.Warn("draft notification skipped", zap.String("draft_id", draft.ID), zap.Error(err))
		return
	}
	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m != draft.UserID {
			recipients = append(recipients, m)
		}
	}
	if len(recipients) == 0 {
		return
	}

	event := DraftEvent{
		Type:       EventDraftCreated,
		WalletID:   wallet.ID,
		WalletName: wallet.Name,
		DraftID:    draft.ID,
		CreatedBy:  draft.UserID,
		Recipient:  draft.Recipient,
		Amount:     draft.Amount,
		Label:      draft.Label,
		Recipients: recipients,
		CreatedAt:  draft.CreatedAt,
	}
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.Notify(nctx, event); err != nil {
			s.log.Warn("draft notification failed", zap.String("draft_id", event.DraftID), zap.Error(err))
		}
	}()
}

// Update applies patch. Signature changes are merged against the latest
// stored state and written with the draft's updated_at as precondition; on
// a lost race the draft is reloaded and the merge recomputed, up to
// maxUpdateAttempts times. Metadata-only patches get a single attempt.
func (s *DraftService) Update(ctx context.Context, walletID, draftID, actorID string, patch DraftPatch) (*model.Draft, error) {
	_, role, err := s.wallets.GetWallet(ctx, walletID, actorID)
	if err != nil {
		return nil, err
	}
	if !role.AtLeast(model.RoleSigner) {
		return nil, forbidden("signer role required to update drafts")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, validation("invalid status %q", *patch.Status)
	}
	if patch.SignedPSBTBase64 != nil && strings.TrimSpace(*patch.SignedPSBTBase64) == "" {
		return nil, validation("signedPsbtBase64 must not be empty")
	}
	if patch.SignedDeviceID != nil && strings.TrimSpace(*patch.SignedDeviceID) == "" {
		return nil, validation("signedDeviceId must not be empty")
	}

	current, err := s.load(ctx, walletID, draftID)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if patch.mergeSensitive() {
		attempts = maxUpdateAttempts
	}

	for attempt := 1; ; attempt++ {
		fields := s.buildUpdate(current, patch)
		if len(fields) == 0 {
			return current, nil
		}

		n, err := s.drafts.UpdateIfUnmodified(ctx, draftID, current.UpdatedAt, fields)
		if err != nil {
			return nil, fmt.Errorf("update draft %s: %w", draftID, err)
		}
		if n > 0 {
			return s.load(ctx, walletID, draftID)
		}

		s.log.Debug("draft modified concurrently",
			zap.String("draft_id", draftID), zap.Int("attempt", attempt))

		current, err = s.load(ctx, walletID, draftID)
		if err != nil {
			return nil, err
		}
		if attempt >= attempts {
			return nil, concurrentModification(draftID)
		}
	}
}

// buildUpdate computes the column updates for patch against current.
func (s *DraftService) buildUpdate(current *model.Draft, patch DraftPatch) map[string]interface{} {
	fields := make(map[string]interface{})
	signatureAdded := false

	if patch.SignedPSBTBase64 != nil {
		incoming := strings.TrimSpace(*patch.SignedPSBTBase64)
		merged := incoming
		if current.SignedPSBTBase64 != nil && *current.SignedPSBTBase64 != "" {
			combined, err := psbtcombine.Combine(*current.SignedPSBTBase64, incoming)
			if err != nil {
				s.log.Warn("could not combine signed psbt, keeping incoming artifact",
					zap.String("draft_id", current.ID), zap.Error(err))
			} else {
				merged = combined
			}
		}
		fields["signed_psbt_base64"] = merged
		signatureAdded = true
	}

	if patch.SignedDeviceID != nil {
		id := strings.TrimSpace(*patch.SignedDeviceID)
		if !slices.Contains(current.SignedDeviceIDs, id) {
			devices := append(datatypes.JSONSlice[string]{}, current.SignedDeviceIDs...)
			fields["signed_device_ids"] = append(devices, id)
		}
		signatureAdded = true
	}

	switch {
	case patch.Status != nil:
		if *patch.Status != current.Status {
			fields["status"] = string(*patch.Status)
		}
	case signatureAdded && current.Status == model.DraftStatusUnsigned:
		fields["status"] = string(model.DraftStatusPartial)
	}

	if patch.Label != nil {
		fields["label"] = *patch.Label
	}
	if patch.Memo != nil {
		fields["memo"] = *patch.Memo
	}

	if len(fields) > 0 {
		next := s.now().UnixNano()
		if next <= current.UpdatedAt {
			next = current.UpdatedAt + 1
		}
		fields["updated_at"] = next
	}
	return fields
}

// Delete removes a draft. Only its creator or the wallet owner may do so.
// The row delete cascades to its reservations; Release then sweeps up any
// that a store without enforced foreign keys left behind.
func (s *DraftService) Delete(ctx context.Context, walletID, draftID, actorID string) error {
	_, role, err := s.wallets.GetWallet(ctx, walletID, actorID)
	if err != nil {
		return err
	}
	draft, err := s.load(ctx, walletID, draftID)
	if err != nil {
		return err
	}
	if !role.AtLeast(model.RoleSigner) || (draft.UserID != actorID && role != model.RoleOwner) {
		return forbidden("only the draft creator or wallet owner can delete a draft")
	}

	n, err := s.drafts.Delete(ctx, draftID)
	if err != nil {
		return fmt.Errorf("delete draft %s: %w", draftID, err)
	}
	if n == 0 {
		return notFound("draft %s not found", draftID)
	}
	if _, err := s.locks.Release(ctx, draftID); err != nil {
		return err
	}
	return nil
}

// Relock re-reserves the draft's own selection, replacing whatever
// reservations it holds. Used when reservations were lost, e.g. after the
// UTXO set was rebuilt.
func (s *DraftService) Relock(ctx context.Context, walletID, draftID, actorID string) (*LockResult, error) {
	_, role, err := s.wallets.GetWallet(ctx, walletID, actorID)
	if err != nil {
		return nil, err
	}
	draft, err := s.load(ctx, walletID, draftID)
	if err != nil {
		return nil, err
	}
	if !role.AtLeast(model.RoleSigner) || (draft.UserID != actorID && role != model.RoleOwner) {
		return nil, forbidden("only the draft creator or wallet owner can re-lock a draft")
	}
	if draft.IsRBF || len(draft.SelectedUTXOIDs) == 0 {
		return &LockResult{Success: true}, nil
	}
	if err := s.reserveSelection(ctx, draft); err != nil {
		return nil, err
	}
	n, err := s.locks.Held(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return &LockResult{Success: true, LockedCount: int(n)}, nil
}

// CheckUTXOs resolves refs and reports which are free to select. Refs held
// by excludeDraftID count as free.
func (s *DraftService) CheckUTXOs(ctx context.Context, walletID, actorID string, refs []string, excludeDraftID string) (*LockCheck, []string, error) {
	if _, _, err := s.wallets.GetWallet(ctx, walletID, actorID); err != nil {
		return nil, nil, err
	}
	resolved, unresolved, err := s.utxos.Resolve(ctx, walletID, refs)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(resolved))
	refByID := make(map[string]string, len(resolved))
	for _, r := range resolved {
		ids = append(ids, r.ID)
		refByID[r.ID] = r.Ref
	}
	check, err := s.locks.FindLocked(ctx, ids, excludeDraftID)
	if err != nil {
		return nil, nil, err
	}

	for i, id := range check.Available {
		check.Available[i] = refByID[id]
	}
	for i := range check.Locked {
		check.Locked[i].UTXOID = refByID[check.Locked[i].UTXOID]
	}
	return check, unresolved, nil
}

// SweepExpired deletes every draft whose expiry has passed, releasing its
// reservations. It is system initiated and performs no role checks.
func (s *DraftService) SweepExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	ids, err := s.drafts.ListExpiredIDs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired drafts: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := s.drafts.DeleteExpired(ctx, ids, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired drafts: %w", err)
	}
	var released int64
	for _, id := range ids {
		r, err := s.locks.Release(ctx, id)
		if err != nil {
			s.log.Warn("release reservations of expired draft", zap.String("draft_id", id), zap.Error(err))
			continue
		}
		released += r
	}
	s.log.Info("expired drafts removed", zap.Int64("drafts", n), zap.Int64("orphan_locks_released", released))
	return n, nil
}

func (s *DraftService) load(ctx context.Context, walletID, draftID string) (*model.Draft, error) {
	d, err := s.drafts.FindInWallet(ctx, walletID, draftID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("draft %s not found", draftID)
	}
	if err != nil {
		return nil, fmt.Errorf("load draft %s: %w", draftID, err)
	}
	return d, nil
}

func validateDraftInput(network string, in DraftInput) error {
	var missing []string
	if strings.TrimSpace(in.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(in.Amount) == "" {
		missing = append(missing, "amount")
	}
	if in.FeeRate == 0 {
		missing = append(missing, "feeRate")
	}
	if strings.TrimSpace(in.PSBTBase64) == "" {
		missing = append(missing, "psbtBase64")
	}
	if len(missing) > 0 {
		return validation("missing required fields: %s", strings.Join(missing, ", "))
	}

	amount, ok := new(big.Int).SetString(strings.TrimSpace(in.Amount), 10)
	if !ok || amount.Sign() < 0 {
		return validation("amount must be a non-negative integer number of satoshis")
	}
	if in.FeeRate < 0 {
		return validation("feeRate must be positive")
	}
	if err := ValidateAddress(in.Recipient, network); err != nil {
		return validation("recipient: %v", err)
	}
	if in.ChangeAddress != nil && *in.ChangeAddress != "" {
		if err := ValidateAddress(*in.ChangeAddress, network); err != nil {
			return validation("changeAddress: %v", err)
		}
	}
	if _, err := psbtcombine.Decode(in.PSBTBase64); err != nil {
		return validation("psbtBase64: %v", err)
	}
	return nil
}
