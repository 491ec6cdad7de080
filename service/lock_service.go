package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crypto_custody/draftvault/model"
	"github.com/crypto_custody/draftvault/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LockResult is the outcome of Reserve. A conflict is a normal result,
// not an error.
type LockResult struct {
	Success          bool     `json:"success"`
	LockedCount      int      `json:"lockedCount"`
	FailedUTXOIDs    []string `json:"failedUtxoIds,omitempty"`
	LockedByDraftIDs []string `json:"lockedByDraftIds,omitempty"`
}

type ReserveOptions struct {
	IsRBF bool
}

// LockedUTXO describes a reservation held on a UTXO.
type LockedUTXO struct {
	UTXOID     string    `json:"utxoId"`
	DraftID    string    `json:"draftId"`
	DraftLabel *string   `json:"draftLabel,omitempty"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	LockedAt   time.Time `json:"lockedAt"`
}

// LockCheck partitions a candidate UTXO set.
type LockCheck struct {
	Available []string     `json:"available"`
	Locked    []LockedUTXO `json:"locked"`
}

var errReservationConflict = errors.New("reservation conflict")

// LockService is the only writer of the draft_utxo_locks table. It never
// caches reservation state; every answer comes from the database.
type LockService struct {
	locks *repository.LockRepository
	log   *zap.Logger
}

func NewLockService(locks *repository.LockRepository, log *zap.Logger) *LockService {
	return &LockService{locks: locks, log: log}
}

// Reserve binds utxoIDs to draftID in one transaction. Any reservation the
// draft already holds is replaced. RBF drafts and empty selections succeed
// without writing anything.
//
// The pre-check only exits early; the primary key on utxo_id is what
// decides a race. Inserts skip duplicates and ownership is re-read before
// commit, so a lost race rolls back and reports a conflict.
func (s *LockService) Reserve(ctx context.Context, draftID string, utxoIDs []string, opts ReserveOptions) (*LockResult, error) {
	ids := dedupe(utxoIDs)
	if opts.IsRBF || len(ids) == 0 {
		return &LockResult{Success: true}, nil
	}

	var result *LockResult
	err := s.locks.Transaction(ctx, func(tx *repository.LockRepository) error {
		held, err := tx.FindHeldByOthers(ctx, ids, draftID)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			result = conflictResult(held)
			return errReservationConflict
		}

		if _, err := tx.DeleteByDraft(ctx, draftID); err != nil {
			return err
		}

		rows := make([]*model.DraftUTXOLock, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, &model.DraftUTXOLock{UTXOID: id, DraftID: draftID})
		}
		if err := tx.InsertSkipDuplicates(ctx, rows); err != nil {
			return err
		}

		held, err = tx.FindHeldByOthers(ctx, ids, draftID)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			result = conflictResult(held)
			return errReservationConflict
		}

		result = &LockResult{Success: true, LockedCount: len(ids)}
		return nil
	})

	switch {
	case errors.Is(err, errReservationConflict):
		s.log.Info("utxo reservation conflict",
			zap.String("draft_id", draftID),
			zap.Strings("utxo_ids", result.FailedUTXOIDs),
			zap.Strings("held_by", result.LockedByDraftIDs))
		return result, nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// A concurrent writer won between our check and insert.
		s.log.Info("utxo reservation lost insert race",
			zap.String("draft_id", draftID), zap.Error(err))
		return s.lostRace(ctx, draftID, ids), nil
	case err != nil:
		return nil, fmt.Errorf("reserve utxos for draft %s: %w", draftID, err)
	}
	return result, nil
}

// lostRace reports who won after the reservation transaction rolled back.
// The holders are read outside the transaction; if that read fails or finds
// nobody, every requested id is reported as contended.
func (s *LockService) lostRace(ctx context.Context, draftID string, ids []string) *LockResult {
	rows, err := s.locks.FindByUTXOs(ctx, ids)
	if err != nil {
		s.log.Warn("could not read reservation holders", zap.String("draft_id", draftID), zap.Error(err))
		return &LockResult{Success: false, FailedUTXOIDs: ids}
	}
	held := make([]*model.DraftUTXOLock, 0, len(rows))
	for _, r := range rows {
		if r.DraftID != draftID {
			held = append(held, r)
		}
	}
	if len(held) == 0 {
		return &LockResult{Success: false, FailedUTXOIDs: ids}
	}
	return conflictResult(held)
}

// Release removes every reservation held by draftID. Idempotent.
func (s *LockService) Release(ctx context.Context, draftID string) (int64, error) {
	n, err := s.locks.DeleteByDraft(ctx, draftID)
	if err != nil {
		return 0, fmt.Errorf("release reservations for draft %s: %w", draftID, err)
	}
	return n, nil
}

// Held returns how many reservations draftID currently holds.
func (s *LockService) Held(ctx context.Context, draftID string) (int64, error) {
	n, err := s.locks.CountByDraft(ctx, draftID)
	if err != nil {
		return 0, fmt.Errorf("count reservations for draft %s: %w", draftID, err)
	}
	return n, nil
}

// FindLocked reports which of utxoIDs are free and which are reserved.
// Reservations held by excludeDraftID count as free.
func (s *LockService) FindLocked(ctx context.Context, utxoIDs []string, excludeDraftID string) (*LockCheck, error) {
	ids := dedupe(utxoIDs)
	check := &LockCheck{Available: []string{}, Locked: []LockedUTXO{}}
	if len(ids) == 0 {
		return check, nil
	}

	rows, err := s.locks.FindByUTXOs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find locked utxos: %w", err)
	}

	locked := make(map[string]bool, len(rows))
	for _, l := range rows {
		if excludeDraftID != "" && l.DraftID == excludeDraftID {
			continue
		}
		locked[l.UTXOID] = true
		info := LockedUTXO{UTXOID: l.UTXOID, DraftID: l.DraftID, LockedAt: l.CreatedAt}
		if l.Draft != nil {
			info.DraftLabel = l.Draft.Label
			info.CreatedBy = l.Draft.UserID
		}
		check.Locked = append(check.Locked, info)
	}
	for _, id := range ids {
		if !locked[id] {
			check.Available = append(check.Available, id)
		}
	}
	return check, nil
}

// IsLocked reports whether utxoID is reserved and by which draft.
func (s *LockService) IsLocked(ctx context.Context, utxoID string) (bool, string, error) {
	l, err := s.locks.FindByUTXO(ctx, utxoID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("check utxo %s: %w", utxoID, err)
	}
	return true, l.DraftID, nil
}

func conflictResult(held []*model.DraftUTXOLock) *LockResult {
	res := &LockResult{Success: false}
	seen := make(map[string]bool)
	for _, l := range held {
		res.FailedUTXOIDs = append(res.FailedUTXOIDs, l.UTXOID)
		if !seen[l.DraftID] {
			seen[l.DraftID] = true
			res.LockedByDraftIDs = append(res.LockedByDraftIDs, l.DraftID)
		}
	}
	return res
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
