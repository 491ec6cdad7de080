package service

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a DraftError for callers that map it to a response.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindForbidden
	KindValidation
	KindConflict
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")

	// ErrConcurrentModification marks an update that kept losing the
	// optimistic-concurrency race. It is also a Conflict.
	ErrConcurrentModification = errors.New("could not complete due to concurrent modification")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindForbidden:
		return ErrForbidden
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	}
	return nil
}

// DraftError is the error type returned by the draft services. For
// conflicts it names the contended UTXO refs and the drafts holding them.
type DraftError struct {
	Kind              Kind
	Msg               string
	ConflictingUTXOs  []string
	ConflictingDrafts []string
	Err               error
}

func (e *DraftError) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if len(e.ConflictingUTXOs) > 0 {
		fmt.Fprintf(&b, " (utxos: %s", strings.Join(e.ConflictingUTXOs, ", "))
		if len(e.ConflictingDrafts) > 0 {
			fmt.Fprintf(&b, "; drafts: %s", strings.Join(e.ConflictingDrafts, ", "))
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DraftError) Unwrap() error { return e.Err }

// Is matches the sentinel of e's kind, so errors.Is(err, ErrConflict) works
// for every conflict regardless of the wrapped cause.
func (e *DraftError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func notFound(format string, args ...interface{}) error {
	return &DraftError{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...interface{}) error {
	return &DraftError{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

func validation(format string, args ...interface{}) error {
	return &DraftError{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func lockConflict(utxos, drafts []string) error {
	return &DraftError{
		Kind:              KindConflict,
		Msg:               "utxos already reserved by another draft",
		ConflictingUTXOs:  utxos,
		ConflictingDrafts: drafts,
	}
}

func concurrentModification(draftID string) error {
	return &DraftError{
		Kind: KindConflict,
		Msg:  fmt.Sprintf("draft %s", draftID),
		Err:  ErrConcurrentModification,
	}
}
