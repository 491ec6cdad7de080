// Package psbtcombine merges partially signed Bitcoin transactions produced
// by independent signers of the same unsigned transaction (the BIP 174
// "Combiner" role). It performs no I/O and never mutates its arguments.
package psbtcombine

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNoPackets is returned when CombinePackets is called without input.
	ErrNoPackets = errors.New("no psbts to combine")

	// ErrDecode is returned when an artifact is not a valid base64 PSBT.
	ErrDecode = errors.New("invalid psbt encoding")

	// ErrDifferentTransactions is returned when the packets do not share
	// the same unsigned transaction.
	ErrDifferentTransactions = errors.New("psbts do not refer to the same transaction")

	// ErrInputCountMismatch is returned when packets carry different
	// numbers of input sections.
	ErrInputCountMismatch = errors.New("input count mismatch")

	// ErrOutputCountMismatch is returned when packets carry different
	// numbers of output sections.
	ErrOutputCountMismatch = errors.New("output count mismatch")

	// ErrMergeConflict is returned when a single-valued field (script,
	// utxo, sighash type, final witness) differs between packets.
	ErrMergeConflict = errors.New("psbt merge conflict")
)

// CombineError reports why two artifacts could not be merged. Callers are
// expected to treat it as recoverable.
type CombineError struct {
	// Section is "input", "output" or "" for packet-level failures.
	Section string
	Index   int
	Err     error
}

func (e *CombineError) Error() string {
	if e.Section == "" {
		return "combine psbt: " + e.Err.Error()
	}
	return fmt.Sprintf("combine psbt: %s %d: %v", e.Section, e.Index, e.Err)
}

func (e *CombineError) Unwrap() error { return e.Err }

// Decode parses a base64 PSBT.
func Decode(b64 string) (*psbt.Packet, error) {
	p, err := psbt.NewFromRawBytes(strings.NewReader(strings.TrimSpace(b64)), true)
	if err != nil {
		return nil, &CombineError{Err: fmt.Errorf("%w: %v", ErrDecode, err)}
	}
	return p, nil
}

// Combine merges two base64 PSBTs of the same transaction and returns the
// base64 result. Every signature present in either argument is present in
// the result.
func Combine(existing, incoming string) (string, error) {
	a, err := Decode(existing)
	if err != nil {
		return "", err
	}
	b, err := Decode(incoming)
	if err != nil {
		return "", err
	}

	combined, err := CombinePackets(a, b)
	if err != nil {
		return "", err
	}

	out, err := combined.B64Encode()
	if err != nil {
		return "", &CombineError{Err: fmt.Errorf("%w: encode: %v", ErrDecode, err)}
	}
	return out, nil
}

// CombinePackets merges packets into a freshly allocated packet.
func CombinePackets(packets ...*psbt.Packet) (*psbt.Packet, error) {
	combined, err := newCombinedPacket(packets)
	if err != nil {
		return nil, err
	}

	for _, p := range packets {
		for i := range combined.Inputs {
			if err := mergeInput(&combined.Inputs[i], &p.Inputs[i]); err != nil {
				return nil, &CombineError{Section: "input", Index: i, Err: err}
			}
		}
		for i := range combined.Outputs {
			if err := mergeOutput(&combined.Outputs[i], &p.Outputs[i]); err != nil {
				return nil, &CombineError{Section: "output", Index: i, Err: err}
			}
		}
		combined.Unknowns = mergeUnknowns(combined.Unknowns, p.Unknowns)
	}

	for i := range combined.Inputs {
		sortInput(&combined.Inputs[i])
	}

	return combined, nil
}

func newCombinedPacket(packets []*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, &CombineError{Err: ErrNoPackets}
	}

	base := packets[0]
	if base == nil || base.UnsignedTx == nil {
		return nil, &CombineError{Err: ErrDecode}
	}
	baseHash := base.UnsignedTx.TxHash()

	for i, p := range packets[1:] {
		if p == nil || p.UnsignedTx == nil {
			return nil, &CombineError{Err: fmt.Errorf("%w: packet %d", ErrDecode, i+1)}
		}
		if p.UnsignedTx.TxHash() != baseHash {
			return nil, &CombineError{Err: fmt.Errorf("%w: packet %d", ErrDifferentTransactions, i+1)}
		}
		if len(p.Inputs) != len(base.Inputs) {
			return nil, &CombineError{Err: fmt.Errorf("%w: packet %d", ErrInputCountMismatch, i+1)}
		}
		if len(p.Outputs) != len(base.Outputs) {
			return nil, &CombineError{Err: fmt.Errorf("%w: packet %d", ErrOutputCountMismatch, i+1)}
		}
	}

	return &psbt.Packet{
		UnsignedTx: base.UnsignedTx.Copy(),
		Inputs:     make([]psbt.PInput, len(base.Inputs)),
		Outputs:    make([]psbt.POutput, len(base.Outputs)),
	}, nil
}

func mergeInput(dest, src *psbt.PInput) error {
	for _, sig := range src.PartialSigs {
		if !slices.ContainsFunc(dest.PartialSigs, func(d *psbt.PartialSig) bool {
			return bytes.Equal(d.PubKey, sig.PubKey)
		}) {
			dest.PartialSigs = append(dest.PartialSigs, sig)
		}
	}

	for _, sig := range src.TaprootScriptSpendSig {
		if !slices.ContainsFunc(dest.TaprootScriptSpendSig, func(d *psbt.TaprootScriptSpendSig) bool {
			return d.EqualKey(sig)
		}) {
			dest.TaprootScriptSpendSig = append(dest.TaprootScriptSpendSig, sig)
		}
	}

	for _, leaf := range src.TaprootLeafScript {
		if !slices.ContainsFunc(dest.TaprootLeafScript, func(d *psbt.TaprootTapLeafScript) bool {
			return bytes.Equal(d.ControlBlock, leaf.ControlBlock) &&
				bytes.Equal(d.Script, leaf.Script)
		}) {
			dest.TaprootLeafScript = append(dest.TaprootLeafScript, leaf)
		}
	}

	for _, der := range src.Bip32Derivation {
		if !slices.ContainsFunc(dest.Bip32Derivation, func(d *psbt.Bip32Derivation) bool {
			return bytes.Equal(d.PubKey, der.PubKey)
		}) {
			dest.Bip32Derivation = append(dest.Bip32Derivation, der)
		}
	}

	for _, der := range src.TaprootBip32Derivation {
		if !slices.ContainsFunc(dest.TaprootBip32Derivation, func(d *psbt.TaprootBip32Derivation) bool {
			return bytes.Equal(d.XOnlyPubKey, der.XOnlyPubKey)
		}) {
			dest.TaprootBip32Derivation = append(dest.TaprootBip32Derivation, der)
		}
	}

	dest.Unknowns = mergeUnknowns(dest.Unknowns, src.Unknowns)

	if dest.SighashType != 0 && src.SighashType != 0 && dest.SighashType != src.SighashType {
		return fmt.Errorf("%w: sighash type %v vs %v", ErrMergeConflict, dest.SighashType, src.SighashType)
	}
	if dest.SighashType == 0 {
		dest.SighashType = src.SighashType
	}

	fields := []struct {
		name      string
		dest, src *[]byte
	}{
		{"redeem script", &dest.RedeemScript, &src.RedeemScript},
		{"witness script", &dest.WitnessScript, &src.WitnessScript},
		{"final script sig", &dest.FinalScriptSig, &src.FinalScriptSig},
		{"final script witness", &dest.FinalScriptWitness, &src.FinalScriptWitness},
		{"taproot key spend sig", &dest.TaprootKeySpendSig, &src.TaprootKeySpendSig},
		{"taproot internal key", &dest.TaprootInternalKey, &src.TaprootInternalKey},
		{"taproot merkle root", &dest.TaprootMerkleRoot, &src.TaprootMerkleRoot},
	}
	for _, f := range fields {
		if err := mergeBytes(f.name, f.dest, *f.src); err != nil {
			return err
		}
	}

	if dest.WitnessUtxo != nil && src.WitnessUtxo != nil {
		if dest.WitnessUtxo.Value != src.WitnessUtxo.Value ||
			!bytes.Equal(dest.WitnessUtxo.PkScript, src.WitnessUtxo.PkScript) {
			return fmt.Errorf("%w: witness utxo", ErrMergeConflict)
		}
	}
	if dest.WitnessUtxo == nil && src.WitnessUtxo != nil {
		dest.WitnessUtxo = &wire.TxOut{
			Value:    src.WitnessUtxo.Value,
			PkScript: src.WitnessUtxo.PkScript,
		}
	}

	if dest.NonWitnessUtxo != nil && src.NonWitnessUtxo != nil &&
		dest.NonWitnessUtxo.TxHash() != src.NonWitnessUtxo.TxHash() {
		return fmt.Errorf("%w: non-witness utxo", ErrMergeConflict)
	}
	if dest.NonWitnessUtxo == nil && src.NonWitnessUtxo != nil {
		dest.NonWitnessUtxo = src.NonWitnessUtxo.Copy()
	}

	return nil
}

func mergeOutput(dest, src *psbt.POutput) error {
	for _, der := range src.Bip32Derivation {
		if !slices.ContainsFunc(dest.Bip32Derivation, func(d *psbt.Bip32Derivation) bool {
			return bytes.Equal(d.PubKey, der.PubKey)
		}) {
			dest.Bip32Derivation = append(dest.Bip32Derivation, der)
		}
	}

	for _, der := range src.TaprootBip32Derivation {
		if !slices.ContainsFunc(dest.TaprootBip32Derivation, func(d *psbt.TaprootBip32Derivation) bool {
			return bytes.Equal(d.XOnlyPubKey, der.XOnlyPubKey)
		}) {
			dest.TaprootBip32Derivation = append(dest.TaprootBip32Derivation, der)
		}
	}

	if err := mergeBytes("redeem script", &dest.RedeemScript, src.RedeemScript); err != nil {
		return err
	}
	if err := mergeBytes("witness script", &dest.WitnessScript, src.WitnessScript); err != nil {
		return err
	}
	if err := mergeBytes("taproot internal key", &dest.TaprootInternalKey, src.TaprootInternalKey); err != nil {
		return err
	}
	if err := mergeBytes("taproot tap tree", &dest.TaprootTapTree, src.TaprootTapTree); err != nil {
		return err
	}

	dest.Unknowns = mergeUnknowns(dest.Unknowns, src.Unknowns)
	return nil
}

// mergeBytes fills an empty single-valued field from src and rejects two
// different non-empty values.
func mergeBytes(name string, dest *[]byte, src []byte) error {
	if len(*dest) > 0 && len(src) > 0 && !bytes.Equal(*dest, src) {
		return fmt.Errorf("%w: %s", ErrMergeConflict, name)
	}
	if len(*dest) == 0 && len(src) > 0 {
		*dest = src
	}
	return nil
}

func mergeUnknowns(dest, src []*psbt.Unknown) []*psbt.Unknown {
	for _, u := range src {
		if !slices.ContainsFunc(dest, func(d *psbt.Unknown) bool {
			return bytes.Equal(d.Key, u.Key)
		}) {
			dest = append(dest, u)
		}
	}
	return dest
}

// sortInput orders the multi-valued fields so the encoding does not depend
// on the order packets were merged in.
func sortInput(in *psbt.PInput) {
	slices.SortFunc(in.PartialSigs, func(a, b *psbt.PartialSig) int {
		return bytes.Compare(a.PubKey, b.PubKey)
	})
	slices.SortFunc(in.TaprootScriptSpendSig, func(a, b *psbt.TaprootScriptSpendSig) int {
		if c := bytes.Compare(a.XOnlyPubKey, b.XOnlyPubKey); c != 0 {
			return c
		}
		return bytes.Compare(a.LeafHash, b.LeafHash)
	})
	slices.SortFunc(in.Bip32Derivation, func(a, b *psbt.Bip32Derivation) int {
		return bytes.Compare(a.PubKey, b.PubKey)
	})
}
