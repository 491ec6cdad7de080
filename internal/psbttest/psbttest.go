// Package psbttest builds PSBT fixtures for tests: an unsigned skeleton and
// copies carrying ECDSA partial signatures from throwaway keys.
package psbttest

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// p2wpkh script used for every output and witness utxo.
var testPkScript = []byte{
	0x00, 0x14, 0xe7, 0xa4, 0x3a, 0xa4, 0x1e, 0xf6, 0xd7, 0x2d, 0xc6,
	0xba, 0xee, 0xaa, 0xd8, 0x36, 0x2c, 0xed, 0xf6, 0x3b, 0x79, 0xa3,
}

// TxID returns a deterministic transaction id string for seed.
func TxID(seed int) string {
	h := chainhash.HashH([]byte(fmt.Sprintf("utxo-%d", seed)))
	return h.String()
}

// NewUnsigned returns a packet spending one output of TxID(seed+i) for
// each of nInputs inputs.
func NewUnsigned(t testing.TB, seed, nInputs int) *psbt.Packet {
	t.Helper()

	inputs := make([]*wire.OutPoint, 0, nInputs)
	sequences := make([]uint32, 0, nInputs)
	for i := 0; i < nInputs; i++ {
		hash, err := chainhash.NewHashFromStr(TxID(seed + i))
		require.NoError(t, err)
		inputs = append(inputs, wire.NewOutPoint(hash, 0))
		sequences = append(sequences, wire.MaxTxInSequenceNum-2)
	}
	outputs := []*wire.TxOut{wire.NewTxOut(50_000, testPkScript)}

	p, err := psbt.New(inputs, outputs, 2, 0, sequences)
	require.NoError(t, err)
	for i := range p.Inputs {
		p.Inputs[i].WitnessUtxo = wire.NewTxOut(100_000, testPkScript)
	}
	return p
}

// Signer is a throwaway key that adds partial signatures.
type Signer struct {
	priv *btcec.PrivateKey
}

func NewSigner(t testing.TB) *Signer {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &Signer{priv: priv}
}

// PubKey returns the compressed public key.
func (s *Signer) PubKey() []byte {
	return s.priv.PubKey().SerializeCompressed()
}

// Sign returns a copy of p with a partial signature from s on each of the
// given inputs. The signature commits to the txid only, which is enough for
// the combiner: it never verifies signatures.
func (s *Signer) Sign(t testing.TB, p *psbt.Packet, inputs ...int) *psbt.Packet {
	t.Helper()

	out := Clone(t, p)
	txHash := out.UnsignedTx.TxHash()
	for _, idx := range inputs {
		digest := sha256.Sum256(append(txHash[:], byte(idx)))
		sig := ecdsa.Sign(s.priv, digest[:])
		out.Inputs[idx].PartialSigs = append(out.Inputs[idx].PartialSigs, &psbt.PartialSig{
			PubKey:    s.PubKey(),
			Signature: append(sig.Serialize(), byte(txscript.SigHashAll)),
		})
	}
	return out
}

// Clone round-trips p through its encoding.
func Clone(t testing.TB, p *psbt.Packet) *psbt.Packet {
	t.Helper()
	b64, err := p.B64Encode()
	require.NoError(t, err)
	return Decode(t, b64)
}

func Encode(t testing.TB, p *psbt.Packet) string {
	t.Helper()
	b64, err := p.B64Encode()
	require.NoError(t, err)
	return b64
}

func Decode(t testing.TB, b64 string) *psbt.Packet {
	t.Helper()
	p, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	require.NoError(t, err)
	return p
}

// SignatureSet flattens a packet's partial signatures to "input:pubkeyhex"
// keys so tests can compare signature sets regardless of order.
func SignatureSet(p *psbt.Packet) map[string]bool {
	set := make(map[string]bool)
	for i, in := range p.Inputs {
		for _, sig := range in.PartialSigs {
			set[fmt.Sprintf("%d:%x", i, sig.PubKey)] = true
		}
	}
	return set
}
