package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/crypto_custody/draftvault/repository"
)

// ResolvedUTXO pairs an internal UTXO id with the "txid:vout" ref it was
// resolved from.
type ResolvedUTXO struct {
	ID  string
	Ref string
}

// UTXOResolver maps human-facing refs to internal UTXO ids. Refs that are
// malformed, unknown to the wallet or already spent come back in unresolved.
type UTXOResolver interface {
	Resolve(ctx context.Context, walletID string, refs []string) (resolved []ResolvedUTXO, unresolved []string, err error)
}

type UTXOResolverService struct {
	utxoRepo *repository.UTXORepository
}

func NewUTXOResolverService(utxoRepo *repository.UTXORepository) *UTXOResolverService {
	return &UTXOResolverService{utxoRepo: utxoRepo}
}

func (s *UTXOResolverService) Resolve(ctx context.Context, walletID string, refs []string) ([]ResolvedUTXO, []string, error) {
	var (
		unresolved []string
		txids      []string
		wanted     = make(map[wire.OutPoint]string)
		order      []wire.OutPoint
	)
	seenTx := make(map[string]bool)

	for _, ref := range dedupe(refs) {
		op, err := wire.NewOutPointFromString(ref)
		if err != nil {
			unresolved = append(unresolved, ref)
			continue
		}
		if _, dup := wanted[*op]; dup {
			continue
		}
		wanted[*op] = ref
		order = append(order, *op)
		txid := op.Hash.String()
		if !seenTx[txid] {
			seenTx[txid] = true
			txids = append(txids, txid)
		}
	}

	utxos, err := s.utxoRepo.FindUnspentByTxIDs(ctx, walletID, txids)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve utxos: %w", err)
	}

	found := make(map[string]string, len(utxos))
	for _, u := range utxos {
		found[fmt.Sprintf("%s:%d", strings.ToLower(u.TxID), u.Vout)] = u.ID
	}

	resolved := make([]ResolvedUTXO, 0, len(order))
	for _, op := range order {
		ref := wanted[op]
		id, ok := found[op.String()]
		if !ok {
			unresolved = append(unresolved, ref)
			continue
		}
		resolved = append(resolved, ResolvedUTXO{ID: id, Ref: ref})
	}
	return resolved, unresolved, nil
}
