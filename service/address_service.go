package service

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkParams maps a wallet's network name to chain parameters.
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "", "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", "test":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}

// ValidateAddress checks that addr decodes and belongs to network.
func ValidateAddress(addr, network string) error {
	params, err := NetworkParams(network)
	if err != nil {
		return err
	}
	decoded, err := btcutil.DecodeAddress(strings.TrimSpace(addr), params)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("address %q is not valid on %s", addr, params.Name)
	}
	return nil
}
