package util

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Number of decimals of one ether expressed in wei.
const etherDecimals = 18

var (
	ErrInvalidAddress    = errors.New("invalid Ethereum address")
	ErrCommitmentTooWide = errors.New("commitment does not fit in 32 bytes")
)

type Wallet struct {
	Address *common.Address
	Key     *ecdsa.PrivateKey
}

// Loads a wallet from a hex-encoded private key, with or without the 0x prefix.
func LoadWallet(hexKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	return &Wallet{
		Address: &address,
		Key:     key,
	}, nil
}

// Parses a 0x-prefixed hex address. Unlike common.HexToAddress, malformed
// input is rejected instead of silently truncated.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(s), nil
}

// Reinterprets a commitment's field value as a big-endian, left zero-padded
// bytes32, the representation the hook contract stores.
func CommitmentToBytes32(v *big.Int) (common.Hash, error) {
	if v == nil || v.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("invalid commitment value")
	}
	if v.BitLen() > 256 {
		return common.Hash{}, ErrCommitmentTooWide
	}
	return common.BigToHash(v), nil
}

// Converts a decimal ether amount, eg "1.5", to wei.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("parse ether amount: %w", err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("ether amount must not be negative")
	}
	wei := d.Shift(etherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("ether amount has more than %d decimals", etherDecimals)
	}
	return wei.BigInt(), nil
}

// Formats a wei amount as a decimal ether string, always keeping at least one
// decimal place ("1.0", "0.5").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(wei, -etherDecimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
