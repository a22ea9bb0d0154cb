package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const weiDecimals = 18

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrTooPrecise     = errors.New("amount has more than 18 decimals")
)

// ParseStake reads an ETH amount as typed by a user ("0.0001").
func ParseStake(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad stake %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	if !d.Equal(d.Truncate(weiDecimals)) {
		return decimal.Zero, ErrTooPrecise
	}
	return d, nil
}

// ToWei converts an ETH amount to wei.
func ToWei(eth decimal.Decimal) (*big.Int, error) {
	if eth.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if !eth.Equal(eth.Truncate(weiDecimals)) {
		return nil, ErrTooPrecise
	}
	return eth.Shift(weiDecimals).BigInt(), nil
}

// FromWei converts wei back to ETH.
func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

// ParseBattleID reads the on-chain battle id stored on a lobby.
func ParseBattleID(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("contract battle id missing")
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("bad contract battle id %q", s)
	}
	return n, nil
}

// ValidWallet reports whether s is a 0x-prefixed 20-byte hex address.
func ValidWallet(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
