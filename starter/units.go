package starter

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const etherDecimals = 18

// ParseEther converts a decimal ether amount ("0.001") into wei.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse ether amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("ether amount %q is negative", s)
	}
	wei := d.Shift(etherDecimals)
	if !wei.IsInteger() {
		return nil, fmt.Errorf("ether amount %q has more than %d decimals", s, etherDecimals)
	}
	return wei.BigInt(), nil
}

// MustParseEther is ParseEther for literals.
func MustParseEther(s string) *big.Int {
	wei, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return wei
}

// FormatEther renders wei as a decimal ether amount.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -etherDecimals).String()
}

// ParseAddress validates a hex address. Mixed-case input must carry a valid
// EIP-55 checksum.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %q", s)
	}
	mixed, err := common.NewMixedcaseAddressFromString(s)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	hexPart := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) && !mixed.ValidChecksum() {
		return common.Address{}, fmt.Errorf("bad checksum for address %q", s)
	}
	return mixed.Address(), nil
}
