// Package starter holds the initialization record passed to the
// StarterUpgradeable contract when its proxy is deployed.
package starter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ContractName = "StarterUpgradeable"

	DefaultName             = "Ninja Starter"
	DefaultSymbol           = "NINJA"
	DefaultMaxSupply        = 1000
	DefaultSalePrice        = "0.001"
	DefaultMaxPerWallet     = 20
	DefaultCrossmintWallet  = "0x13253aa4Abe1861124d4c286Ee4374cD054D3eb9"
	DefaultWithdrawWallet   = "0x6C3b3225759Cbda68F96378A9F0277B4374f9F06"
	DefaultNumberedMetadata = false
)

// MintingPhase mirrors the contract enum that gates which mint path is open.
type MintingPhase uint8

const (
	PhaseClosed MintingPhase = iota
	PhaseAllowlist
	PhasePublic
)

func (p MintingPhase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseAllowlist:
		return "allowlist"
	case PhasePublic:
		return "public"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// InitArgs is the single struct argument of initialize(...).
type InitArgs struct {
	Name             string         `json:"name" yaml:"name"`
	Symbol           string         `json:"symbol" yaml:"symbol"`
	MintingPhase     MintingPhase   `json:"mintingPhase" yaml:"mintingPhase"`
	MaxSupply        *big.Int       `json:"maxSupply" yaml:"maxSupply"`
	SalePrice        *big.Int       `json:"salePrice" yaml:"salePrice"`
	MaxPerWallet     *big.Int       `json:"maxPerWallet" yaml:"maxPerWallet"`
	CrossmintWallet  common.Address `json:"crossmintWallet" yaml:"crossmintWallet"`
	WithdrawWallet   common.Address `json:"withdrawWallet" yaml:"withdrawWallet"`
	BaseURI          string         `json:"baseURI" yaml:"baseURI"`
	ContractURI      string         `json:"contractURI" yaml:"contractURI"`
	NumberedMetadata bool           `json:"numberedMetadata" yaml:"numberedMetadata"`
}

// Default builds the fixed record for the given URI variant. A fresh value is
// returned on every call.
func Default(v Variant) InitArgs {
	return InitArgs{
		Name:             DefaultName,
		Symbol:           DefaultSymbol,
		MintingPhase:     PhaseAllowlist,
		MaxSupply:        big.NewInt(DefaultMaxSupply),
		SalePrice:        MustParseEther(DefaultSalePrice),
		MaxPerWallet:     big.NewInt(DefaultMaxPerWallet),
		CrossmintWallet:  common.HexToAddress(DefaultCrossmintWallet),
		WithdrawWallet:   common.HexToAddress(DefaultWithdrawWallet),
		BaseURI:          v.BaseURI,
		ContractURI:      v.ContractURI,
		NumberedMetadata: DefaultNumberedMetadata,
	}
}

// Fields returns the record keyed by the tuple component names declared in the
// contract ABI.
func (a InitArgs) Fields() map[string]interface{} {
	return map[string]interface{}{
		"name":             a.Name,
		"symbol":           a.Symbol,
		"mintingPhase":     uint8(a.MintingPhase),
		"maxSupply":        copyInt(a.MaxSupply),
		"salePrice":        copyInt(a.SalePrice),
		"maxPerWallet":     copyInt(a.MaxPerWallet),
		"crossmintWallet":  a.CrossmintWallet,
		"withdrawWallet":   a.WithdrawWallet,
		"baseURI":          a.BaseURI,
		"contractURI":      a.ContractURI,
		"numberedMetadata": a.NumberedMetadata,
	}
}

// Validate rejects records the contract would accept but that are clearly
// broken, such as zero wallets or an empty name.
func (a InitArgs) Validate() error {
	if a.Name == "" || a.Symbol == "" {
		return fmt.Errorf("name and symbol are required")
	}
	if a.MaxSupply == nil || a.MaxSupply.Sign() <= 0 {
		return fmt.Errorf("max supply must be positive")
	}
	if a.SalePrice == nil || a.SalePrice.Sign() < 0 {
		return fmt.Errorf("sale price must not be negative")
	}
	if a.MaxPerWallet == nil || a.MaxPerWallet.Sign() <= 0 {
		return fmt.Errorf("max per wallet must be positive")
	}
	if a.CrossmintWallet == (common.Address{}) {
		return fmt.Errorf("crossmint wallet is the zero address")
	}
	if a.WithdrawWallet == (common.Address{}) {
		return fmt.Errorf("withdraw wallet is the zero address")
	}
	return nil
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
