// Package evm reads campaign state from EVM contracts across contract
// versions V5 through V8 and normalizes every shape into one
// CampaignSnapshot schema.
package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ContractVersion identifies a deployed campaign contract generation.
type ContractVersion string

const (
	VersionV5 ContractVersion = "V5"
	VersionV6 ContractVersion = "V6"
	VersionV7 ContractVersion = "V7"
	VersionV8 ContractVersion = "V8"
)

// KnownVersions lists every version the reader can decode, oldest first.
var KnownVersions = []ContractVersion{VersionV5, VersionV6, VersionV7, VersionV8}

// Valid reports whether the version has a registered layout.
func (v ContractVersion) Valid() bool {
	_, ok := layouts[v]
	return ok
}

// CampaignSnapshot is one campaign's on-chain truth at read time. Immutable
// once read; a new read produces a new snapshot.
//
// Pointer fields are absent in older contract versions. Absence is explicit:
// a nil NetRaisedWei means the version never tracked it (fall back to
// GrossRaisedWei), a nil TipsReceivedWei means the version has no tipping,
// and a nil Paused/ImmediatePayoutEnabled means the flag does not exist on
// that contract. Zero is a legitimate value for all of them, so defaults are
// never substituted silently.
type CampaignSnapshot struct {
	ChainID         string
	ContractAddress common.Address
	ContractVersion ContractVersion
	CampaignID      uint64

	Category    string
	MetadataURI string

	GoalNativeWei *big.Int
	GoalUsd       *decimal.Decimal // V7+

	GrossRaisedWei  *big.Int
	NetRaisedWei    *big.Int // V7+
	TipsReceivedWei *big.Int // V6+

	EditionsMinted uint64
	MaxEditions    uint64
	PriceWei       *big.Int

	SubmitterAddress common.Address
	NonprofitAddress common.Address

	Active   bool
	Paused   *bool // V6+
	Closed   bool
	Refunded bool

	ImmediatePayoutEnabled *bool // V8+
}

// AuthoritativeRaised returns the total used for funds availability math:
// net raised when the version tracks it, gross otherwise.
func (s *CampaignSnapshot) AuthoritativeRaised() *big.Int {
	if s.NetRaisedWei != nil {
		return s.NetRaisedWei
	}
	return s.GrossRaisedWei
}

// SupportsTips reports whether the contract version tracks tips at all.
func (s *CampaignSnapshot) SupportsTips() bool {
	return s.TipsReceivedWei != nil
}

// FeeConfig is the contract's current platform fee configuration.
type FeeConfig struct {
	FeeBps     *big.Int
	RoyaltyBps *big.Int
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash  common.Hash
	Success bool
	GasUsed uint64
}
