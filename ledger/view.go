// Package ledger fans out chain reads across every registered
// (chain, contract, version) pair and merges the results into one LedgerView.
package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/causelift/campaign-engine/chains/evm"
)

// Entry is one registered contract deployment to scan.
type Entry struct {
	ChainID         string
	ContractAddress common.Address
	Version         evm.ContractVersion
}

// ReadFailure records a single campaign read that failed during a scan.
// Downstream consumers must treat these ids as UNKNOWN, never as absent;
// conflating a failed read with a missing campaign is a correctness bug.
type ReadFailure struct {
	ChainID         string
	ContractAddress common.Address
	CampaignID      uint64
	Err             error
}

// ContractFailure records a contract whose totalCampaigns call failed, which
// leaves every id on that contract unknown.
type ContractFailure struct {
	ChainID         string
	ContractAddress common.Address
	Err             error
}

// LedgerView is the merged result of one full scan.
type LedgerView struct {
	Snapshots        []*evm.CampaignSnapshot
	Failures         []ReadFailure
	ContractFailures []ContractFailure

	// totals holds, per scanned contract keyed by lowercased address, the
	// range actually scanned and the contract's reported campaign count.
	// Contracts that failed the total read are absent from the map.
	totals map[string]scanRange

	// failedIDs indexes read failures for absence checks.
	failedIDs map[string]map[uint64]bool

	// byKey indexes snapshots by (lowercased contract, id).
	byKey map[string]map[uint64]*evm.CampaignSnapshot
}

// scanRange records how much of a contract a scan covered.
type scanRange struct {
	scannedUpTo uint64 // ids 0..scannedUpTo-1 were read
	total       uint64 // contract's reported campaign count
}

// NewView creates an empty LedgerView. The aggregator builds views during
// scans; tests and replay tooling can assemble them directly.
func NewView() *LedgerView {
	return &LedgerView{
		totals:    make(map[string]scanRange),
		failedIDs: make(map[string]map[uint64]bool),
		byKey:     make(map[string]map[uint64]*evm.CampaignSnapshot),
	}
}

func contractKey(contract common.Address) string {
	return strings.ToLower(contract.Hex())
}

// AddSnapshot records a successfully read snapshot.
func (v *LedgerView) AddSnapshot(s *evm.CampaignSnapshot) {
	v.Snapshots = append(v.Snapshots, s)
	key := contractKey(s.ContractAddress)
	if v.byKey[key] == nil {
		v.byKey[key] = make(map[uint64]*evm.CampaignSnapshot)
	}
	v.byKey[key][s.CampaignID] = s
}

// AddReadFailure records a failed campaign read.
func (v *LedgerView) AddReadFailure(f ReadFailure) {
	v.Failures = append(v.Failures, f)
	key := contractKey(f.ContractAddress)
	if v.failedIDs[key] == nil {
		v.failedIDs[key] = make(map[uint64]bool)
	}
	v.failedIDs[key][f.CampaignID] = true
}

// SetScanRange records how much of a contract the scan covered.
func (v *LedgerView) SetScanRange(contract common.Address, scannedUpTo, total uint64) {
	v.totals[contractKey(contract)] = scanRange{scannedUpTo: scannedUpTo, total: total}
}

// Lookup returns the snapshot for (contract, id), or nil.
func (v *LedgerView) Lookup(contract common.Address, campaignID uint64) *evm.CampaignSnapshot {
	if m, ok := v.byKey[contractKey(contract)]; ok {
		return m[campaignID]
	}
	return nil
}

// ConfirmedAbsent reports whether (contract, id) is known not to exist
// on-chain. True only when the scan covered that contract, the id was inside
// the scanned range (or beyond the contract's total), and no read failure
// hides it. An id behind a failed read or a failed contract is unknown, not
// absent.
func (v *LedgerView) ConfirmedAbsent(contract common.Address, campaignID uint64) bool {
	key := contractKey(contract)
	r, scanned := v.totals[key]
	if !scanned {
		return false
	}
	if campaignID >= r.total {
		return true
	}
	if campaignID >= r.scannedUpTo {
		// inside the contract's range but beyond a capped scan: unknown
		return false
	}
	if v.failedIDs[key][campaignID] {
		return false
	}
	_, present := v.byKey[key][campaignID]
	return !present
}

// HasFailures reports whether any read failed during the scan.
func (v *LedgerView) HasFailures() bool {
	return len(v.Failures) > 0 || len(v.ContractFailures) > 0
}
