// Package reconcile diffs the on-chain ledger view against the campaign
// cache and classifies every divergence. Classification is a read-only
// report; repairs are a separate, explicitly admin-invoked operation.
package reconcile

import (
	"github.com/causelift/campaign-engine/chains/evm"
)

// Kind classifies one divergence between ledger and cache.
type Kind string

const (
	// KindOrphanOnChain: a snapshot exists with no cache record.
	KindOrphanOnChain Kind = "ORPHAN_ON_CHAIN"

	// KindMissingOnChain: a cache record claims a campaign id that is
	// confirmed absent on-chain.
	KindMissingOnChain Kind = "MISSING_ON_CHAIN"

	// KindSoldCountMismatch: cache sold count differs from on-chain
	// editions minted.
	KindSoldCountMismatch Kind = "SOLD_COUNT_MISMATCH"

	// KindDuplicateLink: two non-deleted cache records claim the same
	// (contract, campaign id).
	KindDuplicateLink Kind = "DUPLICATE_LINK"

	// KindUnlinkedMetadataMatch: a cache record's metadata URI equals an
	// on-chain snapshot's URI but the campaign id differs - the classic
	// retry-duplication symptom. The match is a candidate requiring
	// confirmation, never an automatic repair, since a reused base URI can
	// collide across genuinely distinct campaigns.
	KindUnlinkedMetadataMatch Kind = "UNLINKED_METADATA_MATCH"
)

// Priority flags which discrepancies need attention first.
type Priority string

const (
	// PriorityHigh marks financially significant divergence: sales
	// happened with no visible record.
	PriorityHigh Priority = "high"

	// PriorityLow marks benign divergence, typically a duplicate left by a
	// failed creation retry.
	PriorityLow Priority = "low"
)

// Discrepancy is one classified divergence. It carries enough identity to be
// independently actionable.
type Discrepancy struct {
	Kind     Kind     `json:"kind"`
	Priority Priority `json:"priority"`

	ChainID         string              `json:"chain_id,omitempty"`
	ContractAddress string              `json:"contract_address"`
	ContractVersion evm.ContractVersion `json:"contract_version,omitempty"`
	CampaignID      *uint64             `json:"campaign_id,omitempty"`

	// RecordID identifies the cache record involved; zero when none exists.
	RecordID uint `json:"record_id,omitempty"`

	// RecordIDs lists every record claiming the key, for DUPLICATE_LINK.
	RecordIDs []uint `json:"record_ids,omitempty"`

	EditionsMinted uint64 `json:"editions_minted,omitempty"`
	CacheSoldCount uint64 `json:"cache_sold_count,omitempty"`
	MetadataURI    string `json:"metadata_uri,omitempty"`

	Detail string `json:"detail,omitempty"`
}
