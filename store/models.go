// Package store contains the GORM-backed models for the campaign cache.
//
// Database Structure (database file: campaigns.db):
//
//	data/
//	└── campaigns.db
//	    ├── campaign_records
//	    ├── distribution_records
//	    ├── pending_settings_changes
//	    └── audit_logs
//
// The cache is authoritative for presentation metadata only; raised amounts
// and edition counts are always re-read from chain before any money moves.
package store

import (
	"encoding/json"
	"math/big"
	"time"

	"gorm.io/gorm"
)

// Campaign record lifecycle statuses.
const (
	CampaignStatusDraft    = "draft"
	CampaignStatusApproved = "approved"
	CampaignStatusMinted   = "minted"
	CampaignStatusHidden   = "hidden"
	CampaignStatusClosed   = "closed"
)

// Distribution statuses. A record reaches exactly one terminal state and is
// never mutated afterwards.
const (
	DistributionStatusPending   = "pending"
	DistributionStatusCompleted = "completed"
	DistributionStatusFailed    = "failed"
)

// Distribution kinds.
const (
	DistributionKindFunds = "funds"
	DistributionKindTips  = "tips"
)

// Settings change statuses.
const (
	ChangeStatusPending   = "pending"
	ChangeStatusExecuted  = "executed"
	ChangeStatusCancelled = "cancelled"
	ChangeStatusExpired   = "expired"
)

// ExecuteGuardHeld marks a pending settings change whose execution is
// submitting on-chain or awaiting confirmation. Cancel and the expiry sweep
// leave guarded rows alone.
const ExecuteGuardHeld = "executing"

// Settings change types.
const (
	ChangeTypeFee      = "fee"
	ChangeTypeTreasury = "treasury"
	ChangeTypeRoyalty  = "royalty"
)

// CampaignRecord is the cache's mutable representation of a campaign.
// At most one non-deleted record may reference a given
// (contract_address, campaign_id) pair; a violation surfaces as a
// DUPLICATE_LINK discrepancy, never as a constraint error, because historical
// rows with bad links must stay queryable for repair.
type CampaignRecord struct {
	gorm.Model
	Title       string
	Category    string
	MetadataURI string `gorm:"index"`

	ChainID         string
	ContractAddress string  `gorm:"index:idx_contract_campaign"`
	CampaignID      *uint64 `gorm:"index:idx_contract_campaign"` // nil until minted or after a reset repair

	Status    string `gorm:"index"`
	SoldCount uint64

	SubmitterAddress string
	NonprofitAddress string

	// Running totals of completed distributions, wei as decimal strings.
	// Bookkeeping only; the engine never trusts these for availability math.
	DistributedFundsWei string `gorm:"default:'0'"`
	DistributedTipsWei  string `gorm:"default:'0'"`
}

// Linked reports whether the record claims an on-chain campaign.
func (r *CampaignRecord) Linked() bool {
	return r.CampaignID != nil
}

// DistributionRecord is one attempted payout. Inserted as pending before any
// on-chain call; the unique index on (contract_address, campaign_id, kind,
// pending_guard) is the idempotency guard: pending_guard holds "pending"
// while in flight and is rewritten to the row's own id on terminal
// transition, so only one pending row per (campaign, kind) can exist.
type DistributionRecord struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ChainID         string
	ContractAddress string `gorm:"uniqueIndex:idx_one_pending"`
	CampaignID      uint64 `gorm:"uniqueIndex:idx_one_pending"`
	Kind            string `gorm:"uniqueIndex:idx_one_pending"`
	PendingGuard    string `gorm:"uniqueIndex:idx_one_pending"`

	Status string `gorm:"index"`

	TotalAmountWei     string
	SubmitterAmountWei string
	NonprofitAmountWei string
	SplitPct           int

	TxHash        string
	FailureReason string `gorm:"type:text"`
	InitiatedBy   string
	CompletedAt   *time.Time
}

// Terminal reports whether the record reached a final state.
func (d *DistributionRecord) Terminal() bool {
	return d.Status == DistributionStatusCompleted || d.Status == DistributionStatusFailed
}

// TotalAmount parses the total as a big integer. Returns zero on a
// malformed value rather than guessing.
func (d *DistributionRecord) TotalAmount() *big.Int {
	amount, ok := new(big.Int).SetString(d.TotalAmountWei, 10)
	if !ok {
		return new(big.Int)
	}
	return amount
}

// PendingSettingsChange is one requested change to on-chain fee, treasury or
// royalty parameters. Approvals are stored as a JSON array of approver ids;
// "approved" is a derived condition (len(approvals) >= required), never a
// distinct status, so satisfying approvals cannot bypass the timelock.
type PendingSettingsChange struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ChainID         string
	ContractAddress string
	ContractVersion string

	ChangeType   string `gorm:"index"`
	CurrentValue string // on-chain value captured at request time
	NewValue     string
	Reason       string `gorm:"type:text"`

	RequiresMultiSig  bool
	RequiredApprovals int
	ApprovalsJSON     string `gorm:"type:text;default:'[]'"`

	Status      string `gorm:"index"`
	RequestedBy string
	DelayHours  int

	// ExecuteGuard is ExecuteGuardHeld while an execution is in flight,
	// empty otherwise.
	ExecuteGuard string `gorm:"default:''"`

	ExecutableAt time.Time // requestedAt + delayHours, stamped at request time
	ExpiresAt    time.Time // requestedAt + TTL; past this the change expires
	ExecutedAt   *time.Time
	TxHash       string
}

// Approvals decodes the approver id list.
func (p *PendingSettingsChange) Approvals() []string {
	var out []string
	if err := json.Unmarshal([]byte(p.ApprovalsJSON), &out); err != nil {
		return nil
	}
	return out
}

// SetApprovals encodes the approver id list.
func (p *PendingSettingsChange) SetApprovals(approvals []string) {
	data, err := json.Marshal(approvals)
	if err != nil {
		return
	}
	p.ApprovalsJSON = string(data)
}

// HasApproved reports whether the given approver already signed off.
func (p *PendingSettingsChange) HasApproved(approver string) bool {
	for _, a := range p.Approvals() {
		if a == approver {
			return true
		}
	}
	return false
}

// ApprovalsSatisfied reports whether enough approvals were collected.
// Changes that do not require multi-sig are always satisfied.
func (p *PendingSettingsChange) ApprovalsSatisfied() bool {
	if !p.RequiresMultiSig {
		return true
	}
	return len(p.Approvals()) >= p.RequiredApprovals
}

// AuditLog is the append-only trail of every mutating operation. Governance
// rate limiting is computed from this table by time window, never from
// process-local counters, so the guarantee holds across service instances.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	Actor    string `gorm:"index"`
	Action   string `gorm:"index"`
	ChainID  string
	TargetID string
	Detail   string `gorm:"type:text"`
}

// Audit actions recorded by the engine.
const (
	AuditActionRepair          = "repair_discrepancy"
	AuditActionDistribute      = "request_distribution"
	AuditActionSettingsRequest = "request_settings_change"
	AuditActionSettingsApprove = "approve_settings_change"
	AuditActionSettingsCancel  = "cancel_settings_change"
	AuditActionSettingsExecute = "execute_settings_change"
)
