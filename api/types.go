package api

import (
	"github.com/causelift/campaign-engine/ledger"
	"github.com/causelift/campaign-engine/reconcile"
)

// repairRequest applies one repair action to a cache record.
type repairRequest struct {
	RecordID   uint    `json:"record_id" binding:"required"`
	Action     string  `json:"action" binding:"required,oneof=link reset ignore"`
	CampaignID *uint64 `json:"campaign_id"`
	SoldCount  uint64  `json:"sold_count"`
}

// distributionRequest asks for a payout of a campaign's funds or tips.
type distributionRequest struct {
	RecordID uint   `json:"record_id" binding:"required"`
	Kind     string `json:"kind" binding:"required,oneof=funds tips"`
	SplitPct int    `json:"split_pct" binding:"min=0,max=100"`
}

// settingsChangeRequest opens a new governance change.
type settingsChangeRequest struct {
	ChainID         string `json:"chain_id" binding:"required"`
	ContractAddress string `json:"contract_address" binding:"required"`
	ChangeType      string `json:"change_type" binding:"required,oneof=fee royalty treasury"`
	NewValue        string `json:"new_value" binding:"required"`
	Reason          string `json:"reason"`
}

// scanResponse is one full reconciliation report.
type scanResponse struct {
	Discrepancies    []reconcile.Discrepancy  `json:"discrepancies"`
	ReadFailures     int                      `json:"read_failures"`
	ContractFailures []ledger.ContractFailure `json:"contract_failures,omitempty"`

	// Partial is true when any read failed; absence conclusions are then
	// limited to the contracts and ids the scan actually covered.
	Partial bool `json:"partial"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
