package api

import (
	"context"

	"github.com/causelift/campaign-engine/ledger"
	"github.com/causelift/campaign-engine/reconcile"
	"github.com/causelift/campaign-engine/store"
)

// Scanner runs one full ledger scan.
type Scanner interface {
	ScanAll(ctx context.Context) (*ledger.LedgerView, error)
}

// Repairer applies admin-chosen repairs to cache records.
type Repairer interface {
	Apply(ctx context.Context, actor string, req reconcile.RepairRequest) error
}

// Distributor executes fund and tip payouts.
type Distributor interface {
	Distribute(ctx context.Context, actor string, recordID uint, kind string, splitPct int) (*store.DistributionRecord, error)
}

// Governance runs the settings-change workflow.
type Governance interface {
	Request(ctx context.Context, actor, chainID, contractAddress, changeType, newValue, reason string) (*store.PendingSettingsChange, error)
	Approve(ctx context.Context, approver, changeID string) (*store.PendingSettingsChange, error)
	Cancel(ctx context.Context, actor string, admin bool, changeID string) (*store.PendingSettingsChange, error)
	Execute(ctx context.Context, actor, changeID string) (*store.PendingSettingsChange, error)
	Get(ctx context.Context, changeID string) (*store.PendingSettingsChange, error)
}
