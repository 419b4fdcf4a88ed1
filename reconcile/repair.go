package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/db"
	engerrors "github.com/causelift/campaign-engine/errors"
	"github.com/causelift/campaign-engine/store"
)

// RepairAction is one admin-chosen fix for a discrepancy.
type RepairAction string

const (
	// ActionLink points the record at the given campaign id and marks it
	// minted and visible.
	ActionLink RepairAction = "link"

	// ActionReset clears the record's campaign link and reverts it to its
	// pre-mint status, so a fresh mint can be attempted.
	ActionReset RepairAction = "reset"

	// ActionIgnore hides the record as a benign duplicate.
	ActionIgnore RepairAction = "ignore"
)

// RepairRequest names the record to fix and the action to apply.
type RepairRequest struct {
	RecordID uint
	Action   RepairAction

	// CampaignID and SoldCount are required for ActionLink.
	CampaignID *uint64
	SoldCount  uint64
}

// Repairer applies repair actions to the cache. Every action is idempotent:
// re-applying a repair to an already-repaired record is a no-op, not an
// error, so an operator can safely re-submit after an ambiguous timeout.
type Repairer struct {
	database *db.DB
	logger   zerolog.Logger
}

// NewRepairer creates a repairer over the cache.
func NewRepairer(database *db.DB, logger zerolog.Logger) *Repairer {
	return &Repairer{
		database: database,
		logger:   logger.With().Str("component", "repairer").Logger(),
	}
}

// Apply performs one repair and records it in the audit log.
func (r *Repairer) Apply(ctx context.Context, actor string, req RepairRequest) error {
	var record store.CampaignRecord
	if err := r.database.Client().WithContext(ctx).First(&record, req.RecordID).Error; err != nil {
		return engerrors.NewNotFoundError("", fmt.Sprintf("cache record %d not found", req.RecordID))
	}

	var changed bool
	var err error
	switch req.Action {
	case ActionLink:
		changed, err = r.link(ctx, &record, req)
	case ActionReset:
		changed, err = r.reset(ctx, &record)
	case ActionIgnore:
		changed, err = r.ignore(ctx, &record)
	default:
		return engerrors.NewValidationError("", fmt.Sprintf("unknown repair action %q", req.Action))
	}
	if err != nil {
		return err
	}

	audit := store.AuditLog{
		Actor:    actor,
		Action:   store.AuditActionRepair,
		ChainID:  record.ChainID,
		TargetID: fmt.Sprintf("record:%d", record.ID),
		Detail:   fmt.Sprintf("action=%s changed=%t", req.Action, changed),
	}
	if err := r.database.Client().WithContext(ctx).Create(&audit).Error; err != nil {
		return engerrors.NewDatabaseError("failed to write audit log", err)
	}

	r.logger.Info().
		Str("actor", actor).
		Str("action", string(req.Action)).
		Uint("record_id", record.ID).
		Bool("changed", changed).
		Msg("repair applied")
	return nil
}

func (r *Repairer) link(ctx context.Context, record *store.CampaignRecord, req RepairRequest) (bool, error) {
	if req.CampaignID == nil {
		return false, engerrors.NewValidationError("", "link repair requires a campaign id")
	}

	// Already linked to this campaign: no-op.
	if record.Linked() && *record.CampaignID == *req.CampaignID &&
		record.Status == store.CampaignStatusMinted {
		return false, nil
	}

	// Refuse to silently steal a link that points elsewhere; that needs an
	// explicit reset first.
	if record.Linked() && *record.CampaignID != *req.CampaignID {
		return false, engerrors.NewValidationError("",
			fmt.Sprintf("record %d already links campaign %d; reset before relinking", record.ID, *record.CampaignID))
	}

	updates := map[string]interface{}{
		"campaign_id": *req.CampaignID,
		"status":      store.CampaignStatusMinted,
		"sold_count":  req.SoldCount,
	}
	if err := r.database.Client().WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return false, engerrors.NewDatabaseError("link repair failed", err)
	}
	return true, nil
}

func (r *Repairer) reset(ctx context.Context, record *store.CampaignRecord) (bool, error) {
	if !record.Linked() && record.Status == store.CampaignStatusApproved {
		return false, nil
	}

	updates := map[string]interface{}{
		"campaign_id": nil,
		"status":      store.CampaignStatusApproved,
		"sold_count":  0,
	}
	if err := r.database.Client().WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return false, engerrors.NewDatabaseError("reset repair failed", err)
	}
	return true, nil
}

func (r *Repairer) ignore(ctx context.Context, record *store.CampaignRecord) (bool, error) {
	if record.Status == store.CampaignStatusHidden {
		return false, nil
	}

	if err := r.database.Client().WithContext(ctx).Model(record).
		Update("status", store.CampaignStatusHidden).Error; err != nil {
		return false, engerrors.NewDatabaseError("ignore repair failed", err)
	}
	return true, nil
}
