// Package governance runs the settings-change workflow for on-chain fee,
// royalty and treasury parameters: rate-limited requests, multi-signature
// approval where the change is large enough to warrant it, a mandatory
// timelock, and a race check against the live on-chain value at execution.
package governance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	chcommon "github.com/causelift/campaign-engine/chains/common"
	"github.com/causelift/campaign-engine/chains/evm"
	"github.com/causelift/campaign-engine/config"
	"github.com/causelift/campaign-engine/db"
	engerrors "github.com/causelift/campaign-engine/errors"
	"github.com/causelift/campaign-engine/store"
)

// ChainReader is the read surface the service needs from the chain layer.
type ChainReader interface {
	FeeConfig(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion) (*evm.FeeConfig, error)
	PlatformTreasury(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion) (common.Address, error)
}

// ChainWriter is the write surface the service needs from the chain layer.
type ChainWriter interface {
	SetFeeConfig(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion, feeBps, royaltyBps *big.Int) (common.Hash, error)
	SetPlatformTreasury(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion, treasury common.Address) (common.Hash, error)
	WaitMined(ctx context.Context, chainID string, txHash common.Hash) (*evm.Receipt, error)
}

// Service owns pending settings changes. Rate limiting and cooldown are
// derived from the audit log by time window rather than from in-process
// counters, so both hold across service instances and survive cancellation
// of the requests that consumed the budget.
type Service struct {
	database *db.DB
	reader   ChainReader
	writer   ChainWriter

	// versions maps lowercased contract address to its deployed version.
	versions map[string]evm.ContractVersion

	cfg    config.GovernanceConfig
	retry  *chcommon.RetryManager
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a governance service. versions maps contract addresses
// (any casing) to their deployed contract version.
func NewService(database *db.DB, reader ChainReader, writer ChainWriter, versions map[string]evm.ContractVersion, cfg config.GovernanceConfig, logger zerolog.Logger) *Service {
	normalized := make(map[string]evm.ContractVersion, len(versions))
	for addr, version := range versions {
		normalized[strings.ToLower(addr)] = version
	}
	return &Service{
		database: database,
		reader:   reader,
		writer:   writer,
		versions: normalized,
		cfg:      cfg,
		retry:    chcommon.NewRetryManager(nil, logger),
		logger:   logger.With().Str("component", "governance").Logger(),
		now:      time.Now,
	}
}

// Request records a new settings change as pending.
//
// The requester's recent activity is read from the audit log: more than
// MaxChangesPerHour requests in the last hour, or any request inside the
// cooldown window, rejects the new one. Fee and royalty changes require
// multi-sig when the basis-point delta from the current on-chain value
// reaches the configured threshold; a treasury change always requires
// multi-sig regardless of magnitude. The timelock delay is fixed per change
// type and stamped into ExecutableAt now, never recomputed later.
func (s *Service) Request(ctx context.Context, actor, chainID, contractAddress, changeType, newValue, reason string) (*store.PendingSettingsChange, error) {
	contract, version, err := s.resolveContract(chainID, contractAddress)
	if err != nil {
		return nil, err
	}
	if err := validateNewValue(chainID, changeType, newValue); err != nil {
		return nil, err
	}
	if err := s.checkRequestBudget(ctx, actor); err != nil {
		return nil, err
	}

	currentValue, err := s.readCurrentValue(ctx, chainID, contract, version, changeType)
	if err != nil {
		return nil, err
	}

	requiresMultiSig := s.requiresMultiSig(changeType, currentValue, newValue)
	delayHours := s.cfg.FeeDelayHours
	if changeType == store.ChangeTypeTreasury {
		delayHours = s.cfg.TreasuryDelayHours
	}

	now := s.now()
	change := &store.PendingSettingsChange{
		ID:              uuid.NewString(),
		ChainID:         chainID,
		ContractAddress: contractAddress,
		ContractVersion: string(version),
		ChangeType:      changeType,
		CurrentValue:    currentValue,
		NewValue:        newValue,
		Reason:          reason,
		RequiresMultiSig: requiresMultiSig,
		RequiredApprovals: func() int {
			if requiresMultiSig {
				return s.cfg.RequiredApprovals
			}
			return 0
		}(),
		ApprovalsJSON: "[]",
		Status:        store.ChangeStatusPending,
		RequestedBy:   actor,
		DelayHours:    delayHours,
		ExecutableAt:  now.Add(time.Duration(delayHours) * time.Hour),
		ExpiresAt:     now.Add(time.Duration(s.cfg.ChangeTTLHours) * time.Hour),
	}

	if err := s.database.Client().WithContext(ctx).Create(change).Error; err != nil {
		return nil, engerrors.NewDatabaseError("failed to persist settings change", err)
	}
	s.audit(ctx, actor, store.AuditActionSettingsRequest, chainID, change.ID,
		fmt.Sprintf("type=%s current=%s new=%s multisig=%t delay_hours=%d",
			changeType, currentValue, newValue, requiresMultiSig, delayHours))

	s.logger.Info().
		Str("change_id", change.ID).
		Str("type", changeType).
		Str("requested_by", actor).
		Bool("multisig", requiresMultiSig).
		Time("executable_at", change.ExecutableAt).
		Msg("settings change requested")
	return change, nil
}

// Approve appends the approver to the change's approval list. A second
// approval by the same identity is rejected.
func (s *Service) Approve(ctx context.Context, approver, changeID string) (*store.PendingSettingsChange, error) {
	change, err := s.loadPending(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if change.HasApproved(approver) {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("%s already approved change %s", approver, changeID))
	}

	prior := change.ApprovalsJSON
	change.SetApprovals(append(change.Approvals(), approver))
	// Guarding on the prior list makes the append single-shot; a concurrent
	// approval moves the list and loses the race instead of being lost.
	res := s.database.Client().WithContext(ctx).Model(&store.PendingSettingsChange{}).
		Where("id = ? AND status = ? AND approvals_json = ?",
			change.ID, store.ChangeStatusPending, prior).
		Update("approvals_json", change.ApprovalsJSON)
	if res.Error != nil {
		return nil, engerrors.NewDatabaseError("failed to persist approval", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("change %s was modified concurrently; retry the approval", changeID))
	}
	s.audit(ctx, approver, store.AuditActionSettingsApprove, change.ChainID, change.ID,
		fmt.Sprintf("approvals=%d required=%d", len(change.Approvals()), change.RequiredApprovals))
	return change, nil
}

// Cancel withdraws a pending change. Only the original requester or an
// admin may cancel.
func (s *Service) Cancel(ctx context.Context, actor string, admin bool, changeID string) (*store.PendingSettingsChange, error) {
	change, err := s.loadPending(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if !admin && change.RequestedBy != actor {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("%s may not cancel a change requested by %s", actor, change.RequestedBy))
	}

	res := s.database.Client().WithContext(ctx).Model(&store.PendingSettingsChange{}).
		Where("id = ? AND status = ? AND execute_guard = ''",
			change.ID, store.ChangeStatusPending).
		Update("status", store.ChangeStatusCancelled)
	if res.Error != nil {
		return nil, engerrors.NewDatabaseError("failed to persist cancellation", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("change %s is executing or no longer pending", changeID))
	}
	change.Status = store.ChangeStatusCancelled
	s.audit(ctx, actor, store.AuditActionSettingsCancel, change.ChainID, change.ID, "")
	return change, nil
}

// Execute applies a pending change on-chain.
//
// Approval count and timelock are both evaluated here, at execution time,
// never cached from an earlier check; satisfying approvals can never bypass
// the timelock. Before applying, the live on-chain value is compared against
// the value captured at request time: a mismatch means something else
// changed the setting in between, so execution aborts with RaceInvalidated
// and the change stays pending for re-review. It is never silently
// re-applied on top of the new value.
//
// The row is claimed with a status-guarded update before anything is
// submitted on-chain, so Cancel, the expiry sweep and a second Execute
// cannot interleave with the submission; a change already in a terminal
// state can never be overwritten.
func (s *Service) Execute(ctx context.Context, actor, changeID string) (*store.PendingSettingsChange, error) {
	change, err := s.loadPending(ctx, changeID)
	if err != nil {
		return nil, err
	}

	// A prior execution that lost its confirmation wait left the guard held
	// with the hash recorded. Resume from the receipt, never resubmit.
	if change.ExecuteGuard != "" {
		if change.TxHash == "" {
			return nil, engerrors.NewValidationError(change.ChainID,
				fmt.Sprintf("change %s is already executing", changeID))
		}
		return s.confirm(ctx, actor, change)
	}

	now := s.now()
	if now.After(change.ExpiresAt) {
		s.markExpired(ctx, change)
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("change %s expired at %s", changeID, change.ExpiresAt.Format(time.RFC3339)))
	}
	if !change.ApprovalsSatisfied() {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("change %s has %d of %d required approvals",
				changeID, len(change.Approvals()), change.RequiredApprovals))
	}
	if now.Before(change.ExecutableAt) {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("change %s is timelocked until %s",
				changeID, change.ExecutableAt.Format(time.RFC3339)))
	}

	contract, version, err := s.resolveContract(change.ChainID, change.ContractAddress)
	if err != nil {
		return nil, err
	}

	liveValue, err := s.readCurrentValue(ctx, change.ChainID, contract, version, change.ChangeType)
	if err != nil {
		return nil, err
	}
	if !sameValue(change.ChangeType, liveValue, change.CurrentValue) {
		return nil, engerrors.NewRaceInvalidatedError(change.ChainID,
			fmt.Sprintf("on-chain %s value is now %s, was %s at request time; change %s left pending for re-review",
				change.ChangeType, liveValue, change.CurrentValue, changeID))
	}

	res := s.database.Client().WithContext(ctx).Model(&store.PendingSettingsChange{}).
		Where("id = ? AND status = ? AND execute_guard = ''",
			change.ID, store.ChangeStatusPending).
		Update("execute_guard", store.ExecuteGuardHeld)
	if res.Error != nil {
		return nil, engerrors.NewDatabaseError("failed to claim settings change", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("change %s is executing or no longer pending", changeID))
	}
	change.ExecuteGuard = store.ExecuteGuardHeld

	txHash, err := s.apply(ctx, change, contract, version)
	if err != nil {
		s.releaseGuard(ctx, change)
		return nil, err
	}
	change.TxHash = txHash.Hex()
	if err := s.database.Client().WithContext(ctx).Model(change).
		Update("tx_hash", change.TxHash).Error; err != nil {
		s.logger.Error().Err(err).Str("change_id", change.ID).Msg("failed to persist tx hash")
	}

	return s.confirm(ctx, actor, change)
}

// confirm waits out the change's recorded transaction and settles the row.
// The executed transition is a status-guarded single-shot update.
func (s *Service) confirm(ctx context.Context, actor string, change *store.PendingSettingsChange) (*store.PendingSettingsChange, error) {
	receipt, err := s.writer.WaitMined(ctx, change.ChainID, common.HexToHash(change.TxHash))
	if err != nil {
		// Outcome unknown; the guard stays held and the change stays pending
		// with its hash recorded. A later Execute resumes from the receipt.
		return nil, engerrors.Wrap(err, fmt.Sprintf("confirmation wait for change %s did not resolve", change.ID))
	}
	if !receipt.Success {
		s.releaseGuard(ctx, change)
		return nil, engerrors.NewInternalError(change.ChainID,
			fmt.Sprintf("settings transaction %s reverted; change %s left pending", change.TxHash, change.ID), nil)
	}

	executedAt := s.now()
	res := s.database.Client().WithContext(ctx).Model(&store.PendingSettingsChange{}).
		Where("id = ? AND status = ?", change.ID, store.ChangeStatusPending).
		Updates(map[string]interface{}{
			"status":        store.ChangeStatusExecuted,
			"executed_at":   executedAt,
			"execute_guard": "",
		})
	if res.Error != nil {
		return nil, engerrors.NewDatabaseError("failed to persist execution", res.Error)
	}
	if res.RowsAffected == 0 {
		// A concurrent resume settled it first.
		return s.Get(ctx, change.ID)
	}
	change.Status = store.ChangeStatusExecuted
	change.ExecutedAt = &executedAt
	change.ExecuteGuard = ""
	s.audit(ctx, actor, store.AuditActionSettingsExecute, change.ChainID, change.ID,
		fmt.Sprintf("type=%s new=%s tx=%s", change.ChangeType, change.NewValue, change.TxHash))

	s.logger.Info().
		Str("change_id", change.ID).
		Str("type", change.ChangeType).
		Str("tx_hash", change.TxHash).
		Msg("settings change executed")
	return change, nil
}

func (s *Service) releaseGuard(ctx context.Context, change *store.PendingSettingsChange) {
	if err := s.database.Client().WithContext(ctx).Model(&store.PendingSettingsChange{}).
		Where("id = ?", change.ID).
		Update("execute_guard", "").Error; err != nil {
		s.logger.Error().Err(err).Str("change_id", change.ID).Msg("failed to release execute guard")
	}
	change.ExecuteGuard = ""
}

// ExpireSweep marks every pending change past its TTL as expired.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	res := s.database.Client().WithContext(ctx).Model(&store.PendingSettingsChange{}).
		Where("status = ? AND execute_guard = '' AND expires_at < ?", store.ChangeStatusPending, s.now()).
		Update("status", store.ChangeStatusExpired)
	if res.Error != nil {
		return 0, engerrors.NewDatabaseError("expiry sweep failed", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info().Int64("expired", res.RowsAffected).Msg("settings changes expired")
	}
	return res.RowsAffected, nil
}

// Get returns a change by id.
func (s *Service) Get(ctx context.Context, changeID string) (*store.PendingSettingsChange, error) {
	var change store.PendingSettingsChange
	if err := s.database.Client().WithContext(ctx).First(&change, "id = ?", changeID).Error; err != nil {
		return nil, engerrors.NewNotFoundError("", fmt.Sprintf("settings change %s not found", changeID))
	}
	return &change, nil
}

func (s *Service) loadPending(ctx context.Context, changeID string) (*store.PendingSettingsChange, error) {
	change, err := s.Get(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if change.Status != store.ChangeStatusPending {
		return nil, engerrors.NewValidationError(change.ChainID,
			fmt.Sprintf("change %s is %s, not pending", changeID, change.Status))
	}
	return change, nil
}

func (s *Service) resolveContract(chainID, contractAddress string) (common.Address, evm.ContractVersion, error) {
	version, ok := s.versions[strings.ToLower(contractAddress)]
	if !ok {
		return common.Address{}, "", engerrors.NewConfigError(
			fmt.Sprintf("no contract version registered for %s on %s", contractAddress, chainID))
	}
	return common.HexToAddress(contractAddress), version, nil
}

// checkRequestBudget enforces the per-requester rate limit and cooldown from
// the audit log.
func (s *Service) checkRequestBudget(ctx context.Context, actor string) error {
	now := s.now()
	var recent []store.AuditLog
	if err := s.database.Client().WithContext(ctx).
		Where("actor = ? AND action = ? AND created_at > ?",
			actor, store.AuditActionSettingsRequest, now.Add(-time.Hour)).
		Order("created_at desc").
		Find(&recent).Error; err != nil {
		return engerrors.NewDatabaseError("failed to read request history", err)
	}

	if len(recent) >= s.cfg.MaxChangesPerHour {
		return engerrors.NewValidationError("",
			fmt.Sprintf("%s exceeded %d settings changes per hour", actor, s.cfg.MaxChangesPerHour))
	}
	cooldown := time.Duration(s.cfg.CooldownMinutes) * time.Minute
	if len(recent) > 0 && now.Sub(recent[0].CreatedAt) < cooldown {
		return engerrors.NewValidationError("",
			fmt.Sprintf("%s is in cooldown until %s",
				actor, recent[0].CreatedAt.Add(cooldown).Format(time.RFC3339)))
	}
	return nil
}

func (s *Service) readCurrentValue(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion, changeType string) (string, error) {
	var value string
	err := s.retry.ExecuteWithRetry(ctx, "read_current_value", func() error {
		switch changeType {
		case store.ChangeTypeTreasury:
			treasury, err := s.reader.PlatformTreasury(ctx, chainID, contract, version)
			if err != nil {
				return err
			}
			value = treasury.Hex()
		default:
			feeConfig, err := s.reader.FeeConfig(ctx, chainID, contract, version)
			if err != nil {
				return err
			}
			if changeType == store.ChangeTypeRoyalty {
				value = feeConfig.RoyaltyBps.String()
			} else {
				value = feeConfig.FeeBps.String()
			}
		}
		return nil
	})
	return value, err
}

func (s *Service) requiresMultiSig(changeType, currentValue, newValue string) bool {
	if changeType == store.ChangeTypeTreasury {
		return true
	}
	current, ok1 := new(big.Int).SetString(currentValue, 10)
	next, ok2 := new(big.Int).SetString(newValue, 10)
	if !ok1 || !ok2 {
		return true // unparseable values get the strict path
	}
	delta := new(big.Int).Abs(new(big.Int).Sub(next, current))
	return delta.Cmp(big.NewInt(int64(s.cfg.MultiSigThresholdBps))) >= 0
}

func (s *Service) apply(ctx context.Context, change *store.PendingSettingsChange, contract common.Address, version evm.ContractVersion) (common.Hash, error) {
	switch change.ChangeType {
	case store.ChangeTypeTreasury:
		return s.writer.SetPlatformTreasury(ctx, change.ChainID, contract, version,
			common.HexToAddress(change.NewValue))
	default:
		// Fee and royalty share one on-chain setter; the untouched half keeps
		// its current live value, which the race check just confirmed.
		feeConfig, err := s.reader.FeeConfig(ctx, change.ChainID, contract, version)
		if err != nil {
			return common.Hash{}, err
		}
		newBps, _ := new(big.Int).SetString(change.NewValue, 10)
		if change.ChangeType == store.ChangeTypeRoyalty {
			return s.writer.SetFeeConfig(ctx, change.ChainID, contract, version, feeConfig.FeeBps, newBps)
		}
		return s.writer.SetFeeConfig(ctx, change.ChainID, contract, version, newBps, feeConfig.RoyaltyBps)
	}
}

func (s *Service) markExpired(ctx context.Context, change *store.PendingSettingsChange) {
	res := s.database.Client().WithContext(ctx).Model(&store.PendingSettingsChange{}).
		Where("id = ? AND status = ? AND execute_guard = ''",
			change.ID, store.ChangeStatusPending).
		Update("status", store.ChangeStatusExpired)
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Str("change_id", change.ID).Msg("failed to persist expiry")
		return
	}
	if res.RowsAffected > 0 {
		change.Status = store.ChangeStatusExpired
	}
}

func (s *Service) audit(ctx context.Context, actor, action, chainID, targetID, detail string) {
	entry := store.AuditLog{
		Actor:    actor,
		Action:   action,
		ChainID:  chainID,
		TargetID: fmt.Sprintf("change:%s", targetID),
		Detail:   detail,
	}
	if err := s.database.Client().WithContext(ctx).Create(&entry).Error; err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to write audit log")
	}
}

func validateNewValue(chainID, changeType, newValue string) error {
	switch changeType {
	case store.ChangeTypeFee, store.ChangeTypeRoyalty:
		bps, ok := new(big.Int).SetString(newValue, 10)
		if !ok || bps.Sign() < 0 || bps.Cmp(big.NewInt(10000)) > 0 {
			return engerrors.NewValidationError(chainID,
				fmt.Sprintf("%s value %q is not a basis-point amount in [0,10000]", changeType, newValue))
		}
	case store.ChangeTypeTreasury:
		if !common.IsHexAddress(newValue) {
			return engerrors.NewValidationError(chainID,
				fmt.Sprintf("treasury value %q is not a hex address", newValue))
		}
	default:
		return engerrors.NewValidationError(chainID,
			fmt.Sprintf("unknown settings change type %q", changeType))
	}
	return nil
}

// sameValue compares a live on-chain value with the one captured at request
// time. Addresses compare case-insensitively.
func sameValue(changeType, live, captured string) bool {
	if changeType == store.ChangeTypeTreasury {
		return strings.EqualFold(live, captured)
	}
	return live == captured
}
