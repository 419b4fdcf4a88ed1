// Package distribution computes and executes payouts of raised funds and
// tips. Every attempt is persisted as a pending record before any on-chain
// call; the persisted pending row is the idempotency anchor that prevents a
// double payment across crashes and concurrent requests.
package distribution

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	chcommon "github.com/causelift/campaign-engine/chains/common"
	"github.com/causelift/campaign-engine/chains/evm"
	"github.com/causelift/campaign-engine/db"
	engerrors "github.com/causelift/campaign-engine/errors"
	"github.com/causelift/campaign-engine/store"
)

// ChainReader is the read surface the engine needs from the chain layer.
type ChainReader interface {
	ReadCampaign(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion, campaignID uint64) (*evm.CampaignSnapshot, error)
}

// ChainWriter is the write surface the engine needs from the chain layer.
type ChainWriter interface {
	WithdrawFunds(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion, campaignID uint64) (common.Hash, error)
	WithdrawTips(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion, campaignID uint64, submitterAmount, nonprofitAmount *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, chainID string, txHash common.Hash) (*evm.Receipt, error)
}

// Engine executes distributions. Safe for concurrent use; all coordination
// between requests and between service instances goes through the persisted
// distribution records, never through in-memory state.
type Engine struct {
	database *db.DB
	reader   ChainReader
	writer   ChainWriter

	// versions maps lowercased contract address to its deployed version.
	versions map[string]evm.ContractVersion

	retry          *chcommon.RetryManager
	notifier       Notifier
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

// NewEngine creates a distribution engine. versions maps contract addresses
// (any casing) to their deployed contract version. A nil notifier disables
// notifications.
func NewEngine(database *db.DB, reader ChainReader, writer ChainWriter, versions map[string]evm.ContractVersion, notifier Notifier, confirmTimeout time.Duration, logger zerolog.Logger) *Engine {
	normalized := make(map[string]evm.ContractVersion, len(versions))
	for addr, version := range versions {
		normalized[strings.ToLower(addr)] = version
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Engine{
		database:       database,
		reader:         reader,
		writer:         writer,
		versions:       normalized,
		retry:          chcommon.NewRetryManager(nil, logger),
		notifier:       notifier,
		confirmTimeout: confirmTimeout,
		logger:         logger.With().Str("component", "distribution_engine").Logger(),
	}
}

// Distribute pays out a campaign's raised funds or tips.
//
// Flow: read the authoritative on-chain total, subtract completed
// distributions to get the available amount, split it, persist a pending
// record, submit the transfer, then wait for confirmation and persist the
// terminal state. The pending insert happens before the on-chain call and
// is protected by a uniqueness guard, so a second concurrent request for
// the same (campaign, kind) fails fast with DISTRIBUTION_IN_PROGRESS
// instead of computing against a stale available amount.
//
// A confirmation-wait timeout is not a failure: the returned record stays
// pending and the recovery pass settles it from the transaction hash. The
// transfer itself is never retried; blind retry of a funds-moving call
// risks paying twice.
func (e *Engine) Distribute(ctx context.Context, actor string, recordID uint, kind string, splitPct int) (*store.DistributionRecord, error) {
	campaign, err := e.loadCampaign(ctx, recordID)
	if err != nil {
		return nil, err
	}

	splitPct, err = validateRequest(campaign, kind, splitPct)
	if err != nil {
		return nil, err
	}

	contract := common.HexToAddress(campaign.ContractAddress)
	version, ok := e.versions[strings.ToLower(campaign.ContractAddress)]
	if !ok {
		return nil, engerrors.NewConfigError(fmt.Sprintf("no contract version registered for %s", campaign.ContractAddress))
	}

	available, err := e.computeAvailable(ctx, campaign, contract, version, kind)
	if err != nil {
		return nil, err
	}

	submitterAmount, nonprofitAmount := splitAmounts(available, splitPct)

	record := &store.DistributionRecord{
		ID:                 uuid.NewString(),
		ChainID:            campaign.ChainID,
		ContractAddress:    campaign.ContractAddress,
		CampaignID:         *campaign.CampaignID,
		Kind:               kind,
		PendingGuard:       store.DistributionStatusPending,
		Status:             store.DistributionStatusPending,
		TotalAmountWei:     available.String(),
		SubmitterAmountWei: submitterAmount.String(),
		NonprofitAmountWei: nonprofitAmount.String(),
		SplitPct:           splitPct,
		InitiatedBy:        actor,
	}
	if err := e.insertPending(ctx, actor, record); err != nil {
		return nil, err
	}

	txHash, err := e.submit(ctx, campaign, contract, version, kind, submitterAmount, nonprofitAmount)
	if err != nil {
		e.settleFailed(ctx, record, err.Error())
		return record, err
	}

	record.TxHash = txHash.Hex()
	if err := e.database.Client().WithContext(ctx).Model(record).
		Update("tx_hash", record.TxHash).Error; err != nil {
		// The hash must land in the row or recovery cannot settle it.
		e.logger.Error().Err(err).Str("distribution_id", record.ID).
			Str("tx_hash", record.TxHash).Msg("failed to persist tx hash")
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	receipt, err := e.writer.WaitMined(waitCtx, campaign.ChainID, txHash)
	if err != nil {
		// Timeout or a provider fault while polling: the transfer outcome is
		// unknown, so the record stays pending for the recovery pass.
		e.logger.Warn().Err(err).
			Str("distribution_id", record.ID).
			Str("tx_hash", record.TxHash).
			Msg("confirmation wait did not resolve; record stays pending")
		return record, nil
	}

	e.settle(ctx, record, receipt)
	return record, nil
}

// RecoverPending settles pending distributions whose confirmation wait was
// interrupted. It only re-queries receipts by transaction hash; it never
// resubmits a transfer. Pending rows with no hash cannot be settled
// mechanically and are flagged for manual review.
func (e *Engine) RecoverPending(ctx context.Context) error {
	cutoff := time.Now().Add(-e.confirmTimeout)
	var stuck []store.DistributionRecord
	if err := e.database.Client().WithContext(ctx).
		Where("status = ? AND updated_at < ?", store.DistributionStatusPending, cutoff).
		Find(&stuck).Error; err != nil {
		return engerrors.NewDatabaseError("failed to list pending distributions", err)
	}

	for i := range stuck {
		record := &stuck[i]
		if record.TxHash == "" {
			e.logger.Warn().
				Str("distribution_id", record.ID).
				Uint64("campaign_id", record.CampaignID).
				Msg("pending distribution has no tx hash; manual review required")
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
		receipt, err := e.writer.WaitMined(waitCtx, record.ChainID, common.HexToHash(record.TxHash))
		cancel()
		if err != nil {
			e.logger.Warn().Err(err).
				Str("distribution_id", record.ID).
				Str("tx_hash", record.TxHash).
				Msg("receipt still unavailable; leaving pending")
			continue
		}
		e.settle(ctx, record, receipt)
	}
	return nil
}

func (e *Engine) loadCampaign(ctx context.Context, recordID uint) (*store.CampaignRecord, error) {
	var campaign store.CampaignRecord
	if err := e.database.Client().WithContext(ctx).First(&campaign, recordID).Error; err != nil {
		return nil, engerrors.NewNotFoundError("", fmt.Sprintf("campaign record %d not found", recordID))
	}
	return &campaign, nil
}

// validateRequest checks the request before any side effect and returns the
// effective split percentage.
func validateRequest(campaign *store.CampaignRecord, kind string, splitPct int) (int, error) {
	switch kind {
	case store.DistributionKindFunds:
		// Funds always go 100% to the submitter.
		splitPct = 100
	case store.DistributionKindTips:
		if splitPct < 0 || splitPct > 100 {
			return 0, engerrors.NewValidationError(campaign.ChainID,
				fmt.Sprintf("tips split percent %d out of range [0,100]", splitPct))
		}
	default:
		return 0, engerrors.NewValidationError(campaign.ChainID,
			fmt.Sprintf("unknown distribution kind %q", kind))
	}

	if !campaign.Linked() {
		return 0, engerrors.NewValidationError(campaign.ChainID,
			fmt.Sprintf("campaign record %d is not linked to an on-chain campaign", campaign.ID))
	}
	if campaign.SubmitterAddress == "" {
		return 0, engerrors.NewValidationError(campaign.ChainID,
			fmt.Sprintf("campaign record %d has no submitter address", campaign.ID))
	}
	if kind == store.DistributionKindTips && splitPct < 100 && campaign.NonprofitAddress == "" {
		return 0, engerrors.NewValidationError(campaign.ChainID,
			fmt.Sprintf("campaign record %d has no nonprofit address for a %d%% tips split", campaign.ID, splitPct))
	}
	return splitPct, nil
}

// computeAvailable reads the authoritative on-chain total and subtracts the
// sum of completed distributions of the same kind. Reads retry on transient
// faults; nothing here moves money.
func (e *Engine) computeAvailable(ctx context.Context, campaign *store.CampaignRecord, contract common.Address, version evm.ContractVersion, kind string) (*big.Int, error) {
	var snapshot *evm.CampaignSnapshot
	err := e.retry.ExecuteWithRetry(ctx, "read_campaign", func() error {
		s, err := e.reader.ReadCampaign(ctx, campaign.ChainID, contract, version, *campaign.CampaignID)
		if err != nil {
			return err
		}
		snapshot = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total *big.Int
	switch kind {
	case store.DistributionKindFunds:
		total = snapshot.AuthoritativeRaised()
	case store.DistributionKindTips:
		if !snapshot.SupportsTips() {
			return nil, engerrors.NewValidationError(campaign.ChainID,
				fmt.Sprintf("contract version %s does not track tips", version))
		}
		total = snapshot.TipsReceivedWei
	}
	if total == nil {
		return nil, engerrors.NewInternalError(campaign.ChainID,
			fmt.Sprintf("snapshot for campaign %d carries no %s total", snapshot.CampaignID, kind), nil)
	}

	distributed, err := e.sumCompleted(ctx, campaign.ContractAddress, *campaign.CampaignID, kind)
	if err != nil {
		return nil, err
	}

	available := new(big.Int).Sub(total, distributed)
	if available.Sign() <= 0 {
		return nil, engerrors.New(engerrors.ErrCodeNothingToDistribute, campaign.ChainID,
			fmt.Sprintf("nothing to distribute for campaign %d kind %s: total %s, already distributed %s",
				*campaign.CampaignID, kind, total.String(), distributed.String()), nil)
	}
	return available, nil
}

func (e *Engine) sumCompleted(ctx context.Context, contractAddress string, campaignID uint64, kind string) (*big.Int, error) {
	var completed []store.DistributionRecord
	if err := e.database.Client().WithContext(ctx).
		Where("contract_address = ? AND campaign_id = ? AND kind = ? AND status = ?",
			contractAddress, campaignID, kind, store.DistributionStatusCompleted).
		Find(&completed).Error; err != nil {
		return nil, engerrors.NewDatabaseError("failed to sum completed distributions", err)
	}

	sum := new(big.Int)
	for i := range completed {
		sum.Add(sum, completed[i].TotalAmount())
	}
	return sum, nil
}

// splitAmounts divides the available amount. Floor division on the submitter
// share; the nonprofit takes the remainder, so the parts always sum to
// exactly the available amount.
func splitAmounts(available *big.Int, splitPct int) (submitter, nonprofit *big.Int) {
	submitter = new(big.Int).Mul(available, big.NewInt(int64(splitPct)))
	submitter.Div(submitter, big.NewInt(100))
	nonprofit = new(big.Int).Sub(available, submitter)
	return submitter, nonprofit
}

// insertPending persists the pending record. A uniqueness violation means
// another request already holds the pending slot for this (campaign, kind).
func (e *Engine) insertPending(ctx context.Context, actor string, record *store.DistributionRecord) error {
	if err := e.database.Client().WithContext(ctx).Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return engerrors.New(engerrors.ErrCodeDistributionInProgress, record.ChainID,
				fmt.Sprintf("a distribution for campaign %d kind %s is already in progress",
					record.CampaignID, record.Kind), nil)
		}
		return engerrors.NewDatabaseError("failed to persist pending distribution", err)
	}

	audit := store.AuditLog{
		Actor:    actor,
		Action:   store.AuditActionDistribute,
		ChainID:  record.ChainID,
		TargetID: fmt.Sprintf("distribution:%s", record.ID),
		Detail: fmt.Sprintf("campaign=%d kind=%s total_wei=%s split_pct=%d",
			record.CampaignID, record.Kind, record.TotalAmountWei, record.SplitPct),
	}
	if err := e.database.Client().WithContext(ctx).Create(&audit).Error; err != nil {
		e.logger.Error().Err(err).Str("distribution_id", record.ID).Msg("failed to write audit log")
	}
	return nil
}

func (e *Engine) submit(ctx context.Context, campaign *store.CampaignRecord, contract common.Address, version evm.ContractVersion, kind string, submitterAmount, nonprofitAmount *big.Int) (common.Hash, error) {
	switch kind {
	case store.DistributionKindFunds:
		return e.writer.WithdrawFunds(ctx, campaign.ChainID, contract, version, *campaign.CampaignID)
	default:
		return e.writer.WithdrawTips(ctx, campaign.ChainID, contract, version, *campaign.CampaignID,
			submitterAmount, nonprofitAmount)
	}
}

// settle applies the receipt outcome as the record's terminal state.
func (e *Engine) settle(ctx context.Context, record *store.DistributionRecord, receipt *evm.Receipt) {
	if receipt.Success {
		e.settleCompleted(ctx, record)
	} else {
		e.settleFailed(ctx, record, "transaction reverted on-chain")
	}

	if err := e.notifier.DistributionSettled(ctx, record); err != nil {
		e.logger.Warn().Err(err).Str("distribution_id", record.ID).Msg("notification failed")
	}
}

// settleCompleted marks the record completed and bumps the cache's running
// distributed total. The status guard on the update makes the transition
// single-shot even if the recovery pass races the original request.
func (e *Engine) settleCompleted(ctx context.Context, record *store.DistributionRecord) {
	now := time.Now()
	err := e.database.Client().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&store.DistributionRecord{}).
			Where("id = ? AND status = ?", record.ID, store.DistributionStatusPending).
			Updates(map[string]interface{}{
				"status":        store.DistributionStatusCompleted,
				"pending_guard": record.ID,
				"completed_at":  now,
				"tx_hash":       record.TxHash,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already settled by a concurrent pass.
			return nil
		}
		return bumpDistributedTotal(tx, record)
	})
	if err != nil {
		e.logger.Error().Err(err).Str("distribution_id", record.ID).Msg("failed to persist completion")
		return
	}

	record.Status = store.DistributionStatusCompleted
	record.PendingGuard = record.ID
	record.CompletedAt = &now
	e.logger.Info().
		Str("distribution_id", record.ID).
		Uint64("campaign_id", record.CampaignID).
		Str("kind", record.Kind).
		Str("total_wei", record.TotalAmountWei).
		Str("tx_hash", record.TxHash).
		Msg("distribution completed")
}

func (e *Engine) settleFailed(ctx context.Context, record *store.DistributionRecord, reason string) {
	res := e.database.Client().WithContext(ctx).Model(&store.DistributionRecord{}).
		Where("id = ? AND status = ?", record.ID, store.DistributionStatusPending).
		Updates(map[string]interface{}{
			"status":         store.DistributionStatusFailed,
			"pending_guard":  record.ID,
			"failure_reason": reason,
		})
	if res.Error != nil {
		e.logger.Error().Err(res.Error).Str("distribution_id", record.ID).Msg("failed to persist failure")
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	record.Status = store.DistributionStatusFailed
	record.PendingGuard = record.ID
	record.FailureReason = reason
	e.logger.Warn().
		Str("distribution_id", record.ID).
		Uint64("campaign_id", record.CampaignID).
		Str("reason", reason).
		Msg("distribution failed")
}

// bumpDistributedTotal adds the settled amount to the cache's bookkeeping
// column. Bookkeeping only; availability math never trusts these totals.
func bumpDistributedTotal(tx *gorm.DB, record *store.DistributionRecord) error {
	var campaign store.CampaignRecord
	err := tx.Where("contract_address = ? AND campaign_id = ?",
		record.ContractAddress, record.CampaignID).First(&campaign).Error
	if err != nil {
		if engerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	column := "distributed_funds_wei"
	current := campaign.DistributedFundsWei
	if record.Kind == store.DistributionKindTips {
		column = "distributed_tips_wei"
		current = campaign.DistributedTipsWei
	}
	running, ok := new(big.Int).SetString(current, 10)
	if !ok {
		running = new(big.Int)
	}
	running.Add(running, record.TotalAmount())
	return tx.Model(&campaign).Update(column, running.String()).Error
}

func isUniqueViolation(err error) bool {
	return engerrors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
