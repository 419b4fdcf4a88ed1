package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	engerrors "github.com/causelift/campaign-engine/errors"
)

// Writer submits state-changing contract calls. Writes are never retried
// automatically; the caller persists its intent before submission and
// recovers through the transaction hash.
type Writer struct {
	backends map[string]ContractBackend
	logger   zerolog.Logger
}

// NewWriter creates a writer over the given per-chain backends.
func NewWriter(backends map[string]ContractBackend, logger zerolog.Logger) *Writer {
	return &Writer{
		backends: backends,
		logger:   logger.With().Str("component", "chain_writer").Logger(),
	}
}

func (w *Writer) backend(chainID string) (ContractBackend, error) {
	b, ok := w.backends[chainID]
	if !ok {
		return nil, engerrors.NewConfigError(fmt.Sprintf("no backend registered for chain %s", chainID))
	}
	return b, nil
}

// WithdrawFunds triggers the contract's payout of a campaign's raised funds
// to its submitter.
func (w *Writer) WithdrawFunds(ctx context.Context, chainID string, contract common.Address, version ContractVersion, campaignID uint64) (common.Hash, error) {
	backend, err := w.backend(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return backend.Submit(ctx, version, contract, "withdraw", new(big.Int).SetUint64(campaignID))
}

// WithdrawTips pays out a campaign's tips split between submitter and
// nonprofit. Rejected on versions without tip tracking.
func (w *Writer) WithdrawTips(ctx context.Context, chainID string, contract common.Address, version ContractVersion, campaignID uint64, submitterAmount, nonprofitAmount *big.Int) (common.Hash, error) {
	if version == VersionV5 {
		return common.Hash{}, engerrors.NewValidationError(chainID, "contract version V5 does not track tips")
	}
	backend, err := w.backend(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return backend.Submit(ctx, version, contract, "withdrawTips",
		new(big.Int).SetUint64(campaignID), submitterAmount, nonprofitAmount)
}

// SetFeeConfig applies new fee and royalty basis points.
func (w *Writer) SetFeeConfig(ctx context.Context, chainID string, contract common.Address, version ContractVersion, feeBps, royaltyBps *big.Int) (common.Hash, error) {
	backend, err := w.backend(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return backend.Submit(ctx, version, contract, "setFeeConfig", feeBps, royaltyBps)
}

// SetPlatformTreasury changes the treasury address.
func (w *Writer) SetPlatformTreasury(ctx context.Context, chainID string, contract common.Address, version ContractVersion, treasury common.Address) (common.Hash, error) {
	backend, err := w.backend(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return backend.Submit(ctx, version, contract, "setPlatformTreasury", treasury)
}

// SetCampaignImmediatePayout toggles per-campaign immediate payout (V8 only).
func (w *Writer) SetCampaignImmediatePayout(ctx context.Context, chainID string, contract common.Address, version ContractVersion, campaignID uint64, enabled bool) (common.Hash, error) {
	if version != VersionV8 {
		return common.Hash{}, engerrors.NewValidationError(chainID,
			fmt.Sprintf("immediate payout is not supported on contract version %s", version))
	}
	backend, err := w.backend(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return backend.Submit(ctx, version, contract, "setCampaignImmediatePayout",
		new(big.Int).SetUint64(campaignID), enabled)
}

// UpdateCampaignPrice changes a campaign's edition price.
func (w *Writer) UpdateCampaignPrice(ctx context.Context, chainID string, contract common.Address, version ContractVersion, campaignID uint64, priceWei *big.Int) (common.Hash, error) {
	backend, err := w.backend(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	return backend.Submit(ctx, version, contract, "updateCampaignPrice",
		new(big.Int).SetUint64(campaignID), priceWei)
}

// WaitMined blocks until the transaction is mined or the context expires.
// A timeout is not a failure; see ContractBackend.WaitMined.
func (w *Writer) WaitMined(ctx context.Context, chainID string, txHash common.Hash) (*Receipt, error) {
	backend, err := w.backend(chainID)
	if err != nil {
		return nil, err
	}
	return backend.WaitMined(ctx, txHash)
}
