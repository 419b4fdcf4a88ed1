package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	engerrors "github.com/causelift/campaign-engine/errors"
)

// Reader fetches raw campaign records from any registered chain and contract
// version and normalizes them into CampaignSnapshot. Reads are idempotent and
// never retried here; callers own retry policy.
type Reader struct {
	backends map[string]ContractBackend // keyed by CAIP-2 chain id
	logger   zerolog.Logger
}

// NewReader creates a reader over the given per-chain backends.
func NewReader(backends map[string]ContractBackend, logger zerolog.Logger) *Reader {
	return &Reader{
		backends: backends,
		logger:   logger.With().Str("component", "chain_reader").Logger(),
	}
}

func (r *Reader) backend(chainID string) (ContractBackend, error) {
	b, ok := r.backends[chainID]
	if !ok {
		return nil, engerrors.NewConfigError(fmt.Sprintf("no backend registered for chain %s", chainID))
	}
	return b, nil
}

// TotalCampaigns returns the number of campaigns the contract has created.
// Campaign ids are dense: 0..total-1.
func (r *Reader) TotalCampaigns(ctx context.Context, chainID string, contract common.Address, version ContractVersion) (uint64, error) {
	backend, err := r.backend(chainID)
	if err != nil {
		return 0, err
	}
	l, ok := layouts[version]
	if !ok {
		return 0, engerrors.NewConfigError(fmt.Sprintf("unsupported contract version %s", version))
	}

	values, err := backend.Call(ctx, version, contract, l.TotalCampaignsMethod)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, engerrors.NewInternalError(chainID, "totalCampaigns returned unexpected shape", nil)
	}
	return asUint64(values[0])
}

// ReadCampaign fetches one campaign and maps it onto the normalized schema.
// Returns a NOT_FOUND error when the id does not resolve on-chain and an RPC
// error when the provider failed; callers must never conflate the two.
func (r *Reader) ReadCampaign(ctx context.Context, chainID string, contract common.Address, version ContractVersion, campaignID uint64) (*CampaignSnapshot, error) {
	backend, err := r.backend(chainID)
	if err != nil {
		return nil, err
	}
	l, ok := layouts[version]
	if !ok {
		return nil, engerrors.NewConfigError(fmt.Sprintf("unsupported contract version %s", version))
	}

	values, err := backend.Call(ctx, version, contract, l.GetCampaignMethod, new(big.Int).SetUint64(campaignID))
	if err != nil {
		return nil, err
	}

	snapshot, err := decodeSnapshot(version, values)
	if err != nil {
		return nil, engerrors.NewInternalError(chainID, err.Error(), err)
	}

	// V5's public mapping getter does not revert for out-of-range ids, it
	// returns an all-zero struct. A campaign without a submitter was never
	// created.
	if snapshot.SubmitterAddress == (common.Address{}) {
		return nil, engerrors.NewNotFoundError(chainID,
			fmt.Sprintf("campaign %d does not exist on %s", campaignID, contract.Hex()))
	}

	snapshot.ChainID = chainID
	snapshot.ContractAddress = contract
	snapshot.CampaignID = campaignID
	return snapshot, nil
}

// FeeConfig returns the contract's current fee and royalty basis points.
func (r *Reader) FeeConfig(ctx context.Context, chainID string, contract common.Address, version ContractVersion) (*FeeConfig, error) {
	backend, err := r.backend(chainID)
	if err != nil {
		return nil, err
	}
	values, err := backend.Call(ctx, version, contract, "feeConfig")
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, engerrors.NewInternalError(chainID, "feeConfig returned unexpected shape", nil)
	}
	feeBps, err := asBigInt(values[0])
	if err != nil {
		return nil, engerrors.NewInternalError(chainID, err.Error(), err)
	}
	royaltyBps, err := asBigInt(values[1])
	if err != nil {
		return nil, engerrors.NewInternalError(chainID, err.Error(), err)
	}
	return &FeeConfig{FeeBps: feeBps, RoyaltyBps: royaltyBps}, nil
}

// PlatformTreasury returns the contract's current treasury address.
func (r *Reader) PlatformTreasury(ctx context.Context, chainID string, contract common.Address, version ContractVersion) (common.Address, error) {
	backend, err := r.backend(chainID)
	if err != nil {
		return common.Address{}, err
	}
	values, err := backend.Call(ctx, version, contract, "platformTreasury")
	if err != nil {
		return common.Address{}, err
	}
	if len(values) != 1 {
		return common.Address{}, engerrors.NewInternalError(chainID, "platformTreasury returned unexpected shape", nil)
	}
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, engerrors.NewInternalError(chainID, err.Error(), err)
	}
	return addr, nil
}

// ContractBalance returns the contract's native-token balance, the escrow
// still held for undistributed funds and tips.
func (r *Reader) ContractBalance(ctx context.Context, chainID string, contract common.Address) (*big.Int, error) {
	backend, err := r.backend(chainID)
	if err != nil {
		return nil, err
	}
	return backend.BalanceAt(ctx, contract)
}

// Owner returns the contract owner.
func (r *Reader) Owner(ctx context.Context, chainID string, contract common.Address, version ContractVersion) (common.Address, error) {
	backend, err := r.backend(chainID)
	if err != nil {
		return common.Address{}, err
	}
	values, err := backend.Call(ctx, version, contract, "owner")
	if err != nil {
		return common.Address{}, err
	}
	if len(values) != 1 {
		return common.Address{}, engerrors.NewInternalError(chainID, "owner returned unexpected shape", nil)
	}
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, engerrors.NewInternalError(chainID, err.Error(), err)
	}
	return addr, nil
}
