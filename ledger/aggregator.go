package ledger

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/causelift/campaign-engine/chains/evm"
	engerrors "github.com/causelift/campaign-engine/errors"
)

// CampaignReader is the slice of the chain reader the aggregator needs.
type CampaignReader interface {
	TotalCampaigns(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion) (uint64, error)
	ReadCampaign(ctx context.Context, chainID string, contract common.Address, version evm.ContractVersion, campaignID uint64) (*evm.CampaignSnapshot, error)
}

// Aggregator scans every registered contract concurrently, bounded per chain
// so one chain's providers are never hammered by the whole scan at once.
type Aggregator struct {
	reader   CampaignReader
	registry []Entry
	sems     map[string]*semaphore.Weighted // per-chain concurrency bound
	// maxCampaignID caps how many ids are read per contract (0 = no cap),
	// protecting scan time against a contract with a runaway count.
	maxCampaignID uint64
	logger        zerolog.Logger
}

// NewAggregator creates an aggregator over the registry. chainLimits maps
// chain id to its max concurrent in-flight reads.
func NewAggregator(reader CampaignReader, registry []Entry, chainLimits map[string]int64, maxCampaignID uint64, logger zerolog.Logger) *Aggregator {
	sems := make(map[string]*semaphore.Weighted)
	for _, entry := range registry {
		if _, ok := sems[entry.ChainID]; ok {
			continue
		}
		limit := chainLimits[entry.ChainID]
		if limit <= 0 {
			limit = 4
		}
		sems[entry.ChainID] = semaphore.NewWeighted(limit)
	}
	return &Aggregator{
		reader:        reader,
		registry:      registry,
		sems:          sems,
		maxCampaignID: maxCampaignID,
		logger:        logger.With().Str("component", "ledger_aggregator").Logger(),
	}
}

// ScanAll reads every campaign on every registered contract. A single failed
// read is recorded in the view and never aborts the scan; only context
// cancellation stops it early.
func (a *Aggregator) ScanAll(ctx context.Context) (*LedgerView, error) {
	view := NewView()
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, entry := range a.registry {
		wg.Add(1)
		go func(entry Entry) {
			defer wg.Done()
			a.scanContract(ctx, entry, view, &mu)
		}(entry)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return view, err
	}

	a.logger.Info().
		Int("snapshots", len(view.Snapshots)).
		Int("failed_reads", len(view.Failures)).
		Int("failed_contracts", len(view.ContractFailures)).
		Msg("ledger scan complete")
	return view, nil
}

func (a *Aggregator) scanContract(ctx context.Context, entry Entry, view *LedgerView, mu *sync.Mutex) {
	log := a.logger.With().
		Str("chain", entry.ChainID).
		Str("contract", entry.ContractAddress.Hex()).
		Str("version", string(entry.Version)).
		Logger()

	total, err := a.reader.TotalCampaigns(ctx, entry.ChainID, entry.ContractAddress, entry.Version)
	if err != nil {
		log.Error().Err(err).Msg("totalCampaigns failed, contract state unknown")
		mu.Lock()
		view.ContractFailures = append(view.ContractFailures, ContractFailure{
			ChainID:         entry.ChainID,
			ContractAddress: entry.ContractAddress,
			Err:             err,
		})
		mu.Unlock()
		return
	}

	scanUpTo := total
	if a.maxCampaignID > 0 && scanUpTo > a.maxCampaignID {
		log.Warn().
			Uint64("total", total).
			Uint64("cap", a.maxCampaignID).
			Msg("campaign count exceeds scan cap, truncating")
		scanUpTo = a.maxCampaignID
	}

	mu.Lock()
	view.SetScanRange(entry.ContractAddress, scanUpTo, total)
	mu.Unlock()

	sem := a.sems[entry.ChainID]
	var wg sync.WaitGroup

	for id := uint64(0); id < scanUpTo; id++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			defer sem.Release(1)

			snapshot, err := a.reader.ReadCampaign(ctx, entry.ChainID, entry.ContractAddress, entry.Version, id)
			if err != nil {
				// A confirmed not-found inside range is fine (burned or
				// skipped id); only real faults go into the failure list.
				if engerrors.IsCode(err, engerrors.ErrCodeNotFound) {
					return
				}
				mu.Lock()
				view.AddReadFailure(ReadFailure{
					ChainID:         entry.ChainID,
					ContractAddress: entry.ContractAddress,
					CampaignID:      id,
					Err:             err,
				})
				mu.Unlock()
				return
			}

			mu.Lock()
			view.AddSnapshot(snapshot)
			mu.Unlock()
		}(id)
	}

	wg.Wait()
}
