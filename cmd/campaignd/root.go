package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/causelift/campaign-engine/chains/evm"
	"github.com/causelift/campaign-engine/config"
	"github.com/causelift/campaign-engine/constant"
	"github.com/causelift/campaign-engine/db"
	"github.com/causelift/campaign-engine/distribution"
	"github.com/causelift/campaign-engine/governance"
	"github.com/causelift/campaign-engine/ledger"
	"github.com/causelift/campaign-engine/logger"
	"github.com/causelift/campaign-engine/reconcile"
)

var engineHome string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "campaignd",
		Short: "Campaign reconciliation and distribution engine",
		Long: "campaignd reads campaign state from EVM contracts across contract versions,\n" +
			"reconciles it against the local cache, executes fund distributions with\n" +
			"double-payment prevention, and governs settings changes through a\n" +
			"timelocked, multi-sig workflow.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&engineHome, "home", constant.DefaultEngineHome,
		"engine home directory")

	root.AddCommand(newServeCmd())
	root.AddCommand(newScanCmd())
	return root
}

// app bundles everything the commands need. Construction fails fast on a
// bad config; nothing is lazily wired at request time.
type app struct {
	cfg        config.Config
	log        zerolog.Logger
	database   *db.DB
	reader     *evm.Reader
	writer     *evm.Writer
	aggregator *ledger.Aggregator
	repairer   *reconcile.Repairer
	engine     *distribution.Engine
	governance *governance.Service
}

func buildApp() (*app, error) {
	cfg, err := config.Load(engineHome)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", engineHome, err)
	}
	if err := cfg.ValidateContracts(); err != nil {
		return nil, err
	}
	log := logger.Init(cfg)

	database, err := db.OpenFileDB(dataDir(), constant.DatabaseFileName, true)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backends := make(map[string]evm.ContractBackend)
	versions := make(map[string]evm.ContractVersion)
	registry := make([]ledger.Entry, 0, len(cfg.Contracts))
	chainLimits := make(map[string]int64)
	var confirmTimeout time.Duration

	for _, entry := range cfg.Contracts {
		chainCfg := cfg.GetChainConfig(entry.ChainID)
		if _, ok := backends[entry.ChainID]; !ok {
			backend, err := evm.NewBackend(entry.ChainID, chainCfg.RPCURLs,
				chainCfg.GetRateLimitPerSecond(), chainCfg.RelayerKeyHex, log)
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", entry.ChainID, err)
			}
			backends[entry.ChainID] = backend
			chainLimits[entry.ChainID] = chainCfg.GetMaxConcurrentReads()
		}
		versions[strings.ToLower(entry.ContractAddress)] = evm.ContractVersion(entry.Version)
		registry = append(registry, ledger.Entry{
			ChainID:         entry.ChainID,
			ContractAddress: common.HexToAddress(entry.ContractAddress),
			Version:         evm.ContractVersion(entry.Version),
		})

		timeout := time.Duration(chainCfg.GetConfirmationTimeoutSeconds()) * time.Second
		if timeout > confirmTimeout {
			confirmTimeout = timeout
		}
	}

	reader := evm.NewReader(backends, log)
	writer := evm.NewWriter(backends, log)

	return &app{
		cfg:        cfg,
		log:        log,
		database:   database,
		reader:     reader,
		writer:     writer,
		aggregator: ledger.NewAggregator(reader, registry, chainLimits, 0, log),
		repairer:   reconcile.NewRepairer(database, log),
		engine: distribution.NewEngine(database, reader, writer, versions,
			distribution.LogNotifier{Logger: log}, confirmTimeout, log),
		governance: governance.NewService(database, reader, writer, versions, cfg.Governance, log),
	}, nil
}

func (a *app) close() {
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.log.Error().Err(err).Msg("failed to close database")
		}
	}
}

func dataDir() string {
	return engineHome + string(os.PathSeparator) + constant.DataSubdir
}
