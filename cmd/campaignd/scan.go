package main

import (
	"encoding/json"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/causelift/campaign-engine/reconcile"
	"github.com/causelift/campaign-engine/store"
)

func newScanCmd() *cobra.Command {
	var failuresOnly bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one reconciliation scan and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()

			view, err := app.aggregator.ScanAll(cmd.Context())
			if err != nil {
				return err
			}

			var records []store.CampaignRecord
			if err := app.database.Client().WithContext(cmd.Context()).
				Where("status <> ?", store.CampaignStatusHidden).
				Find(&records).Error; err != nil {
				return err
			}

			type escrowBalance struct {
				ChainID  string `json:"chain_id"`
				Contract string `json:"contract"`
				WeiHeld  string `json:"wei_held"`
			}
			balances := make([]escrowBalance, 0, len(app.cfg.Contracts))
			for _, entry := range app.cfg.Contracts {
				bal, err := app.reader.ContractBalance(cmd.Context(),
					entry.ChainID, common.HexToAddress(entry.ContractAddress))
				if err != nil {
					app.log.Warn().Err(err).
						Str("contract", entry.ContractAddress).
						Msg("escrow balance read failed")
					continue
				}
				balances = append(balances, escrowBalance{
					ChainID:  entry.ChainID,
					Contract: entry.ContractAddress,
					WeiHeld:  bal.String(),
				})
			}

			report := struct {
				Snapshots      int                     `json:"snapshots"`
				CacheRecords   int                     `json:"cache_records"`
				ReadFailures   int                     `json:"read_failures"`
				EscrowBalances []escrowBalance         `json:"escrow_balances"`
				Discrepancies  []reconcile.Discrepancy `json:"discrepancies"`
			}{
				Snapshots:      len(view.Snapshots),
				CacheRecords:   len(records),
				ReadFailures:   len(view.Failures) + len(view.ContractFailures),
				EscrowBalances: balances,
			}
			if !failuresOnly {
				report.Discrepancies = reconcile.Reconcile(view, records)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().BoolVar(&failuresOnly, "failures-only", false,
		"report only scan coverage and failures, skip classification")
	return cmd
}
