package distribution

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/causelift/campaign-engine/store"
)

// Notifier receives distribution outcomes. Notification is best-effort: a
// notifier error is logged and discarded, never allowed to influence a
// record's state transition.
type Notifier interface {
	DistributionSettled(ctx context.Context, record *store.DistributionRecord) error
}

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) DistributionSettled(context.Context, *store.DistributionRecord) error {
	return nil
}

// LogNotifier writes notifications to the service log. Stands in for the
// email integration in deployments that have none configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) DistributionSettled(_ context.Context, record *store.DistributionRecord) error {
	n.Logger.Info().
		Str("distribution_id", record.ID).
		Str("status", record.Status).
		Str("kind", record.Kind).
		Uint64("campaign_id", record.CampaignID).
		Str("total_wei", record.TotalAmountWei).
		Msg("distribution settled")
	return nil
}
