package reconcile

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/causelift/campaign-engine/ledger"
	"github.com/causelift/campaign-engine/store"
)

// recordKey identifies a cache record's claimed on-chain position.
type recordKey struct {
	contract   string // lowercased
	campaignID uint64
}

// Reconcile classifies every divergence between the ledger view and the
// cache records. Pure function: no state is read or written beyond the
// arguments. Records hidden by soft delete must already be filtered out by
// the caller's query.
//
// Every snapshot and every record receives at most one classification.
// Records behind a failed read are skipped entirely: unknown is not a
// discrepancy.
func Reconcile(view *ledger.LedgerView, records []store.CampaignRecord) []Discrepancy {
	var out []Discrepancy

	// Index linked records by claimed (contract, campaignId), and all
	// records by metadata URI for the secondary match.
	linked := make(map[recordKey][]*store.CampaignRecord)
	byURI := make(map[string][]*store.CampaignRecord)
	for i := range records {
		record := &records[i]
		if record.Linked() {
			key := recordKey{
				contract:   strings.ToLower(record.ContractAddress),
				campaignID: *record.CampaignID,
			}
			linked[key] = append(linked[key], record)
		}
		if record.MetadataURI != "" {
			byURI[record.MetadataURI] = append(byURI[record.MetadataURI], record)
		}
	}

	matched := make(map[uint]bool) // record ids consumed by a snapshot

	for _, snapshot := range view.Snapshots {
		key := recordKey{
			contract:   strings.ToLower(snapshot.ContractAddress.Hex()),
			campaignID: snapshot.CampaignID,
		}
		campaignID := snapshot.CampaignID

		if claimants := linked[key]; len(claimants) > 0 {
			// Primary match. Count divergence on the first claimant; extra
			// claimants surface as DUPLICATE_LINK in the second pass.
			record := claimants[0]
			matched[record.ID] = true
			if record.SoldCount != snapshot.EditionsMinted {
				out = append(out, Discrepancy{
					Kind:            KindSoldCountMismatch,
					Priority:        PriorityHigh,
					ChainID:         snapshot.ChainID,
					ContractAddress: snapshot.ContractAddress.Hex(),
					ContractVersion: snapshot.ContractVersion,
					CampaignID:      &campaignID,
					RecordID:        record.ID,
					EditionsMinted:  snapshot.EditionsMinted,
					CacheSoldCount:  record.SoldCount,
					Detail: fmt.Sprintf("cache sold count %d != on-chain editions minted %d",
						record.SoldCount, snapshot.EditionsMinted),
				})
			}
			continue
		}

		// Secondary match: same metadata URI, different (or no) campaign id.
		if snapshot.MetadataURI != "" {
			if candidates := uriCandidates(byURI[snapshot.MetadataURI], matched); len(candidates) > 0 {
				record := candidates[0]
				matched[record.ID] = true
				out = append(out, Discrepancy{
					Kind:            KindUnlinkedMetadataMatch,
					Priority:        PriorityHigh,
					ChainID:         snapshot.ChainID,
					ContractAddress: snapshot.ContractAddress.Hex(),
					ContractVersion: snapshot.ContractVersion,
					CampaignID:      &campaignID,
					RecordID:        record.ID,
					EditionsMinted:  snapshot.EditionsMinted,
					MetadataURI:     snapshot.MetadataURI,
					Detail:          "metadata URI matches but record claims a different campaign id; candidate relink, requires confirmation",
				})
				continue
			}
		}

		// No record at all.
		priority := PriorityLow
		detail := "no cache record; zero editions minted, likely a failed creation retry"
		if snapshot.EditionsMinted > 0 {
			priority = PriorityHigh
			detail = fmt.Sprintf("no cache record but %d editions minted; sales occurred with no visible record", snapshot.EditionsMinted)
		}
		out = append(out, Discrepancy{
			Kind:            KindOrphanOnChain,
			Priority:        priority,
			ChainID:         snapshot.ChainID,
			ContractAddress: snapshot.ContractAddress.Hex(),
			ContractVersion: snapshot.ContractVersion,
			CampaignID:      &campaignID,
			EditionsMinted:  snapshot.EditionsMinted,
			MetadataURI:     snapshot.MetadataURI,
			Detail:          detail,
		})
	}

	// Records whose claimed position never matched a snapshot.
	for i := range records {
		record := &records[i]
		if !record.Linked() || matched[record.ID] {
			continue
		}
		// Only claim MISSING_ON_CHAIN when the scan confirmed absence; a
		// failed read leaves the record's status unknown.
		addr := parseAddress(record.ContractAddress)
		if !view.ConfirmedAbsent(addr, *record.CampaignID) {
			continue
		}
		campaignID := *record.CampaignID
		out = append(out, Discrepancy{
			Kind:            KindMissingOnChain,
			Priority:        PriorityHigh,
			ChainID:         record.ChainID,
			ContractAddress: record.ContractAddress,
			CampaignID:      &campaignID,
			RecordID:        record.ID,
			CacheSoldCount:  record.SoldCount,
			Detail:          fmt.Sprintf("record %d claims campaign %d which does not resolve on-chain", record.ID, campaignID),
		})
	}

	// Keys claimed by more than one non-deleted record.
	for key, claimants := range linked {
		if len(claimants) < 2 {
			continue
		}
		ids := make([]uint, 0, len(claimants))
		for _, record := range claimants {
			ids = append(ids, record.ID)
		}
		campaignID := key.campaignID
		out = append(out, Discrepancy{
			Kind:            KindDuplicateLink,
			Priority:        PriorityHigh,
			ContractAddress: key.contract,
			CampaignID:      &campaignID,
			RecordIDs:       ids,
			Detail:          fmt.Sprintf("%d records claim (%s, %d)", len(claimants), key.contract, campaignID),
		})
	}

	return out
}

func parseAddress(s string) common.Address {
	return common.HexToAddress(s)
}

// uriCandidates filters metadata-URI matches down to records not already
// consumed by a primary match.
func uriCandidates(records []*store.CampaignRecord, matched map[uint]bool) []*store.CampaignRecord {
	var out []*store.CampaignRecord
	for _, record := range records {
		if !matched[record.ID] {
			out = append(out, record)
		}
	}
	return out
}
