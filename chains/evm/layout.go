package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// fieldID names a CampaignSnapshot field a contract output can map onto.
type fieldID int

const (
	fieldCategory fieldID = iota
	fieldMetadataURI
	fieldGoalNative
	fieldGoalUsdCents
	fieldGrossRaised
	fieldNetRaised
	fieldTipsReceived
	fieldEditionsMinted
	fieldMaxEditions
	fieldPrice
	fieldSubmitter
	fieldNonprofit
	fieldActive
	fieldPaused
	fieldClosed
	fieldRefunded
	fieldImmediatePayout
)

// fieldSpec binds one output position of a contract's campaign getter to a
// snapshot field.
type fieldSpec struct {
	Pos   int
	Field fieldID
}

// layout describes how one contract version exposes campaign state. Adding
// a version is a pure data addition here plus its ABI in abi.go.
type layout struct {
	GetCampaignMethod    string
	TotalCampaignsMethod string
	Fields               []fieldSpec
}

// layouts is the version table. V5 returns a positional array from a public
// mapping getter; V6/V7 grew tips, pause, net-raised and USD goal tracking;
// V8 switched to a named tuple and moved the address pair to the front.
var layouts = map[ContractVersion]layout{
	VersionV5: {
		GetCampaignMethod:    "campaigns",
		TotalCampaignsMethod: "campaignCount",
		Fields: []fieldSpec{
			{0, fieldCategory},
			{1, fieldMetadataURI},
			{2, fieldGoalNative},
			{3, fieldPrice},
			{4, fieldGrossRaised},
			{5, fieldEditionsMinted},
			{6, fieldMaxEditions},
			{7, fieldSubmitter},
			{8, fieldNonprofit},
			{9, fieldActive},
			{10, fieldClosed},
			{11, fieldRefunded},
		},
	},
	VersionV6: {
		GetCampaignMethod:    "getCampaign",
		TotalCampaignsMethod: "totalCampaigns",
		Fields: []fieldSpec{
			{0, fieldCategory},
			{1, fieldMetadataURI},
			{2, fieldGoalNative},
			{3, fieldPrice},
			{4, fieldGrossRaised},
			{5, fieldTipsReceived},
			{6, fieldEditionsMinted},
			{7, fieldMaxEditions},
			{8, fieldSubmitter},
			{9, fieldNonprofit},
			{10, fieldActive},
			{11, fieldPaused},
			{12, fieldClosed},
			{13, fieldRefunded},
		},
	},
	VersionV7: {
		GetCampaignMethod:    "getCampaign",
		TotalCampaignsMethod: "totalCampaigns",
		Fields: []fieldSpec{
			{0, fieldCategory},
			{1, fieldMetadataURI},
			{2, fieldGoalNative},
			{3, fieldGoalUsdCents},
			{4, fieldPrice},
			{5, fieldGrossRaised},
			{6, fieldNetRaised},
			{7, fieldTipsReceived},
			{8, fieldEditionsMinted},
			{9, fieldMaxEditions},
			{10, fieldSubmitter},
			{11, fieldNonprofit},
			{12, fieldActive},
			{13, fieldPaused},
			{14, fieldClosed},
			{15, fieldRefunded},
		},
	},
	VersionV8: {
		GetCampaignMethod:    "getCampaign",
		TotalCampaignsMethod: "totalCampaigns",
		Fields: []fieldSpec{
			{0, fieldSubmitter},
			{1, fieldNonprofit},
			{2, fieldCategory},
			{3, fieldMetadataURI},
			{4, fieldGoalNative},
			{5, fieldGoalUsdCents},
			{6, fieldPrice},
			{7, fieldGrossRaised},
			{8, fieldNetRaised},
			{9, fieldTipsReceived},
			{10, fieldEditionsMinted},
			{11, fieldMaxEditions},
			{12, fieldImmediatePayout},
			{13, fieldActive},
			{14, fieldPaused},
			{15, fieldClosed},
			{16, fieldRefunded},
		},
	},
}

// decodeSnapshot maps the raw output values of a campaign getter onto the
// normalized schema using the version's layout. Fields the layout does not
// mention stay at their explicit-absence zero values (nil pointers).
func decodeSnapshot(version ContractVersion, values []interface{}) (*CampaignSnapshot, error) {
	l, ok := layouts[version]
	if !ok {
		return nil, fmt.Errorf("no layout registered for contract version %s", version)
	}

	snapshot := &CampaignSnapshot{ContractVersion: version}
	for _, spec := range l.Fields {
		if spec.Pos >= len(values) {
			return nil, fmt.Errorf("version %s layout expects %d outputs, got %d",
				version, spec.Pos+1, len(values))
		}
		if err := applyField(snapshot, spec.Field, values[spec.Pos]); err != nil {
			return nil, fmt.Errorf("version %s output %d: %w", version, spec.Pos, err)
		}
	}
	return snapshot, nil
}

func applyField(s *CampaignSnapshot, field fieldID, value interface{}) error {
	switch field {
	case fieldCategory:
		v, err := asString(value)
		if err != nil {
			return err
		}
		s.Category = v
	case fieldMetadataURI:
		v, err := asString(value)
		if err != nil {
			return err
		}
		s.MetadataURI = v
	case fieldGoalNative:
		v, err := asBigInt(value)
		if err != nil {
			return err
		}
		s.GoalNativeWei = v
	case fieldGoalUsdCents:
		v, err := asBigInt(value)
		if err != nil {
			return err
		}
		usd := decimal.NewFromBigInt(v, -2) // contract stores cents
		s.GoalUsd = &usd
	case fieldGrossRaised:
		v, err := asBigInt(value)
		if err != nil {
			return err
		}
		s.GrossRaisedWei = v
	case fieldNetRaised:
		v, err := asBigInt(value)
		if err != nil {
			return err
		}
		s.NetRaisedWei = v
	case fieldTipsReceived:
		v, err := asBigInt(value)
		if err != nil {
			return err
		}
		s.TipsReceivedWei = v
	case fieldEditionsMinted:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		s.EditionsMinted = v
	case fieldMaxEditions:
		v, err := asUint64(value)
		if err != nil {
			return err
		}
		s.MaxEditions = v
	case fieldPrice:
		v, err := asBigInt(value)
		if err != nil {
			return err
		}
		s.PriceWei = v
	case fieldSubmitter:
		v, err := asAddress(value)
		if err != nil {
			return err
		}
		s.SubmitterAddress = v
	case fieldNonprofit:
		v, err := asAddress(value)
		if err != nil {
			return err
		}
		s.NonprofitAddress = v
	case fieldActive:
		v, err := asBool(value)
		if err != nil {
			return err
		}
		s.Active = v
	case fieldPaused:
		v, err := asBool(value)
		if err != nil {
			return err
		}
		s.Paused = &v
	case fieldClosed:
		v, err := asBool(value)
		if err != nil {
			return err
		}
		s.Closed = v
	case fieldRefunded:
		v, err := asBool(value)
		if err != nil {
			return err
		}
		s.Refunded = v
	case fieldImmediatePayout:
		v, err := asBool(value)
		if err != nil {
			return err
		}
		s.ImmediatePayoutEnabled = &v
	default:
		return fmt.Errorf("unknown field id %d", field)
	}
	return nil
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func asBigInt(v interface{}) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", v)
	}
	return new(big.Int).Set(b), nil
}

func asUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case *big.Int:
		if !n.IsUint64() {
			return 0, fmt.Errorf("value %s overflows uint64", n)
		}
		return n.Uint64(), nil
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asAddress(v interface{}) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("expected address, got %T", v)
	}
	return a, nil
}

func asBool(v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}
