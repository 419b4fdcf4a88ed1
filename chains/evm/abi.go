package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Shared admin surface, identical across V5-V8.
const sharedABIFragment = `
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"feeConfig","stateMutability":"view","inputs":[],"outputs":[{"name":"feeBps","type":"uint256"},{"name":"royaltyBps","type":"uint256"}]},
	{"type":"function","name":"platformTreasury","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"withdrawTips","stateMutability":"nonpayable","inputs":[{"name":"campaignId","type":"uint256"},{"name":"submitterAmount","type":"uint256"},{"name":"nonprofitAmount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setFeeConfig","stateMutability":"nonpayable","inputs":[{"name":"feeBps","type":"uint256"},{"name":"royaltyBps","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setPlatformTreasury","stateMutability":"nonpayable","inputs":[{"name":"treasury","type":"address"}],"outputs":[]},
	{"type":"function","name":"setCampaignImmediatePayout","stateMutability":"nonpayable","inputs":[{"name":"campaignId","type":"uint256"},{"name":"enabled","type":"bool"}],"outputs":[]},
	{"type":"function","name":"updateCampaignPrice","stateMutability":"nonpayable","inputs":[{"name":"campaignId","type":"uint256"},{"name":"priceWei","type":"uint256"}],"outputs":[]}`

// Per-version campaign getters. Output order must match layout.go.
var versionABIFragments = map[ContractVersion]string{
	VersionV5: `
	{"type":"function","name":"campaignCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"campaigns","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
		{"name":"category","type":"string"},
		{"name":"metadataURI","type":"string"},
		{"name":"goalWei","type":"uint256"},
		{"name":"priceWei","type":"uint256"},
		{"name":"raisedWei","type":"uint256"},
		{"name":"minted","type":"uint256"},
		{"name":"maxEditions","type":"uint256"},
		{"name":"submitter","type":"address"},
		{"name":"nonprofit","type":"address"},
		{"name":"active","type":"bool"},
		{"name":"closed","type":"bool"},
		{"name":"refunded","type":"bool"}]}`,
	VersionV6: `
	{"type":"function","name":"totalCampaigns","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getCampaign","stateMutability":"view","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[
		{"name":"category","type":"string"},
		{"name":"metadataURI","type":"string"},
		{"name":"goalWei","type":"uint256"},
		{"name":"priceWei","type":"uint256"},
		{"name":"grossRaisedWei","type":"uint256"},
		{"name":"tipsReceivedWei","type":"uint256"},
		{"name":"minted","type":"uint256"},
		{"name":"maxEditions","type":"uint256"},
		{"name":"submitter","type":"address"},
		{"name":"nonprofit","type":"address"},
		{"name":"active","type":"bool"},
		{"name":"paused","type":"bool"},
		{"name":"closed","type":"bool"},
		{"name":"refunded","type":"bool"}]}`,
	VersionV7: `
	{"type":"function","name":"totalCampaigns","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getCampaign","stateMutability":"view","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[
		{"name":"category","type":"string"},
		{"name":"metadataURI","type":"string"},
		{"name":"goalWei","type":"uint256"},
		{"name":"goalUsdCents","type":"uint256"},
		{"name":"priceWei","type":"uint256"},
		{"name":"grossRaisedWei","type":"uint256"},
		{"name":"netRaisedWei","type":"uint256"},
		{"name":"tipsReceivedWei","type":"uint256"},
		{"name":"minted","type":"uint256"},
		{"name":"maxEditions","type":"uint256"},
		{"name":"submitter","type":"address"},
		{"name":"nonprofit","type":"address"},
		{"name":"active","type":"bool"},
		{"name":"paused","type":"bool"},
		{"name":"closed","type":"bool"},
		{"name":"refunded","type":"bool"}]}`,
	VersionV8: `
	{"type":"function","name":"totalCampaigns","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getCampaign","stateMutability":"view","inputs":[{"name":"campaignId","type":"uint256"}],"outputs":[{"name":"campaign","type":"tuple","components":[
		{"name":"submitter","type":"address"},
		{"name":"nonprofit","type":"address"},
		{"name":"category","type":"string"},
		{"name":"metadataURI","type":"string"},
		{"name":"goalWei","type":"uint256"},
		{"name":"goalUsdCents","type":"uint256"},
		{"name":"priceWei","type":"uint256"},
		{"name":"grossRaisedWei","type":"uint256"},
		{"name":"netRaisedWei","type":"uint256"},
		{"name":"tipsReceivedWei","type":"uint256"},
		{"name":"minted","type":"uint256"},
		{"name":"maxEditions","type":"uint256"},
		{"name":"immediatePayoutEnabled","type":"bool"},
		{"name":"active","type":"bool"},
		{"name":"paused","type":"bool"},
		{"name":"closed","type":"bool"},
		{"name":"refunded","type":"bool"}]}]}`,
}

// versionABIs holds the parsed ABI per contract version, built at init.
var versionABIs = map[ContractVersion]abi.ABI{}

func init() {
	for version, fragment := range versionABIFragments {
		raw := "[" + strings.TrimSpace(fragment) + "," + strings.TrimSpace(sharedABIFragment) + "]"
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid ABI for version %s: %v", version, err))
		}
		versionABIs[version] = parsed
	}
}

// abiFor returns the parsed ABI for a version.
func abiFor(version ContractVersion) (abi.ABI, error) {
	parsed, ok := versionABIs[version]
	if !ok {
		return abi.ABI{}, fmt.Errorf("no ABI registered for contract version %s", version)
	}
	return parsed, nil
}
