package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSnapshot_V5AbsentFieldsAreNil(t *testing.T) {
	submitter := common.HexToAddress("0x1111111111111111111111111111111111111111")
	nonprofit := common.HexToAddress("0x2222222222222222222222222222222222222222")

	snapshot, err := decodeSnapshot(VersionV5, v5Values(submitter, nonprofit, 42, 7e17))
	require.NoError(t, err)

	assert.Equal(t, "education", snapshot.Category)
	assert.Equal(t, uint64(42), snapshot.EditionsMinted)
	assert.Equal(t, big.NewInt(7e17), snapshot.GrossRaisedWei)

	// V5 never tracked these; absence is explicit, not zero.
	assert.Nil(t, snapshot.NetRaisedWei)
	assert.Nil(t, snapshot.TipsReceivedWei)
	assert.Nil(t, snapshot.GoalUsd)
	assert.Nil(t, snapshot.Paused)
	assert.Nil(t, snapshot.ImmediatePayoutEnabled)

	assert.False(t, snapshot.SupportsTips())
	// availability math falls back to gross
	assert.Equal(t, big.NewInt(7e17), snapshot.AuthoritativeRaised())
}

func TestDecodeSnapshot_V8FullShape(t *testing.T) {
	submitter := common.HexToAddress("0x3333333333333333333333333333333333333333")
	nonprofit := common.HexToAddress("0x4444444444444444444444444444444444444444")

	snapshot, err := decodeSnapshot(VersionV8, v8Values(submitter, nonprofit, 100, 1000, 2e18, 19e17, 5e16))
	require.NoError(t, err)

	assert.Equal(t, submitter, snapshot.SubmitterAddress)
	assert.Equal(t, nonprofit, snapshot.NonprofitAddress)
	assert.Equal(t, uint64(100), snapshot.EditionsMinted)
	assert.Equal(t, uint64(1000), snapshot.MaxEditions)

	require.NotNil(t, snapshot.NetRaisedWei)
	assert.Equal(t, big.NewInt(19e17), snapshot.NetRaisedWei)
	assert.Equal(t, big.NewInt(19e17), snapshot.AuthoritativeRaised())

	require.NotNil(t, snapshot.TipsReceivedWei)
	assert.True(t, snapshot.SupportsTips())

	require.NotNil(t, snapshot.GoalUsd)
	assert.True(t, snapshot.GoalUsd.Equal(decimal.NewFromInt(1200))) // 120000 cents

	require.NotNil(t, snapshot.ImmediatePayoutEnabled)
	assert.True(t, *snapshot.ImmediatePayoutEnabled)
	require.NotNil(t, snapshot.Paused)
	assert.False(t, *snapshot.Paused)
}

func TestDecodeSnapshot_ShortOutputRejected(t *testing.T) {
	_, err := decodeSnapshot(VersionV5, []interface{}{"water", "ipfs://x"})
	require.ErrorContains(t, err, "expects")
}

func TestDecodeSnapshot_WrongTypeRejected(t *testing.T) {
	values := v5Values(common.Address{1}, common.Address{2}, 1, 1)
	values[2] = "not a big int" // goalWei position
	_, err := decodeSnapshot(VersionV5, values)
	require.ErrorContains(t, err, "expected *big.Int")
}

func TestDecodeSnapshot_UnknownVersion(t *testing.T) {
	_, err := decodeSnapshot(ContractVersion("V99"), nil)
	require.ErrorContains(t, err, "no layout registered")
}

func TestEveryKnownVersionHasLayoutAndABI(t *testing.T) {
	for _, version := range KnownVersions {
		assert.True(t, version.Valid(), version)
		_, err := abiFor(version)
		assert.NoError(t, err, version)

		// Each layout's positions must be dense and unique.
		l := layouts[version]
		seen := map[int]bool{}
		for _, spec := range l.Fields {
			assert.False(t, seen[spec.Pos], "duplicate position in %s", version)
			seen[spec.Pos] = true
		}
		for i := 0; i < len(l.Fields); i++ {
			assert.True(t, seen[i], "gap at position %d in %s", i, version)
		}
	}
}
