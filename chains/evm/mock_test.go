package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	engerrors "github.com/causelift/campaign-engine/errors"
)

// fakeBackend serves canned positional output values keyed by method and
// first argument, recording every submit.
type fakeBackend struct {
	mu sync.Mutex

	chainID string
	calls   map[string][]interface{} // key: method or method:arg0
	callErr map[string]error

	submitted  []submittedTx
	submitErr  error
	nextHash   common.Hash
	receipts   map[common.Hash]*Receipt
	receiptErr error
	balance    *big.Int
}

type submittedTx struct {
	Method string
	Args   []interface{}
}

func newFakeBackend(chainID string) *fakeBackend {
	return &fakeBackend{
		chainID:  chainID,
		calls:    make(map[string][]interface{}),
		callErr:  make(map[string]error),
		receipts: make(map[common.Hash]*Receipt),
		nextHash: common.HexToHash("0xabc123"),
	}
}

func callKey(method string, args ...interface{}) string {
	if len(args) == 0 {
		return method
	}
	return fmt.Sprintf("%s:%v", method, args[0])
}

func (f *fakeBackend) setCall(method string, values []interface{}, args ...interface{}) {
	f.calls[callKey(method, args...)] = values
}

func (f *fakeBackend) setCallErr(method string, err error, args ...interface{}) {
	f.callErr[callKey(method, args...)] = err
}

func (f *fakeBackend) Call(ctx context.Context, version ContractVersion, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := callKey(method, args...)
	if err, ok := f.callErr[key]; ok {
		return nil, err
	}
	if values, ok := f.calls[key]; ok {
		return values, nil
	}
	return nil, engerrors.NewNotFoundError(f.chainID, fmt.Sprintf("no canned value for %s", key))
}

func (f *fakeBackend) Submit(ctx context.Context, version ContractVersion, contract common.Address, method string, args ...interface{}) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.submitted = append(f.submitted, submittedTx{Method: method, Args: args})
	return f.nextHash, nil
}

func (f *fakeBackend) WaitMined(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return &Receipt{TxHash: txHash, Success: true, GasUsed: 21000}, nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance != nil {
		return f.balance, nil
	}
	return big.NewInt(1e18), nil
}

// v8Values builds a V8-shaped positional output array.
func v8Values(submitter, nonprofit common.Address, minted, maxEditions uint64, gross, net, tips int64) []interface{} {
	return []interface{}{
		submitter,
		nonprofit,
		"water",
		"ipfs://QmCampaign",
		big.NewInt(5e18),       // goalWei
		big.NewInt(120000),     // goalUsdCents
		big.NewInt(1e17),       // priceWei
		big.NewInt(gross),      // grossRaisedWei
		big.NewInt(net),        // netRaisedWei
		big.NewInt(tips),       // tipsReceivedWei
		new(big.Int).SetUint64(minted),
		new(big.Int).SetUint64(maxEditions),
		true,  // immediatePayoutEnabled
		true,  // active
		false, // paused
		false, // closed
		false, // refunded
	}
}

// v5Values builds a V5-shaped positional output array.
func v5Values(submitter, nonprofit common.Address, minted uint64, raised int64) []interface{} {
	return []interface{}{
		"education",
		"ipfs://QmLegacy",
		big.NewInt(3e18), // goalWei
		big.NewInt(5e16), // priceWei
		big.NewInt(raised),
		new(big.Int).SetUint64(minted),
		big.NewInt(500), // maxEditions
		submitter,
		nonprofit,
		true,  // active
		false, // closed
		false, // refunded
	}
}
