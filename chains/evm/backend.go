package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	engerrors "github.com/causelift/campaign-engine/errors"
	"github.com/causelift/campaign-engine/rpcpool"
)

// ContractBackend abstracts the RPC surface the reader and writer need, so
// tests can run against a fake instead of a live provider. Call returns the
// method's decoded output values in declared order; a single named-tuple
// output is flattened into its components, giving every contract version a
// positional shape for the layout table to index.
type ContractBackend interface {
	Call(ctx context.Context, version ContractVersion, contract common.Address, method string, args ...interface{}) ([]interface{}, error)
	Submit(ctx context.Context, version ContractVersion, contract common.Address, method string, args ...interface{}) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*Receipt, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// receiptPollInterval is how often WaitMined re-queries a pending receipt.
const receiptPollInterval = 3 * time.Second

// Backend is the ethclient-backed implementation of ContractBackend for one
// chain, with endpoint failover and request pacing.
type Backend struct {
	chainID    string
	numericID  *big.Int
	pool       *rpcpool.Pool
	limiter    *rate.Limiter
	relayerKey *ecdsa.PrivateKey
	logger     zerolog.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewBackend creates a backend for the given CAIP-2 chain id. relayerKeyHex
// may be empty for a read-only backend; Submit then fails with a config
// error instead of at dial time.
func NewBackend(chainID string, urls []string, ratePerSecond int, relayerKeyHex string, logger zerolog.Logger) (*Backend, error) {
	numericID, err := parseEVMChainID(chainID)
	if err != nil {
		return nil, err
	}

	pool, err := rpcpool.NewPool(chainID, urls, logger)
	if err != nil {
		return nil, err
	}

	var key *ecdsa.PrivateKey
	if relayerKeyHex != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(relayerKeyHex, "0x"))
		if err != nil {
			return nil, engerrors.NewConfigError(fmt.Sprintf("invalid relayer key for chain %s: %v", chainID, err))
		}
	}

	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}

	return &Backend{
		chainID:    chainID,
		numericID:  numericID,
		pool:       pool,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), ratePerSecond),
		relayerKey: key,
		logger:     logger.With().Str("component", "evm_backend").Str("chain", chainID).Logger(),
		clients:    make(map[string]*ethclient.Client),
	}, nil
}

// parseEVMChainID extracts the numeric id from a CAIP-2 identifier such as
// "eip155:11155111".
func parseEVMChainID(chainID string) (*big.Int, error) {
	parts := strings.SplitN(chainID, ":", 2)
	if len(parts) != 2 || parts[0] != "eip155" {
		return nil, engerrors.NewConfigError(fmt.Sprintf("chain id %q is not CAIP-2 eip155 format", chainID))
	}
	n, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, engerrors.NewConfigError(fmt.Sprintf("chain id %q has non-numeric reference", chainID))
	}
	return big.NewInt(n), nil
}

func (b *Backend) client(endpoint *rpcpool.Endpoint) (*ethclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[endpoint.URL]; ok {
		return c, nil
	}
	c, err := ethclient.Dial(endpoint.URL)
	if err != nil {
		return nil, err
	}
	b.clients[endpoint.URL] = c
	return c, nil
}

// withFailover runs fn against up to three endpoints before giving up.
func (b *Backend) withFailover(ctx context.Context, operation string, fn func(*ethclient.Client) error) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		endpoint := b.pool.Select()
		client, err := b.client(endpoint)
		if err != nil {
			endpoint.MarkFailure()
			lastErr = err
			continue
		}

		if err := fn(client); err != nil {
			if isProviderFault(err) {
				endpoint.MarkFailure()
				lastErr = err
				continue
			}
			endpoint.MarkSuccess()
			return err
		}

		endpoint.MarkSuccess()
		return nil
	}

	return engerrors.NewRPCError(b.chainID, operation+" failed on all endpoints", lastErr)
}

// isProviderFault distinguishes transport faults (endpoint's fault, try the
// next one) from contract-level errors like reverts (same on any endpoint).
func isProviderFault(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") {
		return false
	}
	return true
}

// Call executes a read-only contract call. No retries happen here beyond
// endpoint failover within a single attempt; the caller owns retry policy so
// that read semantics stay predictable for the reconciler.
func (b *Backend) Call(ctx context.Context, version ContractVersion, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := abiFor(version)
	if err != nil {
		return nil, err
	}

	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, engerrors.New(engerrors.ErrCodeInternal, b.chainID, fmt.Sprintf("pack %s", method), err)
	}

	var output []byte
	callErr := b.withFailover(ctx, method, func(client *ethclient.Client) error {
		out, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	if callErr != nil {
		if strings.Contains(strings.ToLower(callErr.Error()), "execution reverted") {
			return nil, engerrors.NewNotFoundError(b.chainID, fmt.Sprintf("%s reverted on %s", method, contract.Hex()))
		}
		return nil, engerrors.WrapEngineError(callErr, engerrors.ErrCodeRPC, b.chainID, method)
	}

	m, ok := parsed.Methods[method]
	if !ok {
		return nil, engerrors.New(engerrors.ErrCodeInternal, b.chainID, fmt.Sprintf("unknown method %s", method), nil)
	}
	values, err := m.Outputs.UnpackValues(output)
	if err != nil {
		return nil, engerrors.New(engerrors.ErrCodeInternal, b.chainID, fmt.Sprintf("unpack %s", method), err)
	}

	return flattenSingleTuple(m, values), nil
}

// flattenSingleTuple expands a lone named-tuple output into its component
// values so versioned layouts always see a positional array.
func flattenSingleTuple(m abi.Method, values []interface{}) []interface{} {
	if len(values) != 1 || len(m.Outputs) != 1 || m.Outputs[0].Type.T != abi.TupleTy {
		return values
	}
	v := reflect.ValueOf(values[0])
	if v.Kind() != reflect.Struct {
		return values
	}
	flat := make([]interface{}, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		flat[i] = v.Field(i).Interface()
	}
	return flat
}

// Submit signs and broadcasts a state-changing call with the relayer key.
// There is no cancellation once broadcast; callers persist their intent
// before invoking this.
func (b *Backend) Submit(ctx context.Context, version ContractVersion, contract common.Address, method string, args ...interface{}) (common.Hash, error) {
	if b.relayerKey == nil {
		return common.Hash{}, engerrors.NewConfigError(fmt.Sprintf("no relayer key configured for chain %s", b.chainID))
	}

	parsed, err := abiFor(version)
	if err != nil {
		return common.Hash{}, err
	}
	input, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Hash{}, engerrors.New(engerrors.ErrCodeInternal, b.chainID, fmt.Sprintf("pack %s", method), err)
	}

	from := crypto.PubkeyToAddress(b.relayerKey.PublicKey)
	var txHash common.Hash

	submitErr := b.withFailover(ctx, method, func(client *ethclient.Client) error {
		nonce, err := client.PendingNonceAt(ctx, from)
		if err != nil {
			return err
		}
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return err
		}
		gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &contract, Data: input})
		if err != nil {
			return err
		}

		tx := types.NewTransaction(nonce, contract, big.NewInt(0), gasLimit, gasPrice, input)
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.numericID), b.relayerKey)
		if err != nil {
			return err
		}
		if err := client.SendTransaction(ctx, signed); err != nil {
			return err
		}
		txHash = signed.Hash()
		return nil
	})
	if submitErr != nil {
		if strings.Contains(strings.ToLower(submitErr.Error()), "insufficient funds") {
			return common.Hash{}, engerrors.NewInsufficientFundsError(b.chainID,
				fmt.Sprintf("relayer %s cannot cover %s", from.Hex(), method), "unknown")
		}
		return common.Hash{}, engerrors.WrapEngineError(submitErr, engerrors.ErrCodeRPC, b.chainID, method)
	}

	b.logger.Info().
		Str("method", method).
		Str("contract", contract.Hex()).
		Str("tx_hash", txHash.Hex()).
		Msg("transaction broadcast")
	return txHash, nil
}

// WaitMined polls for the receipt until the context expires. A context
// timeout is NOT a transaction failure: the tx may still mine, so the
// caller must keep its record pending and recover via the hash later.
func (b *Backend) WaitMined(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := b.withFailover(ctx, "receipt", func(client *ethclient.Client) error {
			r, err := client.TransactionReceipt(ctx, txHash)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
		if err == nil && receipt != nil {
			return &Receipt{
				TxHash:  txHash,
				Success: receipt.Status == types.ReceiptStatusSuccessful,
				GasUsed: receipt.GasUsed,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, engerrors.New(engerrors.ErrCodeTimeout, b.chainID,
				fmt.Sprintf("receipt wait for %s timed out", txHash.Hex()), ctx.Err())
		case <-ticker.C:
		}
	}
}

// BalanceAt returns the current balance of an account.
func (b *Backend) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var balance *big.Int
	err := b.withFailover(ctx, "balance_at", func(client *ethclient.Client) error {
		bal, err := client.BalanceAt(ctx, account, nil)
		if err != nil {
			return err
		}
		balance = bal
		return nil
	})
	if err != nil {
		return nil, engerrors.WrapEngineError(err, engerrors.ErrCodeRPC, b.chainID, "balance_at")
	}
	return balance, nil
}
