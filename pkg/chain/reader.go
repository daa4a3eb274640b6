package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spokescan/spokescan/pkg/metrics"
	"github.com/spokescan/spokescan/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Block is the subset of a header the pipeline needs.
type Block struct {
	Number uint64
	Hash   common.Hash
	Time   time.Time
}

// Transaction is the subset of a transaction the pipeline needs.
type Transaction struct {
	Hash        common.Hash
	From        common.Address
	BlockNumber uint64
	Input       []byte
}

// Reader is the read-only view of one chain used by the scanner and enrichment stages.
type Reader interface {
	ChainID() uint64
	LatestBlock(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number uint64) (Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (Transaction, error)
	FilterLogs(ctx context.Context, addresses []common.Address, from, to uint64) ([]types.Log, error)
	TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error)
}

// Opts configures an EthReader.
type Opts struct {
	ChainID         uint64
	Endpoints       []string
	CallTimeout     time.Duration
	RPS             int
	Burst           int
	BreakerFailures int
	BreakerCooldown time.Duration
}

type endpoint struct {
	url    string
	client *ethclient.Client
}

// EthReader talks JSON-RPC to a list of endpoints with failover, a per-endpoint
// circuit breaker and a shared token bucket. Every call is a fresh request.
type EthReader struct {
	chainID   uint64
	endpoints []endpoint
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger

	mu               sync.Mutex
	failures         map[string]int
	opened           map[string]time.Time
	breakerThreshold int
	breakerCooldown  time.Duration
}

// NewEthReader dials every endpoint. HTTP dials are lazy so this does no network I/O.
func NewEthReader(ctx context.Context, o Opts, logger *zap.Logger) (*EthReader, error) {
	if o.RPS <= 0 {
		o.RPS = 10
	}
	if o.Burst <= 0 {
		o.Burst = 2 * o.RPS
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}

	r := &EthReader{
		chainID:          o.ChainID,
		timeout:          o.CallTimeout,
		limiter:          rate.NewLimiter(rate.Limit(o.RPS), o.Burst),
		logger:           logger.With(zap.Uint64("chainId", o.ChainID)),
		failures:         map[string]int{},
		opened:           map[string]time.Time{},
		breakerThreshold: o.BreakerFailures,
		breakerCooldown:  o.BreakerCooldown,
	}
	for _, url := range utils.Dedup(o.Endpoints) {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		r.endpoints = append(r.endpoints, endpoint{url: url, client: c})
	}
	if len(r.endpoints) == 0 {
		return nil, fmt.Errorf("chain %d: no endpoints configured", o.ChainID)
	}
	return r, nil
}

func (r *EthReader) ChainID() uint64 { return r.chainID }

// Close releases every endpoint connection.
func (r *EthReader) Close() {
	for _, ep := range r.endpoints {
		ep.client.Close()
	}
}

func (r *EthReader) isOpen(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.opened[url]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(r.opened, url)
		r.failures[url] = 0
		return false
	}
	return true
}

func (r *EthReader) noteFailure(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[url]++
	if r.failures[url] >= r.breakerThreshold {
		r.opened[url] = time.Now().Add(r.breakerCooldown)
	}
}

func (r *EthReader) noteSuccess(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[url] = 0
}

// call runs fn against the first healthy endpoint, failing over on transport errors.
// Errors for which final returns true are handed back without trying another endpoint.
func (r *EthReader) call(ctx context.Context, method string, final func(error) bool, fn func(ctx context.Context, c *ethclient.Client) error) error {
	chainLabel := fmt.Sprint(r.chainID)
	var lastErr error
	for _, ep := range r.endpoints {
		if r.isOpen(ep.url) {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}

		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(cctx, ep.client)
		timedOut := errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()

		if err == nil {
			r.noteSuccess(ep.url)
			metrics.RPCCallsTotal.WithLabelValues(chainLabel, method, "ok").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if timedOut {
			err = fmt.Errorf("%w: %s via %s after %s", ErrTimeout, method, ep.url, r.timeout)
		}
		if final != nil && final(err) {
			metrics.RPCCallsTotal.WithLabelValues(chainLabel, method, "rejected").Inc()
			return err
		}

		metrics.RPCCallsTotal.WithLabelValues(chainLabel, method, "error").Inc()
		r.noteFailure(ep.url)
		r.logger.Warn("rpc call failed, trying next endpoint",
			zap.String("method", method),
			zap.String("endpoint", ep.url),
			zap.Error(err))
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("chain %d: all endpoints are circuit-open", r.chainID)
	}
	return lastErr
}

func (r *EthReader) LatestBlock(ctx context.Context) (uint64, error) {
	var n uint64
	err := r.call(ctx, "eth_blockNumber", nil, func(ctx context.Context, c *ethclient.Client) error {
		var err error
		n, err = c.BlockNumber(ctx)
		return err
	})
	return n, err
}

func (r *EthReader) BlockByNumber(ctx context.Context, number uint64) (Block, error) {
	var b Block
	err := r.call(ctx, "eth_getBlockByNumber", isNotFound, func(ctx context.Context, c *ethclient.Client) error {
		h, err := c.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return err
		}
		b = Block{Number: h.Number.Uint64(), Hash: h.Hash(), Time: time.Unix(int64(h.Time), 0).UTC()}
		return nil
	})
	return b, err
}

type rpcTransaction struct {
	Hash        common.Hash    `json:"hash"`
	From        common.Address `json:"from"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
	Input       hexutil.Bytes  `json:"input"`
}

// TransactionByHash fetches a mined transaction. Pending or unknown hashes yield ethereum.NotFound.
func (r *EthReader) TransactionByHash(ctx context.Context, hash common.Hash) (Transaction, error) {
	var tx Transaction
	err := r.call(ctx, "eth_getTransactionByHash", isNotFound, func(ctx context.Context, c *ethclient.Client) error {
		var raw *rpcTransaction
		if err := c.Client().CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
			return err
		}
		if raw == nil || raw.BlockNumber == nil {
			return ethereum.NotFound
		}
		tx = Transaction{Hash: raw.Hash, From: raw.From, BlockNumber: raw.BlockNumber.ToInt().Uint64(), Input: raw.Input}
		return nil
	})
	return tx, err
}

// FilterLogs runs one eth_getLogs over [from, to]. Range-limit errors come back as *RangeError.
func (r *EthReader) FilterLogs(ctx context.Context, addresses []common.Address, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	err := r.call(ctx, "eth_getLogs", IsRangeError, func(ctx context.Context, c *ethclient.Client) error {
		var err error
		logs, err = c.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: addresses,
		})
		return classifyLogsError(err, from, to, r.logger)
	})
	return logs, err
}

func isNotFound(err error) bool { return errors.Is(err, ethereum.NotFound) }
