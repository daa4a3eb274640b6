package chain

import (
	"context"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/spokescan/spokescan/pkg/config"
	"go.uber.org/zap"
)

// Factory hands out one Reader per chain.
type Factory interface {
	Reader(ctx context.Context, chainID uint64) (Reader, error)
}

// EthFactory builds EthReaders from chain config and caches them.
type EthFactory struct {
	cfg     *config.Config
	logger  *zap.Logger
	readers *xsync.Map[uint64, Reader]
}

func NewEthFactory(cfg *config.Config, logger *zap.Logger) *EthFactory {
	return &EthFactory{cfg: cfg, logger: logger, readers: xsync.NewMap[uint64, Reader]()}
}

func (f *EthFactory) Reader(ctx context.Context, chainID uint64) (Reader, error) {
	if r, ok := f.readers.Load(chainID); ok {
		return r, nil
	}
	ch, ok := f.cfg.Chain(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %d is not configured", chainID)
	}
	r, err := NewEthReader(ctx, Opts{
		ChainID:     ch.ChainID,
		Endpoints:   ch.RPCEndpoints,
		CallTimeout: ch.CallTimeout,
		RPS:         ch.RPS,
		Burst:       ch.Burst,
	}, f.logger)
	if err != nil {
		return nil, err
	}
	actual, loaded := f.readers.LoadOrStore(chainID, r)
	if loaded {
		r.Close()
	}
	return actual, nil
}
