package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spokescan/spokescan/pkg/metrics"
	"go.uber.org/zap"
)

// FetchLogsAdaptive returns all logs in [from, to], halving any sub-range the provider
// rejects as too broad. Transport errors abort the whole call so the caller can retry the
// same range later. Logs come back in block order.
func FetchLogsAdaptive(ctx context.Context, r Reader, addresses []common.Address, from, to uint64, logger *zap.Logger) ([]types.Log, error) {
	if from > to {
		return nil, nil
	}
	type span struct{ from, to uint64 }
	// stack processed LIFO; push right half first so the left half runs first
	pending := []span{{from, to}}
	var out []types.Log
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		logs, err := r.FilterLogs(ctx, addresses, s.from, s.to)
		if err == nil {
			out = append(out, logs...)
			continue
		}

		var re *RangeError
		if !errors.As(err, &re) {
			return nil, err
		}
		if s.from == s.to {
			return nil, fmt.Errorf("single block %d still rejected: %w", s.from, err)
		}
		mid := s.from + (s.to-s.from)/2
		metrics.RangeSplitsTotal.WithLabelValues(fmt.Sprint(r.ChainID()), string(re.Kind)).Inc()
		logger.Debug("splitting log range",
			zap.Uint64("chainId", r.ChainID()),
			zap.Uint64("from", s.from),
			zap.Uint64("to", s.to),
			zap.String("kind", string(re.Kind)))
		pending = append(pending, span{mid + 1, s.to}, span{s.from, mid})
	}
	return out, nil
}
