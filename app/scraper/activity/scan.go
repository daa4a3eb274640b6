package activity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spokescan/spokescan/app/scraper/types"
	"github.com/spokescan/spokescan/pkg/chain"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/events"
	"github.com/spokescan/spokescan/pkg/metrics"
	"github.com/spokescan/spokescan/pkg/temporal"
	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

type handleFunc func(ctx context.Context, reader chain.Reader, evs []events.Event, res *types.ScanResult) error

// ScanBlocks reads the spoke pool logs of one range, stores new deposits and fans out the
// follow-up stages, then advances the chain's progress.
func (c *Context) ScanBlocks(ctx context.Context, in types.RangeInput) (res types.ScanResult, err error) {
	defer func() { observe(temporal.QueueBlocksEvents, err) }()
	ch, ok := c.Config.Chain(in.ChainID)
	if !ok || len(ch.SpokePools) == 0 {
		return res, sdktemporal.NewNonRetryableApplicationError(
			fmt.Sprintf("chain %d has no spoke pools", in.ChainID), "chain_config", nil)
	}
	return c.scan(ctx, in, store.KindSpokePool, ch.SpokePoolAddresses(), c.handleSpokePool)
}

// ScanMerkleDistributor reads reward claims of one range.
func (c *Context) ScanMerkleDistributor(ctx context.Context, in types.RangeInput) (res types.ScanResult, err error) {
	defer func() { observe(temporal.QueueMerkleDistributorBlocksEvents, err) }()
	ch, ok := c.Config.Chain(in.ChainID)
	if !ok || ch.MerkleDistributor == nil {
		return res, sdktemporal.NewNonRetryableApplicationError(
			fmt.Sprintf("chain %d has no merkle distributor", in.ChainID), "chain_config", nil)
	}
	addr := []common.Address{common.HexToAddress(ch.MerkleDistributor.Address)}
	return c.scan(ctx, in, store.KindMerkleDistributor, addr, c.handleClaims)
}

func (c *Context) scan(ctx context.Context, in types.RangeInput, kind string, addresses []common.Address, handle handleFunc) (types.ScanResult, error) {
	var res types.ScanResult
	if in.To < in.From {
		return res, sdktemporal.NewNonRetryableApplicationError(
			fmt.Sprintf("bad range %d-%d", in.From, in.To), "invalid_input", nil)
	}
	logger := c.Logger.With(
		zap.Uint64("chainId", in.ChainID),
		zap.String("kind", kind),
		zap.Uint64("from", in.From),
		zap.Uint64("to", in.To))

	last, ok, err := c.Store.LastProcessedBlock(ctx, in.ChainID, kind)
	if err != nil {
		return res, err
	}
	if ok && (in.To <= last || in.From != last+1) {
		// an older or overlapping range; the head producer issues the next one
		logger.Debug("Skipping stale range", zap.Uint64("processed", last))
		res.Skipped = true
		res.Processed = last
		return res, nil
	}

	reader, err := c.reader(ctx, in.ChainID)
	if err != nil {
		return res, err
	}
	logs, err := chain.FetchLogsAdaptive(ctx, reader, addresses, in.From, in.To, logger)
	if err != nil {
		return res, fmt.Errorf("fetch logs: %w", err)
	}
	res.Logs = len(logs)
	activity.RecordHeartbeat(ctx, "fetched_logs")

	evs := make([]events.Event, 0, len(logs))
	for _, l := range logs {
		ev, err := c.Decoder.Decode(in.ChainID, l)
		if err != nil {
			if !errors.Is(err, events.ErrUnknownEvent) && !errors.Is(err, events.ErrRemovedLog) {
				logger.Warn("Skipping undecodable log",
					zap.String("txHash", l.TxHash.Hex()),
					zap.Uint("logIndex", l.Index),
					zap.Error(err))
			}
			res.Undecoded++
			continue
		}
		evs = append(evs, ev)
	}

	if err := handle(ctx, reader, evs, &res); err != nil {
		return res, err
	}

	var prev uint64
	if in.From > 0 {
		prev = in.From - 1
	}
	advanced, err := c.Store.AdvanceProcessedBlock(ctx, in.ChainID, kind, prev, in.To)
	if err != nil {
		return res, err
	}
	if !advanced {
		// a concurrent scan of the same range won; everything above is idempotent
		logger.Warn("Processed block moved concurrently, progress left unchanged")
	} else {
		metrics.ProcessedBlock.WithLabelValues(strconv.FormatUint(in.ChainID, 10), kind).Set(float64(in.To))
	}
	res.Processed = in.To

	logger.Info("Scanned range",
		zap.Int("logs", res.Logs),
		zap.Int("deposits", res.Deposits),
		zap.Int("created", res.Created),
		zap.Int("fills", res.Fills),
		zap.Int("claims", res.Claims))
	return res, nil
}

// handleSpokePool stores deposits and routes fills, speed-ups and refunds to their queues.
// Follow-ups are enqueued for known deposits too: a retried scan must not lose them.
func (c *Context) handleSpokePool(ctx context.Context, _ chain.Reader, evs []events.Event, res *types.ScanResult) error {
	batches := map[temporal.Queue][]temporal.Message{}
	add := func(q temporal.Queue, m temporal.Message) { batches[q] = append(batches[q], m) }

	for _, ev := range evs {
		meta := ev.EventMeta()
		ref := types.EventRef{ChainID: meta.ChainID, TxHash: meta.TxHash.Hex(), LogIndex: meta.LogIndex}
		switch e := ev.(type) {
		case *events.DepositCreated:
			if e.OriginChainID != meta.ChainID {
				c.Logger.Warn("Deposit origin does not match scanned chain",
					zap.Uint64("chainId", meta.ChainID),
					zap.Uint64("originChainId", e.OriginChainID),
					zap.String("txHash", ref.TxHash))
				continue
			}
			d := store.DepositFromEvent(e)
			created, err := c.Store.CreateDeposit(ctx, d)
			if err != nil {
				return err
			}
			res.Deposits++
			if created {
				res.Created++
				c.notify(ctx, "created", d)
			}
			msg := types.DepositRef(d)
			add(temporal.QueueBlockNumber, msg)
			add(temporal.QueueTokenDetails, msg)
			add(temporal.QueueDepositReferral, msg)
		case *events.DepositFilled:
			msg := types.FillInput{
				EventRef:      ref,
				DepositID:     int64(e.DepositID),
				OriginChainID: e.OriginChainID,
				Fill:          store.FillFromEvent(e),
			}
			if e.Shape == events.FillShapeApplied {
				add(temporal.QueueFillEvents, msg)
			} else {
				add(temporal.QueueFillEvents2, msg)
			}
			res.Fills++
		case *events.SpeedUpRequested:
			add(temporal.QueueSpeedUpEvents, types.SpeedUpInput{
				EventRef:  ref,
				DepositID: int64(e.DepositID),
				SpeedUp:   store.SpeedUpFromEvent(e),
			})
			res.SpeedUps++
		case *events.RefundRequested:
			add(temporal.QueueRefundEvents, types.RefundInput{
				EventRef:      ref,
				DepositID:     int64(e.DepositID),
				OriginChainID: e.OriginChainID,
				Refund:        store.RefundFromEvent(e),
			})
			res.Refunds++
		}
	}
	return c.enqueueAll(ctx, batches)
}

// handleClaims upserts claims stamped with their block time.
func (c *Context) handleClaims(ctx context.Context, reader chain.Reader, evs []events.Event, res *types.ScanResult) error {
	blockTimes := map[uint64]time.Time{}
	for _, ev := range evs {
		e, ok := ev.(*events.Claimed)
		if !ok {
			continue
		}
		at, ok := blockTimes[e.BlockNumber]
		if !ok {
			b, err := reader.BlockByNumber(ctx, e.BlockNumber)
			if err != nil {
				return fmt.Errorf("block %d: %w", e.BlockNumber, err)
			}
			at = b.Time
			blockTimes[e.BlockNumber] = at
		}
		claim := store.ClaimFromEvent(e)
		claim.ClaimedAt = &at
		if err := c.Store.UpsertClaim(ctx, claim); err != nil {
			return err
		}
		res.Claims++
	}
	return nil
}

func (c *Context) enqueueAll(ctx context.Context, batches map[temporal.Queue][]temporal.Message) error {
	for _, q := range temporal.AllQueues {
		msgs := batches[q]
		if len(msgs) == 0 {
			continue
		}
		if _, err := c.Queue.EnqueueBatch(ctx, q, msgs); err != nil {
			return fmt.Errorf("enqueue %s: %w", q, err)
		}
	}
	return nil
}

// EnqueueHeadRanges issues the next range of every configured contract kind on every chain,
// bounded by the confirmed head and maxBlockRange. It returns the number of ranges enqueued.
func (c *Context) EnqueueHeadRanges(ctx context.Context) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, ch := range c.Config.Chains {
		reader, err := c.Chains.Reader(ctx, ch.ChainID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		head, err := reader.LatestBlock(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("chain %d head: %w", ch.ChainID, err))
			continue
		}
		if head < ch.Confirmations {
			continue
		}
		head -= ch.Confirmations

		if len(ch.SpokePools) > 0 {
			ok, err := c.enqueueNextRange(ctx, temporal.QueueBlocksEvents, store.KindSpokePool, ch.ChainID, ch.StartBlock(), head, ch.MaxBlockRange)
			if err != nil {
				errs = append(errs, err)
			} else if ok {
				n++
			}
		}
		if md := ch.MerkleDistributor; md != nil {
			ok, err := c.enqueueNextRange(ctx, temporal.QueueMerkleDistributorBlocksEvents, store.KindMerkleDistributor, ch.ChainID, md.StartBlock, head, ch.MaxBlockRange)
			if err != nil {
				errs = append(errs, err)
			} else if ok {
				n++
			}
		}
	}
	return n, errors.Join(errs...)
}

// NextRange computes the range following last, or ok=false when the chain is caught up.
func NextRange(last uint64, scanned bool, start, head, maxRange uint64) (from, to uint64, ok bool) {
	from = start
	if scanned {
		from = last + 1
	}
	if from > head {
		return 0, 0, false
	}
	if maxRange == 0 {
		maxRange = 1
	}
	to = head
	if head-from+1 > maxRange {
		to = from + maxRange - 1
	}
	return from, to, true
}

func (c *Context) enqueueNextRange(ctx context.Context, q temporal.Queue, kind string, chainID, start, head, maxRange uint64) (bool, error) {
	last, scanned, err := c.Store.LastProcessedBlock(ctx, chainID, kind)
	if err != nil {
		return false, err
	}
	from, to, ok := NextRange(last, scanned, start, head, maxRange)
	if !ok {
		return false, nil
	}
	if err := c.Queue.Enqueue(ctx, q, types.RangeInput{ChainID: chainID, From: from, To: to}); err != nil {
		return false, err
	}
	return true, nil
}
