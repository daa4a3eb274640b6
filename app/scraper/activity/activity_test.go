package activity

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/app/scraper/types"
	"github.com/spokescan/spokescan/pkg/chain"
	"github.com/spokescan/spokescan/pkg/config"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/events"
	"github.com/spokescan/spokescan/pkg/temporal"
	"github.com/stretchr/testify/require"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"
)

const (
	spokePool   = "0x5c7BCd6E7De5423a257D81B442095A1a6ced35C5"
	distributor = "0xE50b2cEAC4f60E840Ae513924033E753e2366487"
	usdc        = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	depositor   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	referrer    = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

var depositDay = time.Date(2023, 3, 5, 12, 0, 0, 0, time.UTC)

type harness struct {
	ac      *Context
	store   *fakeStore
	queue   *fakeQueue
	prices  *fakePrices
	sticky  *fakeSticky
	origin  *fakeReader
	dest    *fakeReader
	decoder *fakeDecoder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		Chains: []config.Chain{
			{
				ChainID:       1,
				Confirmations: 2,
				MaxBlockRange: 50,
				SpokePools:    []config.SpokePool{{Address: spokePool, Version: config.SpokePoolV25, StartBlock: 100}},
				MerkleDistributor: &config.MerkleDistributor{
					Address:    distributor,
					StartBlock: 90,
				},
			},
			{
				ChainID:       10,
				MaxBlockRange: 50,
				SpokePools:    []config.SpokePool{{Address: spokePool, Version: config.SpokePoolV2, StartBlock: 5}},
			},
		},
		Rewards: config.Rewards{
			AcxSymbol:   "ACX",
			MaxLpFeePct: "1000000000000000",
			OpRebate: config.OpRebate{
				ChainID:      10,
				Rate:         "0.95",
				Start:        time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
				End:          time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
				RewardSymbol: "OP",
			},
		},
	}
	h := &harness{
		store:   newFakeStore(),
		queue:   &fakeQueue{},
		prices:  &fakePrices{usd: map[string]decimal.Decimal{"USDC": decimal.NewFromInt(1), "ACX": decimal.RequireFromString("0.1"), "OP": decimal.RequireFromString("1.5")}},
		sticky:  &fakeSticky{},
		origin:  &fakeReader{chainID: 1, blocks: map[uint64]time.Time{}, txs: map[common.Hash]chain.Transaction{}},
		dest:    &fakeReader{chainID: 10, blocks: map[uint64]time.Time{}, txs: map[common.Hash]chain.Transaction{}},
		decoder: &fakeDecoder{events: map[string]events.Event{}},
	}
	h.ac = &Context{
		Logger:  zaptest.NewLogger(t),
		Config:  cfg,
		Store:   h.store,
		Chains:  &fakeFactory{readers: map[uint64]*fakeReader{1: h.origin, 10: h.dest}},
		Queue:   h.queue,
		Decoder: h.decoder,
		Prices:  h.prices,
		Sticky:  h.sticky,
	}
	return h
}

func newActivityEnv() *testsuite.TestActivityEnvironment {
	suite := testsuite.WorkflowTestSuite{}
	return suite.NewTestActivityEnvironment()
}

func pendingDeposit(amount string) *store.Deposit {
	return &store.Deposit{
		DepositID:              5,
		SourceChainID:          1,
		DestinationChainID:     10,
		DepositorAddr:          depositor,
		RecipientAddr:          depositor,
		Amount:                 decimal.RequireFromString(amount),
		Filled:                 decimal.Zero,
		Status:                 store.StatusPending,
		TokenAddr:              usdc,
		DepositRelayerFeePct:   decimal.RequireFromString("200000000000000"),
		SuggestedRelayerFeePct: store.DefaultSuggestedRelayerFeePct,
		DepositTxHash:          common.HexToHash("0xd1").Hex(),
		BlockNumber:            105,
	}
}

func fill(hash string, amount, total string) store.FillTx {
	applied := decimal.RequireFromString("300000000000000")
	return store.FillTx{
		Hash:                 hash,
		BlockNumber:          300,
		FillAmount:           decimal.RequireFromString(amount),
		TotalFilledAmount:    decimal.RequireFromString(total),
		RealizedLpFeePct:     decimal.RequireFromString("2000000000000000"),
		AppliedRelayerFeePct: &applied,
	}
}

func requireNonRetryable(t *testing.T, err error, errType string) {
	t.Helper()
	require.Error(t, err)
	var appErr *sdktemporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %v", err)
	require.True(t, appErr.NonRetryable())
	require.Equal(t, errType, appErr.Type())
}

func requireRetryable(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var appErr *sdktemporal.ApplicationError
	if errors.As(err, &appErr) {
		require.False(t, appErr.NonRetryable())
	}
}

func (h *harness) addLog(block uint64, tx string, index uint, ev events.Event) {
	hash := common.HexToHash(tx)
	h.origin.logs = append(h.origin.logs, ethtypes.Log{
		Address:     common.HexToAddress(spokePool),
		BlockNumber: block,
		TxHash:      hash,
		Index:       index,
	})
	if ev != nil {
		h.decoder.events[logKey(hash, index)] = ev
	}
}

func meta(block uint64, tx string, index uint) events.Meta {
	return events.Meta{ChainID: 1, BlockNumber: block, TxHash: common.HexToHash(tx), LogIndex: index}
}

func TestScanBlocksStoresDepositsAndRoutesEvents(t *testing.T) {
	h := newHarness(t)
	h.addLog(105, "0xd1", 0, &events.DepositCreated{
		Meta:               meta(105, "0xd1", 0),
		DepositID:          5,
		OriginChainID:      1,
		DestinationChainID: 10,
		Amount:             big.NewInt(1_000_000_000),
		RelayerFeePct:      big.NewInt(200_000_000_000_000),
		OriginToken:        common.HexToAddress(usdc),
		Recipient:          common.HexToAddress(depositor),
		Depositor:          common.HexToAddress(depositor),
	})
	h.addLog(106, "0xf1", 1, &events.DepositFilled{
		Meta:                 meta(106, "0xf1", 1),
		Shape:                events.FillShapeApplied,
		DepositID:            9,
		OriginChainID:        10,
		DestinationChainID:   1,
		Amount:               big.NewInt(100),
		TotalFilledAmount:    big.NewInt(100),
		FillAmount:           big.NewInt(100),
		RelayerFeePct:        big.NewInt(1),
		AppliedRelayerFeePct: big.NewInt(1),
		RealizedLpFeePct:     big.NewInt(1),
	})
	h.addLog(107, "0x51", 0, &events.SpeedUpRequested{
		Meta:             meta(107, "0x51", 0),
		DepositID:        5,
		Depositor:        common.HexToAddress(depositor),
		NewRelayerFeePct: big.NewInt(400_000_000_000_000),
	})
	h.addLog(108, "0x99", 0, nil)
	h.addLog(500, "0xd2", 0, nil)

	env := newActivityEnv()
	env.RegisterActivity(h.ac.ScanBlocks)
	future, err := env.ExecuteActivity(h.ac.ScanBlocks, types.RangeInput{ChainID: 1, From: 100, To: 149})
	require.NoError(t, err)

	var res types.ScanResult
	require.NoError(t, future.Get(&res))
	require.Equal(t, 4, res.Logs)
	require.Equal(t, 1, res.Created)
	require.Equal(t, 1, res.Fills)
	require.Equal(t, 1, res.SpeedUps)
	require.Equal(t, 1, res.Undecoded)
	require.Equal(t, uint64(149), res.Processed)

	require.Len(t, h.store.deposits, 1)
	require.Equal(t, 1, h.queue.count(temporal.QueueBlockNumber))
	require.Equal(t, 1, h.queue.count(temporal.QueueTokenDetails))
	require.Equal(t, 1, h.queue.count(temporal.QueueDepositReferral))
	require.Equal(t, 1, h.queue.count(temporal.QueueFillEvents))
	require.Equal(t, 0, h.queue.count(temporal.QueueFillEvents2))
	require.Equal(t, 1, h.queue.count(temporal.QueueSpeedUpEvents))

	fills := h.queue.of(temporal.QueueFillEvents)
	in := fills[0].(types.FillInput)
	require.Equal(t, store.DepositKey{DepositID: 9, SourceChainID: 10}, in.DepositKey())
	require.Equal(t, "1-"+common.HexToHash("0xf1").Hex()+"-1", in.Key())

	last, ok, err := h.store.LastProcessedBlock(t.Context(), 1, store.KindSpokePool)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(149), last)
}

func TestScanBlocksSkipsStaleRange(t *testing.T) {
	h := newHarness(t)
	h.store.progress[progressKey{1, store.KindSpokePool}] = 149

	env := newActivityEnv()
	env.RegisterActivity(h.ac.ScanBlocks)

	for _, in := range []types.RangeInput{
		{ChainID: 1, From: 100, To: 149},
		{ChainID: 1, From: 140, To: 160},
		{ChainID: 1, From: 200, To: 220},
	} {
		future, err := env.ExecuteActivity(h.ac.ScanBlocks, in)
		require.NoError(t, err)
		var res types.ScanResult
		require.NoError(t, future.Get(&res))
		require.True(t, res.Skipped, "range %d-%d", in.From, in.To)
	}
	require.Zero(t, h.origin.filterCalls)
	require.Zero(t, h.store.advances)
}

func TestScanBlocksOverlappingDeliveryDoesNotWait(t *testing.T) {
	h := newHarness(t)
	h.addLog(105, "0xd1", 0, &events.DepositCreated{
		Meta:          meta(105, "0xd1", 0),
		DepositID:     5,
		OriginChainID: 1,
		Amount:        big.NewInt(10),
		RelayerFeePct: big.NewInt(0),
	})
	in := types.RangeInput{ChainID: 1, From: 100, To: 110}

	// a redelivery of the same range runs while the first one is still fetching logs
	var inner types.ScanResult
	var innerErr error
	h.origin.onFilter = func(ctx context.Context, _, _ uint64) {
		h.origin.onFilter = nil
		inner, innerErr = h.ac.ScanBlocks(ctx, in)
	}

	env := newActivityEnv()
	env.RegisterActivity(h.ac.ScanBlocks)
	done := make(chan error, 1)
	var outer types.ScanResult
	go func() {
		future, err := env.ExecuteActivity(h.ac.ScanBlocks, in)
		if err == nil {
			err = future.Get(&outer)
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("scan blocked on a concurrent scan of the same chain")
	}

	require.NoError(t, innerErr)
	require.Equal(t, 1, inner.Created)
	require.Equal(t, uint64(110), inner.Processed)
	require.Equal(t, 0, outer.Created)
	require.Equal(t, uint64(110), outer.Processed)
	require.Len(t, h.store.deposits, 1)
	require.Equal(t, 1, h.store.advances)
	require.Equal(t, uint64(110), h.store.progress[progressKey{1, store.KindSpokePool}])
}

func TestScanBlocksRescanKeepsDepositsSingle(t *testing.T) {
	h := newHarness(t)
	h.addLog(105, "0xd1", 0, &events.DepositCreated{
		Meta:          meta(105, "0xd1", 0),
		DepositID:     5,
		OriginChainID: 1,
		Amount:        big.NewInt(10),
		RelayerFeePct: big.NewInt(0),
	})

	env := newActivityEnv()
	env.RegisterActivity(h.ac.ScanBlocks)
	_, err := env.ExecuteActivity(h.ac.ScanBlocks, types.RangeInput{ChainID: 1, From: 100, To: 110})
	require.NoError(t, err)

	// progress lost, the same range is scanned again
	delete(h.store.progress, progressKey{1, store.KindSpokePool})
	future, err := env.ExecuteActivity(h.ac.ScanBlocks, types.RangeInput{ChainID: 1, From: 100, To: 110})
	require.NoError(t, err)

	var res types.ScanResult
	require.NoError(t, future.Get(&res))
	require.Equal(t, 1, res.Deposits)
	require.Equal(t, 0, res.Created)
	require.Len(t, h.store.deposits, 1)
	require.Equal(t, 2, h.queue.count(temporal.QueueBlockNumber))
}

func TestScanBlocksUnknownChainIsNonRetryable(t *testing.T) {
	h := newHarness(t)
	env := newActivityEnv()
	env.RegisterActivity(h.ac.ScanBlocks)

	_, err := env.ExecuteActivity(h.ac.ScanBlocks, types.RangeInput{ChainID: 42, From: 1, To: 2})
	requireNonRetryable(t, err, "chain_config")
}

func TestScanMerkleDistributorStampsClaims(t *testing.T) {
	h := newHarness(t)
	claimedAt := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	h.origin.blocks[95] = claimedAt
	h.addLog(95, "0xc1", 0, &events.Claimed{
		Meta:        meta(95, "0xc1", 0),
		WindowIndex: 2,
		Account:     common.HexToAddress(referrer),
		RewardToken: common.HexToAddress(usdc),
		Amount:      big.NewInt(1000),
	})

	env := newActivityEnv()
	env.RegisterActivity(h.ac.ScanMerkleDistributor)
	future, err := env.ExecuteActivity(h.ac.ScanMerkleDistributor, types.RangeInput{ChainID: 1, From: 90, To: 99})
	require.NoError(t, err)

	var res types.ScanResult
	require.NoError(t, future.Get(&res))
	require.Equal(t, 1, res.Claims)
	require.Len(t, h.store.claims, 1)
	require.Equal(t, uint64(2), h.store.claims[0].WindowIndex)
	require.Equal(t, referrer, h.store.claims[0].Account)
	require.True(t, h.store.claims[0].ClaimedAt.Equal(claimedAt))

	last, ok, _ := h.store.LastProcessedBlock(t.Context(), 1, store.KindMerkleDistributor)
	require.True(t, ok)
	require.Equal(t, uint64(99), last)
}

func TestNextRange(t *testing.T) {
	cases := []struct {
		name             string
		last             uint64
		scanned          bool
		start, head, max uint64
		wantFrom, wantTo uint64
		wantOK           bool
	}{
		{name: "first range from start", start: 100, head: 1000, max: 50, wantFrom: 100, wantTo: 149, wantOK: true},
		{name: "continues after progress", last: 149, scanned: true, start: 100, head: 1000, max: 50, wantFrom: 150, wantTo: 199, wantOK: true},
		{name: "clamped to head", last: 149, scanned: true, start: 100, head: 160, max: 50, wantFrom: 150, wantTo: 160, wantOK: true},
		{name: "caught up", last: 160, scanned: true, start: 100, head: 160, max: 50},
		{name: "head below start", start: 100, head: 90, max: 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			from, to, ok := NextRange(tc.last, tc.scanned, tc.start, tc.head, tc.max)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantFrom, from)
			require.Equal(t, tc.wantTo, to)
		})
	}
}

func TestEnqueueHeadRanges(t *testing.T) {
	h := newHarness(t)
	h.origin.latest = 1002
	h.dest.latest = 7
	h.store.progress[progressKey{10, store.KindSpokePool}] = 7

	n, err := h.ac.EnqueueHeadRanges(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	spoke := h.queue.of(temporal.QueueBlocksEvents)
	require.Len(t, spoke, 1)
	require.Equal(t, types.RangeInput{ChainID: 1, From: 100, To: 149}, spoke[0])

	merkle := h.queue.of(temporal.QueueMerkleDistributorBlocksEvents)
	require.Len(t, merkle, 1)
	require.Equal(t, types.RangeInput{ChainID: 1, From: 90, To: 139}, merkle[0])
}

func TestFillBeforeDepositIsRetryable(t *testing.T) {
	h := newHarness(t)
	env := newActivityEnv()
	env.RegisterActivity(h.ac.FillEvents)

	_, err := env.ExecuteActivity(h.ac.FillEvents, types.FillInput{
		EventRef:      types.EventRef{ChainID: 10, TxHash: "0xf1"},
		DepositID:     5,
		OriginChainID: 1,
		Fill:          fill("0xf1", "10", "10"),
	})
	requireRetryable(t, err)
	require.Empty(t, h.queue.msgs)
}

func TestFillOverflowIsNonRetryable(t *testing.T) {
	h := newHarness(t)
	h.store.add(pendingDeposit("100"))
	env := newActivityEnv()
	env.RegisterActivity(h.ac.FillEvents2)

	_, err := env.ExecuteActivity(h.ac.FillEvents2, types.FillInput{
		DepositID:     5,
		OriginChainID: 1,
		Fill:          fill("0xf1", "101", "101"),
	})
	requireNonRetryable(t, err, "fill_overflow")
}

func TestFillsCompleteDepositAndScheduleFeeBreakdown(t *testing.T) {
	h := newHarness(t)
	d := pendingDeposit("100")
	tok := h.store.addToken(store.Token{ChainID: 1, Address: usdc, Symbol: "USDC", Decimals: 6})
	price, _ := h.store.UpsertPrice(t.Context(), "USDC", depositDay, decimal.NewFromInt(1))
	d.TokenID = &tok.ID
	d.PriceID = &price.ID
	h.store.add(d)

	env := newActivityEnv()
	env.RegisterActivity(h.ac.FillEvents)

	_, err := env.ExecuteActivity(h.ac.FillEvents, types.FillInput{DepositID: 5, OriginChainID: 1, Fill: fill("0xf1", "60", "60")})
	require.NoError(t, err)
	require.Equal(t, 1, h.queue.count(temporal.QueueDepositFilledDate))
	require.Equal(t, 0, h.queue.count(temporal.QueueFeeBreakdown))

	_, err = env.ExecuteActivity(h.ac.FillEvents, types.FillInput{DepositID: 5, OriginChainID: 1, Fill: fill("0xf2", "40", "100")})
	require.NoError(t, err)
	require.Equal(t, 1, h.queue.count(temporal.QueueFeeBreakdown))

	// redelivery of a recorded fill changes nothing
	_, err = env.ExecuteActivity(h.ac.FillEvents, types.FillInput{DepositID: 5, OriginChainID: 1, Fill: fill("0xf2", "40", "100")})
	require.NoError(t, err)

	stored, err := h.store.GetDeposit(t.Context(), d.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFilled, stored.Status)
	require.True(t, stored.Filled.Equal(decimal.NewFromInt(100)))
	require.Len(t, stored.FillTxs, 2)
}

func TestSpeedUpAndRefundAreRecorded(t *testing.T) {
	h := newHarness(t)
	d := h.store.add(pendingDeposit("100"))
	env := newActivityEnv()
	env.RegisterActivity(h.ac.SpeedUpEvents)
	env.RegisterActivity(h.ac.RefundEvents)

	_, err := env.ExecuteActivity(h.ac.SpeedUpEvents, types.SpeedUpInput{
		EventRef:  types.EventRef{ChainID: 1, TxHash: "0x51"},
		DepositID: 5,
		SpeedUp:   store.SpeedUp{Hash: "0x51", BlockNumber: 120, NewRelayerFeePct: decimal.RequireFromString("400000000000000")},
	})
	require.NoError(t, err)

	_, err = env.ExecuteActivity(h.ac.RefundEvents, types.RefundInput{
		EventRef:      types.EventRef{ChainID: 10, TxHash: "0x71"},
		DepositID:     5,
		OriginChainID: 1,
		Refund:        store.RefundRequest{Hash: "0x71", Amount: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)

	stored, _ := h.store.GetDeposit(t.Context(), d.ID)
	require.True(t, stored.DepositRelayerFeePct.Equal(decimal.RequireFromString("400000000000000")))
	require.True(t, stored.InitialRelayerFeePct.Decimal.Equal(decimal.RequireFromString("200000000000000")))
	require.Len(t, stored.RefundRequests, 1)
}

func TestBlockNumberStampsDateAndFansOut(t *testing.T) {
	h := newHarness(t)
	d := h.store.add(pendingDeposit("100"))
	h.origin.blocks[105] = depositDay

	env := newActivityEnv()
	env.RegisterActivity(h.ac.BlockNumber)
	_, err := env.ExecuteActivity(h.ac.BlockNumber, types.DepositInput{DepositID: d.ID})
	require.NoError(t, err)

	stored, _ := h.store.GetDeposit(t.Context(), d.ID)
	require.NotNil(t, stored.DepositDate)
	require.True(t, stored.DepositDate.Equal(depositDay))
	require.Equal(t, 0, h.queue.count(temporal.QueueTokenPrice), "token not linked yet")
	require.Equal(t, 1, h.queue.count(temporal.QueueDepositAcxPrice))
	require.Equal(t, 1, h.queue.count(temporal.QueueRectifyStickyReferral))
}

func TestMissingDepositIsNonRetryable(t *testing.T) {
	h := newHarness(t)
	env := newActivityEnv()
	env.RegisterActivity(h.ac.BlockNumber)

	_, err := env.ExecuteActivity(h.ac.BlockNumber, types.DepositInput{DepositID: 404})
	requireNonRetryable(t, err, "deposit_not_found")
}

func TestTokenDetailsReadsMetadataOnce(t *testing.T) {
	h := newHarness(t)
	h.origin.meta = chain.TokenMetadata{Name: "USD Coin", Symbol: "USDC", Decimals: 6}
	first := pendingDeposit("100")
	first.DepositDate = &depositDay
	first = h.store.add(first)
	second := pendingDeposit("100")
	second.DepositID = 6
	second = h.store.add(second)

	env := newActivityEnv()
	env.RegisterActivity(h.ac.TokenDetails)
	_, err := env.ExecuteActivity(h.ac.TokenDetails, types.DepositInput{DepositID: first.ID})
	require.NoError(t, err)
	_, err = env.ExecuteActivity(h.ac.TokenDetails, types.DepositInput{DepositID: second.ID})
	require.NoError(t, err)

	require.Equal(t, 1, h.origin.metaCalls)
	a, _ := h.store.GetDeposit(t.Context(), first.ID)
	b, _ := h.store.GetDeposit(t.Context(), second.ID)
	require.NotNil(t, a.TokenID)
	require.Equal(t, *a.TokenID, *b.TokenID)
	require.Equal(t, 1, h.queue.count(temporal.QueueTokenPrice), "only the dated deposit is priced")
}

func TestTokenPriceUsesStoredDailyPrice(t *testing.T) {
	h := newHarness(t)
	tok := h.store.addToken(store.Token{ChainID: 1, Address: usdc, Symbol: "USDC", Decimals: 6})
	var ids []int64
	for i := int64(0); i < 2; i++ {
		d := pendingDeposit("100")
		d.DepositID = 10 + i
		d.TokenID = &tok.ID
		d.DepositDate = &depositDay
		ids = append(ids, h.store.add(d).ID)
	}

	env := newActivityEnv()
	env.RegisterActivity(h.ac.TokenPrice)
	for _, id := range ids {
		_, err := env.ExecuteActivity(h.ac.TokenPrice, types.DepositInput{DepositID: id})
		require.NoError(t, err)
	}

	require.Equal(t, 1, h.prices.calls)
	a, _ := h.store.GetDeposit(t.Context(), ids[0])
	b, _ := h.store.GetDeposit(t.Context(), ids[1])
	require.NotNil(t, a.PriceID)
	require.Equal(t, *a.PriceID, *b.PriceID)
}

func TestTokenPriceUnknownSymbolIsNonRetryable(t *testing.T) {
	h := newHarness(t)
	tok := h.store.addToken(store.Token{ChainID: 1, Address: usdc, Symbol: "WAT", Decimals: 18})
	d := pendingDeposit("100")
	d.TokenID = &tok.ID
	d.DepositDate = &depositDay
	d = h.store.add(d)

	env := newActivityEnv()
	env.RegisterActivity(h.ac.TokenPrice)
	_, err := env.ExecuteActivity(h.ac.TokenPrice, types.DepositInput{DepositID: d.ID})
	requireNonRetryable(t, err, "unknown_symbol")
}

func TestDepositReferralParsesCalldataTag(t *testing.T) {
	h := newHarness(t)
	d := h.store.add(pendingDeposit("100"))
	input := append(common.FromHex("0x49228978deadbeef"), events.ReferralDelimiter...)
	input = append(input, common.HexToAddress(referrer).Bytes()...)
	h.origin.txs[common.HexToHash(d.DepositTxHash)] = chain.Transaction{Input: input}

	env := newActivityEnv()
	env.RegisterActivity(h.ac.DepositReferral)
	_, err := env.ExecuteActivity(h.ac.DepositReferral, types.DepositInput{DepositID: d.ID})
	require.NoError(t, err)

	stored, _ := h.store.GetDeposit(t.Context(), d.ID)
	require.NotNil(t, stored.ReferralAddress)
	require.Equal(t, referrer, *stored.ReferralAddress)
	require.Equal(t, 1, h.queue.count(temporal.QueueRectifyStickyReferral))
}

func TestRectifyStickyReferralScopesToDepositor(t *testing.T) {
	h := newHarness(t)
	d := h.store.add(pendingDeposit("100"))
	env := newActivityEnv()
	env.RegisterActivity(h.ac.RectifyStickyReferral)

	_, err := env.ExecuteActivity(h.ac.RectifyStickyReferral, types.DepositInput{DepositID: d.ID})
	require.NoError(t, err)
	require.Equal(t, []string{depositor}, h.sticky.depositors)

	h.sticky.err = errBoom
	_, err = env.ExecuteActivity(h.ac.RectifyStickyReferral, types.DepositInput{DepositID: d.ID})
	requireRetryable(t, err)
}

func TestDepositAcxPrice(t *testing.T) {
	h := newHarness(t)
	d := pendingDeposit("100")
	d.DepositDate = &depositDay
	d = h.store.add(d)

	env := newActivityEnv()
	env.RegisterActivity(h.ac.DepositAcxPrice)
	_, err := env.ExecuteActivity(h.ac.DepositAcxPrice, types.DepositInput{DepositID: d.ID})
	require.NoError(t, err)

	stored, _ := h.store.GetDeposit(t.Context(), d.ID)
	require.True(t, stored.AcxUsdPrice.Valid)
	require.True(t, stored.AcxUsdPrice.Decimal.Equal(decimal.RequireFromString("0.1")))
}

func TestDepositFilledDateUsesNewestFill(t *testing.T) {
	h := newHarness(t)
	d := pendingDeposit("100")
	older := fill("0xf1", "50", "50")
	older.BlockNumber = 10
	newer := fill("0xf2", "50", "100")
	newer.BlockNumber = 20
	d.FillTxs = []store.FillTx{newer, older}
	d = h.store.add(d)
	filledAt := time.Date(2023, 3, 5, 13, 0, 0, 0, time.UTC)
	h.dest.blocks[20] = filledAt

	env := newActivityEnv()
	env.RegisterActivity(h.ac.DepositFilledDate)
	_, err := env.ExecuteActivity(h.ac.DepositFilledDate, types.DepositInput{DepositID: d.ID})
	require.NoError(t, err)

	stored, _ := h.store.GetDeposit(t.Context(), d.ID)
	require.True(t, stored.FilledDate.Equal(filledAt))
	require.NotNil(t, stored.FillTxs[0].Date)
	require.Nil(t, stored.FillTxs[1].Date)
}

func TestFillTriggersAreKeyedByRowVersion(t *testing.T) {
	h := newHarness(t)
	d := h.store.add(pendingDeposit("100"))
	first := types.FillInput{DepositID: 5, OriginChainID: 1, Fill: fill("0xf1", "60", "60")}
	second := types.FillInput{DepositID: 5, OriginChainID: 1, Fill: fill("0xf2", "40", "100")}
	second.Fill.BlockNumber = 301
	firstAt := time.Date(2023, 3, 5, 13, 0, 0, 0, time.UTC)
	secondAt := time.Date(2023, 3, 5, 14, 0, 0, 0, time.UTC)
	h.dest.blocks[300] = firstAt
	h.dest.blocks[301] = secondAt

	env := newActivityEnv()
	env.RegisterActivity(h.ac.FillEvents)
	env.RegisterActivity(h.ac.DepositFilledDate)

	_, err := env.ExecuteActivity(h.ac.FillEvents, first)
	require.NoError(t, err)
	triggers := h.queue.of(temporal.QueueDepositFilledDate)
	require.Len(t, triggers, 1)

	// the second fill, delivered twice, lands while the first trigger's stage reads the chain
	var hookErrs []error
	h.dest.onBlock = func(uint64) {
		h.dest.onBlock = nil
		hookErrs = append(hookErrs, h.ac.applyFill(t.Context(), second), h.ac.applyFill(t.Context(), second))
	}
	_, err = env.ExecuteActivity(h.ac.DepositFilledDate, triggers[0].(types.DepositInput))
	require.NoError(t, err)
	require.Len(t, hookErrs, 2)
	require.NoError(t, errors.Join(hookErrs...))

	triggers = h.queue.of(temporal.QueueDepositFilledDate)
	require.Len(t, triggers, 3)
	require.NotEqual(t, triggers[0].Key(), triggers[1].Key())
	require.Equal(t, triggers[1].Key(), triggers[2].Key())

	_, err = env.ExecuteActivity(h.ac.DepositFilledDate, triggers[1].(types.DepositInput))
	require.NoError(t, err)

	stored, err := h.store.GetDeposit(t.Context(), d.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFilled, stored.Status)
	require.True(t, stored.FilledDate.Equal(secondAt))
	for _, f := range stored.FillTxs {
		require.NotNil(t, f.Date, f.Hash)
	}
}

func TestDepositRefKeyIncludesVersion(t *testing.T) {
	d := &store.Deposit{ID: 7, Version: 3}
	require.Equal(t, "7@3", types.DepositRef(d).Key())
	require.Equal(t, types.DepositInput{DepositID: 7, Version: 3}, types.DepositRef(d))
}

func TestFeeBreakdownThenOpRebate(t *testing.T) {
	h := newHarness(t)
	tok := h.store.addToken(store.Token{ChainID: 1, Address: usdc, Symbol: "USDC", Decimals: 6})
	price, _ := h.store.UpsertPrice(t.Context(), "USDC", depositDay, decimal.NewFromInt(1))
	d := pendingDeposit("1000000000")
	_, err := d.ApplyFill(fill("0xf1", "1000000000", "1000000000"))
	require.NoError(t, err)
	d.TokenID = &tok.ID
	d.PriceID = &price.ID
	d.DepositDate = &depositDay
	d = h.store.add(d)

	env := newActivityEnv()
	env.RegisterActivity(h.ac.FeeBreakdown)
	env.RegisterActivity(h.ac.OpRebateReward)

	_, err = env.ExecuteActivity(h.ac.FeeBreakdown, types.DepositInput{DepositID: d.ID})
	require.NoError(t, err)
	require.Equal(t, 1, h.queue.count(temporal.QueueOpRebateReward))

	stored, _ := h.store.GetDeposit(t.Context(), d.ID)
	require.NotNil(t, stored.FeeBreakdown)
	require.True(t, stored.BridgeFeeUsd().Equal(decimal.RequireFromString("1.3")))

	_, err = env.ExecuteActivity(h.ac.OpRebateReward, types.DepositInput{DepositID: d.ID})
	require.NoError(t, err)
	rebate, ok := h.store.rebates[d.ID]
	require.True(t, ok)
	require.Equal(t, depositor, rebate.Recipient)
	require.True(t, rebate.AmountUsd.Equal(decimal.RequireFromString("1.235")))
	require.Equal(t, "823333333333333333", rebate.Amount.String())
	require.Equal(t, "OP", rebate.RewardToken)
}

func TestOpRebateEligibility(t *testing.T) {
	program := config.OpRebate{
		ChainID: 10,
		Rate:    "0.95",
		Start:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	eligible := func(mut func(d *store.Deposit)) bool {
		d := pendingDeposit("100")
		d.Status = store.StatusFilled
		d.FeeBreakdown = &store.FeeBreakdown{}
		date := depositDay
		d.DepositDate = &date
		mut(d)
		return opRebateEligible(d, program)
	}

	require.True(t, eligible(func(*store.Deposit) {}))
	require.False(t, eligible(func(d *store.Deposit) { d.Status = store.StatusPending }))
	require.False(t, eligible(func(d *store.Deposit) { d.DestinationChainID = 42161 }))
	require.False(t, eligible(func(d *store.Deposit) {
		late := program.End
		d.DepositDate = &late
	}))
	require.False(t, eligible(func(d *store.Deposit) {
		early := program.Start.Add(-time.Second)
		d.DepositDate = &early
	}))
	require.False(t, opRebateEligible(pendingDeposit("1"), config.OpRebate{}))
}
