package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/chain"
	"github.com/spokescan/spokescan/pkg/db/postgres/store"
	"github.com/spokescan/spokescan/pkg/events"
	"github.com/spokescan/spokescan/pkg/pricing"
	"github.com/spokescan/spokescan/pkg/temporal"
)

type progressKey struct {
	chainID uint64
	kind    string
}

// fakeStore keeps rows in memory and reuses the deposit mutation logic of the real store.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	deposits  map[int64]*store.Deposit
	tokens    map[int64]*store.Token
	prices    map[int64]*store.Price
	claims    []store.Claim
	rebates   map[int64]store.OpRebateReward
	progress  map[progressKey]uint64
	advances  int
	tokenRead int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deposits: map[int64]*store.Deposit{},
		tokens:   map[int64]*store.Token{},
		prices:   map[int64]*store.Price{},
		rebates:  map[int64]store.OpRebateReward{},
		progress: map[progressKey]uint64{},
	}
}

func (f *fakeStore) add(d *store.Deposit) *store.Deposit {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	d.ID = f.nextID
	if d.Status == "" {
		d.Status = store.StatusPending
	}
	f.deposits[d.ID] = d
	return d
}

func (f *fakeStore) byKey(key store.DepositKey) *store.Deposit {
	for _, d := range f.deposits {
		if d.Key() == key {
			return d
		}
	}
	return nil
}

func clone(d *store.Deposit) *store.Deposit {
	c := *d
	c.FillTxs = append([]store.FillTx(nil), d.FillTxs...)
	c.SpeedUps = append([]store.SpeedUp(nil), d.SpeedUps...)
	c.RefundRequests = append([]store.RefundRequest(nil), d.RefundRequests...)
	return &c
}

func (f *fakeStore) CreateDeposit(_ context.Context, d *store.Deposit) (bool, error) {
	f.mu.Lock()
	existing := f.byKey(d.Key())
	f.mu.Unlock()
	if existing != nil {
		d.ID = existing.ID
		d.Version = existing.Version
		return false, nil
	}
	stored := f.add(clone(d))
	d.ID = stored.ID
	return true, nil
}

func (f *fakeStore) GetDeposit(_ context.Context, id int64) (*store.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deposits[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrDepositNotFound, id)
	}
	return clone(d), nil
}

func (f *fakeStore) update(d *store.Deposit, fn func(d *store.Deposit) (bool, error)) (*store.Deposit, bool, error) {
	if d == nil {
		return nil, false, store.ErrDepositNotFound
	}
	next := clone(d)
	changed, err := fn(next)
	if err != nil {
		return nil, false, err
	}
	if changed {
		next.Version++
		f.deposits[d.ID] = next
	}
	return clone(next), changed, nil
}

func (f *fakeStore) ApplyFill(_ context.Context, key store.DepositKey, fill store.FillTx) (*store.Deposit, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update(f.byKey(key), func(d *store.Deposit) (bool, error) { return d.ApplyFill(fill) })
}

func (f *fakeStore) ApplySpeedUp(_ context.Context, key store.DepositKey, s store.SpeedUp) (*store.Deposit, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update(f.byKey(key), func(d *store.Deposit) (bool, error) { return d.ApplySpeedUp(s), nil })
}

func (f *fakeStore) ApplyRefund(_ context.Context, key store.DepositKey, r store.RefundRequest) (*store.Deposit, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.update(f.byKey(key), func(d *store.Deposit) (bool, error) { return d.ApplyRefund(r), nil })
}

func (f *fakeStore) set(id int64, fn func(d *store.Deposit)) (*store.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, _, err := f.update(f.deposits[id], func(d *store.Deposit) (bool, error) {
		fn(d)
		return true, nil
	})
	return d, err
}

func (f *fakeStore) SetDepositDate(_ context.Context, id int64, at time.Time) (*store.Deposit, error) {
	at = at.UTC()
	return f.set(id, func(d *store.Deposit) { d.DepositDate = &at })
}

func (f *fakeStore) SetFilledDate(_ context.Context, id int64, hash string, at time.Time) (*store.Deposit, error) {
	at = at.UTC()
	return f.set(id, func(d *store.Deposit) {
		for i := range d.FillTxs {
			if d.FillTxs[i].Hash == hash {
				d.FillTxs[i].Date = &at
			}
		}
		d.FilledDate = &at
	})
}

func (f *fakeStore) SetToken(_ context.Context, id, tokenID int64) (*store.Deposit, error) {
	return f.set(id, func(d *store.Deposit) { d.TokenID = &tokenID })
}

func (f *fakeStore) SetPrice(_ context.Context, id, priceID int64) (*store.Deposit, error) {
	return f.set(id, func(d *store.Deposit) { d.PriceID = &priceID })
}

func (f *fakeStore) SetReferralAddress(_ context.Context, id int64, referral *string) (*store.Deposit, error) {
	return f.set(id, func(d *store.Deposit) { d.ReferralAddress = referral })
}

func (f *fakeStore) SetAcxPrice(_ context.Context, id int64, usd decimal.Decimal) (*store.Deposit, error) {
	return f.set(id, func(d *store.Deposit) { d.AcxUsdPrice = decimal.NewNullDecimal(usd) })
}

func (f *fakeStore) SetFeeBreakdown(_ context.Context, id int64, decimals int32, usd, maxLpFeePct decimal.Decimal) (*store.Deposit, error) {
	return f.set(id, func(d *store.Deposit) { d.ComputeFeeBreakdown(decimals, usd, maxLpFeePct) })
}

func (f *fakeStore) addToken(t store.Token) *store.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	f.tokens[t.ID] = &t
	return &t
}

func (f *fakeStore) GetToken(_ context.Context, chainID uint64, address string) (*store.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenRead++
	for _, t := range f.tokens {
		if t.ChainID == chainID && strings.EqualFold(t.Address, address) {
			c := *t
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: token %d/%s", store.ErrNotFound, chainID, address)
}

func (f *fakeStore) GetTokenByID(_ context.Context, id int64) (*store.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: token %d", store.ErrNotFound, id)
	}
	c := *t
	return &c, nil
}

func (f *fakeStore) UpsertToken(_ context.Context, t *store.Token) (int64, error) {
	stored := f.addToken(*t)
	t.ID = stored.ID
	return t.ID, nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (f *fakeStore) GetPrice(_ context.Context, symbol string, at time.Time) (*store.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.prices {
		if p.Symbol == symbol && p.Date.Equal(day(at)) {
			c := *p
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: price %s", store.ErrNotFound, symbol)
}

func (f *fakeStore) GetPriceByID(_ context.Context, id int64) (*store.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[id]
	if !ok {
		return nil, fmt.Errorf("%w: price %d", store.ErrNotFound, id)
	}
	c := *p
	return &c, nil
}

func (f *fakeStore) UpsertPrice(_ context.Context, symbol string, at time.Time, usd decimal.Decimal) (*store.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := &store.Price{ID: f.nextID, Symbol: symbol, Date: day(at), Usd: usd}
	f.prices[p.ID] = p
	c := *p
	return &c, nil
}

func (f *fakeStore) UpsertClaim(_ context.Context, c store.Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, c)
	return nil
}

func (f *fakeStore) UpsertOpRebate(_ context.Context, r store.OpRebateReward) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebates[r.DepositPK] = r
	return nil
}

func (f *fakeStore) LastProcessedBlock(_ context.Context, chainID uint64, kind string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.progress[progressKey{chainID, kind}]
	return last, ok, nil
}

func (f *fakeStore) AdvanceProcessedBlock(_ context.Context, chainID uint64, kind string, prev, next uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := progressKey{chainID, kind}
	if last, ok := f.progress[k]; ok && last != prev {
		return false, nil
	}
	f.progress[k] = next
	f.advances++
	return true, nil
}

type enqueued struct {
	queue temporal.Queue
	msg   temporal.Message
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []enqueued
}

func (q *fakeQueue) Enqueue(_ context.Context, queue temporal.Queue, msg temporal.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, enqueued{queue: queue, msg: msg})
	return nil
}

func (q *fakeQueue) EnqueueBatch(ctx context.Context, queue temporal.Queue, msgs []temporal.Message) (int, error) {
	for _, m := range msgs {
		if err := q.Enqueue(ctx, queue, m); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

func (q *fakeQueue) count(queue temporal.Queue) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.msgs {
		if m.queue == queue {
			n++
		}
	}
	return n
}

func (q *fakeQueue) of(queue temporal.Queue) []temporal.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []temporal.Message
	for _, m := range q.msgs {
		if m.queue == queue {
			out = append(out, m.msg)
		}
	}
	return out
}

type fakeReader struct {
	chainID     uint64
	latest      uint64
	logs        []ethtypes.Log
	blocks      map[uint64]time.Time
	txs         map[common.Hash]chain.Transaction
	meta        chain.TokenMetadata
	filterCalls int
	metaCalls   int
	// onBlock runs inside BlockByNumber, before the block is returned.
	onBlock func(number uint64)
	// onFilter runs inside FilterLogs with the caller's context.
	onFilter func(ctx context.Context, from, to uint64)
}

func (r *fakeReader) ChainID() uint64 { return r.chainID }

func (r *fakeReader) LatestBlock(context.Context) (uint64, error) { return r.latest, nil }

func (r *fakeReader) BlockByNumber(_ context.Context, number uint64) (chain.Block, error) {
	if r.onBlock != nil {
		r.onBlock(number)
	}
	at, ok := r.blocks[number]
	if !ok {
		return chain.Block{}, ethereum.NotFound
	}
	return chain.Block{Number: number, Time: at}, nil
}

func (r *fakeReader) TransactionByHash(_ context.Context, hash common.Hash) (chain.Transaction, error) {
	tx, ok := r.txs[hash]
	if !ok {
		return chain.Transaction{}, ethereum.NotFound
	}
	return tx, nil
}

func (r *fakeReader) FilterLogs(ctx context.Context, _ []common.Address, from, to uint64) ([]ethtypes.Log, error) {
	r.filterCalls++
	if r.onFilter != nil {
		r.onFilter(ctx, from, to)
	}
	var out []ethtypes.Log
	for _, l := range r.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeReader) TokenMetadata(context.Context, common.Address) (chain.TokenMetadata, error) {
	r.metaCalls++
	return r.meta, nil
}

type fakeFactory struct {
	readers map[uint64]*fakeReader
}

func (f *fakeFactory) Reader(_ context.Context, chainID uint64) (chain.Reader, error) {
	r, ok := f.readers[chainID]
	if !ok {
		return nil, fmt.Errorf("chain %d not configured", chainID)
	}
	return r, nil
}

// fakeDecoder maps a log's tx hash and index to a prepared event.
type fakeDecoder struct {
	events map[string]events.Event
}

func logKey(hash common.Hash, index uint) string { return fmt.Sprintf("%s/%d", hash.Hex(), index) }

func (d *fakeDecoder) Decode(_ uint64, l ethtypes.Log) (events.Event, error) {
	ev, ok := d.events[logKey(l.TxHash, l.Index)]
	if !ok {
		return nil, events.ErrUnknownEvent
	}
	return ev, nil
}

type fakePrices struct {
	usd   map[string]decimal.Decimal
	calls int
}

func (p *fakePrices) USDPrice(_ context.Context, symbol string, _ time.Time) (decimal.Decimal, error) {
	p.calls++
	v, ok := p.usd[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", pricing.ErrUnknownSymbol, symbol)
	}
	return v, nil
}

type fakeSticky struct {
	depositors []string
	err        error
}

func (s *fakeSticky) ResolveDepositor(_ context.Context, depositor string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.depositors = append(s.depositors, depositor)
	return 1, nil
}

var errBoom = errors.New("boom")
