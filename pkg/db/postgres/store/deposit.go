package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/events"
)

const (
	StatusPending = "pending"
	StatusFilled  = "filled"
)

// DefaultSuggestedRelayerFeePct is 1bp in 18-decimal fixed point.
var DefaultSuggestedRelayerFeePct = decimal.New(1, 14)

var (
	// ErrFillExceedsAmount rejects a fill that would overfill its deposit.
	ErrFillExceedsAmount = errors.New("fill exceeds deposit amount")
)

// DepositKey is the natural key of a deposit.
type DepositKey struct {
	DepositID     int64
	SourceChainID uint64
}

func (k DepositKey) String() string { return fmt.Sprintf("%d-%d", k.SourceChainID, k.DepositID) }

// FillTx is one recorded fill. The two historical layouts are told apart by which relayer fee
// field is present: AppliedRelayerFeePct for applied fills, RelayerFeePct otherwise.
type FillTx struct {
	Hash                 string           `json:"hash"`
	BlockNumber          uint64           `json:"blockNumber,omitempty"`
	FillAmount           decimal.Decimal  `json:"fillAmount"`
	TotalFilledAmount    decimal.Decimal  `json:"totalFilledAmount"`
	RealizedLpFeePct     decimal.Decimal  `json:"realizedLpFeePct"`
	AppliedRelayerFeePct *decimal.Decimal `json:"appliedRelayerFeePct,omitempty"`
	RelayerFeePct        *decimal.Decimal `json:"relayerFeePct,omitempty"`
	Date                 *time.Time       `json:"date,omitempty"`
}

func (f FillTx) Shape() events.FillShape {
	if f.AppliedRelayerFeePct != nil {
		return events.FillShapeApplied
	}
	return events.FillShapeRelayer
}

// EffectiveRelayerFeePct is the relayer fee the fill was executed at.
func (f FillTx) EffectiveRelayerFeePct() decimal.Decimal {
	switch {
	case f.AppliedRelayerFeePct != nil:
		return *f.AppliedRelayerFeePct
	case f.RelayerFeePct != nil:
		return *f.RelayerFeePct
	default:
		return decimal.Zero
	}
}

// FillFromEvent converts a decoded fill into its stored form.
func FillFromEvent(e *events.DepositFilled) FillTx {
	f := FillTx{
		Hash:              e.TxHash.Hex(),
		BlockNumber:       e.BlockNumber,
		FillAmount:        decimal.NewFromBigInt(e.FillAmount, 0),
		TotalFilledAmount: decimal.NewFromBigInt(e.TotalFilledAmount, 0),
		RealizedLpFeePct:  decimal.NewFromBigInt(e.RealizedLpFeePct, 0),
	}
	if e.Shape == events.FillShapeApplied && e.AppliedRelayerFeePct != nil {
		applied := decimal.NewFromBigInt(e.AppliedRelayerFeePct, 0)
		f.AppliedRelayerFeePct = &applied
	} else {
		relayer := decimal.NewFromBigInt(e.RelayerFeePct, 0)
		f.RelayerFeePct = &relayer
	}
	return f
}

type SpeedUp struct {
	Hash             string          `json:"hash"`
	BlockNumber      uint64          `json:"blockNumber"`
	NewRelayerFeePct decimal.Decimal `json:"newRelayerFeePct"`
	UpdatedRecipient string          `json:"updatedRecipient,omitempty"`
	UpdatedMessage   string          `json:"updatedMessage,omitempty"`
}

func SpeedUpFromEvent(e *events.SpeedUpRequested) SpeedUp {
	s := SpeedUp{
		Hash:             e.TxHash.Hex(),
		BlockNumber:      e.BlockNumber,
		NewRelayerFeePct: decimal.NewFromBigInt(e.NewRelayerFeePct, 0),
	}
	if e.UpdatedRecipient != nil {
		s.UpdatedRecipient = e.UpdatedRecipient.Hex()
	}
	if e.UpdatedMessage != nil {
		s.UpdatedMessage = fmt.Sprintf("0x%x", e.UpdatedMessage)
	}
	return s
}

type RefundRequest struct {
	Hash             string          `json:"hash"`
	BlockNumber      uint64          `json:"blockNumber"`
	Relayer          string          `json:"relayer"`
	RefundToken      string          `json:"refundToken"`
	Amount           decimal.Decimal `json:"amount"`
	RealizedLpFeePct decimal.Decimal `json:"realizedLpFeePct"`
	FillBlock        uint64          `json:"fillBlock"`
}

func RefundFromEvent(e *events.RefundRequested) RefundRequest {
	return RefundRequest{
		Hash:             e.TxHash.Hex(),
		BlockNumber:      e.BlockNumber,
		Relayer:          e.Relayer.Hex(),
		RefundToken:      e.RefundToken.Hex(),
		Amount:           decimal.NewFromBigInt(e.Amount, 0),
		RealizedLpFeePct: decimal.NewFromBigInt(e.RealizedLpFeePct, 0),
		FillBlock:        e.FillBlock,
	}
}

// FeeBreakdown splits the bridge fee of a filled deposit. Pct values are 18-decimal fixed
// point, amounts are token base units, usd values are dollars.
type FeeBreakdown struct {
	LpFeeUsd              decimal.Decimal `json:"lpFeeUsd"`
	LpFeePct              decimal.Decimal `json:"lpFeePct"`
	LpFeeAmount           decimal.Decimal `json:"lpFeeAmount"`
	RelayCapitalFeeUsd    decimal.Decimal `json:"relayCapitalFeeUsd"`
	RelayCapitalFeePct    decimal.Decimal `json:"relayCapitalFeePct"`
	RelayCapitalFeeAmount decimal.Decimal `json:"relayCapitalFeeAmount"`
	RelayGasFeeUsd        decimal.Decimal `json:"relayGasFeeUsd"`
	RelayGasFeePct        decimal.Decimal `json:"relayGasFeePct"`
	RelayGasFeeAmount     decimal.Decimal `json:"relayGasFeeAmount"`
	TotalBridgeFeeUsd     decimal.Decimal `json:"totalBridgeFeeUsd"`
	TotalBridgeFeePct     decimal.Decimal `json:"totalBridgeFeePct"`
	TotalBridgeFeeAmount  decimal.Decimal `json:"totalBridgeFeeAmount"`
}

type Deposit struct {
	ID                     int64
	DepositID              int64
	SourceChainID          uint64
	DestinationChainID     uint64
	DepositorAddr          string
	RecipientAddr          string
	Message                string
	Amount                 decimal.Decimal
	Filled                 decimal.Decimal
	Status                 string
	DepositDate            *time.Time
	FilledDate             *time.Time
	TokenAddr              string
	TokenID                *int64
	PriceID                *int64
	RealizedLpFeePct       decimal.Decimal
	RealizedLpFeePctCapped decimal.Decimal
	DepositRelayerFeePct   decimal.Decimal
	InitialRelayerFeePct   decimal.NullDecimal
	SuggestedRelayerFeePct decimal.Decimal
	BridgeFeePct           decimal.NullDecimal
	DepositTxHash          string
	BlockNumber            uint64
	QuoteTimestamp         int64
	FillTxs                []FillTx
	SpeedUps               []SpeedUp
	RefundRequests         []RefundRequest
	FeeBreakdown           *FeeBreakdown
	ReferralAddress        *string
	StickyReferralAddress  *string
	RewardsWindowIndex     *int64
	AcxUsdPrice            decimal.NullDecimal
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (d *Deposit) Key() DepositKey {
	return DepositKey{DepositID: d.DepositID, SourceChainID: d.SourceChainID}
}

// DepositFromEvent builds a new pending deposit.
func DepositFromEvent(e *events.DepositCreated) *Deposit {
	return &Deposit{
		DepositID:              int64(e.DepositID),
		SourceChainID:          e.OriginChainID,
		DestinationChainID:     e.DestinationChainID,
		DepositorAddr:          e.Depositor.Hex(),
		RecipientAddr:          e.Recipient.Hex(),
		Message:                fmt.Sprintf("0x%x", e.Message),
		Amount:                 decimal.NewFromBigInt(e.Amount, 0),
		Filled:                 decimal.Zero,
		Status:                 StatusPending,
		TokenAddr:              e.OriginToken.Hex(),
		DepositRelayerFeePct:   decimal.NewFromBigInt(e.RelayerFeePct, 0),
		SuggestedRelayerFeePct: DefaultSuggestedRelayerFeePct,
		DepositTxHash:          e.TxHash.Hex(),
		BlockNumber:            e.BlockNumber,
		QuoteTimestamp:         int64(e.QuoteTimestamp),
	}
}

// ApplyFill records a fill. It reports false for an already recorded hash and fails with
// ErrFillExceedsAmount when the fill would take the deposit past its amount.
func (d *Deposit) ApplyFill(f FillTx) (bool, error) {
	sum := decimal.Zero
	maxTotal := decimal.Zero
	for _, existing := range d.FillTxs {
		if existing.Hash == f.Hash {
			return false, nil
		}
		sum = sum.Add(existing.FillAmount)
		maxTotal = decimal.Max(maxTotal, existing.TotalFilledAmount)
	}
	sum = sum.Add(f.FillAmount)
	maxTotal = decimal.Max(maxTotal, f.TotalFilledAmount)
	if sum.GreaterThan(d.Amount) || maxTotal.GreaterThan(d.Amount) {
		return false, fmt.Errorf("%w: deposit %s fill %s", ErrFillExceedsAmount, d.Key(), f.Hash)
	}

	d.FillTxs = append(d.FillTxs, f)
	d.Filled = decimal.Max(maxTotal, sum)
	if d.RealizedLpFeePct.IsZero() {
		d.RealizedLpFeePct = f.RealizedLpFeePct
	}
	if d.Filled.GreaterThanOrEqual(d.Amount) {
		d.Status = StatusFilled
	}
	return true, nil
}

// LatestFill is the fill with the highest block number, nil without fills.
func (d *Deposit) LatestFill() *FillTx {
	var latest *FillTx
	for i := range d.FillTxs {
		if latest == nil || d.FillTxs[i].BlockNumber >= latest.BlockNumber {
			latest = &d.FillTxs[i]
		}
	}
	return latest
}

// ApplySpeedUp records a speed-up and moves the relayer fee to the newest one by block.
func (d *Deposit) ApplySpeedUp(s SpeedUp) bool {
	for _, existing := range d.SpeedUps {
		if existing.Hash == s.Hash {
			return false
		}
	}
	if !d.InitialRelayerFeePct.Valid {
		d.InitialRelayerFeePct = decimal.NewNullDecimal(d.DepositRelayerFeePct)
	}
	d.SpeedUps = append(d.SpeedUps, s)
	sort.SliceStable(d.SpeedUps, func(i, j int) bool {
		return d.SpeedUps[i].BlockNumber < d.SpeedUps[j].BlockNumber
	})
	d.DepositRelayerFeePct = d.SpeedUps[len(d.SpeedUps)-1].NewRelayerFeePct
	return true
}

// ApplyRefund appends a refund request unless its hash is already recorded.
func (d *Deposit) ApplyRefund(r RefundRequest) bool {
	for _, existing := range d.RefundRequests {
		if existing.Hash == r.Hash {
			return false
		}
	}
	d.RefundRequests = append(d.RefundRequests, r)
	return true
}

// ComputeFeeBreakdown fills the fee columns from the recorded fills. decimals and usd describe
// the deposited token; maxLpFeePct caps the realized LP fee.
func (d *Deposit) ComputeFeeBreakdown(decimals int32, usd, maxLpFeePct decimal.Decimal) {
	lpPct := decimal.Min(d.RealizedLpFeePct, maxLpFeePct)

	relayerPct := d.DepositRelayerFeePct
	if latest := d.LatestFill(); latest != nil {
		relayerPct = latest.EffectiveRelayerFeePct()
	}
	capitalPct := decimal.Min(relayerPct, d.SuggestedRelayerFeePct)
	gasPct := relayerPct.Sub(capitalPct)
	totalPct := lpPct.Add(relayerPct)

	tokens := d.Amount.Shift(-decimals)
	amountOf := func(pct decimal.Decimal) decimal.Decimal {
		return d.Amount.Mul(pct).Shift(-18).Truncate(0)
	}
	usdOf := func(pct decimal.Decimal) decimal.Decimal {
		return tokens.Mul(usd).Mul(pct).Shift(-18)
	}

	d.RealizedLpFeePctCapped = lpPct
	d.BridgeFeePct = decimal.NewNullDecimal(totalPct)
	d.FeeBreakdown = &FeeBreakdown{
		LpFeeUsd:              usdOf(lpPct),
		LpFeePct:              lpPct,
		LpFeeAmount:           amountOf(lpPct),
		RelayCapitalFeeUsd:    usdOf(capitalPct),
		RelayCapitalFeePct:    capitalPct,
		RelayCapitalFeeAmount: amountOf(capitalPct),
		RelayGasFeeUsd:        usdOf(gasPct),
		RelayGasFeePct:        gasPct,
		RelayGasFeeAmount:     amountOf(gasPct),
		TotalBridgeFeeUsd:     usdOf(totalPct),
		TotalBridgeFeePct:     totalPct,
		TotalBridgeFeeAmount:  amountOf(totalPct),
	}
}

// BridgeFeeUsd is the USD value of the total bridge fee, zero before the breakdown exists.
func (d *Deposit) BridgeFeeUsd() decimal.Decimal {
	if d.FeeBreakdown == nil {
		return decimal.Zero
	}
	return d.FeeBreakdown.TotalBridgeFeeUsd
}
