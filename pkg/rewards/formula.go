package rewards

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reward types as exposed to clients.
const (
	TypeReferrals = "referrals"
	TypeOpRebates = "op-rebates"
)

var (
	wei          = decimal.New(1, 18)
	shareSelf    = decimal.NewFromInt(1)
	shareSender  = decimal.RequireFromString("0.25")
	shareReferee = decimal.RequireFromString("0.75")
)

// ReferralRow is one row of the derived rewards view.
type ReferralRow struct {
	ID                          int64
	DepositID                   int64
	DepositTxHash               string
	SourceChainID               uint64
	DestinationChainID          uint64
	Amount                      decimal.Decimal
	Symbol                      string
	Decimals                    int32
	DepositorAddr               string
	ReferralAddress             string
	ReferralRate                decimal.Decimal
	Multiplier                  int64
	RewardsWindowIndex          *int64
	DepositorClaimedWindowIndex int64
	ReferralClaimedWindowIndex  int64
	DepositDate                 time.Time
	TokenUsdPrice               decimal.Decimal
	RealizedLpFeeUsd            decimal.Decimal
	BridgeFeeUsd                decimal.Decimal
	AcxUsdPrice                 decimal.NullDecimal
}

// OpRebate is a ledger entry written by the op-rebate stage.
type OpRebate struct {
	DepositPK int64
	Recipient string
	Rate      decimal.Decimal
	Amount    decimal.Decimal // reward token wei
	AmountUsd decimal.Decimal
	Deposit   DepositSummary
}

// DepositSummary is the deposit part of a reward listing.
type DepositSummary struct {
	ID                 int64           `json:"id"`
	DepositID          int64           `json:"depositId"`
	DepositTxHash      string          `json:"depositTxHash"`
	SourceChainID      uint64          `json:"sourceChainId"`
	DestinationChainID uint64          `json:"destinationChainId"`
	DepositorAddr      string          `json:"depositorAddr"`
	Amount             decimal.Decimal `json:"amount"`
	Symbol             string          `json:"symbol,omitempty"`
	DepositDate        *time.Time      `json:"depositDate,omitempty"`
}

// Reward is the formatted reward attached to a deposit. Referral-only fields are omitted for op-rebates.
type Reward struct {
	Type         string           `json:"type"`
	Tier         int              `json:"tier,omitempty"`
	Rate         decimal.Decimal  `json:"rate"`
	UserRate     *decimal.Decimal `json:"userRate,omitempty"`
	ReferralRate *decimal.Decimal `json:"referralRate,omitempty"`
	Multiplier   int64            `json:"multiplier,omitempty"`
	Amount       string           `json:"amount"`
	Usd          string           `json:"usd"`
}

// UserShare is the fraction of a referral reward owed to wallet: all of it when the wallet
// referred itself, a quarter when it only deposited, three quarters when it only referred.
func UserShare(row ReferralRow, wallet string) decimal.Decimal {
	switch {
	case row.DepositorAddr == wallet && row.ReferralAddress == wallet:
		return shareSelf
	case row.DepositorAddr == wallet:
		return shareSender
	default:
		return shareReferee
	}
}

// AcxRewards is floor(bridgeFeeUsd * referralRate * share / acxUsdPrice * 1e18 * multiplier),
// computed exactly. Rows without an ACX price earn nothing yet.
func AcxRewards(row ReferralRow, wallet string) decimal.Decimal {
	if !row.AcxUsdPrice.Valid || !row.AcxUsdPrice.Decimal.IsPositive() {
		return decimal.Zero
	}
	numerator := row.BridgeFeeUsd.
		Mul(row.ReferralRate).
		Mul(UserShare(row, wallet)).
		Mul(wei).
		Mul(decimal.NewFromInt(row.Multiplier))
	q, _ := numerator.QuoRem(row.AcxUsdPrice.Decimal, 0)
	return q
}

// FormatReferral renders a view row as the wallet's referral reward.
func FormatReferral(row ReferralRow, wallet string) Reward {
	userRate := UserShare(row, wallet)
	referralRate := row.ReferralRate
	amount := AcxRewards(row, wallet)
	usd := decimal.Zero
	if row.AcxUsdPrice.Valid {
		usd = row.AcxUsdPrice.Decimal.Mul(amount.Shift(-18))
	}
	return Reward{
		Type:         TypeReferrals,
		Tier:         TierLevelByRate(referralRate),
		Rate:         userRate.Mul(referralRate).Mul(decimal.NewFromInt(row.Multiplier)),
		UserRate:     &userRate,
		ReferralRate: &referralRate,
		Multiplier:   row.Multiplier,
		Amount:       amount.String(),
		Usd:          usd.String(),
	}
}

// FormatOpRebate renders a ledger entry as-is.
func FormatOpRebate(r OpRebate) Reward {
	return Reward{
		Type:   TypeOpRebates,
		Rate:   r.Rate,
		Amount: r.Amount.String(),
		Usd:    r.AmountUsd.String(),
	}
}

// Pending reports whether row still counts toward wallet's unclaimed total.
func Pending(row ReferralRow, wallet string) bool {
	return (row.ReferralAddress == wallet && row.ReferralClaimedWindowIndex == -1) ||
		(row.DepositorAddr == wallet && row.DepositorClaimedWindowIndex == -1)
}

// PendingTotal sums AcxRewards over rows that are still unclaimed for wallet.
func PendingTotal(rows []ReferralRow, wallet string) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		if Pending(row, wallet) {
			total = total.Add(AcxRewards(row, wallet))
		}
	}
	return total
}

// AttachRewards picks at most one reward per deposit id; an op-rebate wins over a referral.
func AttachRewards(wallet string, depositIDs []int64, opRebates []OpRebate, referrals []ReferralRow) map[int64]*Reward {
	ops := make(map[int64]OpRebate, len(opRebates))
	for _, r := range opRebates {
		ops[r.DepositPK] = r
	}
	refs := make(map[int64]ReferralRow, len(referrals))
	for _, r := range referrals {
		refs[r.ID] = r
	}

	out := make(map[int64]*Reward, len(depositIDs))
	for _, id := range depositIDs {
		if op, ok := ops[id]; ok {
			reward := FormatOpRebate(op)
			out[id] = &reward
			continue
		}
		if ref, ok := refs[id]; ok {
			reward := FormatReferral(ref, wallet)
			out[id] = &reward
			continue
		}
		out[id] = nil
	}
	return out
}

// Summary returns the listing identity of a view row.
func (row ReferralRow) Summary() DepositSummary {
	date := row.DepositDate
	return DepositSummary{
		ID:                 row.ID,
		DepositID:          row.DepositID,
		DepositTxHash:      row.DepositTxHash,
		SourceChainID:      row.SourceChainID,
		DestinationChainID: row.DestinationChainID,
		DepositorAddr:      row.DepositorAddr,
		Amount:             row.Amount,
		Symbol:             row.Symbol,
		DepositDate:        &date,
	}
}

// OpRebateAmount converts a bridge fee into the rebate: amountUsd = bridgeFeeUsd * rate and
// amount = floor(amountUsd / rewardTokenUsd * 1e18) in reward token wei.
func OpRebateAmount(bridgeFeeUsd, rate, rewardTokenUsd decimal.Decimal) (amountUsd, amount decimal.Decimal) {
	amountUsd = bridgeFeeUsd.Mul(rate)
	if !rewardTokenUsd.IsPositive() {
		return amountUsd, decimal.Zero
	}
	amount, _ = amountUsd.Mul(wei).QuoRem(rewardTokenUsd, 0)
	return amountUsd, amount
}
