package airdrop

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/rewards"
)

// Reader looks up stored allocations for one wallet. Missing rows return nil without error.
type Reader interface {
	WalletReward(ctx context.Context, address string) (*WalletReward, error)
	CommunityRewardForWallet(ctx context.Context, address string) (*CommunityReward, error)
	CountFilledDeposits(ctx context.Context, depositor string) (int64, error)
}

type Allocation struct {
	Eligible bool   `json:"eligible"`
	Amount   string `json:"amount"`
}

type WelcomeTraveller struct {
	Eligible  bool   `json:"eligible"`
	Completed bool   `json:"completed"`
	Amount    string `json:"amount"`
}

type WalletRewards struct {
	WelcomeTravellerRewards  WelcomeTraveller `json:"welcomeTravellerRewards"`
	EarlyUserRewards         Allocation       `json:"earlyUserRewards"`
	LiquidityProviderRewards Allocation       `json:"liquidityProviderRewards"`
	CommunityRewards         Allocation       `json:"communityRewards"`
}

func allocation(amount string) Allocation {
	if amount == "" {
		return Allocation{Amount: "0"}
	}
	d, err := decimal.NewFromString(amount)
	return Allocation{Eligible: err == nil && d.IsPositive(), Amount: amount}
}

// GetRewards returns the allocations of a wallet. The welcome traveller reward is completed
// once the wallet has at least one filled deposit.
func GetRewards(ctx context.Context, r Reader, wallet string) (WalletRewards, error) {
	address, err := rewards.NormalizeAddress(wallet)
	if err != nil {
		return WalletRewards{}, err
	}

	wr, err := r.WalletReward(ctx, address)
	if err != nil {
		return WalletRewards{}, err
	}
	cr, err := r.CommunityRewardForWallet(ctx, address)
	if err != nil {
		return WalletRewards{}, err
	}

	var out WalletRewards
	if wr == nil {
		wr = &WalletReward{}
	}
	welcome := allocation(wr.WelcomeTravellerRewards)
	out.WelcomeTravellerRewards = WelcomeTraveller{Eligible: welcome.Eligible, Amount: welcome.Amount}
	out.EarlyUserRewards = allocation(wr.EarlyUserRewards)
	out.LiquidityProviderRewards = allocation(wr.LiquidityProviderRewards)
	if cr != nil {
		out.CommunityRewards = allocation(cr.Amount)
	} else {
		out.CommunityRewards = allocation("")
	}

	if welcome.Eligible {
		n, err := r.CountFilledDeposits(ctx, address)
		if err != nil {
			return WalletRewards{}, err
		}
		out.WelcomeTravellerRewards.Completed = n > 0
	}
	return out, nil
}
