package airdrop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spokescan/spokescan/pkg/rewards"
)

var wei = decimal.New(1, 18)

// ErrMalformedPayload marks a reward file that cannot be parsed.
var ErrMalformedPayload = errors.New("malformed rewards payload")

// WalletReward is one wallet ledger row. Amounts are 18-decimal integer strings.
type WalletReward struct {
	WalletAddress            string
	EarlyUserRewards         string
	LiquidityProviderRewards string
	WelcomeTravellerRewards  string
}

// CommunityReward is one community ledger row keyed by discord id.
type CommunityReward struct {
	DiscordID string
	Amount    string
}

// toWei scales a whole-token amount to its 18-decimal integer form.
// Fractions below 1e-18 are truncated.
func toWei(n json.Number) (string, error) {
	if n == "" {
		return "0", nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return "", fmt.Errorf("%w: amount %q: %w", ErrMalformedPayload, n, err)
	}
	return d.Mul(wei).Truncate(0).String(), nil
}

func decoder(raw []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec
}

// ParseWalletRewards reads {address: {"bridgoor", "lp", "bridge-traveler"}}.
// Missing categories are zero. Addresses are stored checksummed.
func ParseWalletRewards(raw []byte) ([]WalletReward, error) {
	var doc map[string]map[string]json.Number
	if err := decoder(raw).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode wallet rewards: %w", ErrMalformedPayload, err)
	}

	out := make([]WalletReward, 0, len(doc))
	for addr, amounts := range doc {
		checksum, err := rewards.NormalizeAddress(addr)
		if err != nil {
			return nil, err
		}
		row := WalletReward{WalletAddress: checksum}
		if row.EarlyUserRewards, err = toWei(amounts["bridgoor"]); err != nil {
			return nil, err
		}
		if row.LiquidityProviderRewards, err = toWei(amounts["lp"]); err != nil {
			return nil, err
		}
		if row.WelcomeTravellerRewards, err = toWei(amounts["bridge-traveler"]); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// ParseCommunityRewards reads [{"ID", "Total Tokens"}]. Entries missing either field, or with a
// zero amount, are skipped.
func ParseCommunityRewards(raw []byte) ([]CommunityReward, error) {
	var doc []map[string]interface{}
	if err := decoder(raw).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode community rewards: %w", ErrMalformedPayload, err)
	}

	out := make([]CommunityReward, 0, len(doc))
	for _, entry := range doc {
		id := scalar(entry["ID"])
		total := scalar(entry["Total Tokens"])
		if id == "" || total == "" || total == "0" {
			continue
		}
		amount, err := toWei(json.Number(total))
		if err != nil {
			return nil, err
		}
		out = append(out, CommunityReward{DiscordID: id, Amount: amount})
	}
	return out, nil
}

// scalar renders a JSON string or number as text; anything else is empty.
func scalar(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
