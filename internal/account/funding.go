package account

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FundingPayment is one hourly settlement. USDC is positive when the account received
// funding, which is the normal case for a short while funding is positive.
type FundingPayment struct {
	Asset string
	USDC  decimal.Decimal
	Rate  decimal.Decimal
	Size  decimal.Decimal
	Time  time.Time
	Hash  string
}

type userFundingRequest struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime,omitempty"`
}

type userFundingEntry struct {
	Time  int64  `json:"time"`
	Hash  string `json:"hash"`
	Delta struct {
		Type        string          `json:"type"`
		Coin        string          `json:"coin"`
		USDC        decimal.Decimal `json:"usdc"`
		Szi         decimal.Decimal `json:"szi"`
		FundingRate decimal.Decimal `json:"fundingRate"`
	} `json:"delta"`
}

// Funding returns payments for asset since the given time, oldest first. An empty
// asset returns every coin.
func (l *Ledger) Funding(ctx context.Context, asset string, since time.Time) ([]FundingPayment, error) {
	var entries []userFundingEntry
	req := userFundingRequest{Type: "userFunding", User: l.user, StartTime: since.UnixMilli()}
	if err := l.info.Info(ctx, req, &entries); err != nil {
		return nil, err
	}
	out := make([]FundingPayment, 0, len(entries))
	for _, e := range entries {
		if t := strings.ToLower(e.Delta.Type); t != "" && t != "funding" {
			continue
		}
		if asset != "" && !strings.EqualFold(e.Delta.Coin, asset) {
			continue
		}
		out = append(out, FundingPayment{
			Asset: e.Delta.Coin,
			USDC:  e.Delta.USDC,
			Rate:  e.Delta.FundingRate,
			Size:  e.Delta.Szi,
			Time:  time.UnixMilli(e.Time).UTC(),
			Hash:  e.Hash,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// NetFunding sums the payments.
func NetFunding(payments []FundingPayment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.USDC)
	}
	return total
}
