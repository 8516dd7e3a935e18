package market

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type FundingPoint struct {
	Time time.Time
	Rate decimal.Decimal
}

type fundingHistoryRequest struct {
	Type      string `json:"type"`
	Coin      string `json:"coin"`
	StartTime int64  `json:"startTime"`
}

type fundingHistoryEntry struct {
	Coin        string          `json:"coin"`
	FundingRate decimal.Decimal `json:"fundingRate"`
	Time        int64           `json:"time"`
}

// FundingHistory returns settled hourly funding rates since the given time, oldest first.
func (m *MarketData) FundingHistory(ctx context.Context, asset string, since time.Time) ([]FundingPoint, error) {
	if m.rest == nil {
		return nil, errors.New("funding history requires a rest client")
	}
	var entries []fundingHistoryEntry
	req := fundingHistoryRequest{Type: "fundingHistory", Coin: asset, StartTime: since.UnixMilli()}
	if err := m.rest.Info(ctx, req, &entries); err != nil {
		return nil, err
	}
	out := make([]FundingPoint, 0, len(entries))
	for _, e := range entries {
		if e.Coin != "" && e.Coin != asset {
			continue
		}
		out = append(out, FundingPoint{Time: time.UnixMilli(e.Time).UTC(), Rate: e.FundingRate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// AverageRate is the arithmetic mean of the hourly rates, zero for no points.
func AverageRate(points []FundingPoint) decimal.Decimal {
	if len(points) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range points {
		sum = sum.Add(p.Rate)
	}
	return sum.Div(decimal.NewFromInt(int64(len(points))))
}
