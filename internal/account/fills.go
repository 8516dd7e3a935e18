package account

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Fill struct {
	OrderID   string
	Cloid     string
	Asset     string
	Side      string
	Dir       string
	Size      decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	ClosedPnl decimal.Decimal
	Time      time.Time
	Hash      string
}

type userFillsRequest struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime,omitempty"`
}

type fillEntry struct {
	Oid       int64           `json:"oid"`
	Cloid     string          `json:"cloid"`
	Coin      string          `json:"coin"`
	Side      string          `json:"side"`
	Dir       string          `json:"dir"`
	Sz        decimal.Decimal `json:"sz"`
	Px        decimal.Decimal `json:"px"`
	Fee       decimal.Decimal `json:"fee"`
	ClosedPnl decimal.Decimal `json:"closedPnl"`
	Time      int64           `json:"time"`
	Hash      string          `json:"hash"`
}

// Fills returns the account's fills for asset in [start, end), oldest first. A zero end
// means up to now.
func (l *Ledger) Fills(ctx context.Context, asset string, start, end time.Time) ([]Fill, error) {
	if start.IsZero() {
		return nil, errors.New("start time is required")
	}
	req := userFillsRequest{Type: "userFillsByTime", User: l.user, StartTime: start.UnixMilli()}
	if !end.IsZero() {
		req.EndTime = end.UnixMilli()
	}
	var entries []fillEntry
	if err := l.info.Info(ctx, req, &entries); err != nil {
		return nil, err
	}
	out := make([]Fill, 0, len(entries))
	for _, e := range entries {
		if asset != "" && !strings.EqualFold(e.Coin, asset) {
			continue
		}
		out = append(out, Fill{
			OrderID:   strconv.FormatInt(e.Oid, 10),
			Cloid:     e.Cloid,
			Asset:     e.Coin,
			Side:      e.Side,
			Dir:       e.Dir,
			Size:      e.Sz,
			Price:     e.Px,
			Fee:       e.Fee,
			ClosedPnl: e.ClosedPnl,
			Time:      time.UnixMilli(e.Time).UTC(),
			Hash:      e.Hash,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// TotalFees sums fees paid across fills.
func TotalFees(fills []Fill) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fills {
		total = total.Add(f.Fee)
	}
	return total
}
