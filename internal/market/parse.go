package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PerpContext struct {
	Asset       string
	Index       int
	FundingRate decimal.Decimal
	MarkPrice   decimal.Decimal
	OraclePrice decimal.Decimal
	SzDecimals  int32
	MaxLeverage int
	ReadAt      time.Time
}

type universeEntry struct {
	Name        string `json:"name"`
	SzDecimals  int32  `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted"`
}

type perpMeta struct {
	Universe []universeEntry `json:"universe"`
}

type assetCtx struct {
	Funding  decimal.Decimal `json:"funding"`
	MarkPx   decimal.Decimal `json:"markPx"`
	OraclePx decimal.Decimal `json:"oraclePx"`
}

type activeAssetCtx struct {
	Coin string   `json:"coin"`
	Ctx  assetCtx `json:"ctx"`
}

// parsePerpContexts decodes the [meta, ctxs] pair returned by metaAndAssetCtxs. The
// universe and context arrays are index aligned.
func parsePerpContexts(raw []json.RawMessage, readAt time.Time) (map[string]PerpContext, error) {
	if len(raw) < 2 {
		return nil, errors.New("metaAndAssetCtxs: expected [meta, ctxs]")
	}
	var meta perpMeta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("decode perp meta: %w", err)
	}
	var ctxs []assetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset ctxs: %w", err)
	}
	if len(meta.Universe) == 0 {
		return nil, errors.New("perp universe is empty")
	}
	out := make(map[string]PerpContext, len(meta.Universe))
	for i, u := range meta.Universe {
		if u.Name == "" || u.IsDelisted || i >= len(ctxs) {
			continue
		}
		c := ctxs[i]
		out[u.Name] = PerpContext{
			Asset:       u.Name,
			Index:       i,
			FundingRate: c.Funding,
			MarkPrice:   c.MarkPx,
			OraclePrice: c.OraclePx,
			SzDecimals:  u.SzDecimals,
			MaxLeverage: u.MaxLeverage,
			ReadAt:      readAt,
		}
	}
	return out, nil
}

func parseActiveAssetCtx(data json.RawMessage) (activeAssetCtx, error) {
	var out activeAssetCtx
	if err := json.Unmarshal(data, &out); err != nil {
		return activeAssetCtx{}, err
	}
	if out.Coin == "" {
		return activeAssetCtx{}, errors.New("activeAssetCtx without coin")
	}
	return out, nil
}
