package account

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dn-carry-bot/internal/hl/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestLedger(t *testing.T, reply string, got *map[string]any) *Ledger {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("expected /info, got %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if err := json.Unmarshal(body, got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)
	ledger, err := NewLedger(rest.New(server.URL, 5*time.Second, zap.NewNop()), "0xabc")
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return ledger
}

func TestNewLedgerRequiresUser(t *testing.T) {
	if _, err := NewLedger(rest.New("http://unused", time.Second, zap.NewNop()), " "); err == nil {
		t.Fatalf("expected error for empty user")
	}
}

func TestFundingFiltersAndSorts(t *testing.T) {
	var payload map[string]any
	ledger := newTestLedger(t, `[
		{"time":1700003600000,"hash":"0x2","delta":{"type":"funding","coin":"ETH","usdc":"0.75","szi":"-10.0","fundingRate":"0.0000125"}},
		{"time":1700000000000,"hash":"0x1","delta":{"type":"funding","coin":"ETH","usdc":"0.50","szi":"-10.0","fundingRate":"0.00001"}},
		{"time":1700000000000,"hash":"0x3","delta":{"type":"funding","coin":"BTC","usdc":"-0.10","szi":"0.1","fundingRate":"0.00001"}}
	]`, &payload)
	since := time.UnixMilli(1699990000000)

	got, err := ledger.Funding(context.Background(), "ETH", since)
	if err != nil {
		t.Fatalf("funding: %v", err)
	}
	if payload["type"] != "userFunding" || payload["user"] != "0xabc" {
		t.Fatalf("unexpected request %v", payload)
	}
	if int64(payload["startTime"].(float64)) != since.UnixMilli() {
		t.Fatalf("unexpected startTime %v", payload["startTime"])
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ETH payments, got %d", len(got))
	}
	if got[0].Hash != "0x1" || got[1].Hash != "0x2" {
		t.Fatalf("expected oldest first, got %s then %s", got[0].Hash, got[1].Hash)
	}
	if !got[0].Size.Equal(decimal.RequireFromString("-10")) {
		t.Fatalf("unexpected size %s", got[0].Size)
	}
	if net := NetFunding(got); !net.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected net funding 1.25, got %s", net)
	}
}

func TestFills(t *testing.T) {
	var payload map[string]any
	ledger := newTestLedger(t, `[
		{"oid":123,"cloid":"0xfeed","coin":"ETH","side":"A","dir":"Open Short","sz":"1.5","px":"3000.5","fee":"0.45","closedPnl":"0","time":1700000000001,"hash":"0xa"},
		{"oid":124,"coin":"BTC","side":"B","sz":"0.1","px":"60000","fee":"0.9","time":1700000000002}
	]`, &payload)
	start := time.UnixMilli(1700000000000)
	end := start.Add(time.Hour)

	fills, err := ledger.Fills(context.Background(), "ETH", start, end)
	if err != nil {
		t.Fatalf("fills: %v", err)
	}
	if payload["type"] != "userFillsByTime" {
		t.Fatalf("expected userFillsByTime, got %v", payload["type"])
	}
	if int64(payload["endTime"].(float64)) != end.UnixMilli() {
		t.Fatalf("unexpected endTime %v", payload["endTime"])
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 ETH fill, got %d", len(fills))
	}
	f := fills[0]
	if f.OrderID != "123" || f.Cloid != "0xfeed" || f.Dir != "Open Short" {
		t.Fatalf("unexpected fill %+v", f)
	}
	if !f.Price.Equal(decimal.RequireFromString("3000.5")) {
		t.Fatalf("unexpected price %s", f.Price)
	}
	if fee := TotalFees(fills); !fee.Equal(decimal.RequireFromString("0.45")) {
		t.Fatalf("unexpected fees %s", fee)
	}
}

func TestFillsRequiresStart(t *testing.T) {
	var payload map[string]any
	ledger := newTestLedger(t, `[]`, &payload)
	if _, err := ledger.Fills(context.Background(), "ETH", time.Time{}, time.Time{}); err == nil {
		t.Fatalf("expected error for zero start")
	}
}
