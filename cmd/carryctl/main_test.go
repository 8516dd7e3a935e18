package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"dn-carry-bot/internal/market"
	"dn-carry-bot/internal/state"
	"dn-carry-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

func TestRenderEstimateVerdict(t *testing.T) {
	var buf bytes.Buffer
	sizing := strategy.Sizing{CollateralETH: decimal.NewFromInt(10), DebtUSDC: decimal.NewFromInt(14000), ShortETH: decimal.NewFromInt(10)}
	est := strategy.ProfitabilityEstimate{NetAPY: decimal.RequireFromString("0.031")}
	history := []market.FundingPoint{{Rate: decimal.RequireFromString("0.00001")}, {Rate: decimal.RequireFromString("0.00003")}}
	renderEstimate(&buf, sizing, est, decimal.RequireFromString("0.02"), history, 24*time.Hour)

	out := buf.String()
	for _, want := range []string{"ENTRY ESTIMATE", "3.10%", "favourable", "17.52%", "14000.00 USDC"} {
		if !strings.Contains(strings.ToUpper(out), strings.ToUpper(want)) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderEstimateBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	est := strategy.ProfitabilityEstimate{NetAPY: decimal.RequireFromString("0.015")}
	renderEstimate(&buf, strategy.Sizing{}, est, decimal.RequireFromString("0.02"), nil, time.Hour)
	if !strings.Contains(strings.ToLower(buf.String()), "below threshold") {
		t.Fatalf("expected below threshold verdict:\n%s", buf.String())
	}
}

func TestRenderJournalEmpty(t *testing.T) {
	var buf bytes.Buffer
	renderJournal(&buf, nil)
	if !strings.Contains(strings.ToLower(buf.String()), "venue intents") {
		t.Fatalf("expected title in output:\n%s", buf.String())
	}
	buf.Reset()
	renderJournal(&buf, []state.Intent{{Step: "open_short", Venue: "hyperliquid", Status: state.IntentConfirmed}})
	if !strings.Contains(buf.String(), "open_short") {
		t.Fatalf("expected intent row:\n%s", buf.String())
	}
}
