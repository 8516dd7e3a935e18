package timescale

import (
	"context"
	"testing"
	"time"

	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/controller"
	"dn-carry-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

type countingCounter struct{ n int }

func (c *countingCounter) Inc() { c.n++ }

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{}, nil, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v %v", w, err)
	}
	// A nil writer is a valid no-op recorder.
	w.Record(context.Background(), controller.TickRecord{})
	w.Alert(context.Background(), controller.Alert{})
	if err := w.Close(); err != nil {
		t.Fatalf("close nil writer: %v", err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, nil, nil); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	drops := &countingCounter{}
	w := newWriter(nil, config.TimescaleConfig{QueueSize: 1}, drops, nil)
	w.Record(context.Background(), controller.TickRecord{State: strategy.StateIdle})
	w.Record(context.Background(), controller.TickRecord{State: strategy.StateIdle})
	w.Record(context.Background(), controller.TickRecord{State: strategy.StateIdle})
	if w.Dropped() != 2 || drops.n != 2 {
		t.Fatalf("expected 2 drops, got %d / %d", w.Dropped(), drops.n)
	}
	if w.table("dn_ticks") != "public.dn_ticks" {
		t.Fatalf("unexpected table name %s", w.table("dn_ticks"))
	}
}

func TestTickRowFromRecord(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	est := strategy.ProfitabilityEstimate{NetAPY: decimal.RequireFromString("0.055")}
	risk := strategy.RiskAssessment{Buffer: decimal.RequireFromString("0.33")}
	pos := strategy.Position{ShortETH: decimal.NewFromInt(10)}
	row := TickRowFrom(controller.TickRecord{
		Timestamp: ts,
		State:     strategy.StateActive,
		Estimate:  &est,
		Risk:      &risk,
		Position:  &pos,
		Action:    "monitor",
	})
	if !row.Time.Equal(ts) || row.State != "ACTIVE" || row.Action != "monitor" {
		t.Fatalf("unexpected row header: %+v", row)
	}
	if !row.NetAPY.Valid || !row.NetAPY.Decimal.Equal(est.NetAPY) {
		t.Fatalf("expected net apy, got %+v", row.NetAPY)
	}
	if !row.Buffer.Valid || !row.ShortETH.Valid {
		t.Fatalf("expected risk and position columns")
	}

	bare := TickRowFrom(controller.TickRecord{State: strategy.StateDegraded, Action: "halted"})
	if bare.NetAPY.Valid || bare.LTV.Valid || bare.CollateralETH.Valid {
		t.Fatalf("expected null columns for a bare tick: %+v", bare)
	}
}
