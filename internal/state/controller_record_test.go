package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"dn-carry-bot/internal/strategy"

	"github.com/shopspring/decimal"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestControllerRecordRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	entry := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	record := ControllerRecord{
		State: strategy.StateDegraded,
		Position: &strategy.Position{
			CollateralETH:  decimal.RequireFromString("1.5"),
			DebtUSDC:       decimal.RequireFromString("3150.25"),
			EntryTimestamp: entry,
			Status:         strategy.StateDegraded,
			Legs:           strategy.LegSet{Supplied: true},
		},
		Reason:      "borrow rejected",
		UpdatedAtMS: 12345,
	}
	if err := SaveControllerRecord(ctx, store, record); err != nil {
		t.Fatalf("save record: %v", err)
	}
	got, ok, err := LoadControllerRecord(ctx, store)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to be present")
	}
	if got.State != strategy.StateDegraded || got.Reason != record.Reason || got.UpdatedAtMS != 12345 {
		t.Fatalf("unexpected record: %#v", got)
	}
	if got.Position == nil || !got.Position.DebtUSDC.Equal(record.Position.DebtUSDC) {
		t.Fatalf("unexpected position: %#v", got.Position)
	}
	if !got.Position.Legs.Supplied || got.Position.Legs.Borrowed {
		t.Fatalf("unexpected legs: %#v", got.Position.Legs)
	}
	if !got.Position.EntryTimestamp.Equal(entry) {
		t.Fatalf("expected entry %s, got %s", entry, got.Position.EntryTimestamp)
	}
}

func TestControllerRecordMissing(t *testing.T) {
	store := &memoryStore{}
	got, ok, err := LoadControllerRecord(context.Background(), store)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if ok {
		t.Fatalf("expected no record, got %#v", got)
	}
}

func TestControllerRecordInvalid(t *testing.T) {
	store := &memoryStore{items: map[string]string{ControllerRecordKey: "{"}}
	_, _, err := LoadControllerRecord(context.Background(), store)
	if err == nil {
		t.Fatalf("expected error for invalid record JSON")
	}
}
