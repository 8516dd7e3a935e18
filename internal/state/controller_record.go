package state

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"dn-carry-bot/internal/strategy"
)

const ControllerRecordKey = "controller:record"

// ControllerRecord is the last lifecycle state the controller persisted. It is a hint
// for start-up reconciliation only; live venue reads always win.
type ControllerRecord struct {
	State       strategy.Lifecycle `json:"state"`
	Position    *strategy.Position `json:"position,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Paused      bool               `json:"paused"`
	UpdatedAtMS int64              `json:"updated_at_ms"`
}

func (r ControllerRecord) UpdatedAt() time.Time {
	if r.UpdatedAtMS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.UpdatedAtMS).UTC()
}

func LoadControllerRecord(ctx context.Context, store Store) (ControllerRecord, bool, error) {
	if store == nil {
		return ControllerRecord{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, ControllerRecordKey)
	if err != nil {
		return ControllerRecord{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return ControllerRecord{}, false, nil
	}
	var record ControllerRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return ControllerRecord{}, false, err
	}
	return record, true, nil
}

func SaveControllerRecord(ctx context.Context, store Store, record ControllerRecord) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if record.UpdatedAtMS == 0 {
		record.UpdatedAtMS = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, ControllerRecordKey, string(payload))
}
