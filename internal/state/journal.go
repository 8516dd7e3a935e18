package state

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

const (
	JournalKey        = "exec:journal"
	defaultJournalCap = 64
)

const (
	IntentPending   = "pending"
	IntentConfirmed = "confirmed"
	IntentRejected  = "rejected"
	IntentUnknown   = "unknown"
	IntentTransient = "transient"
	IntentFailed    = "failed"
)

// Intent is written before a venue call is submitted and resolved after its outcome is
// known, so a restart mid-call leaves evidence of what may have been sent.
type Intent struct {
	ID           string `json:"id"`
	Step         string `json:"step"`
	Venue        string `json:"venue"`
	Kind         string `json:"kind"`
	Amount       string `json:"amount"`
	Attempt      int    `json:"attempt"`
	Status       string `json:"status"`
	TxRef        string `json:"tx_ref,omitempty"`
	Reason       string `json:"reason,omitempty"`
	StartedAtMS  int64  `json:"started_at_ms"`
	ResolvedAtMS int64  `json:"resolved_at_ms,omitempty"`
}

type Journal struct {
	store Store
	cap   int
	now   func() time.Time

	mu sync.Mutex
}

func NewJournal(store Store) *Journal {
	return &Journal{store: store, cap: defaultJournalCap, now: time.Now}
}

func NewIntentID() string {
	id := uuid.New()
	return base62.EncodeToString(id[:])
}

func (j *Journal) Begin(ctx context.Context, intent Intent) (string, error) {
	if j == nil || j.store == nil {
		return "", nil
	}
	if intent.ID == "" {
		intent.ID = NewIntentID()
	}
	intent.Status = IntentPending
	intent.StartedAtMS = j.now().UnixMilli()
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := j.load(ctx)
	if err != nil {
		return "", err
	}
	entries = append(entries, intent)
	if len(entries) > j.cap {
		entries = entries[len(entries)-j.cap:]
	}
	return intent.ID, j.save(ctx, entries)
}

func (j *Journal) Resolve(ctx context.Context, id, status, txRef, reason string) error {
	if j == nil || j.store == nil || id == "" {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := j.load(ctx)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID != id {
			continue
		}
		entries[i].Status = status
		if txRef != "" {
			entries[i].TxRef = txRef
		}
		entries[i].Reason = reason
		entries[i].ResolvedAtMS = j.now().UnixMilli()
		return j.save(ctx, entries)
	}
	return errors.New("journal entry not found: " + id)
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Intent, error) {
	if j == nil || j.store == nil {
		return nil, nil
	}
	j.mu.Lock()
	entries, err := j.load(ctx)
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if n <= 0 || n > len(entries) {
		n = len(entries)
	}
	out := make([]Intent, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

// Pending lists intents that were submitted but never resolved.
func (j *Journal) Pending(ctx context.Context) ([]Intent, error) {
	all, err := j.Recent(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []Intent
	for _, entry := range all {
		if entry.Status == IntentPending {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (j *Journal) load(ctx context.Context) ([]Intent, error) {
	raw, ok, err := j.store.Get(ctx, JournalKey)
	if err != nil {
		return nil, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var entries []Intent
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (j *Journal) save(ctx context.Context, entries []Intent) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return j.store.Set(ctx, JournalKey, string(payload))
}
