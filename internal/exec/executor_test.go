package exec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dn-carry-bot/internal/state"
	"dn-carry-bot/internal/venue"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

type scripted struct {
	res   venue.Result
	apply decimal.Decimal
}

// fakeAdapter holds one quantity (collateral) and replays scripted outcomes.
type fakeAdapter struct {
	mu       sync.Mutex
	value    decimal.Decimal
	script   []scripted
	calls    int
	reads    int
	readErrs int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Execute(ctx context.Context, action venue.Action) venue.Result {
	_ = ctx
	_ = action
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.script[f.calls]
	f.calls++
	f.value = f.value.Add(step.apply)
	return step.res
}

func (f *fakeAdapter) ReadState(ctx context.Context) (venue.Observed, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErrs > 0 && f.calls > 0 {
		f.readErrs--
		return venue.Observed{}, errors.New("read timeout")
	}
	return venue.Observed{CollateralETH: f.value, ReadAt: time.Now()}, nil
}

func supplyStep(adapter venue.ActionAdapter, amount string) Step {
	amt := decimal.RequireFromString(amount)
	return Step{
		Name:      "supply",
		Adapter:   adapter,
		Action:    venue.Action{Kind: venue.ActionSupply, Amount: amt, Ref: "entry-1"},
		Measure:   func(o venue.Observed) decimal.Decimal { return o.CollateralETH },
		Target:    func(b venue.Observed) decimal.Decimal { return b.CollateralETH.Add(amt) },
		Tolerance: decimal.RequireFromString("0.0001"),
	}
}

func newTestExecutor(store state.Store) (*Executor, *[]time.Duration) {
	var slept []time.Duration
	policy := RetryPolicy{
		Attempts:   3,
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	opts := Options{CallTimeout: time.Second, ConfirmTimeout: 3 * time.Second, ConfirmPollInterval: time.Second}
	var journal *state.Journal
	if store != nil {
		journal = state.NewJournal(store)
	}
	return New(policy, opts, journal, nil, zap.NewNop()), &slept
}

func TestRunConfirmed(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{{res: venue.Confirmed(decimal.NewFromInt(2), "0x1"), apply: decimal.NewFromInt(2)}}}
	store := newMemoryStore()
	ex, _ := newTestExecutor(store)

	out, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Observed.CollateralETH.Equal(decimal.NewFromInt(2)))

	recent, err := state.NewJournal(store).Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "entry-1-1", recent[0].ID)
	assert.Equal(t, string(venue.StatusConfirmed), recent[0].Status)
	assert.Equal(t, "0x1", recent[0].TxRef)
}

func TestRunConfirmedButReadDisagrees(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{{res: venue.Confirmed(decimal.NewFromInt(2), "0x1")}}}
	ex, slept := newTestExecutor(nil)

	_, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.ErrorIs(t, err, ErrConfirmMismatch)
	assert.Len(t, *slept, 2, "confirm should poll for the whole window")
}

func TestRunStepConfirmWindowOverride(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{{res: venue.Confirmed(decimal.NewFromInt(2), "0x1")}}}
	ex, slept := newTestExecutor(nil)
	step := supplyStep(adapter, "2")
	step.ConfirmTimeout = 10 * time.Second

	_, err := ex.Run(context.Background(), step)
	require.ErrorIs(t, err, ErrConfirmMismatch)
	assert.Len(t, *slept, 9, "a bridge step polls for its own longer window")
}

func TestRunRejectedNotRetried(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{{res: venue.Rejected("insufficient collateral", nil)}}}
	ex, _ := newTestExecutor(nil)

	_, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.Error(t, err)
	assert.True(t, venue.IsRejected(err))
	assert.Equal(t, 1, adapter.calls)
}

func TestRunTransientRetriedWhenNothingApplied(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{
		{res: venue.Transient(errors.New("429"))},
		{res: venue.Transient(errors.New("nonce too low"))},
		{res: venue.Confirmed(decimal.NewFromInt(2), "0x3"), apply: decimal.NewFromInt(2)},
	}}
	ex, slept := newTestExecutor(nil)

	out, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.NoError(t, err)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestRunTransientExhausted(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{
		{res: venue.Transient(errors.New("429"))},
		{res: venue.Transient(errors.New("429"))},
		{res: venue.Transient(errors.New("429"))},
	}}
	ex, _ := newTestExecutor(nil)

	out, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.Error(t, err)
	assert.True(t, venue.IsTransient(err))
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, adapter.calls)
}

func TestRunUnknownResolvedByRead(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{{res: venue.Unknown("0xabc", context.DeadlineExceeded), apply: decimal.NewFromInt(2)}}}
	ex, _ := newTestExecutor(nil)

	out, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.NoError(t, err)
	assert.Equal(t, 1, adapter.calls, "landed call must not be resubmitted")
	assert.True(t, out.Observed.CollateralETH.Equal(decimal.NewFromInt(2)))
}

func TestRunUnknownPartiallyAppliedIsAmbiguous(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{{res: venue.Unknown("0xabc", context.DeadlineExceeded), apply: decimal.NewFromInt(1)}}}
	ex, _ := newTestExecutor(nil)

	_, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.Error(t, err)
	assert.True(t, venue.IsAmbiguous(err))
	assert.Equal(t, 1, adapter.calls)
}

func TestRunUnknownWithFailedReadsIsAmbiguous(t *testing.T) {
	adapter := &fakeAdapter{
		script:   []scripted{{res: venue.Unknown("0xabc", context.DeadlineExceeded)}},
		readErrs: 10,
	}
	ex, _ := newTestExecutor(nil)

	_, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.Error(t, err)
	assert.True(t, venue.IsAmbiguous(err))
}

func TestRunBaselineReadFailure(t *testing.T) {
	adapter := &failingReader{}
	ex, _ := newTestExecutor(nil)

	_, err := ex.Run(context.Background(), supplyStep(adapter, "2"))
	require.Error(t, err)
	assert.True(t, venue.IsStaleOrMissing(err))
	assert.Equal(t, 0, adapter.calls)
}

func TestRunIgnoresParentCancellation(t *testing.T) {
	adapter := &fakeAdapter{script: []scripted{{res: venue.Confirmed(decimal.NewFromInt(2), "0x1"), apply: decimal.NewFromInt(2)}}}
	ex, _ := newTestExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Run(ctx, supplyStep(adapter, "2"))
	require.NoError(t, err)
}

func TestRetryPolicyDelays(t *testing.T) {
	p := RetryPolicy{Attempts: 4, Initial: 500 * time.Millisecond, Max: time.Second, Multiplier: 2}
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, time.Second}, p.Delays())
	assert.Empty(t, RetryPolicy{Attempts: 1}.Delays())
}

type failingReader struct {
	calls int
}

func (f *failingReader) Name() string { return "broken" }

func (f *failingReader) Execute(ctx context.Context, action venue.Action) venue.Result {
	f.calls++
	return venue.Confirmed(decimal.Zero, "")
}

func (f *failingReader) ReadState(ctx context.Context) (venue.Observed, error) {
	return venue.Observed{}, errors.New("connection refused")
}
