package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"dn-carry-bot/internal/config"
	"dn-carry-bot/internal/controller"
	"dn-carry-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs    []message
	err     error
	drained bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func testConfig() config.NATSConfig {
	return config.NATSConfig{TickSubject: "dn.ticks", AlertSubject: "dn.alerts"}
}

func TestRecordPublishesTickJSON(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn, testConfig(), nil)
	est := strategy.ProfitabilityEstimate{NetAPY: decimal.RequireFromString("0.055")}
	p.Record(context.Background(), controller.TickRecord{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		State:     strategy.StateActive,
		Estimate:  &est,
		Action:    "monitor",
	})
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "dn.ticks", conn.msgs[0].subject)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &decoded))
	assert.Equal(t, "ACTIVE", decoded["state"])
	assert.Equal(t, "monitor", decoded["action"])
	estimate, ok := decoded["estimate"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "0.055", estimate["NetAPY"])
}

func TestAlertPublishesToAlertSubject(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn, testConfig(), nil)
	p.Alert(context.Background(), controller.Alert{Severity: controller.SeverityFatal, Kind: "risk_breach"})
	require.Len(t, conn.msgs, 1)
	assert.Equal(t, "dn.alerts", conn.msgs[0].subject)
	assert.Contains(t, string(conn.msgs[0].data), `"severity":"fatal"`)
}

func TestPublishErrorsAreSwallowed(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := New(conn, testConfig(), nil)
	p.Alert(context.Background(), controller.Alert{Kind: "entered"})
	assert.Empty(t, conn.msgs)
	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestConnectRequiresURL(t *testing.T) {
	_, err := Connect(config.NATSConfig{}, nil)
	assert.Error(t, err)
}
