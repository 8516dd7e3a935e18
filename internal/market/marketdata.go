// Package market caches Hyperliquid perp asset contexts from REST snapshots and the
// activeAssetCtx websocket stream.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dn-carry-bot/internal/hl/rest"
	"dn-carry-bot/internal/hl/ws"

	"go.uber.org/zap"
)

// InfoClient is the subset of the REST client the cache needs.
type InfoClient interface {
	Info(ctx context.Context, req any, out any) error
}

type MarketData struct {
	rest InfoClient
	ws   *ws.Client
	log  *zap.Logger
	now  func() time.Time

	mu            sync.RWMutex
	perpCtx       map[string]PerpContext
	tracked       []string
	lastRefresh   time.Time
	refreshWindow time.Duration
}

func New(restClient InfoClient, wsClient *ws.Client, refreshWindow time.Duration, log *zap.Logger) *MarketData {
	if log == nil {
		log = zap.NewNop()
	}
	if refreshWindow <= 0 {
		refreshWindow = 30 * time.Second
	}
	return &MarketData{
		rest:          restClient,
		ws:            wsClient,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
		perpCtx:       make(map[string]PerpContext),
		refreshWindow: refreshWindow,
	}
}

// Track marks an asset for websocket context updates.
func (m *MarketData) Track(asset string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.tracked {
		if a == asset {
			return
		}
	}
	m.tracked = append(m.tracked, asset)
}

// Start loads contexts over REST and begins streaming updates for tracked assets.
func (m *MarketData) Start(ctx context.Context) error {
	if err := m.RefreshContexts(ctx, true); err != nil {
		m.log.Warn("context refresh failed", zap.Error(err))
	}
	if m.ws == nil {
		return nil
	}
	m.mu.RLock()
	tracked := append([]string(nil), m.tracked...)
	m.mu.RUnlock()
	for _, asset := range tracked {
		if err := m.ws.Subscribe(ctx, ws.Subscription{Type: "activeAssetCtx", Coin: asset}); err != nil {
			return err
		}
	}
	go func() {
		if err := m.ws.Run(ctx, m.handleMessage); err != nil && ctx.Err() == nil {
			m.log.Warn("market stream stopped", zap.Error(err))
		}
	}()
	return nil
}

// RefreshContexts reloads every perp context unless the cache is younger than the
// refresh window and force is false.
func (m *MarketData) RefreshContexts(ctx context.Context, force bool) error {
	if m.rest == nil {
		return nil
	}
	if !force && !m.shouldRefresh() {
		return nil
	}
	var raw []json.RawMessage
	if err := m.rest.Info(ctx, rest.InfoRequest{Type: "metaAndAssetCtxs"}, &raw); err != nil {
		return err
	}
	readAt := m.now()
	ctxs, err := parsePerpContexts(raw, readAt)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.perpCtx = ctxs
	m.lastRefresh = readAt
	m.mu.Unlock()
	return nil
}

func (m *MarketData) shouldRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastRefresh.IsZero() {
		return true
	}
	return m.now().Sub(m.lastRefresh) >= m.refreshWindow
}

func (m *MarketData) PerpContext(asset string) (PerpContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.perpCtx[asset]
	return ctx, ok
}

// Fresh returns the asset context, reloading over REST when the cached copy is older
// than the refresh window.
func (m *MarketData) Fresh(ctx context.Context, asset string) (PerpContext, error) {
	if pc, ok := m.PerpContext(asset); ok && m.now().Sub(pc.ReadAt) < m.refreshWindow {
		return pc, nil
	}
	if err := m.RefreshContexts(ctx, true); err != nil {
		return PerpContext{}, err
	}
	pc, ok := m.PerpContext(asset)
	if !ok {
		return PerpContext{}, fmt.Errorf("perp asset %s not listed", asset)
	}
	return pc, nil
}

func (m *MarketData) handleMessage(msg ws.Message) {
	if msg.Channel != "activeAssetCtx" {
		return
	}
	update, err := parseActiveAssetCtx(msg.Data)
	if err != nil {
		m.log.Debug("active asset ctx decode failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.perpCtx[update.Coin]
	if !ok {
		// Index and lot size only come from the REST universe.
		return
	}
	current.FundingRate = update.Ctx.Funding
	current.MarkPrice = update.Ctx.MarkPx
	current.OraclePrice = update.Ctx.OraclePx
	current.ReadAt = m.now()
	m.perpCtx[update.Coin] = current
}
