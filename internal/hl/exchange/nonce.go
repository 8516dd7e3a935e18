package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// NonceStore is the slice of the state store the exchange client needs to carry its
// nonce high-water mark across restarts.
type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// NonceState reports the last issued nonce and the last one written to the store.
type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

// nonceSource issues strictly increasing millisecond nonces. Hyperliquid rejects a
// nonce it has already seen for the signer, so after a restart issuance resumes above
// the persisted mark even if the wall clock stepped back.
type nonceSource struct {
	mu        sync.Mutex
	now       func() time.Time
	last      uint64
	persisted uint64
	store     NonceStore
	key       string
	log       *zap.Logger
	failing   bool
}

func newNonceSource() *nonceSource {
	return &nonceSource{now: time.Now}
}

func (n *nonceSource) attach(ctx context.Context, store NonceStore, key string, log *zap.Logger) error {
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read nonce mark: %w", err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	mark := uint64(n.now().UnixMilli())
	if ok {
		stored, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("nonce mark %q: %w", raw, err)
		}
		mark = max(mark, stored)
	}
	mark = max(mark, n.last)
	n.last, n.persisted = mark, mark
	n.store, n.key, n.log = store, key, log
	return nil
}

func (n *nonceSource) next() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = max(uint64(n.now().UnixMilli()), n.last+1)
	n.persist()
	return n.last
}

// persist runs with mu held; a failed write is logged once per failure streak and the
// nonce is still issued.
func (n *nonceSource) persist() {
	if n.store == nil || n.last <= n.persisted {
		return
	}
	if err := n.store.Set(context.Background(), n.key, strconv.FormatUint(n.last, 10)); err != nil {
		if !n.failing && n.log != nil {
			n.log.Warn("nonce persistence failed", zap.String("nonce_key", n.key), zap.Error(err))
		}
		n.failing = true
		return
	}
	n.persisted = n.last
	n.failing = false
}

func (n *nonceSource) state() (NonceState, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.store == nil {
		return NonceState{}, false
	}
	return NonceState{Key: n.key, Last: n.last, Persisted: n.persisted}, true
}

// nonceKey scopes the mark to the API host, signing key and vault so testnet and
// mainnet agents never share one.
func nonceKey(baseURL string, signer common.Address, vault *common.Address) string {
	v := "none"
	if vault != nil {
		v = strings.ToLower(vault.Hex())
	}
	host := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(baseURL)), "/")
	return "exchange:nonce:" + host + ":" + strings.ToLower(signer.Hex()) + ":" + v
}
