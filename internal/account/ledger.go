// Package account reads the Hyperliquid account's realized history: funding payments
// settled against the short and the fills that opened and closed it.
package account

import (
	"errors"
	"strings"

	"dn-carry-bot/internal/market"
)

type Ledger struct {
	info market.InfoClient
	user string
}

func NewLedger(info market.InfoClient, user string) (*Ledger, error) {
	if info == nil {
		return nil, errors.New("info client is required")
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, errors.New("account user is required")
	}
	return &Ledger{info: info, user: user}, nil
}

func (l *Ledger) User() string { return l.user }
