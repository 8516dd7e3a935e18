package controller

import (
	"context"
	"fmt"

	"dn-carry-bot/internal/venue"

	"golang.org/x/sync/errgroup"
)

// marginVenue is the USDC path between the lending wallet and the perp account.
// Deposits leave from the lending wallet through the bridge; withdrawals leave from the
// perp account back to the same wallet. Its reads carry both sides so a step can be
// confirmed on whichever side it lands.
type marginVenue struct {
	lending venue.ActionAdapter
	perp    venue.ActionAdapter
}

func (m marginVenue) Name() string { return m.perp.Name() + " margin" }

func (m marginVenue) Execute(ctx context.Context, action venue.Action) venue.Result {
	switch action.Kind {
	case venue.ActionDepositMargin:
		return m.lending.Execute(ctx, action)
	case venue.ActionWithdrawMargin:
		return m.perp.Execute(ctx, action)
	default:
		return venue.Rejected("unsupported_action", fmt.Errorf("margin path cannot %s", action.Kind))
	}
}

func (m marginVenue) ReadState(ctx context.Context) (venue.Observed, error) {
	var wallet, account venue.Observed
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wallet, err = m.lending.ReadState(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		account, err = m.perp.ReadState(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return venue.Observed{}, err
	}
	readAt := wallet.ReadAt
	if account.ReadAt.After(readAt) {
		readAt = account.ReadAt
	}
	return venue.Observed{
		WalletUSDC:       wallet.WalletUSDC,
		MarginUSDC:       account.MarginUSDC,
		WithdrawableUSDC: account.WithdrawableUSDC,
		ReadAt:           readAt,
	}, nil
}
