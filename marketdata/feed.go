package marketdata

import (
	"context"
	"errors"
	"time"

	"grid_hedge_bot/logs"
	"grid_hedge_bot/strategy"

	"github.com/shopspring/decimal"
)

// ErrFeedClosed is returned when the price source ends on its own.
var ErrFeedClosed = errors.New("price feed closed")

// Feed streams ticks into a mailbox until ctx is cancelled or the source fails.
type Feed interface {
	Stream(ctx context.Context, box *Mailbox) error
}

// SimulatedFeed relays a price channel, typically MockClient.Subscribe().
type SimulatedFeed struct {
	Symbol string
	Prices <-chan decimal.Decimal
	Now    func() time.Time
}

func (f *SimulatedFeed) Stream(ctx context.Context, box *Mailbox) error {
	now := f.Now
	if now == nil {
		now = time.Now
	}
	logs.Infof("[MarketData] Simulated feed started for %s", f.Symbol)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case price, ok := <-f.Prices:
			if !ok {
				return ErrFeedClosed
			}
			box.Put(strategy.PriceTick{Symbol: f.Symbol, Price: price, Timestamp: now()})
		}
	}
}
