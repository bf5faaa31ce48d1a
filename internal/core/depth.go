package core

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/domain"
	"github.com/ShiningRay/exchange-engine/internal/num"
)

// PriceLevel aggregates remaining amounts of all resting orders at one
// price.
type PriceLevel struct {
	Price  num.Decimal `json:"price"`
	Amount num.Decimal `json:"amount"`
}

// Depth is the aggregated book, best price first on both sides.
type Depth struct {
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Depth aggregates resting orders by price. maxLevels <= 0 returns all
// levels. Read-only: invalid index entries are skipped, never repaired,
// so any reader may call this.
func (b *OrderBook) Depth(ctx context.Context, maxLevels int) (*Depth, error) {
	bids, err := b.sideDepth(ctx, domain.Buy, maxLevels)
	if err != nil {
		return nil, err
	}
	asks, err := b.sideDepth(ctx, domain.Sell, maxLevels)
	if err != nil {
		return nil, err
	}
	return &Depth{Bids: bids, Asks: asks}, nil
}

func (b *OrderBook) sideDepth(ctx context.Context, side domain.Side, maxLevels int) ([]PriceLevel, error) {
	key := SideKey(b.symbol, side == domain.Buy)
	var ids []string
	var err error
	if side == domain.Buy {
		ids, err = b.store.ZRevRange(ctx, key, 0, -1)
	} else {
		ids, err = b.store.ZRange(ctx, key, 0, -1)
	}
	if err != nil {
		return nil, err
	}
	levels := []PriceLevel{}
	for _, id := range ids {
		o, err := b.loadOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if o == nil || !o.Resting() {
			continue
		}
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(o.Price) {
			levels[n-1].Amount = levels[n-1].Amount.Add(o.Remaining)
			continue
		}
		if maxLevels > 0 && len(levels) == maxLevels {
			break
		}
		levels = append(levels, PriceLevel{Price: o.Price, Amount: o.Remaining})
	}
	return levels, nil
}

// RecentTrades returns the n newest journal entries, newest first.
func (b *OrderBook) RecentTrades(ctx context.Context, n int) ([]*domain.Trade, error) {
	if n <= 0 || n > JournalCap {
		n = JournalCap
	}
	raw, err := b.store.ListRange(ctx, TradesKey(b.symbol), 0, int64(n)-1)
	if err != nil {
		return nil, err
	}
	trades := make([]*domain.Trade, 0, len(raw))
	for _, r := range raw {
		var t domain.Trade
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			b.log.Warn("undecodable journal entry", zap.Error(err))
			continue
		}
		trades = append(trades, &t)
	}
	return trades, nil
}
