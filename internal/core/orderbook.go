// Package core holds the per-symbol order book and matching engine. All
// state lives in the shared store; an OrderBook instance carries no book
// state of its own, so constructing one per symbol (or per request for
// read paths) is cheap.
package core

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/domain"
	"github.com/ShiningRay/exchange-engine/internal/num"
	"github.com/ShiningRay/exchange-engine/internal/port"
)

// JournalCap bounds the per-symbol recent-trades journal.
const JournalCap = 1000

// noLiquidityMsg is the error text persisted on market orders that find
// an empty opposite side.
const noLiquidityMsg = "No matching orders available"

type Option func(*OrderBook)

// WithArchiver routes terminal orders and executed trades to an archive.
func WithArchiver(a port.Archiver) Option {
	return func(b *OrderBook) { b.archiver = a }
}

// WithOrderTTL expires terminal order hashes after ttl; zero keeps them
// forever.
func WithOrderTTL(ttl time.Duration) Option {
	return func(b *OrderBook) { b.orderTTL = ttl }
}

// OrderBook exposes the matching operations for one symbol. Mutating
// methods must only be called from the symbol's processor; Depth and
// RecentTrades are safe for any reader.
type OrderBook struct {
	store    port.Store
	symbol   string
	log      *zap.Logger
	archiver port.Archiver
	orderTTL time.Duration
}

func NewOrderBook(store port.Store, symbol string, log *zap.Logger, opts ...Option) *OrderBook {
	if log == nil {
		log = zap.NewNop()
	}
	b := &OrderBook{store: store, symbol: symbol, log: log.With(zap.String("symbol", symbol))}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *OrderBook) Symbol() string { return b.symbol }

// AddLimit inserts a limit order into the book and runs the matching loop
// until the book no longer crosses. Returned trades are in execution
// order.
func (b *OrderBook) AddLimit(ctx context.Context, o *domain.Order) ([]*domain.Trade, error) {
	if o.Timestamp == 0 {
		o.Timestamp = time.Now().Unix()
	}
	o.Status = domain.Open
	o.Remaining = o.Amount
	err := b.store.Txn(ctx, func(tx port.Tx) error {
		tx.HashSet(OrderKey(b.symbol, o.ID), o.Fields())
		tx.ZAdd(SideKey(b.symbol, o.Side == domain.Buy), o.Price.Score(), o.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.matchLoop(ctx)
}

// matchLoop crosses the best bid against the best ask until the spread is
// open or a side empties. Each step is one atomic store transaction.
func (b *OrderBook) matchLoop(ctx context.Context) ([]*domain.Trade, error) {
	var trades []*domain.Trade
	for {
		bid, err := b.bestResting(ctx, domain.Buy)
		if err != nil {
			return trades, err
		}
		ask, err := b.bestResting(ctx, domain.Sell)
		if err != nil {
			return trades, err
		}
		if bid == nil || ask == nil || bid.Price.LessThan(ask.Price) {
			return trades, nil
		}
		// trades always execute at the ask side's price
		price := ask.Price
		qty := num.Min(bid.Remaining, ask.Remaining)
		trade := &domain.Trade{
			ID:         domain.NewTradeID(),
			Symbol:     b.symbol,
			Price:      price,
			Amount:     qty,
			BidOrderID: bid.ID,
			AskOrderID: ask.ID,
			Timestamp:  time.Now().Unix(),
		}
		if err := b.applyFill(ctx, trade, bid, ask, qty); err != nil {
			return trades, err
		}
		trades = append(trades, trade)
	}
}

// AddMarket executes a market order against the opposite side, sweeping
// price levels until filled or the book empties. The order never rests in
// a price index. The boolean result reports whether any trade executed.
func (b *OrderBook) AddMarket(ctx context.Context, o *domain.Order) (bool, []*domain.Trade, error) {
	if o.Timestamp == 0 {
		o.Timestamp = time.Now().Unix()
	}
	o.Remaining = o.Amount
	oppKey := SideKey(b.symbol, o.Side == domain.Sell)
	n, err := b.store.ZCard(ctx, oppKey)
	if err != nil {
		return false, nil, err
	}
	if n == 0 {
		o.Status = domain.Failed
		o.Error = noLiquidityMsg
		if err := b.store.HashSet(ctx, OrderKey(b.symbol, o.ID), o.Fields()); err != nil {
			return false, nil, err
		}
		b.archiveOrder(ctx, o)
		return false, nil, nil
	}

	o.Status = domain.Open
	if err := b.store.HashSet(ctx, OrderKey(b.symbol, o.ID), o.Fields()); err != nil {
		return false, nil, err
	}

	var trades []*domain.Trade
	for o.Remaining.IsPositive() {
		counter, err := b.bestResting(ctx, o.Side.Opposite())
		if err != nil {
			return len(trades) > 0, trades, err
		}
		if counter == nil {
			break
		}
		qty := num.Min(o.Remaining, counter.Remaining)
		trade := &domain.Trade{
			ID:        domain.NewTradeID(),
			Symbol:    b.symbol,
			Price:     counter.Price,
			Amount:    qty,
			Timestamp: time.Now().Unix(),
		}
		if o.Side == domain.Buy {
			trade.BidOrderID, trade.AskOrderID = o.ID, counter.ID
		} else {
			trade.BidOrderID, trade.AskOrderID = counter.ID, o.ID
		}
		payload, err := json.Marshal(trade)
		if err != nil {
			return len(trades) > 0, trades, err
		}
		o.Remaining = o.Remaining.Sub(qty)
		if o.Remaining.IsZero() {
			o.Status = domain.Filled
		} else {
			o.Status = domain.PartiallyFilled
		}
		err = b.store.Txn(ctx, func(tx port.Tx) error {
			tx.ListPushLeft(TradesKey(b.symbol), string(payload))
			tx.ListTrim(TradesKey(b.symbol), 0, JournalCap-1)
			b.settle(tx, counter, qty)
			tx.HashSet(OrderKey(b.symbol, o.ID), map[string]any{
				"remaining": o.Remaining.String(),
				"status":    string(o.Status),
			})
			if o.Status == domain.Filled && b.orderTTL > 0 {
				tx.Expire(OrderKey(b.symbol, o.ID), b.orderTTL)
			}
			return nil
		})
		if err != nil {
			return len(trades) > 0, trades, err
		}
		trades = append(trades, trade)
		b.archiveTrade(ctx, trade)
		if counter.Status.Terminal() {
			b.archiveOrder(ctx, counter)
		}
	}

	if len(trades) == 0 {
		// every opposite entry turned out to be orphaned
		o.Status = domain.Failed
		o.Error = noLiquidityMsg
		if err := b.store.HashSet(ctx, OrderKey(b.symbol, o.ID), o.Fields()); err != nil {
			return false, nil, err
		}
		b.archiveOrder(ctx, o)
		return false, nil, nil
	}
	if o.Status.Terminal() {
		b.archiveOrder(ctx, o)
	}
	return true, trades, nil
}

// Cancel flips a resting order to cancelled and drops its index entry.
// Unknown ids and orders already in a terminal state return false without
// side effects.
func (b *OrderBook) Cancel(ctx context.Context, id string) (bool, error) {
	o, err := b.loadOrder(ctx, id)
	if err != nil {
		return false, err
	}
	if o == nil || o.Status.Terminal() {
		return false, nil
	}
	o.Status = domain.Cancelled
	err = b.store.Txn(ctx, func(tx port.Tx) error {
		tx.ZRem(SideKey(b.symbol, o.Side == domain.Buy), id)
		tx.HashSet(OrderKey(b.symbol, id), map[string]any{"status": string(domain.Cancelled)})
		if b.orderTTL > 0 {
			tx.Expire(OrderKey(b.symbol, id), b.orderTTL)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	b.archiveOrder(ctx, o)
	return true, nil
}

// applyFill records one matching step: the trade lands in the journal and
// both orders are settled, all in a single transaction.
func (b *OrderBook) applyFill(ctx context.Context, trade *domain.Trade, bid, ask *domain.Order, qty num.Decimal) error {
	payload, err := json.Marshal(trade)
	if err != nil {
		return err
	}
	err = b.store.Txn(ctx, func(tx port.Tx) error {
		tx.ListPushLeft(TradesKey(b.symbol), string(payload))
		tx.ListTrim(TradesKey(b.symbol), 0, JournalCap-1)
		b.settle(tx, bid, qty)
		b.settle(tx, ask, qty)
		return nil
	})
	if err != nil {
		return err
	}
	b.archiveTrade(ctx, trade)
	for _, o := range []*domain.Order{bid, ask} {
		if o.Status.Terminal() {
			b.archiveOrder(ctx, o)
		}
	}
	return nil
}

// settle decrements an order's remaining by qty, removing it from its
// price index when fully consumed.
func (b *OrderBook) settle(tx port.Tx, o *domain.Order, qty num.Decimal) {
	o.Remaining = o.Remaining.Sub(qty)
	if o.Remaining.IsZero() {
		o.Status = domain.Filled
		tx.ZRem(SideKey(b.symbol, o.Side == domain.Buy), o.ID)
		if b.orderTTL > 0 {
			tx.Expire(OrderKey(b.symbol, o.ID), b.orderTTL)
		}
	} else {
		o.Status = domain.PartiallyFilled
	}
	tx.HashSet(OrderKey(b.symbol, o.ID), map[string]any{
		"remaining": o.Remaining.String(),
		"status":    string(o.Status),
	})
}

// bestResting returns the oldest resting order at the best price on a
// side, or nil when the side is empty. Index entries whose backing hash
// is missing or terminal are removed as silent repair; this path runs
// only on the symbol's single writer.
func (b *OrderBook) bestResting(ctx context.Context, side domain.Side) (*domain.Order, error) {
	key := SideKey(b.symbol, side == domain.Buy)
	for {
		var ids []string
		var err error
		if side == domain.Buy {
			ids, err = b.store.ZRevRange(ctx, key, 0, 0)
		} else {
			ids, err = b.store.ZRange(ctx, key, 0, 0)
		}
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		top, err := b.loadOrder(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		if top == nil || !top.Resting() {
			b.repair(ctx, key, ids[0])
			continue
		}
		// equal scores keep insertion order, so the first valid entry at
		// this price level is the oldest
		level, err := b.store.ZRangeByScore(ctx, key, top.Price.Score(), top.Price.Score())
		if err != nil {
			return nil, err
		}
		repaired := false
		for _, id := range level {
			o, err := b.loadOrder(ctx, id)
			if err != nil {
				return nil, err
			}
			if o == nil || !o.Resting() {
				b.repair(ctx, key, id)
				repaired = true
				continue
			}
			return o, nil
		}
		if !repaired {
			return nil, nil
		}
	}
}

// loadOrder reads an order hash; a missing or undecodable hash yields nil
// (the caller treats the index entry as orphaned).
func (b *OrderBook) loadOrder(ctx context.Context, id string) (*domain.Order, error) {
	fields, err := b.store.HashGetAll(ctx, OrderKey(b.symbol, id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	o, err := domain.OrderFromFields(fields)
	if err != nil {
		b.log.Warn("undecodable order hash", zap.String("order_id", id), zap.Error(err))
		return nil, nil
	}
	return o, nil
}

func (b *OrderBook) repair(ctx context.Context, key, id string) {
	b.log.Warn("removing orphaned price-index entry",
		zap.String("index", key), zap.String("order_id", id))
	if err := b.store.ZRem(ctx, key, id); err != nil {
		b.log.Error("index repair failed", zap.String("order_id", id), zap.Error(err))
	}
}

func (b *OrderBook) archiveOrder(ctx context.Context, o *domain.Order) {
	if b.archiver == nil {
		return
	}
	if err := b.archiver.ArchiveOrder(ctx, o); err != nil {
		b.log.Warn("order archive failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (b *OrderBook) archiveTrade(ctx context.Context, t *domain.Trade) {
	if b.archiver == nil {
		return
	}
	if err := b.archiver.ArchiveTrade(ctx, t); err != nil {
		b.log.Warn("trade archive failed", zap.String("trade_id", t.ID), zap.Error(err))
	}
}
