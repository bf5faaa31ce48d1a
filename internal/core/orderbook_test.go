package core_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/adapter/memstore"
	"github.com/ShiningRay/exchange-engine/internal/core"
	"github.com/ShiningRay/exchange-engine/internal/domain"
	"github.com/ShiningRay/exchange-engine/internal/num"
	"github.com/ShiningRay/exchange-engine/internal/port"
)

const symbol = "BTCUSDT"

func newBook(t *testing.T) (*core.OrderBook, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return core.NewOrderBook(store, symbol, zap.NewNop()), store
}

func limit(id string, side domain.Side, price, amount string, ts int64) *domain.Order {
	return &domain.Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Type:      domain.Limit,
		Price:     num.MustParse(price),
		Amount:    num.MustParse(amount),
		Timestamp: ts,
	}
}

func market(id string, side domain.Side, amount string, ts int64) *domain.Order {
	return &domain.Order{
		ID:        id,
		Symbol:    symbol,
		Side:      side,
		Type:      domain.Market,
		Amount:    num.MustParse(amount),
		Timestamp: ts,
	}
}

func loadOrder(t *testing.T, store *memstore.Store, id string) *domain.Order {
	t.Helper()
	fields, err := store.HashGetAll(context.Background(), core.OrderKey(symbol, id))
	require.NoError(t, err)
	require.NotEmpty(t, fields, "order %s not in store", id)
	o, err := domain.OrderFromFields(fields)
	require.NoError(t, err)
	return o
}

func indexMembers(t *testing.T, store *memstore.Store, buy bool) []string {
	t.Helper()
	ids, err := store.ZRange(context.Background(), core.SideKey(symbol, buy), 0, -1)
	require.NoError(t, err)
	return ids
}

func TestPartialFillAgainstRestingBid(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	trades, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.5", 1))
	require.NoError(t, err)
	assert.Empty(t, trades)

	trades, err = book.AddLimit(ctx, limit("s1", domain.Sell, "30000", "1.0", 2))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "30000", trades[0].Price.String())
	assert.Equal(t, "1", trades[0].Amount.String())
	assert.Equal(t, "b1", trades[0].BidOrderID)
	assert.Equal(t, "s1", trades[0].AskOrderID)

	b1 := loadOrder(t, store, "b1")
	assert.Equal(t, domain.PartiallyFilled, b1.Status)
	assert.Equal(t, "0.5", b1.Remaining.String())

	s1 := loadOrder(t, store, "s1")
	assert.Equal(t, domain.Filled, s1.Status)
	assert.Equal(t, "0", s1.Remaining.String())

	assert.Equal(t, []string{"b1"}, indexMembers(t, store, true))
	assert.Empty(t, indexMembers(t, store, false))
}

func TestHigherBidMatchesFirst(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.0", 1))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("b2", domain.Buy, "30100", "1.0", 2))
	require.NoError(t, err)

	trades, err := book.AddLimit(ctx, limit("s1", domain.Sell, "30000", "1.0", 3))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "30000", trades[0].Price.String())
	assert.Equal(t, "b2", trades[0].BidOrderID)

	assert.Equal(t, domain.Filled, loadOrder(t, store, "b2").Status)
	b1 := loadOrder(t, store, "b1")
	assert.Equal(t, domain.Open, b1.Status)
	assert.Equal(t, "1", b1.Remaining.String())
	assert.Equal(t, []string{"b1"}, indexMembers(t, store, true))
}

func TestCancelRemovesLiquidity(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.0", 1))
	require.NoError(t, err)

	ok, err := book.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.Cancelled, loadOrder(t, store, "b1").Status)
	assert.Empty(t, indexMembers(t, store, true))

	// the sell finds nothing to cross and rests
	trades, err := book.AddLimit(ctx, limit("s1", domain.Sell, "30000", "1.0", 2))
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, []string{"s1"}, indexMembers(t, store, false))
	assert.Equal(t, domain.Open, loadOrder(t, store, "s1").Status)
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	book, _ := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.0", 1))
	require.NoError(t, err)

	ok, err := book.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = book.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = book.Cancel(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelFilledReturnsFalse(t *testing.T) {
	ctx := context.Background()
	book, _ := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.0", 1))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("s1", domain.Sell, "30000", "1.0", 2))
	require.NoError(t, err)

	ok, err := book.Cancel(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarketBuyWithNoAsksFails(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	ok, trades, err := book.AddMarket(ctx, market("m1", domain.Buy, "1.0", 1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, trades)

	m1 := loadOrder(t, store, "m1")
	assert.Equal(t, domain.Failed, m1.Status)
	assert.Equal(t, "No matching orders available", m1.Error)

	n, err := store.ListLen(ctx, core.TradesKey(symbol))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarketSellSweepsPriceLevels(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "49900", "1.0", 1))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("b2", domain.Buy, "49800", "2.0", 2))
	require.NoError(t, err)

	ok, trades, err := book.AddMarket(ctx, market("m1", domain.Sell, "1.5", 3))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, trades, 2)
	assert.Equal(t, "49900", trades[0].Price.String())
	assert.Equal(t, "1", trades[0].Amount.String())
	assert.Equal(t, "49800", trades[1].Price.String())
	assert.Equal(t, "0.5", trades[1].Amount.String())
	assert.Equal(t, "b1", trades[0].BidOrderID)
	assert.Equal(t, "m1", trades[0].AskOrderID)

	assert.Equal(t, domain.Filled, loadOrder(t, store, "b1").Status)
	b2 := loadOrder(t, store, "b2")
	assert.Equal(t, domain.PartiallyFilled, b2.Status)
	assert.Equal(t, "1.5", b2.Remaining.String())

	m1 := loadOrder(t, store, "m1")
	assert.Equal(t, domain.Filled, m1.Status)
	assert.Equal(t, "0", m1.Remaining.String())
	assert.Empty(t, indexMembers(t, store, false), "market orders never rest")
}

func TestMarketOrderExhaustsLiquidity(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "100", "1.0", 1))
	require.NoError(t, err)

	ok, trades, err := book.AddMarket(ctx, market("m1", domain.Sell, "2.0", 2))
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, trades, 1)

	m1 := loadOrder(t, store, "m1")
	assert.Equal(t, domain.PartiallyFilled, m1.Status)
	assert.Equal(t, "1", m1.Remaining.String())
}

func TestPriceTimePriorityAtEqualPrice(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	_, err := book.AddLimit(ctx, limit("a", domain.Buy, "30000", "2.0", 1))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("b", domain.Buy, "30000", "2.0", 2))
	require.NoError(t, err)

	trades, err := book.AddLimit(ctx, limit("s", domain.Sell, "30000", "1.0", 3))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "a", trades[0].BidOrderID, "earlier order at equal price matches first")

	a := loadOrder(t, store, "a")
	assert.Equal(t, domain.PartiallyFilled, a.Status)
	assert.Equal(t, "1", a.Remaining.String())
	b := loadOrder(t, store, "b")
	assert.Equal(t, domain.Open, b.Status)
	assert.Equal(t, "2", b.Remaining.String())
}

func TestAggressiveLimitSweepsMultipleMakers(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	_, err := book.AddLimit(ctx, limit("s1", domain.Sell, "30000", "1.0", 1))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("s2", domain.Sell, "30100", "1.0", 2))
	require.NoError(t, err)

	trades, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30100", "1.5", 3))
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "30000", trades[0].Price.String())
	assert.Equal(t, "1", trades[0].Amount.String())
	assert.Equal(t, "30100", trades[1].Price.String())
	assert.Equal(t, "0.5", trades[1].Amount.String())

	// conservation: amount = remaining + sum of fills
	b1 := loadOrder(t, store, "b1")
	filled := trades[0].Amount.Add(trades[1].Amount)
	assert.True(t, b1.Amount.Equal(b1.Remaining.Add(filled)))

	// the book never rests crossed
	assert.Empty(t, indexMembers(t, store, true))
	assert.Equal(t, []string{"s2"}, indexMembers(t, store, false))
}

func TestBookNeverRestsCrossed(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	seq := []struct {
		id     string
		side   domain.Side
		price  string
		amount string
	}{
		{"o1", domain.Buy, "100", "1"},
		{"o2", domain.Sell, "105", "1"},
		{"o3", domain.Buy, "104", "2"},
		{"o4", domain.Sell, "99", "2.5"},
		{"o5", domain.Buy, "101", "0.5"},
		{"o6", domain.Sell, "101", "3"},
	}
	for i, op := range seq {
		_, err := book.AddLimit(ctx, limit(op.id, op.side, op.price, op.amount, int64(i+1)))
		require.NoError(t, err)
	}

	bids := indexMembers(t, store, true)
	asks := indexMembers(t, store, false)
	if len(bids) > 0 && len(asks) > 0 {
		bestBid := loadOrder(t, store, bids[len(bids)-1])
		bestAsk := loadOrder(t, store, asks[0])
		assert.True(t, bestBid.Price.LessThan(bestAsk.Price),
			"best bid %s must stay below best ask %s", bestBid.Price, bestAsk.Price)
	}
	// every index entry backs an open or partially filled order
	for _, id := range append(append([]string{}, bids...), asks...) {
		o := loadOrder(t, store, id)
		assert.True(t, o.Resting(), "order %s in index with status %s", id, o.Status)
	}
}

func TestJournalCapped(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	// preload the journal to its cap, then execute one real trade
	for i := 0; i < core.JournalCap; i++ {
		require.NoError(t, store.ListPushLeft(ctx, core.TradesKey(symbol), fmt.Sprintf(`{"id":"old-%d"}`, i)))
	}
	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.0", 1))
	require.NoError(t, err)
	trades, err := book.AddLimit(ctx, limit("s1", domain.Sell, "30000", "1.0", 2))
	require.NoError(t, err)
	require.Len(t, trades, 1)

	n, err := store.ListLen(ctx, core.TradesKey(symbol))
	require.NoError(t, err)
	assert.Equal(t, int64(core.JournalCap), n)

	recent, err := book.RecentTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, trades[0].ID, recent[0].ID)
}

func TestRecentTradesNewestFirst(t *testing.T) {
	ctx := context.Background()
	book, _ := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "3.0", 1))
	require.NoError(t, err)
	var executed []*domain.Trade
	for i, id := range []string{"s1", "s2", "s3"} {
		trades, err := book.AddLimit(ctx, limit(id, domain.Sell, "30000", "1.0", int64(i+2)))
		require.NoError(t, err)
		require.Len(t, trades, 1)
		executed = append(executed, trades[0])
	}

	recent, err := book.RecentTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, executed[2].ID, recent[0].ID)
	assert.Equal(t, executed[1].ID, recent[1].ID)
}

func TestOrphanedIndexEntryIsRepaired(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	// an index entry with no backing hash, as left by corrupted state
	require.NoError(t, store.ZAdd(ctx, core.BuyOrdersKey(symbol), 30000, "ghost"))
	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "29000", "1.0", 1))
	require.NoError(t, err)

	trades, err := book.AddLimit(ctx, limit("s1", domain.Sell, "29500", "1.0", 2))
	require.NoError(t, err)
	assert.Empty(t, trades, "ghost entry must not trade")
	assert.NotContains(t, indexMembers(t, store, true), "ghost")
}

func TestDepthAggregatesByPrice(t *testing.T) {
	ctx := context.Background()
	book, _ := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "100", "1", 1))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("b2", domain.Buy, "100", "2", 2))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("b3", domain.Buy, "99", "1", 3))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("s1", domain.Sell, "101", "4", 4))
	require.NoError(t, err)

	d, err := book.Depth(ctx, 0)
	require.NoError(t, err)
	require.Len(t, d.Bids, 2)
	assert.Equal(t, "100", d.Bids[0].Price.String())
	assert.Equal(t, "3", d.Bids[0].Amount.String())
	assert.Equal(t, "99", d.Bids[1].Price.String())
	require.Len(t, d.Asks, 1)
	assert.Equal(t, "101", d.Asks[0].Price.String())

	top, err := book.Depth(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top.Bids, 1)
}

func TestStoreFailureSurfacesError(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	store.FailWith(port.ErrStore)
	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.0", 1))
	assert.ErrorIs(t, err, port.ErrStore)

	_, err = book.Cancel(ctx, "b1")
	assert.ErrorIs(t, err, port.ErrStore)
}

func TestTradeJournalEntriesDecode(t *testing.T) {
	ctx := context.Background()
	book, store := newBook(t)

	_, err := book.AddLimit(ctx, limit("b1", domain.Buy, "30000", "1.0", 1))
	require.NoError(t, err)
	_, err = book.AddLimit(ctx, limit("s1", domain.Sell, "30000", "1.0", 2))
	require.NoError(t, err)

	raw, err := store.ListRange(ctx, core.TradesKey(symbol), 0, 0)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	var tr domain.Trade
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &tr))
	assert.Equal(t, symbol, tr.Symbol)
	assert.Equal(t, "b1", tr.BidOrderID)
	assert.Equal(t, "s1", tr.AskOrderID)
}
