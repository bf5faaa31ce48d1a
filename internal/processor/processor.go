// Package processor drains a symbol's pending list and drives the order
// book. One processor goroutine is the only writer for its symbol's keys.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/core"
	"github.com/ShiningRay/exchange-engine/internal/domain"
	"github.com/ShiningRay/exchange-engine/internal/monitor"
	"github.com/ShiningRay/exchange-engine/internal/num"
	"github.com/ShiningRay/exchange-engine/internal/port"
)

// popTimeout bounds each blocking wait on the pending list so the loop
// can observe cancellation.
const popTimeout = time.Second

// yield between iterations guards against tight spinning on spurious
// wakeups.
const yield = time.Millisecond

// Config carries the shared collaborators a processor needs.
type Config struct {
	Store    port.Store
	Monitor  *monitor.Monitor
	Archiver port.Archiver
	OrderTTL time.Duration
	Logger   *zap.Logger
}

type Processor struct {
	symbol string
	store  port.Store
	book   *core.OrderBook
	mon    *monitor.Monitor
	log    *zap.Logger
}

func New(symbol string, cfg Config) *Processor {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var opts []core.Option
	if cfg.Archiver != nil {
		opts = append(opts, core.WithArchiver(cfg.Archiver))
	}
	if cfg.OrderTTL > 0 {
		opts = append(opts, core.WithOrderTTL(cfg.OrderTTL))
	}
	return &Processor{
		symbol: symbol,
		store:  cfg.Store,
		book:   core.NewOrderBook(cfg.Store, symbol, log, opts...),
		mon:    cfg.Monitor,
		log:    log.With(zap.String("symbol", symbol)),
	}
}

func (p *Processor) Symbol() string { return p.symbol }

// Run consumes the pending list until ctx is cancelled. It never returns
// an error: every failure is routed to the failed queue or logged, and
// the loop continues.
func (p *Processor) Run(ctx context.Context) {
	p.log.Info("processor started")
	for {
		if ctx.Err() != nil {
			p.log.Info("processor stopped")
			return
		}
		payload, err := p.store.ListPopRightBlocking(ctx, core.PendingKey(p.symbol), popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("processor stopped")
				return
			}
			p.log.Error("pending pop failed", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if payload == "" {
			continue
		}
		p.handle(ctx, payload)
		time.Sleep(yield)
	}
}

func (p *Processor) handle(ctx context.Context, payload string) {
	var intent domain.OrderIntent
	if err := json.Unmarshal([]byte(payload), &intent); err != nil {
		p.fail(ctx, payload, fmt.Sprintf("malformed order payload: %v", err))
		return
	}
	if intent.TradingPair == "" {
		p.fail(ctx, payload, "missing trading_pair")
		return
	}
	if intent.TradingPair != p.symbol {
		// misroute repair: hand the raw payload to the right queue
		p.log.Warn("misrouted order", zap.String("trading_pair", intent.TradingPair))
		if err := p.store.ListPushLeft(ctx, core.PendingKey(intent.TradingPair), payload); err != nil {
			p.fail(ctx, payload, fmt.Sprintf("reroute failed: %v", err))
		}
		return
	}

	typ := domain.OrderType(intent.Type)
	if typ == "" {
		typ = domain.Limit
	}
	start := time.Now()
	switch typ {
	case domain.Cancel:
		if intent.ID == "" {
			p.fail(ctx, payload, "cancel requires an order id")
			return
		}
		if _, err := p.book.Cancel(ctx, intent.ID); err != nil {
			p.fail(ctx, payload, err.Error())
			return
		}
		p.record(ctx, monitor.OpCancel, start)
	case domain.Limit, domain.Market:
		o, reason := p.buildOrder(&intent, typ)
		if reason != "" {
			p.fail(ctx, payload, reason)
			return
		}
		var err error
		if typ == domain.Limit {
			_, err = p.book.AddLimit(ctx, o)
			p.record(ctx, monitor.OpAddLimit, start)
		} else {
			_, _, err = p.book.AddMarket(ctx, o)
			p.record(ctx, monitor.OpAddMarket, start)
		}
		if err != nil {
			p.fail(ctx, payload, err.Error())
		}
	default:
		p.fail(ctx, payload, fmt.Sprintf("unknown order type %q", intent.Type))
	}
}

// buildOrder validates the intent and produces the order, or a rejection
// reason.
func (p *Processor) buildOrder(intent *domain.OrderIntent, typ domain.OrderType) (*domain.Order, string) {
	side := domain.Side(intent.Side)
	if side != domain.Buy && side != domain.Sell {
		return nil, fmt.Sprintf("invalid side %q", intent.Side)
	}
	amount, err := num.Parse(intent.Amount)
	if err != nil {
		return nil, fmt.Sprintf("invalid amount: %v", err)
	}
	if !amount.IsPositive() {
		return nil, "amount must be positive"
	}
	o := &domain.Order{
		ID:        intent.ID,
		Symbol:    p.symbol,
		Side:      side,
		Type:      typ,
		Amount:    amount,
		Remaining: amount,
		Timestamp: intent.Timestamp,
	}
	if o.ID == "" {
		o.ID = domain.NewOrderID()
	}
	if typ == domain.Limit {
		price, err := num.Parse(intent.Price)
		if err != nil {
			return nil, fmt.Sprintf("invalid price: %v", err)
		}
		if !price.IsPositive() {
			return nil, "price must be positive"
		}
		o.Price = price
	}
	return o, ""
}

type failedEntry struct {
	Order     any    `json:"order"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// fail records a diagnostic on the symbol's failed queue. The original
// payload is embedded verbatim when it is valid JSON.
func (p *Processor) fail(ctx context.Context, payload, reason string) {
	p.log.Warn("order rejected", zap.String("reason", reason))
	entry := failedEntry{Error: reason, Timestamp: time.Now().Unix()}
	if json.Valid([]byte(payload)) {
		entry.Order = json.RawMessage(payload)
	} else {
		entry.Order = payload
	}
	b, err := json.Marshal(entry)
	if err != nil {
		p.log.Error("failed-queue encode", zap.Error(err))
		return
	}
	if err := p.store.ListPushLeft(ctx, core.FailedKey(p.symbol), string(b)); err != nil {
		p.log.Error("failed-queue push", zap.Error(err))
	}
}

func (p *Processor) record(ctx context.Context, op string, start time.Time) {
	if p.mon == nil {
		return
	}
	if err := p.mon.Record(ctx, op, p.symbol, time.Since(start)); err != nil {
		p.log.Debug("latency record failed", zap.String("operation", op), zap.Error(err))
	}
}
