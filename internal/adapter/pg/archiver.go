// Package pg archives terminal orders and executed trades to Postgres,
// keeping the hot store bounded.
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShiningRay/exchange-engine/internal/domain"
	"github.com/ShiningRay/exchange-engine/internal/port"
)

var _ port.Archiver = (*Archiver)(nil)

type Archiver struct {
	pool *pgxpool.Pool
}

// NewArchiver connects to dsn and ensures the archive schema exists.
// Call Close when done.
func NewArchiver(ctx context.Context, dsn string) (*Archiver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	a := &Archiver{pool: pool}
	if err := a.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archiver) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *Archiver) ensureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS archived_orders(
  id         text PRIMARY KEY,
  symbol     text NOT NULL,
  side       text NOT NULL,
  type       text NOT NULL,
  price      numeric,
  amount     numeric NOT NULL,
  remaining  numeric NOT NULL,
  status     text NOT NULL,
  error      text,
  ts         bigint NOT NULL
);
CREATE TABLE IF NOT EXISTS archived_trades(
  id           text PRIMARY KEY,
  symbol       text NOT NULL,
  price        numeric NOT NULL,
  amount       numeric NOT NULL,
  bid_order_id text NOT NULL,
  ask_order_id text NOT NULL,
  ts           bigint NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("pg: ensure schema: %w", err)
	}
	return nil
}

func (a *Archiver) ArchiveOrder(ctx context.Context, o *domain.Order) error {
	var price *string
	if o.Type != domain.Market {
		s := o.Price.String()
		price = &s
	}
	_, err := a.pool.Exec(ctx, `
INSERT INTO archived_orders(id, symbol, side, type, price, amount, remaining, status, error, ts)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10)
ON CONFLICT (id) DO UPDATE SET
  remaining = EXCLUDED.remaining,
  status = EXCLUDED.status,
  error = EXCLUDED.error
`, o.ID, o.Symbol, string(o.Side), string(o.Type), price,
		o.Amount.String(), o.Remaining.String(), string(o.Status), o.Error, o.Timestamp)
	if err != nil {
		return fmt.Errorf("pg: archive order %s: %w", o.ID, err)
	}
	return nil
}

func (a *Archiver) ArchiveTrade(ctx context.Context, t *domain.Trade) error {
	_, err := a.pool.Exec(ctx, `
INSERT INTO archived_trades(id, symbol, price, amount, bid_order_id, ask_order_id, ts)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`, t.ID, t.Symbol, t.Price.String(), t.Amount.String(), t.BidOrderID, t.AskOrderID, t.Timestamp)
	if err != nil {
		return fmt.Errorf("pg: archive trade %s: %w", t.ID, err)
	}
	return nil
}
