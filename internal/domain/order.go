package domain

import (
	"fmt"
	"strconv"

	"github.com/ShiningRay/exchange-engine/internal/num"
)

type Side string
type OrderType string
type OrderStatus string

const (
	Buy  Side = "buy"
	Sell Side = "sell"

	Limit  OrderType = "limit"
	Market OrderType = "market"
	Cancel OrderType = "cancel"

	Open            OrderStatus = "open"
	PartiallyFilled OrderStatus = "partially_filled"
	Filled          OrderStatus = "filled"
	Cancelled       OrderStatus = "cancelled"
	Failed          OrderStatus = "failed"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Terminal reports whether the status admits no further transition.
func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Failed
}

// Order is the persisted state of a single order. It is mutated only by
// the processor that owns its symbol.
type Order struct {
	ID        string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     num.Decimal // zero for market orders
	Amount    num.Decimal
	Remaining num.Decimal
	Status    OrderStatus
	Timestamp int64
	Error     string
}

// Resting reports whether the order may hold a price-index entry.
func (o *Order) Resting() bool {
	return o.Status == Open || o.Status == PartiallyFilled
}

// Fields encodes the order as a store hash. Decimals are stored in
// canonical string form; the price field is omitted for market orders.
func (o *Order) Fields() map[string]any {
	f := map[string]any{
		"id":        o.ID,
		"symbol":    o.Symbol,
		"side":      string(o.Side),
		"type":      string(o.Type),
		"amount":    o.Amount.String(),
		"remaining": o.Remaining.String(),
		"status":    string(o.Status),
		"timestamp": strconv.FormatInt(o.Timestamp, 10),
	}
	if o.Type != Market {
		f["price"] = o.Price.String()
	}
	if o.Error != "" {
		f["error"] = o.Error
	}
	return f
}

// OrderFromFields decodes a store hash produced by Fields.
func OrderFromFields(m map[string]string) (*Order, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("empty order hash")
	}
	o := &Order{
		ID:     m["id"],
		Symbol: m["symbol"],
		Side:   Side(m["side"]),
		Type:   OrderType(m["type"]),
		Status: OrderStatus(m["status"]),
		Error:  m["error"],
	}
	var err error
	if s, ok := m["price"]; ok && s != "" {
		if o.Price, err = num.Parse(s); err != nil {
			return nil, fmt.Errorf("order %s: bad price: %w", o.ID, err)
		}
	}
	if o.Amount, err = num.Parse(m["amount"]); err != nil {
		return nil, fmt.Errorf("order %s: bad amount: %w", o.ID, err)
	}
	if o.Remaining, err = num.Parse(m["remaining"]); err != nil {
		return nil, fmt.Errorf("order %s: bad remaining: %w", o.ID, err)
	}
	if s, ok := m["timestamp"]; ok && s != "" {
		if o.Timestamp, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, fmt.Errorf("order %s: bad timestamp: %w", o.ID, err)
		}
	}
	return o, nil
}
