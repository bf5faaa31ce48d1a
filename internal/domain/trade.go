package domain

import (
	"github.com/ShiningRay/exchange-engine/internal/num"
)

// Trade is an immutable execution record. The bid and ask sides reference
// the orders that produced it.
type Trade struct {
	ID         string      `json:"id"`
	Symbol     string      `json:"symbol"`
	Price      num.Decimal `json:"price"`
	Amount     num.Decimal `json:"amount"`
	BidOrderID string      `json:"bid_order_id"`
	AskOrderID string      `json:"ask_order_id"`
	Timestamp  int64       `json:"timestamp"`
}
