package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderIntent is the JSON payload carried on a pending list. The ingress
// writes it, the symbol processor consumes it. Price and amount travel as
// canonical decimal strings; cancel intents carry only id and trading_pair.
type OrderIntent struct {
	ID          string `json:"id"`
	TradingPair string `json:"trading_pair"`
	Type        string `json:"type,omitempty"`
	Side        string `json:"side,omitempty"`
	Price       string `json:"price,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// NewOrderID assigns the ingress id format order:{unix_ts}:{rand_hex}.
func NewOrderID() string {
	return fmt.Sprintf("order:%d:%s", time.Now().Unix(), randHex())
}

// NewTradeID assigns the trade id format trade:{unix_ts}:{rand_hex}.
func NewTradeID() string {
	return fmt.Sprintf("trade:%d:%s", time.Now().Unix(), randHex())
}

func randHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
