// Package dto defines the JSON request and response shapes of the HTTP
// ingress.
package dto

import "encoding/json"

type SubmitOrderRequest struct {
	TradingPair string `json:"trading_pair" binding:"required"`
	Side        string `json:"side" binding:"required"`
	Type        string `json:"type,omitempty"` // defaults to limit
	Price       string `json:"price,omitempty"`
	Amount      string `json:"amount" binding:"required"`
}

type SubmitOrderResponse struct {
	OrderID string `json:"order_id"`
}

type OrderResponse struct {
	ID        string `json:"id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price,omitempty"`
	Amount    string `json:"amount"`
	Remaining string `json:"remaining"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

type FailedOrdersResponse struct {
	FailedOrders []json.RawMessage `json:"failed_orders"`
}

type HealthResponse struct {
	Status       string   `json:"status"`
	Time         int64    `json:"time"`
	TradingPairs []string `json:"trading_pairs"`
	StoreOK      bool     `json:"store_ok"`
}
