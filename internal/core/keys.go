package core

// Store key layout. The symbol processor is the only writer of every key
// below except the pending list, which the ingress writes.

const SymbolRegistryKey = "trading_pairs"

func OrderKey(symbol, id string) string { return "order:" + symbol + ":" + id }
func BuyOrdersKey(symbol string) string { return symbol + ":buy_orders" }
func SellOrdersKey(symbol string) string { return symbol + ":sell_orders" }
func TradesKey(symbol string) string    { return "trades:" + symbol }
func PendingKey(symbol string) string   { return "pending:" + symbol }
func FailedKey(symbol string) string    { return "failed_orders:" + symbol }
func MetricsKey(symbol, op string) string { return "metrics:" + symbol + ":" + op }
func CountKey(symbol, op string) string   { return "count:" + symbol + ":" + op }

// SideKey returns the price-index key for a side of the book.
func SideKey(symbol string, buy bool) string {
	if buy {
		return BuyOrdersKey(symbol)
	}
	return SellOrdersKey(symbol)
}
