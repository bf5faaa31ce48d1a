// Package http is the ingress surface. It validates client input,
// enqueues intents onto the per-symbol pending lists and serves read-only
// views over the store. It never mutates book state directly.
package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ShiningRay/exchange-engine/internal/api/dto"
	"github.com/ShiningRay/exchange-engine/internal/core"
	"github.com/ShiningRay/exchange-engine/internal/domain"
	"github.com/ShiningRay/exchange-engine/internal/middleware"
	"github.com/ShiningRay/exchange-engine/internal/monitor"
	"github.com/ShiningRay/exchange-engine/internal/num"
	"github.com/ShiningRay/exchange-engine/internal/port"
)

// failedOrdersLimit caps the failed-queue view.
const failedOrdersLimit = 50

type Server struct {
	store     port.Store
	mon       *monitor.Monitor
	log       *zap.Logger
	rateLimit time.Duration
}

func NewServer(store port.Store, mon *monitor.Monitor, log *zap.Logger, rateLimit time.Duration) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, mon: mon, log: log, rateLimit: rateLimit}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(s.log, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.log, true))

	v1 := r.Group("/api/v1")
	if s.rateLimit > 0 {
		rl := middleware.NewRateLimiter(s.rateLimit)
		v1.Use(rl.Middleware())
	}
	v1.POST("/orders", s.submitOrder)
	v1.DELETE("/orders/:id", s.cancelOrder)
	v1.GET("/orders/:id", s.getOrder)
	v1.GET("/failed_orders", s.failedOrders)
	v1.GET("/depth", s.depth)
	v1.GET("/trades", s.recentTrades)
	if s.mon != nil {
		v1.GET("/metrics", s.metricsJSON)
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.mon.Registry(), promhttp.HandlerOpts{})))
	}
	r.GET("/health", s.health)
	return r
}

// submitOrder validates the request, assigns an id and enqueues the
// intent. Matching latency is never observed here: the response is 202 as
// soon as the payload is on the pending list.
func (s *Server) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	typ := domain.OrderType(req.Type)
	if typ == "" {
		typ = domain.Limit
	}
	if typ != domain.Limit && typ != domain.Market {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be limit or market"})
		return
	}
	side := domain.Side(req.Side)
	if side != domain.Buy && side != domain.Sell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be buy or sell"})
		return
	}
	if !s.knownSymbol(c, req.TradingPair) {
		return
	}
	amount, err := num.Parse(req.Amount)
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal"})
		return
	}
	intent := domain.OrderIntent{
		ID:          domain.NewOrderID(),
		TradingPair: req.TradingPair,
		Type:        string(typ),
		Side:        string(side),
		Amount:      amount.String(),
		Timestamp:   time.Now().Unix(),
	}
	if typ == domain.Limit {
		price, err := num.Parse(req.Price)
		if err != nil || !price.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a positive decimal"})
			return
		}
		intent.Price = price.String()
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.ListPushLeft(c.Request.Context(), core.PendingKey(req.TradingPair), string(payload)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, dto.SubmitOrderResponse{OrderID: intent.ID})
}

func (s *Server) cancelOrder(c *gin.Context) {
	pair := c.Query("trading_pair")
	if !s.knownSymbol(c, pair) {
		return
	}
	intent := domain.OrderIntent{
		ID:          c.Param("id"),
		TradingPair: pair,
		Type:        string(domain.Cancel),
		Timestamp:   time.Now().Unix(),
	}
	payload, _ := json.Marshal(intent)
	if err := s.store.ListPushLeft(c.Request.Context(), core.PendingKey(pair), string(payload)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": intent.ID})
}

func (s *Server) getOrder(c *gin.Context) {
	pair := c.Query("trading_pair")
	if !s.knownSymbol(c, pair) {
		return
	}
	fields, err := s.store.HashGetAll(c.Request.Context(), core.OrderKey(pair, c.Param("id")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(fields) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	o, err := domain.OrderFromFields(fields)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := dto.OrderResponse{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Amount:    o.Amount.String(),
		Remaining: o.Remaining.String(),
		Status:    string(o.Status),
		Timestamp: o.Timestamp,
		Error:     o.Error,
	}
	if o.Type != domain.Market {
		resp.Price = o.Price.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) failedOrders(c *gin.Context) {
	ctx := c.Request.Context()
	symbols, err := s.store.SetMembers(ctx, core.SymbolRegistryKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := dto.FailedOrdersResponse{FailedOrders: []json.RawMessage{}}
	for _, symbol := range symbols {
		entries, err := s.store.ListRange(ctx, core.FailedKey(symbol), 0, failedOrdersLimit-1)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for _, e := range entries {
			if len(resp.FailedOrders) == failedOrdersLimit {
				break
			}
			resp.FailedOrders = append(resp.FailedOrders, json.RawMessage(e))
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) depth(c *gin.Context) {
	pair := c.Query("trading_pair")
	if !s.knownSymbol(c, pair) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	book := core.NewOrderBook(s.store, pair, s.log)
	d, err := book.Depth(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) recentTrades(c *gin.Context) {
	pair := c.Query("trading_pair")
	if !s.knownSymbol(c, pair) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	book := core.NewOrderBook(s.store, pair, s.log)
	trades, err := book.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) metricsJSON(c *gin.Context) {
	metrics, err := s.mon.Metrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	storeOK := s.store.Ping(ctx) == nil
	symbols, _ := s.store.SetMembers(ctx, core.SymbolRegistryKey)
	status := "ok"
	if !storeOK {
		status = "degraded"
	}
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:       status,
		Time:         time.Now().Unix(),
		TradingPairs: symbols,
		StoreOK:      storeOK,
	})
}

// knownSymbol writes the error response itself when the symbol is absent
// from the registry.
func (s *Server) knownSymbol(c *gin.Context, pair string) bool {
	if pair == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trading_pair is required"})
		return false
	}
	ok, err := s.store.SetIsMember(c.Request.Context(), core.SymbolRegistryKey, pair)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown trading pair"})
		return false
	}
	return true
}
