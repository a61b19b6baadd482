package livehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cryptotrader/internal/diagnostics"
	"cryptotrader/internal/events"
	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/order"
	"cryptotrader/internal/position"
	"cryptotrader/internal/store"
	"cryptotrader/internal/trading"

	"github.com/gin-gonic/gin"
)

const (
	maxBodyBytes     = 64 << 10
	strategyIDHeader = "X-Strategy-ID"
	defaultListLimit = 200
)

// OrderService is the order lifecycle exposed over HTTP.
type OrderService interface {
	Place(ctx context.Context, spec order.Spec) (trading.Order, error)
	Cancel(ctx context.Context, id string) (trading.Order, error)
	Get(ctx context.Context, id string) (trading.Order, error)
	List(ctx context.Context, f store.OrderFilter) ([]trading.Order, error)
	Reconcile(ctx context.Context) (order.ReconcileReport, error)
}

// PositionService is the position lifecycle exposed over HTTP.
type PositionService interface {
	Open(ctx context.Context, req position.OpenRequest) (trading.Position, error)
	Close(ctx context.Context, id string, exitPrice float64, reason trading.CloseReason) (trading.Position, error)
	AttachProtection(ctx context.Context, id string, kind position.Protection, price float64) (trading.Position, error)
	DetachProtection(ctx context.Context, id string, kind position.Protection) (trading.Position, error)
	Get(ctx context.Context, id string) (trading.Position, error)
	List(ctx context.Context, f store.PositionFilter) ([]trading.Position, error)
	SyncAll(ctx context.Context) (position.SyncReport, error)
}

type EventSource interface {
	Subscribe(buffer int) (<-chan events.Event, func())
}

type DiagnosticsSource interface {
	Collect(ctx context.Context) diagnostics.Report
}

// PaperMarket moves simulated prices. Only wired in paper mode.
type PaperMarket interface {
	SetPrice(pair string, price float64) error
}

// Router exposes orders, positions and the event stream under /api.
type Router struct {
	Orders      OrderService
	Positions   PositionService
	Events      EventSource
	Diagnostics DiagnosticsSource
	Paper       PaperMarket

	schemas schemaSet
}

func NewRouter(orders OrderService, positions PositionService) (*Router, error) {
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	return &Router{Orders: orders, Positions: positions, schemas: schemas}, nil
}

// Register mounts the routes on group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if r.Orders != nil {
		group.GET("/orders", r.handleListOrders)
		group.GET("/orders/:id", r.handleGetOrder)
		group.POST("/orders", r.handlePlaceOrder)
		group.DELETE("/orders/:id", r.handleCancelOrder)
		group.POST("/reconcile", r.handleReconcile)
	}
	if r.Positions != nil {
		group.GET("/positions", r.handleListPositions)
		group.GET("/positions/:id", r.handleGetPosition)
		group.POST("/positions", r.handleOpenPosition)
		group.POST("/positions/:id/close", r.handleClosePosition)
		group.PUT("/positions/:id/protection", r.handleAttachProtection)
		group.DELETE("/positions/:id/protection/:kind", r.handleDetachProtection)
		group.POST("/sync", r.handleSync)
	}
	if r.Events != nil {
		group.GET("/events", r.handleEvents)
	}
	if r.Diagnostics != nil {
		group.GET("/diagnostics", r.handleDiagnostics)
	}
	if r.Paper != nil {
		group.POST("/paper/prices", r.handlePaperPrice)
	}
}

func (r *Router) handleListOrders(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	filter := store.OrderFilter{
		Pair:       strings.TrimSpace(c.Query("pair")),
		PositionID: strings.TrimSpace(c.Query("position_id")),
		Limit:      limit,
	}
	for _, raw := range splitCSV(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, trading.OrderStatus(strings.ToUpper(raw)))
	}
	list, err := r.Orders.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orderViews(list)})
}

func (r *Router) handleGetOrder(c *gin.Context) {
	o, err := r.Orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderView(o))
}

func (r *Router) handlePlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if !r.bind(c, schemaPlaceOrder, &req) {
		return
	}
	side, _ := trading.ParseOrderSide(req.Side)
	kind, _ := trading.ParseOrderKind(req.Kind)
	o, err := r.Orders.Place(c.Request.Context(), order.Spec{
		PositionID:     req.PositionID,
		Pair:           req.Pair,
		Side:           side,
		Kind:           kind,
		Quantity:       req.Quantity,
		LimitPrice:     req.LimitPrice,
		TriggerPrice:   req.TriggerPrice,
		ReferencePrice: req.ReferencePrice,
	})
	if err != nil {
		logger.Warnf("[api] place order %s %s %s failed: %v", req.Pair, req.Side, req.Kind, err)
		respondErrorWith(c, err, gin.H{"order": orderOrNil(o)})
		return
	}
	logger.Infof("[api] order placed id=%s pair=%s status=%s", o.ID, o.Pair, o.Status)
	c.JSON(http.StatusCreated, newOrderView(o))
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	o, err := r.Orders.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	logger.Infof("[api] order cancelled id=%s", o.ID)
	c.JSON(http.StatusOK, newOrderView(o))
}

func (r *Router) handleReconcile(c *gin.Context) {
	report, err := r.Orders.Reconcile(c.Request.Context())
	if err != nil {
		respondErrorWith(c, err, gin.H{"report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleListPositions(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	filter := store.PositionFilter{
		Pair:       strings.TrimSpace(c.Query("pair")),
		StrategyID: strings.TrimSpace(c.Query("strategy_id")),
		Status:     trading.PositionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Limit:      limit,
	}
	list, err := r.Positions.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positionViews(list)})
}

func (r *Router) handleGetPosition(c *gin.Context) {
	p, err := r.Positions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPositionView(p))
}

func (r *Router) handleOpenPosition(c *gin.Context) {
	var req openPositionRequest
	if !r.bind(c, schemaOpenPosition, &req) {
		return
	}
	strategyID := strings.TrimSpace(req.StrategyID)
	if strategyID == "" {
		strategyID = strings.TrimSpace(c.GetHeader(strategyIDHeader))
	}
	side, _ := trading.ParsePositionSide(req.Side)
	p, err := r.Positions.Open(c.Request.Context(), position.OpenRequest{
		Pair:       req.Pair,
		Side:       side,
		Quantity:   req.Quantity,
		EntryPrice: req.EntryPrice,
		StrategyID: strategyID,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		logger.Warnf("[api] open %s %s failed: %v", req.Side, req.Pair, err)
		respondError(c, err)
		return
	}
	logger.Infof("[api] position opened id=%s pair=%s side=%s entry=%.8f", p.ID, p.Pair, p.Side, p.EntryPrice)
	c.JSON(http.StatusCreated, newPositionView(p))
}

func (r *Router) handleClosePosition(c *gin.Context) {
	var req closePositionRequest
	if !r.bindOptional(c, schemaClose, &req) {
		return
	}
	id := c.Param("id")
	p, err := r.Positions.Close(c.Request.Context(), id, req.ExitPrice, trading.CloseReason(req.Reason))
	if err != nil {
		logger.Warnf("[api] close position %s failed: %v", id, err)
		respondErrorWith(c, err, gin.H{"position": positionOrNil(p)})
		return
	}
	logger.Infof("[api] position closed id=%s reason=%s pnl=%.8f", p.ID, p.CloseReason, p.RealizedPnL)
	c.JSON(http.StatusOK, newPositionView(p))
}

func (r *Router) handleAttachProtection(c *gin.Context) {
	var req protectionRequest
	if !r.bind(c, schemaProtection, &req) {
		return
	}
	kind, _ := position.ParseProtection(req.Kind)
	p, err := r.Positions.AttachProtection(c.Request.Context(), c.Param("id"), kind, req.Price)
	if err != nil {
		respondErrorWith(c, err, gin.H{"position": positionOrNil(p)})
		return
	}
	c.JSON(http.StatusOK, newPositionView(p))
}

func (r *Router) handleDetachProtection(c *gin.Context) {
	kind, ok := position.ParseProtection(strings.ToUpper(c.Param("kind")))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be STOP_LOSS or TAKE_PROFIT"})
		return
	}
	p, err := r.Positions.DetachProtection(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPositionView(p))
}

func (r *Router) handleSync(c *gin.Context) {
	report, err := r.Positions.SyncAll(c.Request.Context())
	if err != nil {
		respondErrorWith(c, err, gin.H{"report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, r.Diagnostics.Collect(c.Request.Context()))
}

func (r *Router) handlePaperPrice(c *gin.Context) {
	var req paperPriceRequest
	if !r.bind(c, schemaPaperPrice, &req) {
		return
	}
	if err := r.Paper.SetPrice(req.Pair, req.Price); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] paper price %s=%.8f", req.Pair, req.Price)
	c.JSON(http.StatusOK, gin.H{"pair": req.Pair, "price": req.Price})
}

// bind reads the body, validates it against schema and decodes it into dst.
// On failure it writes a 400 and returns false.
func (r *Router) bind(c *gin.Context, schema string, dst interface{}) bool {
	raw, ok := readBody(c)
	if !ok {
		return false
	}
	return r.decode(c, schema, raw, dst)
}

// bindOptional is bind for endpoints whose body may be omitted.
func (r *Router) bindOptional(c *gin.Context, schema string, dst interface{}) bool {
	raw, ok := readBody(c)
	if !ok {
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	return r.decode(c, schema, raw, dst)
}

func (r *Router) decode(c *gin.Context, schema string, raw []byte, dst interface{}) bool {
	if err := r.schemas.validate(schema, raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func readBody(c *gin.Context) ([]byte, bool) {
	if c.Request.Body == nil {
		return nil, true
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return nil, false
	}
	if len(raw) > maxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return nil, false
	}
	return raw, true
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if n > 1000 {
		n = 1000
	}
	return n, true
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orderOrNil(o trading.Order) interface{} {
	if o.ID == "" {
		return nil
	}
	return newOrderView(o)
}

func positionOrNil(p trading.Position) interface{} {
	if p.ID == "" {
		return nil
	}
	return newPositionView(p)
}

func respondError(c *gin.Context, err error) {
	respondErrorWith(c, err, nil)
}

// respondErrorWith writes {"error": ...} plus extra fields with the status
// statusFor picks.
func respondErrorWith(c *gin.Context, err error, extra gin.H) {
	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		if v != nil {
			body[k] = v
		}
	}
	var oe *order.OrderError
	if errors.As(err, &oe) {
		body["order_id"] = oe.OrderID
		body["reason"] = oe.Reason
	}
	c.JSON(statusFor(err), body)
}

func statusFor(err error) int {
	var oe *order.OrderError
	var ve *exchange.Error
	switch {
	case errors.Is(err, trading.ErrInvalidOrder),
		errors.Is(err, trading.ErrInvalidPosition),
		errors.Is(err, trading.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trading.ErrPositionClosed),
		errors.Is(err, order.ErrAlreadyTerminal),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &oe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ve), errors.Is(err, exchange.ErrRetriesExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
