package orders

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ramppool/ramp-api/internal/execution"
	"github.com/ramppool/ramp-api/internal/types"
	"github.com/ramppool/ramp-api/pkg/response"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Executor is the slice of the execution engine the order queue needs.
// It never returns an error: every attempt yields an ExecutionResult.
type Executor interface {
	ExecuteOnRamp(ctx context.Context, params execution.OnRampParams) *types.ExecutionResult
	ExecuteOffRamp(ctx context.Context, chainID int64, token types.TokenInfo, amount decimal.Decimal, recipient string) *types.ExecutionResult
}

// Service owns the order lifecycle. Orders advance exclusively through
// here; at-most-once execution per attempt is enforced by conditional
// status transitions in the database, not by in-process locks, because
// webhook handlers, operators and the background processor may run in
// different processes.
type Service struct {
	db       *Database
	executor Executor
}

func NewService(gormDB *gorm.DB, executor Executor) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		executor: executor,
	}
}

// CreateOrderParams carries the caller-supplied fields of a new order.
type CreateOrderParams struct {
	OrderType         string          `json:"order_type" binding:"required"`
	UserWalletAddress string          `json:"user_wallet_address" binding:"required"`
	Token             types.TokenInfo `json:"token" binding:"required"`
	RequestedAmount   string          `json:"requested_amount" binding:"required"`
	FiatAmount        string          `json:"fiat_amount" binding:"required"`
	FiatCurrency      string          `json:"fiat_currency" binding:"required"`
	UserEmail         string          `json:"user_email" binding:"required"`
	ExternalReference string          `json:"external_reference" binding:"required"`
}

// CreateOrder validates and persists a new order in PENDING. Creation
// is idempotent on the external payment reference: a second call with
// the same reference returns the existing order instead of a duplicate.
func (s *Service) CreateOrder(params CreateOrderParams) (*Order, error) {
	if err := validateCreateParams(params); err != nil {
		return nil, err
	}

	existing, err := s.db.GetOrderByReference(params.ExternalReference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	order := &Order{
		OrderID:           "ORD_" + uuid.New().String(),
		OrderType:         params.OrderType,
		UserWalletAddress: params.UserWalletAddress,
		TokenChainID:      params.Token.ChainID,
		TokenAddress:      params.Token.Address,
		TokenSymbol:       params.Token.Symbol,
		TokenDecimals:     params.Token.Decimals,
		RequestedAmount:   params.RequestedAmount,
		FiatAmount:        params.FiatAmount,
		FiatCurrency:      params.FiatCurrency,
		UserEmail:         params.UserEmail,
		ExternalReference: params.ExternalReference,
		// A sell order exists because the deposit was already observed
		// on-chain; only buys wait for the fiat provider's confirmation.
		PaymentConfirmed: params.OrderType == TypeSell,
		Status:           StatusPending,
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("order_type", order.OrderType).
		Str("external_reference", order.ExternalReference).
		Str("token", order.TokenSymbol).
		Str("requested_amount", order.RequestedAmount).
		Msg("order created")

	return order, nil
}

func validateCreateParams(params CreateOrderParams) error {
	if params.OrderType != TypeBuy && params.OrderType != TypeSell {
		return fmt.Errorf("%w: order_type must be %s or %s", types.ErrValidation, TypeBuy, TypeSell)
	}
	if params.UserWalletAddress == "" || params.UserEmail == "" || params.ExternalReference == "" || params.FiatCurrency == "" {
		return fmt.Errorf("%w: user_wallet_address, user_email, fiat_currency and external_reference are required", types.ErrValidation)
	}
	if params.Token.ChainID == 0 || params.Token.Address == "" || params.Token.Symbol == "" {
		return fmt.Errorf("%w: token chain_id, address and symbol are required", types.ErrValidation)
	}

	amount, err := decimal.NewFromString(params.RequestedAmount)
	if err != nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: requested_amount must be a positive decimal string", types.ErrValidation)
	}
	fiat, err := decimal.NewFromString(params.FiatAmount)
	if err != nil || fiat.Sign() <= 0 {
		return fmt.Errorf("%w: fiat_amount must be a positive decimal string", types.ErrValidation)
	}
	return nil
}

func (s *Service) GetOrder(orderID string) (*Order, error) {
	return s.db.GetOrder(orderID)
}

func (s *Service) GetOrderByReference(externalReference string) (*Order, error) {
	return s.db.GetOrderByReference(externalReference)
}

func (s *Service) GetOrdersByStatus(status string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.db.GetOrdersByStatus(status, limit)
}

func (s *Service) GetAttempts(orderID string) ([]ExecutionAttempt, error) {
	return s.db.GetAttemptsByOrder(orderID)
}

// GetExecutableOrders lists pending orders that are cleared to execute
// (fiat leg confirmed), oldest first.
func (s *Service) GetExecutableOrders(limit int) ([]Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.db.GetExecutableOrders(limit)
}

// requirePaymentConfirmed is the gate between intake and settlement:
// a buy order must never deliver crypto before its fiat payment is
// confirmed, no matter which caller (webhook, operator, background
// drain) tries to execute it.
func requirePaymentConfirmed(order *Order) error {
	if order.OrderType == TypeBuy && !order.PaymentConfirmed {
		return fmt.Errorf("%w: payment not confirmed for order %s", types.ErrValidation, order.OrderID)
	}
	return nil
}

// ProcessOrder runs one execution attempt for a pending order whose
// payment is confirmed (sell orders always are). It is safe to call
// concurrently for the same id: only the caller that wins
// the PENDING → PROCESSING transition executes; every other caller gets
// ErrConcurrentExecutionSkipped together with the order's current state
// and must treat it as a benign no-op.
func (s *Service) ProcessOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", types.ErrNotFound, orderID)
	}
	if err := requirePaymentConfirmed(order); err != nil {
		return nil, err
	}

	won, err := s.db.TransitionStatus(orderID, StatusPending, StatusProcessing)
	if err != nil {
		return nil, err
	}
	if !won {
		if current, err := s.db.GetOrder(orderID); err == nil && current != nil {
			order = current
		}
		return order, fmt.Errorf("%w: order %s is %s", types.ErrConcurrentExecutionSkipped, orderID, order.Status)
	}

	return s.execute(ctx, order)
}

// RetryOrder starts a fresh execution attempt for a failed order. The
// terminal record is never resurrected in place: the retry is a new
// attempt row behind its own conditional FAILED → PROCESSING
// transition, preserving the audit trail of every attempt.
func (s *Service) RetryOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", types.ErrNotFound, orderID)
	}
	if err := requirePaymentConfirmed(order); err != nil {
		return nil, err
	}

	won, err := s.db.TransitionStatus(orderID, StatusFailed, StatusProcessing)
	if err != nil {
		return nil, err
	}
	if !won {
		if order.Status != StatusFailed {
			return order, fmt.Errorf("%w: only failed orders can be retried, order %s is %s", types.ErrValidation, orderID, order.Status)
		}
		return order, fmt.Errorf("%w: order %s", types.ErrConcurrentExecutionSkipped, orderID)
	}

	return s.execute(ctx, order)
}

// execute invokes the engine for an order that this caller owns (it won
// the transition into PROCESSING), then records the attempt and the
// terminal outcome.
func (s *Service) execute(ctx context.Context, order *Order) (*Order, error) {
	logger := log.With().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("order_type", order.OrderType).
		Logger()

	amount, err := decimal.NewFromString(order.RequestedAmount)
	if err != nil {
		logger.Error().Err(err).Msg("order has corrupt requested amount")
		return s.recordOutcome(order, &types.ExecutionResult{
			Error: fmt.Sprintf("corrupt requested amount: %v", err),
		})
	}

	var result *types.ExecutionResult
	switch order.OrderType {
	case TypeBuy:
		result = s.executor.ExecuteOnRamp(ctx, execution.OnRampParams{
			FromChainID: order.TokenChainID,
			Token:       order.Token(),
			Amount:      amount,
			Recipient:   order.UserWalletAddress,
		})
	case TypeSell:
		result = s.executor.ExecuteOffRamp(ctx, order.TokenChainID, order.Token(), amount, "")
	default:
		result = &types.ExecutionResult{Error: fmt.Sprintf("unknown order type %s", order.OrderType)}
	}

	return s.recordOutcome(order, result)
}

func (s *Service) recordOutcome(order *Order, result *types.ExecutionResult) (*Order, error) {
	attemptStatus := StatusCompleted
	if !result.Success {
		attemptStatus = StatusFailed
	}

	attempt := &ExecutionAttempt{
		AttemptID:    "ATT_" + uuid.New().String(),
		OrderID:      order.OrderID,
		Status:       attemptStatus,
		TxHash:       result.TxHash,
		ErrorMessage: result.Error,
		DurationMs:   result.ExecutionTimeMs,
	}
	if err := s.db.CreateAttempt(attempt); err != nil {
		log.Error().Err(err).
			Str("service", "orders").
			Str("order_id", order.OrderID).
			Msg("failed to persist execution attempt")
	}

	if err := s.db.SetOutcome(order.OrderID, attemptStatus, result.TxHash, result.Error); err != nil {
		return nil, err
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("attempt_id", attempt.AttemptID).
		Str("status", attemptStatus).
		Str("tx_hash", result.TxHash).
		Int64("duration_ms", result.ExecutionTimeMs).
		Msg("execution attempt recorded")

	return s.db.GetOrder(order.OrderID)
}

// ConfirmPayment advances the order matching an external payment
// reference once the payment provider reports the outcome. A confirmed
// payment triggers execution; a rejected payment fails the order before
// any on-chain action.
func (s *Service) ConfirmPayment(ctx context.Context, externalReference string, succeeded bool) (*Order, error) {
	order, err := s.db.GetOrderByReference(externalReference)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: no order for reference %s", types.ErrNotFound, externalReference)
	}

	if !succeeded {
		moved, err := s.db.FailPending(order.OrderID, "payment rejected by provider")
		if err != nil {
			return nil, err
		}
		if !moved {
			return order, fmt.Errorf("%w: order %s already left pending", types.ErrConcurrentExecutionSkipped, order.OrderID)
		}
		return s.db.GetOrder(order.OrderID)
	}

	if err := s.db.MarkPaymentConfirmed(order.OrderID); err != nil {
		return nil, err
	}
	return s.ProcessOrder(ctx, order.OrderID)
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to create new orders
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params CreateOrderParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(params)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for a single order. The id may
// be either the order id or the external payment reference.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")

		order, err := h.service.GetOrder(orderID)
		if err == nil && order == nil {
			order, err = h.service.GetOrderByReference(orderID)
		}
		if err == nil && order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, order, err)
	}
}

// ListOrdersHandler handles GET requests for bounded, most-recent-first
// listings by status
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")
		if status == "" {
			response.BadRequest(c, "status query parameter is required")
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		list, err := h.service.GetOrdersByStatus(status, limit)
		response.Handle(c, list, err)
	}
}

// GetAttemptsHandler handles GET requests for an order's execution
// attempt history
func (h *GinHandlers) GetAttemptsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		attempts, err := h.service.GetAttempts(c.Param("order_id"))
		response.Handle(c, attempts, err)
	}
}

// ProcessOrderHandler handles POST requests to run an execution attempt
func (h *GinHandlers) ProcessOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.ProcessOrder(c.Request.Context(), c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

// RetryOrderHandler handles POST requests to retry a failed order
func (h *GinHandlers) RetryOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.RetryOrder(c.Request.Context(), c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

// PaymentWebhookHandler handles POST notifications from the payment
// provider confirming or rejecting a fiat payment
func (h *GinHandlers) PaymentWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload struct {
			Reference string `json:"reference" binding:"required"`
			Status    string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&payload); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.ConfirmPayment(c.Request.Context(), payload.Reference, payload.Status == "success")
		response.Handle(c, order, err)
	}
}
