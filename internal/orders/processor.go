package orders

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ramppool/ramp-api/internal/types"
)

const processorBatchSize = 25

// Processor drains executable pending orders in the background so
// orders created out-of-band (deposits detected by a chain watcher,
// webhooks that arrived while the process was down) still get
// executed. Orders still waiting on their fiat payment are left alone.
type Processor struct {
	service      *Service
	processDelay time.Duration
}

func NewProcessor(service *Service, processDelay time.Duration) *Processor {
	return &Processor{
		service:      service,
		processDelay: processDelay,
	}
}

// Start begins the order processing loop
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_processor").Logger()
	logger.Info().Dur("interval", p.processDelay).Msg("starting order processor")

	ticker := time.NewTicker(p.processDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order processor")
			return
		case <-ticker.C:
			if err := p.processPendingOrders(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process pending orders")
			}
		}
	}
}

func (p *Processor) processPendingOrders(ctx context.Context) error {
	logger := log.With().Str("component", "order_processor").Logger()

	pending, err := p.service.GetExecutableOrders(processorBatchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	logger.Info().Int("pending_count", len(pending)).Msg("processing pending orders")

	for _, order := range pending {
		processed, err := p.service.ProcessOrder(ctx, order.OrderID)
		if err != nil {
			// Another caller winning the order is expected, not a fault.
			if errors.Is(err, types.ErrConcurrentExecutionSkipped) {
				logger.Debug().
					Str("order_id", order.OrderID).
					Msg("order picked up by another worker")
				continue
			}
			logger.Error().Err(err).
				Str("order_id", order.OrderID).
				Msg("failed to process order")
			continue
		}

		logger.Info().
			Str("order_id", processed.OrderID).
			Str("status", processed.Status).
			Str("tx_hash", processed.ResultTxHash).
			Msg("order processed")
	}

	return nil
}
