package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/orders"
	"github.com/bidstream/backend/pkg/queue"
)

// CheckoutProcessor consumes checkout jobs and writes the order row for a
// sold lot. Payment capture happens downstream in the payment processor.
type CheckoutProcessor struct {
	orderRepo *orders.Repository
	queue     *queue.Queue
	logger    *zap.Logger
}

// NewCheckoutProcessor creates a checkout job processor.
func NewCheckoutProcessor(orderRepo *orders.Repository, q *queue.Queue, logger *zap.Logger) *CheckoutProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckoutProcessor{orderRepo: orderRepo, queue: q, logger: logger}
}

// Process executes one checkout job. Redelivered jobs are safe: the order
// insert is a no-op when the lot already has an order.
func (p *CheckoutProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeCheckout {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.CheckoutPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	created, err := p.orderRepo.Create(ctx, payload.LotID, payload.SessionID, payload.BuyerID, payload.AmountCents)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if !created {
		p.logger.Info("order already exists", zap.String("lot_id", payload.LotID.String()))
		return nil
	}

	p.logger.Info("checkout order created",
		zap.String("lot_id", payload.LotID.String()),
		zap.String("buyer_id", payload.BuyerID.String()),
		zap.Int64("amount_cents", payload.AmountCents))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *CheckoutProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("checkout worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
