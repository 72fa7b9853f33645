package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

// OrderStatusStore is the part of orders.Store the worker needs.
type OrderStatusStore interface {
	FindByID(ctx context.Context, orderID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error
}

// Processor moves paid orders into fulfillment.
type Processor struct {
	store  OrderStatusStore
	logger *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(store OrderStatusStore, logger *zap.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

// Handle processes an SQS batch and reports failed messages individually so
// only those are redelivered (and eventually dead-lettered).
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("worker error", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	if attr, ok := rec.MessageAttributes["event_type"]; ok && attr.StringValue != nil && *attr.StringValue != orders.EventTypeOrderPaid {
		p.logger.Info("skipping unrelated event", zap.String("event_type", *attr.StringValue))
		return nil
	}

	var msg orders.PaidEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.OrderID == "" {
		return errors.New("message without order_id")
	}
	log := p.logger.With(zap.String("order_id", msg.OrderID), zap.String("payment_id", msg.PaymentID), zap.String("channel", msg.Channel))

	order, err := p.store.FindByID(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if !order.IsPaid {
		// The event is only published after MarkPaid succeeded.
		return fmt.Errorf("order=%s received order.paid but is not paid", msg.OrderID)
	}

	err = p.store.UpdateStatus(ctx, msg.OrderID, orders.StatusPlaced, orders.StatusProcessing)
	if errors.Is(err, orders.ErrStatusMismatch) {
		current, getErr := p.store.FindByID(ctx, msg.OrderID)
		if getErr != nil {
			return fmt.Errorf("failed to re-read order: %w", getErr)
		}
		switch current.Status {
		case orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered:
			log.Info("duplicate order.paid event, order already in fulfillment", zap.String("status", current.Status))
			return nil
		default:
			return fmt.Errorf("unexpected status for order=%s: %s", msg.OrderID, current.Status)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to update status to %s: %w", orders.StatusProcessing, err)
	}

	log.Info("paid order moved to fulfillment")
	return nil
}
