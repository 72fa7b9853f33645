// Package reconcile converges the two payment confirmation channels, the
// client verify call and the provider webhook, onto one paid state per order.
//
// The service keeps no state of its own. Every channel resolves the order by
// provider order ref and calls the store's compare-and-set MarkPaid; whichever
// call wins publishes the order.paid event.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payment"
)

// ErrMissingFields is returned by Verify when any input is empty.
var ErrMissingFields = errors.New("missing payment verification fields")

// Channel names the confirmation path a call arrived on.
type Channel string

const (
	ChannelVerify  Channel = "verify"
	ChannelWebhook Channel = "webhook"
)

// Outcome is what a confirmation did to the order.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeAlreadyPaid   Outcome = "already_paid"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeOrderNotFound Outcome = "order_not_found"
	OutcomeConflict      Outcome = "payment_conflict"
	OutcomeNotPayable    Outcome = "not_payable"
	OutcomeRejected      Outcome = "signature_mismatch"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeFailed        Outcome = "persistence_failure"
)

// OrderStore is the part of orders.Store reconciliation needs.
type OrderStore interface {
	FindByProviderOrderRef(ctx context.Context, ref string) (*orders.Order, error)
	MarkPaid(ctx context.Context, orderID, paymentID string) (*orders.Order, bool, error)
}

// EventPublisher sends the order.paid event downstream.
type EventPublisher interface {
	Publish(ctx context.Context, body []byte, attributes map[string]string) error
}

// MetricsRecorder counts reconciliation outcomes.
type MetricsRecorder interface {
	Count(ctx context.Context, name string, dimensions map[string]string) error
}

// Secrets holds the two HMAC keys. KeySecret signs the client callback,
// WebhookSecret signs webhook bodies.
type Secrets struct {
	KeySecret     string
	WebhookSecret string
}

// Result describes a handled confirmation.
type Result struct {
	Channel Channel
	Outcome Outcome
	Event   string
	Order   *orders.Order
}

// Applied reports whether this call performed the paid transition.
func (r *Result) Applied() bool { return r != nil && r.Outcome == OutcomeApplied }

// Service reconciles payment confirmations.
type Service struct {
	store     OrderStore
	secrets   Secrets
	publisher EventPublisher
	metrics   MetricsRecorder
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewService wires a reconciliation Service. publisher and metrics may be nil.
func NewService(store OrderStore, secrets Secrets, publisher EventPublisher, metrics MetricsRecorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		secrets:   secrets,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Verify handles the client callback. The signature must be the provider's
// HMAC of "orderRef|paymentRef" under the key secret.
//
// Errors: ErrMissingFields, payment.ErrSignatureMismatch, orders.ErrOrderNotFound,
// orders.ErrPaymentConflict, orders.ErrNotPayable, orders.ErrPersistence.
func (s *Service) Verify(ctx context.Context, providerOrderRef, providerPaymentRef, signature string) (*Result, error) {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "Verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider_order_ref", providerOrderRef),
		attribute.String("payment.provider_payment_ref", providerPaymentRef),
	)

	if providerOrderRef == "" || providerPaymentRef == "" || signature == "" {
		return nil, ErrMissingFields
	}
	if err := payment.VerifyPaymentSignature(s.secrets.KeySecret, providerOrderRef, providerPaymentRef, signature); err != nil {
		span.RecordError(err)
		s.logger.Warn("payment verify signature mismatch",
			zap.String("provider_order_ref", providerOrderRef),
			zap.String("provider_payment_ref", providerPaymentRef),
			zap.Error(err))
		s.count(ctx, ChannelVerify, OutcomeRejected)
		return nil, err
	}

	res, err := s.settle(ctx, ChannelVerify, providerOrderRef, providerPaymentRef)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	span.SetAttributes(attribute.String("reconcile.outcome", string(res.Outcome)))
	return res, nil
}

// HandleWebhook handles a provider webhook delivery. rawBody must be the
// exact bytes received.
//
// A nil error means the delivery should be acknowledged, which includes
// ignored event types, unknown order refs and payment conflicts. Errors are
// payment.ErrSignatureMismatch, payment.ErrMalformedEvent and
// orders.ErrPersistence; only the last is worth a provider retry.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*Result, error) {
	ctx, span := otel.Tracer("reconcile").Start(ctx, "HandleWebhook")
	defer span.End()

	if err := payment.VerifyWebhookSignature(s.secrets.WebhookSecret, rawBody, signature); err != nil {
		span.RecordError(err)
		s.logger.Warn("webhook signature mismatch, possible tampering or misconfigured secret",
			zap.Int("body_bytes", len(rawBody)), zap.Error(err))
		s.count(ctx, ChannelWebhook, OutcomeRejected)
		return nil, err
	}

	ev, err := payment.ParseEvent(rawBody)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("webhook body could not be decoded", zap.Error(err))
		s.count(ctx, ChannelWebhook, OutcomeMalformed)
		return nil, err
	}
	span.SetAttributes(attribute.String("webhook.event", ev.EventName()))

	captured, ok := ev.(payment.PaymentCaptured)
	if !ok {
		s.logger.Info("webhook event ignored", zap.String("event", ev.EventName()))
		s.count(ctx, ChannelWebhook, OutcomeIgnored)
		return &Result{Channel: ChannelWebhook, Outcome: OutcomeIgnored, Event: ev.EventName()}, nil
	}

	res, err := s.settle(ctx, ChannelWebhook, captured.ProviderOrderRef, captured.ProviderPaymentRef)
	if res != nil {
		res.Event = ev.EventName()
	}
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("reconcile.outcome", string(res.Outcome)))
		return res, nil
	case res == nil:
		span.RecordError(err)
		return nil, err
	default:
		// Not found, conflict and not payable are final for this delivery.
		// Retrying would not change the answer, so acknowledge.
		return res, nil
	}
}

// settle looks the order up by provider ref and applies MarkPaid. It returns
// a Result for every outcome it can classify, together with the error.
func (s *Service) settle(ctx context.Context, ch Channel, orderRef, paymentRef string) (*Result, error) {
	log := s.logger.With(
		zap.String("channel", string(ch)),
		zap.String("provider_order_ref", orderRef),
		zap.String("provider_payment_ref", paymentRef),
	)

	order, err := s.store.FindByProviderOrderRef(ctx, orderRef)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			log.Warn("no order for provider order ref", zap.Error(err))
			s.count(ctx, ch, OutcomeOrderNotFound)
			return &Result{Channel: ch, Outcome: OutcomeOrderNotFound}, err
		}
		log.Error("order lookup failed", zap.Error(err))
		s.count(ctx, ch, OutcomeFailed)
		return nil, asPersistence(err)
	}
	log = log.With(zap.String("order_id", order.OrderID))

	paid, applied, err := s.store.MarkPaid(ctx, order.OrderID, paymentRef)
	switch {
	case err == nil && applied:
		log.Info("order marked paid")
		s.count(ctx, ch, OutcomeApplied)
		s.publishPaid(ctx, log, ch, paid)
		return &Result{Channel: ch, Outcome: OutcomeApplied, Order: paid}, nil
	case err == nil:
		log.Info("order already paid with this payment, nothing to do")
		s.count(ctx, ch, OutcomeAlreadyPaid)
		return &Result{Channel: ch, Outcome: OutcomeAlreadyPaid, Order: paid}, nil
	case errors.Is(err, orders.ErrPaymentConflict):
		log.Error("order already paid with a different payment id", zap.String("stored_payment_id", paidPaymentID(paid)), zap.Error(err))
		s.count(ctx, ch, OutcomeConflict)
		return &Result{Channel: ch, Outcome: OutcomeConflict, Order: paid}, err
	case errors.Is(err, orders.ErrNotPayable):
		log.Error("payment confirmation for an order that is not payable online", zap.Error(err))
		s.count(ctx, ch, OutcomeNotPayable)
		return &Result{Channel: ch, Outcome: OutcomeNotPayable, Order: paid}, err
	case errors.Is(err, orders.ErrOrderNotFound):
		log.Warn("order vanished before mark paid", zap.Error(err))
		s.count(ctx, ch, OutcomeOrderNotFound)
		return &Result{Channel: ch, Outcome: OutcomeOrderNotFound}, err
	default:
		log.Error("mark paid failed", zap.Error(err))
		s.count(ctx, ch, OutcomeFailed)
		return nil, asPersistence(err)
	}
}

func asPersistence(err error) error {
	if errors.Is(err, orders.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", orders.ErrPersistence, err)
}

// publishPaid is best-effort: the order is already paid in the store and the
// event only drives fulfillment.
func (s *Service) publishPaid(ctx context.Context, log *zap.Logger, ch Channel, o *orders.Order) {
	if s.publisher == nil {
		return
	}
	ev := orders.PaidEvent{
		OrderID:          o.OrderID,
		UserID:           o.UserID,
		PaymentID:        o.PaymentID,
		ProviderOrderRef: o.ProviderOrderRef,
		Amount:           o.Amount,
		Channel:          string(ch),
		PaidAt:           s.nowFunc().UTC(),
	}
	if o.PaidAt != nil {
		ev.PaidAt = *o.PaidAt
	}
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error("marshal paid event", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, body, map[string]string{"event_type": orders.EventTypeOrderPaid}); err != nil {
		log.Error("publish paid event failed", zap.Error(err))
	}
}

func (s *Service) count(ctx context.Context, ch Channel, outcome Outcome) {
	if s.metrics == nil {
		return
	}
	err := s.metrics.Count(ctx, "PaymentReconciliation", map[string]string{
		"Channel": string(ch),
		"Outcome": string(outcome),
	})
	if err != nil {
		s.logger.Warn("failed to record metric", zap.Error(err))
	}
}

func paidPaymentID(o *orders.Order) string {
	if o == nil {
		return ""
	}
	return o.PaymentID
}

// Recorders fans each count out to several recorders, for example CloudWatch
// and Prometheus.
type Recorders []MetricsRecorder

func (rs Recorders) Count(ctx context.Context, name string, dimensions map[string]string) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Count(ctx, name, dimensions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
