// Package checkout places cash-on-delivery and online orders. Prices are
// always re-read from the catalog; the client only supplies product ids and
// quantities.
package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payment"
	"github.com/imrishuroy/storefront-orderflow/internal/pricing"
)

// ProductReader returns the live product record.
type ProductReader interface {
	Get(ctx context.Context, productID string) (*catalog.Product, error)
}

// OrderWriter is the subset of orders.Store used to place orders.
type OrderWriter interface {
	Create(ctx context.Context, order orders.Order) (*orders.Order, error)
	CreateWithIdempotencyTransaction(ctx context.Context, order orders.Order, claim orders.IdempotencyClaim) (*orders.Order, error)
	SetProviderOrderRef(ctx context.Context, orderID, ref string) error
}

// ClaimFactory builds the idempotency record written alongside a new order.
type ClaimFactory interface {
	NewClaim(key, orderID string) orders.IdempotencyClaim
}

// PlaceOrderInput is a checkout request. UserID comes from the authenticated
// session. IdempotencyKey is optional and must already be scoped to the user.
type PlaceOrderInput struct {
	UserID         string
	Items          []orders.LineItem
	Address        orders.Address
	IdempotencyKey string
}

// OnlinePlacement carries what the client needs to open the payment widget.
// It never includes the provider secret.
type OnlinePlacement struct {
	Order            *orders.Order
	KeyID            string
	AmountMinor      int64
	Currency         string
	ProviderOrderRef string
}

// Service places orders.
type Service struct {
	products ProductReader
	orders   OrderWriter
	provider payment.Provider
	claims   ClaimFactory
	logger   *zap.Logger
	newID    func() string
}

// NewService wires a checkout Service. claims may be nil, in which case
// idempotency keys are ignored.
func NewService(products ProductReader, orderWriter OrderWriter, provider payment.Provider, claims ClaimFactory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		products: products,
		orders:   orderWriter,
		provider: provider,
		claims:   claims,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// PlaceCOD prices and persists a cash-on-delivery order.
func (s *Service) PlaceCOD(ctx context.Context, in PlaceOrderInput) (*orders.Order, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "PlaceCOD")
	defer span.End()

	order, err := s.place(ctx, in, pricing.MethodCashOnDelivery)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.OrderID))
	s.logger.Info("cod order placed",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("amount", order.Amount.String()))
	return order, nil
}

// PlaceOnline prices and persists an online order, then registers a payment
// intent with the provider and records its ref on the order.
//
// If the provider call fails the order stays persisted without a ref and
// ErrProviderUnavailable is returned. The intent is not retried.
func (s *Service) PlaceOnline(ctx context.Context, in PlaceOrderInput) (*OnlinePlacement, error) {
	ctx, span := otel.Tracer("checkout").Start(ctx, "PlaceOnline")
	defer span.End()

	order, err := s.place(ctx, in, pricing.MethodOnline)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.OrderID))

	intent, err := s.provider.CreateIntent(ctx, payment.IntentRequest{
		AmountMinor: order.Amount.Minor(),
		Currency:    payment.CurrencyINR,
		Receipt:     "order_rcptid_" + order.OrderID,
		Notes: map[string]string{
			"orderId": order.OrderID,
			"userId":  order.UserID,
		},
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("payment intent registration failed, order left without provider ref",
			zap.String("order_id", order.OrderID), zap.Error(err))
		if !errors.Is(err, payment.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", payment.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	if err := s.orders.SetProviderOrderRef(ctx, order.OrderID, intent.ID); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to record provider order ref",
			zap.String("order_id", order.OrderID),
			zap.String("provider_order_ref", intent.ID),
			zap.Error(err))
		return nil, err
	}
	order.ProviderOrderRef = intent.ID

	s.logger.Info("online order placed",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("provider_order_ref", intent.ID),
		zap.Int64("amount_minor", intent.Amount))

	return &OnlinePlacement{
		Order:            order,
		KeyID:            s.provider.KeyID(),
		AmountMinor:      intent.Amount,
		Currency:         intent.Currency,
		ProviderOrderRef: intent.ID,
	}, nil
}

// place re-fetches every product, prices the cart and persists the order.
// Nothing is written if any step before persistence fails.
func (s *Service) place(ctx context.Context, in PlaceOrderInput, method pricing.Method) (*orders.Order, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", orders.ErrValidation)
	}
	if in.Address.IsZero() {
		return nil, fmt.Errorf("%w: address is required", orders.ErrValidation)
	}

	lines := make([]pricing.Line, 0, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" {
			return nil, fmt.Errorf("%w: item without product id", orders.ErrValidation)
		}
		p, err := s.products.Get(ctx, it.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, pricing.Line{ProductID: p.ProductID, UnitPrice: p.OfferPrice, Quantity: it.Quantity})
	}

	bd, err := pricing.Calculate(lines, method)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidQuantity) {
			return nil, fmt.Errorf("%w: %w", orders.ErrValidation, err)
		}
		return nil, err
	}
	if !bd.Total.IsPositive() {
		// the provider rejects zero-amount intents, so catch it before writing
		return nil, fmt.Errorf("%w: order total must be positive, got %s", orders.ErrValidation, bd.Total)
	}

	order := orders.Order{
		OrderID:     s.newID(),
		UserID:      in.UserID,
		Items:       append([]orders.LineItem(nil), in.Items...),
		Subtotal:    bd.Subtotal,
		Tax:         bd.Tax,
		Amount:      bd.Total,
		Address:     in.Address,
		Status:      orders.StatusPlaced,
		PaymentType: paymentType(method),
	}

	if in.IdempotencyKey != "" && s.claims != nil {
		return s.orders.CreateWithIdempotencyTransaction(ctx, order, s.claims.NewClaim(in.IdempotencyKey, order.OrderID))
	}
	return s.orders.Create(ctx, order)
}

func paymentType(m pricing.Method) orders.PaymentType {
	if m == pricing.MethodOnline {
		return orders.PaymentOnline
	}
	return orders.PaymentCashOnDelivery
}
