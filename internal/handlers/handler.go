package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/middleware"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payment"
	"github.com/imrishuroy/storefront-orderflow/internal/pricing"
	"github.com/imrishuroy/storefront-orderflow/internal/reconcile"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

// Placer places orders.
type Placer interface {
	PlaceCOD(ctx context.Context, in checkout.PlaceOrderInput) (*orders.Order, error)
	PlaceOnline(ctx context.Context, in checkout.PlaceOrderInput) (*checkout.OnlinePlacement, error)
}

// Reconciler handles payment confirmations.
type Reconciler interface {
	Verify(ctx context.Context, providerOrderRef, providerPaymentRef, signature string) (*reconcile.Result, error)
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*reconcile.Result, error)
}

// OrderReader serves order listings.
type OrderReader interface {
	FindByID(ctx context.Context, orderID string) (*orders.Order, error)
	FindByUser(ctx context.Context, userID string) ([]orders.Order, error)
	ListAll(ctx context.Context) ([]orders.Order, error)
}

// ProductReader resolves product details for order listings.
type ProductReader interface {
	Get(ctx context.Context, productID string) (*catalog.Product, error)
}

// IdempotencyStore tracks checkout requests that carried an Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.IdempotencyRecord, error)
	MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Checkout    Placer
	Reconcile   Reconciler
	Orders      OrderReader
	Products    ProductReader    // optional; listings show bare ids without it
	Idempotency IdempotencyStore // optional
	JWTSecret   []byte
	SellerEmail string
	Logger      *zap.Logger
}

// Handler serves the order and payment API.
type Handler struct {
	cfg       HandlerConfig
	validator *validatorv10.Validate
	logger    *zap.Logger
}

// WebhookPaths are the routes the provider may deliver webhooks to.
var WebhookPaths = []string{"/razorpay-webhook", "/api/order/razorpay-webhook"}

// RegisterRoutes registers every order and payment route on r.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{cfg: cfg, validator: validation.New(), logger: logger}

	// Webhooks read the raw body themselves; nothing may bind it first.
	for _, p := range WebhookPaths {
		r.POST(p, h.Webhook)
	}

	api := r.Group("/api")
	user := middleware.AuthUser(cfg.JWTSecret)
	api.POST("/order/cod", user, h.PlaceCOD)
	api.POST("/order/razorpay", user, h.PlaceOnline)
	api.GET("/order/user", user, h.UserOrders)
	api.GET("/order/seller", middleware.AuthSeller(cfg.JWTSecret, cfg.SellerEmail), h.SellerOrders)
	api.GET("/order/:id", user, h.GetOrder)
	api.POST("/payment/verify", h.VerifyPayment)
}

// statusFor maps domain errors to an HTTP status and a user facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, pricing.ErrEmptyCart):
		return http.StatusBadRequest, "Cart is empty"
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest, "Invalid order data"
	case errors.Is(err, reconcile.ErrMissingFields):
		return http.StatusBadRequest, "Missing payment details"
	case errors.Is(err, payment.ErrSignatureMismatch):
		return http.StatusBadRequest, "Payment verification failed"
	case errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound, "Product not found"
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, "Order not found"
	case errors.Is(err, orders.ErrPaymentConflict):
		return http.StatusConflict, "Order already paid with a different payment"
	case errors.Is(err, orders.ErrNotPayable):
		return http.StatusConflict, "Order is not an online payment order"
	case errors.Is(err, orders.ErrDuplicateRequest):
		return http.StatusConflict, "Idempotency-Key is in use by another request"
	case errors.Is(err, payment.ErrProviderUnavailable):
		return http.StatusBadGateway, "Payment provider unavailable, please try again"
	default:
		return http.StatusInternalServerError, "Something went wrong"
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("trace_id", middleware.GetTraceID(c.Request.Context())),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "message": msg})
}
