package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payment"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

// WebhookSignatureHeader carries the provider's HMAC of the raw body.
const WebhookSignatureHeader = "X-Razorpay-Signature"

// VerifyPayment handles POST /api/payment/verify.
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req validation.VerifyPaymentRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}

	res, err := h.cfg.Reconcile.Verify(c.Request.Context(), req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Payment verified",
		"orderId": res.Order.OrderID,
		"applied": res.Applied(),
	})
}

// Webhook handles provider deliveries. The body is read raw so the HMAC is
// computed over exactly the bytes that were signed.
//
// 200 once the signature checks out and the event was handled or ignored,
// 400 on a bad signature, 422 on an undecodable event, 503 when storage
// failed and the provider should retry.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Unreadable body"})
		return
	}

	res, err := h.cfg.Reconcile.HandleWebhook(c.Request.Context(), body, c.GetHeader(WebhookSignatureHeader))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "event": res.Event, "status": res.Outcome})
	case errors.Is(err, payment.ErrSignatureMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid signature"})
	case errors.Is(err, payment.ErrMalformedEvent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "message": "Malformed event"})
	case errors.Is(err, orders.ErrPersistence):
		h.logger.Error("webhook storage failure, asking provider to retry", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "Temporarily unavailable"})
	default:
		h.fail(c, err)
	}
}
