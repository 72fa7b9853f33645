package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/middleware"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/validation"
)

// IdempotencyHeader is the optional request header that dedupes checkouts.
const IdempotencyHeader = "Idempotency-Key"

// PlaceCOD handles POST /api/order/cod.
func (h *Handler) PlaceCOD(c *gin.Context) {
	h.place(c, func(ctx context.Context, in checkout.PlaceOrderInput) (gin.H, error) {
		order, err := h.cfg.Checkout.PlaceCOD(ctx, in)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"success":     true,
			"message":     "Order Placed Successfully",
			"orderId":     order.OrderID,
			"subtotal":    order.Subtotal,
			"tax":         order.Tax,
			"totalAmount": order.Amount,
		}, nil
	})
}

// PlaceOnline handles POST /api/order/razorpay. The response carries the
// public key only.
func (h *Handler) PlaceOnline(c *gin.Context) {
	h.place(c, func(ctx context.Context, in checkout.PlaceOrderInput) (gin.H, error) {
		res, err := h.cfg.Checkout.PlaceOnline(ctx, in)
		if err != nil {
			return nil, err
		}
		return gin.H{
			"success":          true,
			"message":          "Order created, complete the payment",
			"key":              res.KeyID,
			"amount":           res.AmountMinor,
			"currency":         res.Currency,
			"providerOrderRef": res.ProviderOrderRef,
			"razorpayOrderId":  res.ProviderOrderRef,
			"orderId":          res.Order.OrderID,
			"subtotal":         res.Order.Subtotal,
			"tax":              res.Order.Tax,
			"totalAmount":      res.Order.Amount,
		}, nil
	})
}

type placeFunc func(ctx context.Context, in checkout.PlaceOrderInput) (gin.H, error)

func (h *Handler) place(c *gin.Context, run placeFunc) {
	in, ok := h.bindPlacement(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	body, err := run(ctx, in)
	if errors.Is(err, orders.ErrDuplicateRequest) && in.IdempotencyKey != "" {
		rec, getErr := h.cfg.Idempotency.Get(ctx, in.IdempotencyKey)
		if getErr != nil {
			h.fail(c, getErr)
			return
		}
		if rec != nil {
			h.replay(c, rec)
			return
		}
		// The claim expired or was swept between the write and the read, so
		// the key is free again.
		body, err = run(ctx, in)
	}
	if err != nil {
		h.placementFailed(c, in, err)
		return
	}
	h.placementDone(c, in, body)
}

// bindPlacement validates the body and builds the checkout input. It writes
// the response itself when it returns false.
func (h *Handler) bindPlacement(c *gin.Context) (checkout.PlaceOrderInput, bool) {
	var req validation.PlaceOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		// BindAndValidate already wrote a 400
		return checkout.PlaceOrderInput{}, false
	}

	in := checkout.PlaceOrderInput{
		UserID: c.GetString(middleware.ContextUserID),
		Items:  make([]orders.LineItem, 0, len(req.Items)),
		Address: orders.Address{
			FirstName: req.Address.FirstName,
			LastName:  req.Address.LastName,
			Email:     req.Address.Email,
			Street:    req.Address.Street,
			City:      req.Address.City,
			State:     req.Address.State,
			Zipcode:   req.Address.Zipcode,
			Country:   req.Address.Country,
			Phone:     req.Address.Phone,
		},
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, orders.LineItem{ProductID: it.Product, Quantity: it.Quantity})
	}
	if key := c.GetHeader(IdempotencyHeader); key != "" && h.cfg.Idempotency != nil {
		in.IdempotencyKey = idempotency.ScopedKey(in.UserID, key)
	}
	return in, true
}

func (h *Handler) placementDone(c *gin.Context, in checkout.PlaceOrderInput, body gin.H) {
	if in.IdempotencyKey != "" {
		// a retry with the same key replays this body
		raw, err := json.Marshal(body)
		if err == nil {
			err = h.cfg.Idempotency.MarkDone(c.Request.Context(), in.IdempotencyKey, string(raw), http.StatusOK)
		}
		if err != nil {
			h.logger.Warn("failed to store idempotent response", zap.String("order_id", fmt.Sprint(body["orderId"])), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) placementFailed(c *gin.Context, in checkout.PlaceOrderInput, err error) {
	if in.IdempotencyKey == "" {
		h.fail(c, err)
		return
	}
	if errors.Is(err, orders.ErrDuplicateRequest) {
		// another request holds the claim; it is not ours to release
		h.fail(c, err)
		return
	}
	// The claim only exists if the order was persisted; a missing claim
	// just means there is nothing to release.
	if mErr := h.cfg.Idempotency.MarkFailed(c.Request.Context(), in.IdempotencyKey, err.Error()); mErr != nil && !errors.Is(mErr, idempotency.ErrNotInProgress) {
		h.logger.Warn("failed to mark idempotency record failed", zap.Error(mErr))
	}
	h.fail(c, err)
}

// replay answers a retried request from the stored idempotency record.
func (h *Handler) replay(c *gin.Context, rec *idempotency.IdempotencyRecord) {
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "orderId": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"success": false, "message": "Request already in progress", "orderId": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Previous attempt failed, retry with a new Idempotency-Key", "orderId": rec.OrderID})
	default:
		h.fail(c, fmt.Errorf("unknown idempotency status %q", rec.Status))
	}
}

// UserOrders handles GET /api/order/user.
func (h *Handler) UserOrders(c *gin.Context) {
	list, err := h.cfg.Orders.FindByUser(c.Request.Context(), c.GetString(middleware.ContextUserID))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.listOrders(c, list)
}

// SellerOrders handles GET /api/order/seller.
func (h *Handler) SellerOrders(c *gin.Context) {
	list, err := h.cfg.Orders.ListAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.listOrders(c, list)
}

func (h *Handler) listOrders(c *gin.Context, list []orders.Order) {
	views, err := h.withProducts(c.Request.Context(), list)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "orders": views})
}

type orderItemView struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

// orderView replaces each line item's product id with the product record.
type orderView struct {
	orders.Order
	Items []orderItemView `json:"items"`
}

// withProducts joins catalog records onto line items. A product deleted since
// the order was placed keeps only its id.
func (h *Handler) withProducts(ctx context.Context, list []orders.Order) ([]orderView, error) {
	seen := map[string]catalog.Product{}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		v := orderView{Order: o, Items: make([]orderItemView, 0, len(o.Items))}
		for _, it := range o.Items {
			p, ok := seen[it.ProductID]
			if !ok {
				p = catalog.Product{ProductID: it.ProductID}
				if h.cfg.Products != nil {
					got, err := h.cfg.Products.Get(ctx, it.ProductID)
					switch {
					case err == nil:
						p = *got
					case errors.Is(err, catalog.ErrProductNotFound):
						// keep the bare id
					default:
						return nil, err
					}
				}
				seen[it.ProductID] = p
			}
			v.Items = append(v.Items, orderItemView{Product: p, Quantity: it.Quantity})
		}
		out = append(out, v)
	}
	return out, nil
}

// GetOrder handles GET /api/order/:id so a client can re-check payment status
// instead of paying again. Other users' orders read as not found.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.cfg.Orders.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if order.UserID != c.GetString(middleware.ContextUserID) {
		h.fail(c, orders.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}
