// Package pricing derives order totals from live unit prices. It performs no I/O.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// ErrEmptyCart is returned when there is nothing to price.
var ErrEmptyCart = errors.New("cart is empty")

// ErrInvalidQuantity is returned for a line with quantity < 1.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Method is the payment method an order is priced for.
type Method string

const (
	MethodCashOnDelivery Method = "Cash On Delivery"
	MethodOnline         Method = "Online"
)

// OnlineTaxRate is the fixed 2.11% levied on online payments only.
var OnlineTaxRate = decimal.RequireFromString("0.0211")

// Line is one priced cart entry. UnitPrice must come from the current
// product record, never from the client.
type Line struct {
	ProductID string
	UnitPrice money.Amount
	Quantity  int
}

// Breakdown is the result of pricing a cart.
type Breakdown struct {
	Subtotal money.Amount
	Tax      money.Amount
	Total    money.Amount
}

// Calculate prices lines for method. The subtotal is rounded once, after
// summation, and tax is rounded separately so Total == Subtotal + Tax exactly.
func Calculate(lines []Line, method Method) (Breakdown, error) {
	if len(lines) == 0 {
		return Breakdown{}, ErrEmptyCart
	}

	sum := decimal.Zero
	for _, l := range lines {
		if l.Quantity < 1 {
			return Breakdown{}, ErrInvalidQuantity
		}
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}

	subtotal := money.FromDecimal(sum)
	tax := money.Zero
	if method == MethodOnline {
		tax = money.FromDecimal(subtotal.Mul(OnlineTaxRate))
	}

	return Breakdown{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    money.FromDecimal(subtotal.Add(tax.Decimal)),
	}, nil
}
