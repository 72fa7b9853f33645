package orders

import (
	"time"

	"github.com/imrishuroy/storefront-orderflow/internal/money"
)

// Order statuses. Fulfillment status is independent of IsPaid.
const (
	StatusPlaced     = "Order Placed"
	StatusProcessing = "Processing"
	StatusShipped    = "Shipped"
	StatusDelivered  = "Delivered"
)

// PaymentType is fixed at creation.
type PaymentType string

const (
	PaymentCashOnDelivery PaymentType = "Cash On Delivery"
	PaymentOnline         PaymentType = "Online"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	return t == PaymentCashOnDelivery || t == PaymentOnline
}

// LineItem is immutable once the order is created.
type LineItem struct {
	ProductID string `dynamodbav:"product" json:"product"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
}

// Address is the delivery address captured at checkout.
type Address struct {
	FirstName string `dynamodbav:"first_name,omitempty" json:"firstName,omitempty"`
	LastName  string `dynamodbav:"last_name,omitempty" json:"lastName,omitempty"`
	Email     string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Street    string `dynamodbav:"street,omitempty" json:"street,omitempty"`
	City      string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	State     string `dynamodbav:"state,omitempty" json:"state,omitempty"`
	Zipcode   string `dynamodbav:"zipcode,omitempty" json:"zipcode,omitempty"`
	Country   string `dynamodbav:"country,omitempty" json:"country,omitempty"`
	Phone     string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
}

// IsZero reports whether no address field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Order represents the item stored in the orders DynamoDB table.
//
// Subtotal, Tax and Amount are computed once at creation and never rewritten.
// IsPaid only moves false -> true, and PaymentID is written in the same update.
type Order struct {
	OrderID          string       `dynamodbav:"order_id" json:"_id"` // PK
	UserID           string       `dynamodbav:"user_id" json:"userId"`
	Items            []LineItem   `dynamodbav:"items" json:"items"`
	Subtotal         money.Amount `dynamodbav:"subtotal" json:"subtotal"`
	Tax              money.Amount `dynamodbav:"tax" json:"tax"`
	Amount           money.Amount `dynamodbav:"amount" json:"amount"`
	Address          Address      `dynamodbav:"address" json:"address"`
	Status           string       `dynamodbav:"status" json:"status"`
	PaymentType      PaymentType  `dynamodbav:"payment_type" json:"paymentType"`
	IsPaid           bool         `dynamodbav:"is_paid" json:"isPaid"`
	ProviderOrderRef string       `dynamodbav:"provider_order_ref,omitempty" json:"razorpayOrderId,omitempty"`
	PaymentID        string       `dynamodbav:"payment_id,omitempty" json:"paymentId,omitempty"`
	PaidAt           *time.Time   `dynamodbav:"paid_at,omitempty" json:"paidAt,omitempty"`
	CreatedAt        time.Time    `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt        time.Time    `dynamodbav:"updated_at" json:"updatedAt"`
}

// IdempotencyClaim is an extra item written in the same transaction as a new
// order, so a retried checkout request cannot create a second order.
type IdempotencyClaim struct {
	Table string
	Item  interface{}
}

// PaidEvent is published once per order, by whichever confirmation channel
// won the MarkPaid compare-and-set.
type PaidEvent struct {
	OrderID          string       `json:"order_id"`
	UserID           string       `json:"user_id"`
	PaymentID        string       `json:"payment_id"`
	ProviderOrderRef string       `json:"provider_order_ref"`
	Amount           money.Amount `json:"amount"`
	Channel          string       `json:"channel"`
	PaidAt           time.Time    `json:"paid_at"`
}

// EventTypeOrderPaid is the SQS message attribute value for PaidEvent.
const EventTypeOrderPaid = "order.paid"
