package validation

// OrderItem is one cart entry. Only the product id and quantity are accepted
// from the client; prices are read from the catalog.
type OrderItem struct {
	Product  string `json:"product" validate:"required"`        // product id
	Quantity int    `json:"quantity" validate:"required,min=1"` // must be >= 1
}

// Address is the delivery address sent with a checkout request.
type Address struct {
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" validate:"omitempty,email"`
	Street    string `json:"street" validate:"required"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state"`
	Zipcode   string `json:"zipcode"`
	Country   string `json:"country" validate:"required"`
	Phone     string `json:"phone"`
}

// PlaceOrderRequest is the payload for POST /api/order/cod and
// POST /api/order/razorpay.
type PlaceOrderRequest struct {
	Items   []OrderItem `json:"items" validate:"required,min=1,dive"` // at least one item
	Address *Address    `json:"address" validate:"required"`
}

// VerifyPaymentRequest is the payload for POST /api/payment/verify, as
// returned by the checkout widget's success handler.
type VerifyPaymentRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id" validate:"required"`
	RazorpayPaymentID string `json:"razorpay_payment_id" validate:"required"`
	RazorpaySignature string `json:"razorpay_signature" validate:"required"`
}
