package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// a cart holds each product once; repeated ids would be priced twice
	// under one line in the stored order
	v.RegisterStructValidation(placeOrderStructValidation, PlaceOrderRequest{})

	return v
}

func placeOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PlaceOrderRequest)

	seen := make(map[string]struct{}, len(req.Items))
	for _, it := range req.Items {
		if _, dup := seen[it.Product]; dup {
			sl.ReportError(req.Items, "items", "Items", "unique_products", it.Product)
			return
		}
		seen[it.Product] = struct{}{}
	}
}
