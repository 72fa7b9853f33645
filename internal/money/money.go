// Package money holds the fixed-point amount type shared by pricing, the
// catalog and the order store. Amounts carry two decimal places and are
// persisted in DynamoDB as numbers.
package money

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places every stored amount carries.
const Scale = 2

// Amount is a monetary value rounded to two decimal places.
type Amount struct {
	decimal.Decimal
}

// Zero is the zero amount.
var Zero = Amount{decimal.Zero}

// FromDecimal rounds d to two places.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d.Round(Scale)}
}

// MustParse parses s, panicking on malformed input. Intended for constants and tests.
func MustParse(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: parse %q: %v", s, err))
	}
	return FromDecimal(d)
}

// Minor returns the amount in minor currency units (paise, cents).
func (a Amount) Minor() int64 {
	return a.Shift(Scale).Round(0).IntPart()
}

// String renders the amount with exactly two decimals.
func (a Amount) String() string {
	return a.StringFixed(Scale)
}

// MarshalJSON renders the amount as a JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(Scale)), nil
}

// UnmarshalJSON accepts both quoted and bare numbers.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	*a = FromDecimal(d)
	return nil
}

// MarshalDynamoDBAttributeValue stores the amount as a number attribute.
func (a Amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: a.StringFixed(Scale)}, nil
}

// UnmarshalDynamoDBAttributeValue reads a number (or numeric string) attribute.
func (a *Amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		*a = Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported attribute type %T", av)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money: parse %q: %w", raw, err)
	}
	*a = FromDecimal(d)
	return nil
}
