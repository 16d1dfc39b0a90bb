package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod is the settlement rail recorded on the order.
type PaymentMethod string

const PaymentMethodLitecoin PaymentMethod = "litecoin"

// Currency is the denomination of the requested payment amount.
type Currency string

const CurrencyLTC Currency = "LTC"

// String implements fmt.Stringer.
func (p PaymentMethod) String() string { return string(p) }

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool { return p == PaymentMethodLitecoin }

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(value)))
	if !method.IsValid() {
		return "", fmt.Errorf("invalid payment method %q", value)
	}
	return method, nil
}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool { return c == CurrencyLTC }

func ParseCurrency(value string) (Currency, error) {
	currency := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !currency.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return currency, nil
}
