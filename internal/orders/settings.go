package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/keymarket-backend/pkg/config"
	"github.com/angelmondragon/keymarket-backend/pkg/enums"
)

// Settings are the commerce values snapshotted onto each order at creation.
type Settings struct {
	DefaultCommissionRate decimal.Decimal
	PaymentWindow         time.Duration
	RefundWindow          time.Duration
	ReviewWindow          time.Duration
	PaymentMethod         enums.PaymentMethod
	Currency              enums.Currency
}

func SettingsFromConfig(cfg config.CommerceConfig) (Settings, error) {
	method, err := enums.ParsePaymentMethod(cfg.PaymentMethod)
	if err != nil {
		return Settings{}, err
	}
	currency, err := enums.ParseCurrency(cfg.PaymentCurrency)
	if err != nil {
		return Settings{}, err
	}
	settings := Settings{
		DefaultCommissionRate: cfg.CommissionRate(),
		PaymentWindow:         cfg.PaymentWindow,
		RefundWindow:          cfg.RefundWindow,
		ReviewWindow:          cfg.ReviewWindow,
		PaymentMethod:         method,
		Currency:              currency,
	}
	return settings, settings.validate()
}

func (s Settings) validate() error {
	if s.DefaultCommissionRate.IsNegative() || s.DefaultCommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("default commission rate must be between 0 and 1")
	}
	if s.PaymentWindow <= 0 || s.RefundWindow <= 0 || s.ReviewWindow <= 0 {
		return fmt.Errorf("order windows must be positive")
	}
	if !s.PaymentMethod.IsValid() || !s.Currency.IsValid() {
		return fmt.Errorf("payment method and currency are required")
	}
	return nil
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		DefaultCommissionRate: decimal.RequireFromString("0.15"),
		PaymentWindow:         30 * time.Minute,
		RefundWindow:          24 * time.Hour,
		ReviewWindow:          31 * 24 * time.Hour,
		PaymentMethod:         enums.PaymentMethodLitecoin,
		Currency:              enums.CurrencyLTC,
	}
}
