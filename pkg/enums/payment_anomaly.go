package enums

// PaymentAnomalyKind classifies payment events that need manual review.
type PaymentAnomalyKind string

const (
	AnomalyAmountMismatch PaymentAnomalyKind = "amount_mismatch"
	AnomalyUnfulfillable  PaymentAnomalyKind = "unfulfillable"
	AnomalyExpiredPayment PaymentAnomalyKind = "expired_payment"
)

func (k PaymentAnomalyKind) IsValid() bool {
	switch k {
	case AnomalyAmountMismatch, AnomalyUnfulfillable, AnomalyExpiredPayment:
		return true
	}
	return false
}
