package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a payment transaction.
type PaymentStatus string

const (
	PaymentStatusPending     PaymentStatus = "pending"
	PaymentStatusInReview    PaymentStatus = "in_review"
	PaymentStatusAuthorized  PaymentStatus = "authorized"
	PaymentStatusApproved    PaymentStatus = "approved"
	PaymentStatusRejected    PaymentStatus = "rejected"
	PaymentStatusCancelled   PaymentStatus = "cancelled"
	PaymentStatusRefunded    PaymentStatus = "refunded"
	PaymentStatusChargedBack PaymentStatus = "charged_back"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusInReview,
	PaymentStatusAuthorized,
	PaymentStatusApproved,
	PaymentStatusRejected,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
	PaymentStatusChargedBack,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentStatusRejected, PaymentStatusCancelled, PaymentStatusRefunded, PaymentStatusChargedBack:
		return true
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
