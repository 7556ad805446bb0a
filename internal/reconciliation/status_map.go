package reconciliation

import (
	"github.com/negomaq/storefront-backend/pkg/enums"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

// providerStatusMap translates Mercado Pago payment statuses into the
// internal lifecycle. Unlisted statuses are rejected rather than guessed.
var providerStatusMap = map[string]enums.PaymentStatus{
	"pending":      enums.PaymentStatusPending,
	"approved":     enums.PaymentStatusApproved,
	"authorized":   enums.PaymentStatusAuthorized,
	"in_process":   enums.PaymentStatusInReview,
	"in_mediation": enums.PaymentStatusInReview,
	"rejected":     enums.PaymentStatusRejected,
	"cancelled":    enums.PaymentStatusCancelled,
	"refunded":     enums.PaymentStatusRefunded,
	"charged_back": enums.PaymentStatusChargedBack,
}

// FromProviderStatus maps a raw provider status onto a PaymentStatus.
func FromProviderStatus(providerStatus string) (enums.PaymentStatus, error) {
	if status, ok := providerStatusMap[providerStatus]; ok {
		return status, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeUnrecognizedStatus, "provider payment status not recognized").
		WithDetails(map[string]string{"provider_status": providerStatus})
}
