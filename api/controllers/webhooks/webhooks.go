package webhooks

import (
	"io"
	"net/http"

	"github.com/negomaq/storefront-backend/api/responses"
	internalwebhooks "github.com/negomaq/storefront-backend/internal/webhooks"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

// Body size cap keeps oversized or hostile payloads out of memory.
const maxNotificationBody = 64 * 1024

// MercadoPago receives provider payment notifications. Both the IPN query
// form and the webhook JSON body form are accepted.
func MercadoPago(svc *internalwebhooks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read notification body"))
			return
		}

		notification, err := internalwebhooks.ParseNotification(r.URL.Query(), body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Handle(r.Context(), notification); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}
