package shipping

import (
	"net/http"

	"github.com/negomaq/storefront-backend/api/responses"
	"github.com/negomaq/storefront-backend/api/validators"
	"github.com/negomaq/storefront-backend/internal/shipments"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

// Quote rates a prospective cart against a destination CEP.
func Quote(quoter *shipments.Quoter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input shipments.QuoteInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quotes, err := quoter.Quote(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quotes)
	}
}
