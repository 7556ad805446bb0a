package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/negomaq/storefront-backend/api/responses"
	pkgauth "github.com/negomaq/storefront-backend/pkg/auth"
	"github.com/negomaq/storefront-backend/pkg/config"
	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

// Auth validates the bearer token and seeds the request context with the
// caller's identity.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token"))
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUserID, claims.UserID)
			ctx = context.WithValue(ctx, ctxRole, claims.Role)
			ctx = logg.WithUserID(ctx, claims.UserID.String())
			ctx = logg.WithActorRole(ctx, string(claims.Role))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "authorization header is required")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "authorization header must be a bearer token")
	}
	return parts[1], nil
}
