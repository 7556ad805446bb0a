package validators

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/negomaq/storefront-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSONBody decodes and validates a JSON request body into dst.
// Unknown fields and trailing content are rejected.
func DecodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body is required")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return pkgerrors.New(pkgerrors.CodeValidation, "request body is required")
		default:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed request body")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(formatValidationErrors(verrs))
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	return nil
}

// ValidateStruct runs tag validation without JSON decoding, for inputs
// assembled from path or query parameters.
func ValidateStruct(dst any) error {
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(formatValidationErrors(verrs))
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			out[field] = "is required"
		case "email":
			out[field] = "must be a valid email"
		case "min":
			out[field] = "must have at least " + fe.Param() + " entries"
		case "max":
			out[field] = "must have at most " + fe.Param() + " entries"
		case "gt":
			out[field] = "must be greater than " + fe.Param()
		case "gte":
			out[field] = "must be at least " + fe.Param()
		case "uuid":
			out[field] = "must be a valid uuid"
		case "oneof":
			out[field] = "must be one of: " + fe.Param()
		default:
			out[field] = "failed " + fe.Tag() + " validation"
		}
	}
	return out
}
