package shared

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// NewValidator returns a validator reporting json field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode reads a JSON body into dst and validates it.
func Decode(r *http.Request, v *validator.Validate, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return Invalid("body", "json", "malformed request body: %v", err)
	}
	if v == nil {
		return nil
	}
	if err := v.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return Invalid(fe.Field(), fe.Tag(), "failed %s validation", fe.Tag())
		}
		return Invalid("body", "invalid", "%v", err)
	}
	return nil
}

// PathID parses a positive int64 URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, Invalid(name, "id", "invalid id %q", raw)
	}
	return id, nil
}

// QueryInt64 parses a positive int64 query parameter.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, Invalid(name, "required", "query parameter %s must be a positive integer", name)
	}
	return id, nil
}

// QueryDate parses a YYYY-MM-DD query parameter.
func QueryDate(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, Invalid(name, "required", "query parameter %s is required", name)
	}
	return ParseDate(name, raw)
}
