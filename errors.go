package auth

import (
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// CategoryUnavailable marks requests refused while the store is closed or
// a dependency is down.
const CategoryUnavailable goerrors.Category = "unavailable"

const (
	TextCodeValidation       = "VALIDATION_ERROR"
	TextCodeUnauthenticated  = "UNAUTHENTICATED"
	TextCodeForbidden        = "FORBIDDEN"
	TextCodeNotFound         = "NOT_FOUND"
	TextCodeConflict         = "CONFLICT"
	TextCodeInternal         = "INTERNAL_ERROR"
	TextCodeInvalidToken     = "INVALID_TOKEN"
	TextCodeTokenExpired     = goerrors.TextCodeTokenExpired
	TextCodeUserNotFound     = "USER_NOT_FOUND"
	TextCodeEmailTaken       = "EMAIL_TAKEN"
	TextCodeBadCredentials   = goerrors.TextCodeInvalidCredentials
	TextCodeTooManyAttempts  = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeTokenRevoked     = "TOKEN_REVOKED"
	TextCodeTokenUsed        = goerrors.TextCodeTokenAlreadyUsed
	TextCodeMissingSecret    = "MISSING_SIGNING_KEY"
	TextCodeAdminImmutable   = "ADMIN_ACCOUNT_IMMUTABLE"
	TextCodeMaintenanceMode  = "MAINTENANCE_MODE"
	genericInternalErrorText = "An unexpected server error occurred"
)

var (
	ErrValidation = goerrors.New("invalid request", goerrors.CategoryValidation).
			WithTextCode(TextCodeValidation).
			WithCode(goerrors.CodeBadRequest)

	ErrUnauthenticated = goerrors.New("authentication required", goerrors.CategoryAuth).
				WithTextCode(TextCodeUnauthenticated).
				WithCode(goerrors.CodeUnauthorized)

	ErrForbidden = goerrors.New("insufficient permissions", goerrors.CategoryAuthz).
			WithTextCode(TextCodeForbidden).
			WithCode(goerrors.CodeForbidden)

	ErrNotFound = goerrors.New("resource not found", goerrors.CategoryNotFound).
			WithTextCode(TextCodeNotFound).
			WithCode(goerrors.CodeNotFound)

	ErrConflict = goerrors.New("resource already exists", goerrors.CategoryConflict).
			WithTextCode(TextCodeConflict).
			WithCode(goerrors.CodeConflict)

	ErrInternal = goerrors.New(genericInternalErrorText, goerrors.CategoryInternal).
			WithTextCode(TextCodeInternal).
			WithCode(goerrors.CodeInternal)

	// ErrInvalidToken covers malformed, mis-signed, expired and foreign tokens alike.
	ErrInvalidToken = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
			WithTextCode(TextCodeInvalidToken).
			WithCode(goerrors.CodeUnauthorized)

	ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
			WithTextCode(TextCodeTokenRevoked).
			WithCode(goerrors.CodeUnauthorized)

	ErrUserNotFound = goerrors.New("user not found", goerrors.CategoryNotFound).
			WithTextCode(TextCodeUserNotFound).
			WithCode(goerrors.CodeNotFound)

	ErrEmailTaken = goerrors.New("email is already registered", goerrors.CategoryConflict).
			WithTextCode(TextCodeEmailTaken).
			WithCode(goerrors.CodeConflict)

	ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
				WithTextCode(TextCodeBadCredentials).
				WithCode(goerrors.CodeUnauthorized)

	ErrTooManyLoginAttempts = goerrors.New("too many login attempts, try again later", goerrors.CategoryRateLimit).
				WithTextCode(TextCodeTooManyAttempts).
				WithCode(goerrors.CodeTooManyRequests)

	ErrVerificationTokenInvalid = goerrors.New("invalid or expired verification token", goerrors.CategoryValidation).
					WithTextCode(TextCodeTokenExpired).
					WithCode(goerrors.CodeBadRequest)

	ErrMissingSigningKey = goerrors.New("signing key must not be empty", goerrors.CategoryInternal).
				WithTextCode(TextCodeMissingSecret)

	ErrAdminAccountImmutable = goerrors.New("the administrator account is managed by configuration", goerrors.CategoryAuthz).
					WithTextCode(TextCodeAdminImmutable).
					WithCode(goerrors.CodeForbidden)

	ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
				WithTextCode(TextCodeValidation).
				WithCode(goerrors.CodeBadRequest)
)

// Derive returns a copy of base. A non-empty message replaces the base text.
// The With* mutators of go-errors work in place, so sentinels are always
// derived before they are decorated.
func Derive(base *goerrors.Error, message string) *goerrors.Error {
	clone := base.Clone()
	if message != "" {
		clone.Message = message
	}
	return clone
}

// DeriveFrom is Derive with source recorded as the cause.
func DeriveFrom(base *goerrors.Error, source error, message string) *goerrors.Error {
	clone := Derive(base, message)
	clone.Source = source
	return clone
}

// NewFieldsError is a validation error reporting one message per field.
func NewFieldsError(message string, fields map[string]string) *goerrors.Error {
	return goerrors.NewValidationFromMap(message, fields).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
}

// IsError reports whether err, or any cause it wraps, is base or a copy
// derived from it.
func IsError(err error, base *goerrors.Error) bool {
	if base == nil {
		return false
	}
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return false
		}
		if richErr == base {
			return true
		}
		if base.TextCode != "" && richErr.Category == base.Category && richErr.TextCode == base.TextCode {
			return true
		}
		err = richErr.Source
	}
	return false
}

// HTTPStatus returns the status an error maps to, 500 for uncategorized errors.
func HTTPStatus(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Code != 0 {
			return richErr.Code
		}
		return statusForCategory(richErr.Category)
	}
	return http.StatusInternalServerError
}

func statusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound, goerrors.CategoryRouting:
		return http.StatusNotFound
	case goerrors.CategoryMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case CategoryUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsError returns err as *goerrors.Error, wrapping uncategorized errors as internal.
func AsError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return DeriveFrom(ErrInternal, err, "")
}

// PublicMessage is the message safe to send to a client.
func PublicMessage(err *goerrors.Error) string {
	if err == nil || err.Category == goerrors.CategoryInternal {
		return genericInternalErrorText
	}
	return err.Message
}

// storeError reports a storage failure as internal whatever the driver
// returned, keeping the driver error as the cause.
func storeError(err error, message string) *goerrors.Error {
	return DeriveFrom(ErrInternal, err, message)
}

// NewValidationError converts ozzo validation errors into a validation
// error with one field entry per invalid field.
func NewValidationError(err error) *goerrors.Error {
	fields := FormatValidationErrorToMap(err)
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	msg := "invalid request"
	if len(names) > 0 {
		msg = "invalid request: " + strings.Join(names, ", ")
	}

	fieldErrors := make([]goerrors.FieldError, 0, len(names))
	for _, name := range names {
		fieldErrors = append(fieldErrors, goerrors.FieldError{Field: name, Message: fields[name]})
	}

	verr := goerrors.NewValidation(msg, fieldErrors...).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest)
	verr.Source = err
	return verr
}

// FormatValidationErrorToMap flattens ozzo validation errors.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	var verrs validation.Errors
	if goerrors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr == nil {
				continue
			}
			var nested validation.Errors
			if goerrors.As(ferr, &nested) {
				for k, v := range FormatValidationErrorToMap(nested) {
					out[field+"."+k] = v
				}
				continue
			}
			out[field] = ferr.Error()
		}
		return out
	}
	if err != nil {
		out["request"] = err.Error()
	}
	return out
}
