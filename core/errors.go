package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RelayErrorAuthRejected          = "RELAY_AUTH_REJECTED"
	RelayErrorMalformedPayload      = "RELAY_MALFORMED_PAYLOAD"
	RelayErrorTransportFailure      = "RELAY_TRANSPORT_FAILURE"
	RelayErrorConfigurationDegraded = "RELAY_CONFIGURATION_DEGRADED"
	RelayErrorBadInput              = "RELAY_BAD_INPUT"
	RelayErrorNotFound              = "RELAY_NOT_FOUND"
	RelayErrorRateLimited           = "RELAY_RATE_LIMITED"
	RelayErrorInternal              = "RELAY_INTERNAL_ERROR"
)

var (
	ErrConnectionNotFound = errors.New("core: connection not found")
	ErrConnectionClosed   = errors.New("core: connection closed")
	ErrSlowConsumer       = errors.New("core: connection send queue is full")
	ErrTokenRejected      = errors.New("core: token rejected")
)

// NewError builds a go-errors envelope with the relay text code and HTTP status.
func NewError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(relayHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func WrapError(source error, category goerrors.Category, message string, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(relayHTTPStatus(category)).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// MapError normalizes any error into a relay error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureRelayErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrConnectionNotFound):
		return NewError(err.Error(), goerrors.CategoryNotFound, RelayErrorNotFound, nil)
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrSlowConsumer):
		return NewError(err.Error(), goerrors.CategoryOperation, RelayErrorTransportFailure, nil)
	case errors.Is(err, ErrTokenRejected):
		return NewError(err.Error(), goerrors.CategoryAuth, RelayErrorAuthRejected, nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "token"):
		return NewError(err.Error(), goerrors.CategoryAuth, RelayErrorAuthRejected, nil)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return NewError(err.Error(), goerrors.CategoryRateLimit, RelayErrorRateLimited, nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(err.Error(), goerrors.CategoryBadInput, RelayErrorBadInput, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureRelayErrorEnvelope(mapped)
}

func ensureRelayErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = relayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRelayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultRelayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return RelayErrorBadInput
	case goerrors.CategoryNotFound:
		return RelayErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return RelayErrorAuthRejected
	case goerrors.CategoryRateLimit:
		return RelayErrorRateLimited
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return RelayErrorTransportFailure
	default:
		return RelayErrorInternal
	}
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
