package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
)

func commandDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.RelayErrorInternal)
}

func commandValidationError(field string, message string) error {
	return goerrors.NewValidation("command: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.RelayErrorBadInput).
		WithSeverity(goerrors.SeverityError)
}

func commandMalformedPayloadError(err error, event string) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "command: malformed client payload").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.RelayErrorMalformedPayload).
		WithMetadata(map[string]any{"event": event})
}

func commandPublishError(err error, event string) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "command: publish failed").
		WithCode(http.StatusBadGateway).
		WithTextCode(core.RelayErrorTransportFailure).
		WithMetadata(map[string]any{"event": event})
}
