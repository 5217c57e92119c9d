package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
)

func queryDependencyError(message string) error {
	return core.NewError(message, goerrors.CategoryInternal, core.RelayErrorInternal, nil)
}

// queryValidationError reports one bad field with the bad-input text code.
func queryValidationError(field string, message string) error {
	return goerrors.NewValidation("query: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.RelayErrorBadInput).
		WithMetadata(map[string]any{"field": field})
}
