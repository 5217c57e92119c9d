package inbound

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-guardrelay/core"
)

// inboundError is core.NewError with an explicit HTTP status, for the few cases where the
// category default does not fit (claim store failures are internal, not upstream).
func inboundError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	return core.NewError(message, category, textCode, metadata).WithCode(code)
}

func inboundWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	return core.WrapError(source, category, message, textCode, metadata).WithCode(code)
}

func inboundBadInput(message string, metadata map[string]any) error {
	return core.NewError(message, goerrors.CategoryBadInput, core.RelayErrorBadInput, metadata)
}

func inboundInternal(message string, metadata map[string]any) error {
	return core.NewError(message, goerrors.CategoryInternal, core.RelayErrorInternal, metadata)
}
