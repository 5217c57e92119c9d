package gologger

import (
	"io"
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// NewJSONRoot builds the process root logger: JSON records on w at level, named after the
// service. The returned logger is also the provider for component loggers.
func NewJSONRoot(w io.Writer, service string, level string) *glog.BaseLogger {
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		level = glog.Info
	}
	return glog.NewLogger(
		glog.WithLoggerTypeJSON(),
		glog.WithWriter(w),
		glog.WithLevel(level),
		glog.WithName(strings.TrimSpace(service)),
	)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves a glog logger/provider pair and returns the go-job equivalents too.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}
