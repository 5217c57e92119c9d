package guardrelay

import (
	"context"

	"github.com/goliatone/go-guardrelay/core"
)

type Config = core.Config

type Principal = core.Principal
type TokenValidator = core.TokenValidator
type TokenValidatorFunc = core.TokenValidatorFunc
type MessageHandler = core.MessageHandler
type EventObserver = core.EventObserver
type OutboundEvent = core.OutboundEvent

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// LoadConfig reads GUARDRELAY_* environment variables over the defaults, then applies runtime
// overrides.
func LoadConfig(ctx context.Context, runtime Config) (Config, error) {
	return core.LoadConfig(ctx, core.NewEnvConfigLoader("GUARDRELAY"), runtime)
}
