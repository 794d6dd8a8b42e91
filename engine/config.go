package engine

import (
	"runtime"
	"time"

	"github.com/hupe1980/agentcore/logging"
	"github.com/hupe1980/agentcore/middleware"
	"github.com/hupe1980/agentcore/model"
	"github.com/hupe1980/agentcore/observer"
	"github.com/hupe1980/agentcore/policy"
	"github.com/hupe1980/agentcore/scheduler"
)

// Config holds the tuning parameters of the agentic loop. It is validated
// by New.
type Config struct {
	// MaxIterations is the initial iteration budget of a run. The
	// continuation policy may extend it per run.
	MaxIterations int `validate:"gte=1"`

	// MaxConcurrency bounds the functions executing at once within one
	// iteration.
	MaxConcurrency int `validate:"gte=1"`

	// PollInterval is how often the event bus is drained while the driver
	// waits on hooks, the model or a function batch.
	PollInterval time.Duration `validate:"gt=0"`

	// CircuitBreakerThreshold is the number of consecutive identical calls
	// that terminates a run. Zero disables the breaker.
	CircuitBreakerThreshold int `validate:"gte=0"`

	// MaxConsecutiveErrors is the number of consecutive failed calls that
	// terminates a run. Zero disables the check.
	MaxConsecutiveErrors int `validate:"gte=0"`

	// ResponseTimeout bounds how long built-in policies wait for a consumer
	// decision. Zero waits forever.
	ResponseTimeout time.Duration `validate:"gte=0"`

	// RequirePermissions installs the permission policy for tools that
	// declare RequiresPermission.
	RequirePermissions bool

	// Observer breaker thresholds.
	ObserverFailureThreshold  uint32        `validate:"gte=1"`
	ObserverRecoveryThreshold uint32        `validate:"gte=1"`
	ObserverProbeInterval     time.Duration `validate:"gt=0"`

	// Instructions is the system prompt. It may use text/template syntax
	// rendered with the run's variables.
	Instructions string

	// MaxHistoryMessages limits the history entries sent to the model.
	// Zero sends the whole history.
	MaxHistoryMessages int `validate:"gte=0"`
}

// DefaultConfig provides the default loop configuration.
var DefaultConfig = Config{
	MaxIterations:             10,
	MaxConcurrency:            scheduler.DefaultConfig.MaxConcurrency,
	PollInterval:              scheduler.DefaultConfig.PollInterval,
	CircuitBreakerThreshold:   policy.DefaultCircuitBreakerThreshold,
	MaxConsecutiveErrors:      policy.DefaultErrorThreshold,
	ResponseTimeout:           policy.DefaultPermissionTimeout,
	RequirePermissions:        true,
	ObserverFailureThreshold:  observer.DefaultConfig.FailureThreshold,
	ObserverRecoveryThreshold: observer.DefaultConfig.RecoveryThreshold,
	ObserverProbeInterval:     observer.DefaultConfig.ProbeInterval,
	Instructions:              "You are a helpful assistant.",
	MaxHistoryMessages:        20,
}

// Options configures an Engine.
//
// Example:
//
//	eng, err := engine.New(invoker, registry, func(o *engine.Options) {
//	    o.Name = "researcher"
//	    o.MaxIterations = 20
//	    o.Logger = logging.NewConsoleLogger(logging.LogLevelInfo)
//	})
type Options struct {
	Config

	// Name identifies the agent in event attribution and logs.
	Name string

	// Model carries sampling options forwarded with every model request.
	// Its Instructions field is ignored in favour of Config.Instructions.
	Model model.Options

	// Classifier decides which function results count as failures for the
	// error threshold. Nil uses policy.DefaultClassifier.
	Classifier policy.Classifier

	// Middleware is installed after the built-in policies.
	Middleware []middleware.Middleware

	Logger logging.Logger
}

func defaultOptions() Options {
	cfg := DefaultConfig
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 2 * runtime.NumCPU()
	}
	return Options{
		Config: cfg,
		Name:   "agent",
		Logger: logging.NoOpLogger{},
	}
}
