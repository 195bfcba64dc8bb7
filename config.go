package voker

import (
	"os"
	"strconv"
	"syscall"
	"time"
)

const (
	envRuntimeAPI     = "AWS_LAMBDA_RUNTIME_API"
	envLogLevel       = "LOG_LEVEL"
	envStopSignal     = "STOP_SIGNAL"
	envMaxRequests    = "MAX_REQUESTS"
	envRequestTimeout = "REQUEST_TIMEOUT"
	envKeepAlive      = "KEEP_ALIVE"
)

// RuntimeConfig holds the environment-derived settings that govern a
// Start call, separate from Options so tests can construct one without
// touching the process environment.
type RuntimeConfig struct {
	// RuntimeAPI is the host:port of the control plane, normally set by
	// the Lambda execution environment.
	RuntimeAPI string

	// MaxRequests caps how many invocations the loop will process
	// before returning, 0 meaning unbounded. Mainly useful for tests
	// and for the debug local server.
	MaxRequests int

	// RequestTimeout bounds each GET next call. Zero means no timeout
	// (the production default — the control plane itself paces the
	// long poll).
	RequestTimeout time.Duration

	// LogLevel is the raw value of LOG_LEVEL, passed through to
	// loggerLevelFromString. Empty means "use the Lambda runtime's own
	// AWS_LAMBDA_LOG_LEVEL instead."
	LogLevel string

	// KeepAlive controls whether the control-plane connection is reused
	// across requests (the default) or torn down and redialed after
	// every response.
	KeepAlive bool
}

// loadRuntimeConfig reads RuntimeConfig from the process environment,
// matching the teacher's own environment-driven configuration in
// logger.go's loggerLevelFromLambdaEnv. A missing AWS_LAMBDA_RUNTIME_API
// is an error, as is an unparsable KEEP_ALIVE, MAX_REQUESTS or
// REQUEST_TIMEOUT. Unset settings take their defaults: KeepAlive true,
// the rest the zero value.
func loadRuntimeConfig() (RuntimeConfig, error) {
	cfg := RuntimeConfig{
		RuntimeAPI: os.Getenv(envRuntimeAPI),
		LogLevel:   os.Getenv(envLogLevel),
		KeepAlive:  true,
	}

	if cfg.RuntimeAPI == "" {
		return RuntimeConfig{}, ErrMissingRuntimeAPI
	}

	if raw := os.Getenv(envKeepAlive); raw != "" {
		keepAlive, err := strconv.ParseBool(raw)
		if err != nil {
			return RuntimeConfig{}, ErrInvalidKeepAlive
		}
		cfg.KeepAlive = keepAlive
	}

	if raw := os.Getenv(envMaxRequests); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return RuntimeConfig{}, ErrInvalidMaxRequests
		}
		cfg.MaxRequests = n
	}

	if raw := os.Getenv(envRequestTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			secs, serr := strconv.Atoi(raw)
			if serr != nil || secs < 0 {
				return RuntimeConfig{}, ErrInvalidRequestTimeout
			}
			d = time.Duration(secs) * time.Second
		}
		cfg.RequestTimeout = d
	}

	return cfg, nil
}

// stopSignalName returns the name of the OS signal that should trigger
// graceful shutdown, defaulting to SIGTERM.
func stopSignalName() string {
	if v := os.Getenv(envStopSignal); v != "" {
		return v
	}
	return "SIGTERM"
}

// resolveStopSignal maps stopSignalName's value onto a concrete
// syscall.Signal, falling back to SIGTERM for anything unrecognized.
func resolveStopSignal() os.Signal {
	switch stopSignalName() {
	case "SIGINT":
		return syscall.SIGINT
	case "SIGHUP":
		return syscall.SIGHUP
	case "SIGTERM":
		return syscall.SIGTERM
	default:
		return syscall.SIGTERM
	}
}
