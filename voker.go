// Package voker is a custom AWS Lambda runtime. It speaks the Lambda
// Runtime API directly over the control plane's loopback HTTP/1.1
// socket and supports a single handler signature using generics for
// type safety.
//
// Usage:
//
//	func handler(ctx context.Context, event MyEvent) (MyResponse, error) {
//	    // Handle the event
//	    return MyResponse{}, nil
//	}
//
//	func main() {
//	    voker.Start(handler)
//	}
package voker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
)

type options struct {
	enableTraceID   bool
	extensions      []InternalExtension
	logger          *slog.Logger
	terminator      *Terminator
	localServerAddr string
}

// Option is a function that modifies Options.
type Option func(*options)

// WithInternalExtension registers an internal extension.
func WithInternalExtension(ext InternalExtension) Option {
	return func(o *options) {
		o.extensions = append(o.extensions, ext)
	}
}

// WithLogger sets a custom slog logger for the runtime.
// If not provided, a default logger will be created based on
// AWS_LAMBDA_LOG_FORMAT and AWS_LAMBDA_LOG_LEVEL environment variables.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTraceID enables or disables AWS X-Ray tracing.
// When enabled, the X-Ray trace ID from Lambda headers will be
// set in the _X_AMZN_TRACE_ID environment variable for each invocation.
func WithTraceID(enabled bool) Option {
	return func(o *options) {
		o.enableTraceID = enabled
	}
}

// WithTerminator supplies a Terminator to register shutdown hooks
// against (extensions, the runtime client's socket). If not provided, a
// fresh one is created and driven by the default SIGTERM handler.
func WithTerminator(term *Terminator) Option {
	return func(o *options) {
		o.terminator = term
	}
}

// Start starts the Lambda runtime loop with the given handler function.
//
// The handler must have the signature:
//
//	func(context.Context, TIn) (TOut, error)
//
// Where TIn and TOut are JSON-serializable types.
//
// Options can be provided to configure runtime behavior:
//
//	voker.Start(handler, voker.WithTraceID(true))
//
// This function blocks while the loop runs. It returns after a clean
// shutdown (the stop signal arrived) or once MAX_REQUESTS invocations
// have been processed; on a fatal error it exits the process with
// status 1 instead of returning.
//
// When LOCAL_LAMBDA_SERVER_ENABLED is true and no WithLocalServer option
// was given, the local mock control plane is started on 127.0.0.1:7000
// (only in binaries built with -tags debug; otherwise it has no effect).
func Start[TIn, TOut any](handler func(context.Context, TIn) (TOut, error), opts ...Option) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = defaultLogger()
	}
	if o.terminator == nil {
		o.terminator = NewTerminator()
	}
	if o.localServerAddr == "" {
		if enabled, _ := strconv.ParseBool(os.Getenv("LOCAL_LAMBDA_SERVER_ENABLED")); enabled {
			WithLocalServer("127.0.0.1:7000")(o)
		}
	}

	cfg, err := loadRuntimeConfig()
	if err != nil {
		if o.localServerAddr == "" || !errors.Is(err, ErrMissingRuntimeAPI) {
			o.logger.Error(err.Error())
			os.Exit(1)
		}
		cfg = RuntimeConfig{KeepAlive: true}
	}
	if o.localServerAddr != "" {
		cfg.RuntimeAPI = o.localServerAddr
	}

	runtimeClient := newClient(cfg.RuntimeAPI, cfg.KeepAlive)
	o.terminator.Register(func() error { return runtimeClient.Close() })

	ctx, stop := signal.NotifyContext(context.Background(), resolveStopSignal())
	defer stop()

	o.terminator.Register(func() error { stop(); return nil })

	if len(o.extensions) > 0 {
		extMgr := newExtensionManager(cfg.RuntimeAPI, o.extensions, o.logger)
		if err := extMgr.start(); err != nil {
			o.logger.Error("failed to start extensions", "error", err)
			reportInitError(runtimeClient, err, o.logger)
			os.Exit(1)
		}
		extMgr.registerShutdown(o.terminator)
	}

	go func() {
		<-ctx.Done()
		if err := o.terminator.Run(); err != nil {
			o.logger.Error("error during shutdown", "error", err)
		}
	}()

	loop := newInvocationLoop(runtimeClient, handler, o.logger, cfg, o.enableTraceID)

	if err := loop.Run(ctx); err != nil {
		o.logger.Error("fatal invocation loop error", "error", err, "state", loop.State().String())
		os.Exit(1)
	}
}

func reportInitError(c *client, err error, logger *slog.Logger) {
	errResp := newErrorResponse(err)
	rec := ErrorRecord{ErrorType: errResp.Type, ErrorMessage: errResp.Message}
	if sendErr := c.InitError(context.Background(), rec); sendErr != nil {
		logger.Error("failed to report init error", "error", sendErr)
	}
}
