package voker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// loopState is C5's invocation loop state machine, kept as an explicit
// enum (rather than inferred from control flow) so tests can assert on
// it. Reporting an invocation's result and polling for the next one are
// pipelined onto a single connection write wherever possible (see
// client.RespondAndNext/RespondErrorAndNext), so loopReportingInvocationResult
// and loopWaitingForInvocation often collapse into one wire exchange;
// the states still name every step a caller may observe.
type loopState int

const (
	loopInitialized loopState = iota
	loopStarting
	loopConnected
	loopHandlerCreated
	loopHandlerCreationFailed
	loopReportingStartupError
	loopWaitingForInvocation
	loopExecutingInvocation
	loopReportingInvocationResult
	loopFailed
)

func (s loopState) String() string {
	switch s {
	case loopInitialized:
		return "Initialized"
	case loopStarting:
		return "Starting"
	case loopConnected:
		return "Connected"
	case loopHandlerCreated:
		return "HandlerCreated"
	case loopHandlerCreationFailed:
		return "HandlerCreationFailed"
	case loopReportingStartupError:
		return "ReportingStartupError"
	case loopWaitingForInvocation:
		return "WaitingForInvocation"
	case loopExecutingInvocation:
		return "ExecutingInvocation"
	case loopReportingInvocationResult:
		return "ReportingInvocationResult"
	case loopFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var errHandlerPanicked = errors.New("handler panicked")

// invocationLoop drives C5: repeatedly pulling an invocation from the
// client (C4), running the handler, and reporting the result, tracking
// an explicit loopState throughout. Generalizes the teacher's
// handleInvocation/Start loop body in voker.go into a type so pipelining
// and the request-count/timeout bounds are testable on their own.
// Startup (init) failures are reported by Start, not by this loop.
type invocationLoop[TIn, TOut any] struct {
	client  *client
	handler func(context.Context, TIn) (TOut, error)
	logger  *slog.Logger

	maxRequests    int
	requestTimeout time.Duration
	enableTraceID  bool

	stateMu sync.Mutex
	state   loopState

	processed int
}

func newInvocationLoop[TIn, TOut any](c *client, handler func(context.Context, TIn) (TOut, error), logger *slog.Logger, cfg RuntimeConfig, enableTraceID bool) *invocationLoop[TIn, TOut] {
	return &invocationLoop[TIn, TOut]{
		client:         c,
		handler:        handler,
		logger:         logger,
		maxRequests:    cfg.MaxRequests,
		requestTimeout: cfg.RequestTimeout,
		enableTraceID:  enableTraceID,
		state:          loopInitialized,
	}
}

func (l *invocationLoop[TIn, TOut]) State() loopState {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

func (l *invocationLoop[TIn, TOut]) setState(s loopState) {
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
}

// Run executes the loop until ctx is cancelled, MaxRequests is reached,
// or a fatal transport/protocol error occurs. A cancelled ctx during a
// GET next is not an error: it means shutdown was requested while
// idling between invocations, and Run returns nil.
//
// Every report but the last is pipelined with the GET next for the
// following invocation (spec'd as "report result + request next" going
// out back-to-back on the wire, ahead of the 202 for the report): the
// loop issues a standalone client.Next only once, at startup. An
// iteration that does not pipeline (the last one allowed by MaxRequests,
// or a handler panic) ends the loop.
func (l *invocationLoop[TIn, TOut]) Run(ctx context.Context) error {
	l.setState(loopStarting)
	l.setState(loopConnected)
	l.setState(loopHandlerCreated)

	meta, payload, err := l.next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.setState(loopFailed)
		return fmt.Errorf("voker: invocation/next failed: %w", err)
	}

	for {
		// The final allowed invocation can't pipeline a GET next: there
		// is nothing left to do with it.
		pipeline := l.maxRequests <= 0 || l.processed+1 < l.maxRequests

		nextMeta, nextPayload, more, err := l.executeAndReport(ctx, meta, payload, pipeline)
		if err != nil {
			if !errors.Is(err, errHandlerPanicked) {
				l.setState(loopFailed)
			}
			return err
		}
		l.processed++

		if !more {
			return nil
		}
		meta, payload = nextMeta, nextPayload
	}
}

func (l *invocationLoop[TIn, TOut]) next(ctx context.Context) (InvocationMetadata, []byte, error) {
	l.setState(loopWaitingForInvocation)
	nextCtx, cancel := l.withRequestTimeout(ctx)
	defer cancel()
	return l.client.Next(nextCtx)
}

func (l *invocationLoop[TIn, TOut]) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.requestTimeout)
}

// executeAndReport runs the handler for one invocation and reports its
// outcome. When pipeline is true the outcome report is bundled with the
// GET next for the following invocation, and the returned
// (InvocationMetadata, []byte, true, nil) is that next invocation ready
// for the caller to feed straight back in, skipping a standalone
// client.Next round trip.
func (l *invocationLoop[TIn, TOut]) executeAndReport(ctx context.Context, meta InvocationMetadata, payload []byte, pipeline bool) (InvocationMetadata, []byte, bool, error) {
	l.setState(loopExecutingInvocation)

	if l.enableTraceID && meta.TraceID != "" {
		os.Setenv("_X_AMZN_TRACE_ID", meta.TraceID)
	}

	deadline := time.UnixMilli(meta.DeadlineMsSinceEpoch)
	invCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	lc := &LambdaContext{
		AwsRequestID:       meta.RequestID,
		TraceID:            meta.TraceID,
		InvokedFunctionArn: meta.InvokedFunctionArn,
		Deadline:           deadline,
		Logger:             l.logger.With("requestId", meta.RequestID.String(), "traceId", meta.TraceID),
	}

	var ctxErr error
	if meta.CognitoIdentity != "" {
		if err := json.Unmarshal([]byte(meta.CognitoIdentity), &lc.Identity); err != nil {
			ctxErr = fmt.Errorf("failed to parse cognito identity: %w", err)
		}
	}
	if ctxErr == nil && meta.ClientContext != "" {
		if err := json.Unmarshal([]byte(meta.ClientContext), &lc.ClientContext); err != nil {
			ctxErr = fmt.Errorf("failed to parse client context: %w", err)
		}
	}
	if ctxErr != nil {
		return l.reportOutcome(ctx, meta.RequestID, nil, ctxErr, pipeline)
	}

	invCtx = NewContext(invCtx, lc)

	response, herr := callHandler(invCtx, payload, l.handler)

	l.setState(loopReportingInvocationResult)

	return l.reportOutcome(ctx, meta.RequestID, response, herr, pipeline)
}

// reportOutcome reports a successful or failed invocation result,
// pipelining the following GET next onto the same write when pipeline
// is true. The bool return reports whether a pipelined next invocation
// is being handed back for the caller to continue with.
func (l *invocationLoop[TIn, TOut]) reportOutcome(ctx context.Context, id RequestId, response []byte, herr error, pipeline bool) (InvocationMetadata, []byte, bool, error) {
	if herr != nil {
		return l.reportErrorOutcome(ctx, id, herr, pipeline)
	}

	if !pipeline {
		if err := l.client.Respond(ctx, id, response); err != nil {
			return InvocationMetadata{}, nil, false, fmt.Errorf("voker: failed to send success response: %w", err)
		}
		return InvocationMetadata{}, nil, false, nil
	}

	nextCtx, cancel := l.withRequestTimeout(ctx)
	defer cancel()

	meta, payload, err := l.client.RespondAndNext(nextCtx, id, response)
	if err != nil {
		var nextFailed *errReportAcceptedNextFailed
		if errors.As(err, &nextFailed) && ctx.Err() != nil {
			return InvocationMetadata{}, nil, false, nil
		}
		return InvocationMetadata{}, nil, false, fmt.Errorf("voker: failed to send success response: %w", err)
	}
	return meta, payload, true, nil
}

func (l *invocationLoop[TIn, TOut]) reportErrorOutcome(ctx context.Context, id RequestId, err error, pipeline bool) (InvocationMetadata, []byte, bool, error) {
	var errResp *ErrorResponse
	if e, ok := err.(*ErrorResponse); ok {
		errResp = e
	} else {
		errResp = newErrorResponse(err)
	}

	l.logger.ErrorContext(
		ctx,
		"invocation error",
		"error", errResp,
		slog.Group("record",
			"requestId", id.String(),
			"functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME"),
			"functionVersion", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION"),
		),
	)

	rec := ErrorRecord{ErrorType: errResp.Type, ErrorMessage: errResp.Message}
	panicked := len(errResp.StackTrace) > 0

	// A panic always ends the loop, matching the teacher's behavior of
	// not resuming after an unrecovered handler panic, so there is
	// nothing worth pipelining a next request against.
	if !pipeline || panicked {
		if respErr := l.client.RespondError(ctx, id, rec); respErr != nil {
			return InvocationMetadata{}, nil, false, fmt.Errorf("voker: failed to send error response: %w", respErr)
		}
		if panicked {
			return InvocationMetadata{}, nil, false, errHandlerPanicked
		}
		return InvocationMetadata{}, nil, false, nil
	}

	nextCtx, cancel := l.withRequestTimeout(ctx)
	defer cancel()

	meta, payload, respErr := l.client.RespondErrorAndNext(nextCtx, id, rec)
	if respErr != nil {
		var nextFailed *errReportAcceptedNextFailed
		if errors.As(respErr, &nextFailed) && ctx.Err() != nil {
			return InvocationMetadata{}, nil, false, nil
		}
		return InvocationMetadata{}, nil, false, fmt.Errorf("voker: failed to send error response: %w", respErr)
	}
	return meta, payload, true, nil
}

// callHandler unmarshals payload into TIn, invokes handler recovering
// from any panic, and marshals the result, mirroring the teacher's
// identically-named function in voker.go.
func callHandler[TIn, TOut any](ctx context.Context, payload []byte, handler func(context.Context, TIn) (TOut, error)) (responseBytes []byte, responseErr error) {
	defer func() {
		if r := recover(); r != nil {
			responseBytes = nil
			responseErr = newPanicResponse(r)
		}
	}()

	var input TIn
	if err := json.Unmarshal(payload, &input); err != nil {
		return nil, &ErrorResponse{
			Message: fmt.Sprintf("failed to unmarshal input: %v", err),
			Type:    "Runtime.UnmarshalError",
		}
	}

	output, err := handler(ctx, input)
	if err != nil {
		return nil, newErrorResponse(err)
	}

	responseBytes, err = json.Marshal(output)
	if err != nil {
		return nil, &ErrorResponse{
			Message: fmt.Sprintf("failed to marshal output: %v", err),
			Type:    "Runtime.MarshalError",
		}
	}

	return responseBytes, nil
}
