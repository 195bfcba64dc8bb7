package voker

import (
	"context"
	"fmt"
)

// client is the typed facade over the control-plane wire protocol,
// replacing the teacher's net/http-based runtimeClient with one built
// on the codec (C2) and persistent connection (C3).
type client struct {
	host      string
	keepAlive bool
	conn      *connection
}

// newClient returns a client talking to the given runtime API host
// (e.g. "127.0.0.1:9001", the value of AWS_LAMBDA_RUNTIME_API). When
// keepAlive is false every outgoing request advertises
// "connection: close" and the socket is torn down after each response.
func newClient(host string, keepAlive bool) *client {
	return &client{host: host, keepAlive: keepAlive, conn: newConnection(host, keepAlive)}
}

// Close releases the underlying socket.
func (c *client) Close() error {
	return c.conn.Close()
}

// Next blocks until the control plane hands back an invocation, the
// context is cancelled, or a fatal protocol error occurs. A long poll:
// callers typically pass a context with no deadline and rely on cancel
// for shutdown.
func (c *client) Next(ctx context.Context) (InvocationMetadata, []byte, error) {
	raw := encodeGetNext(c.host, c.keepAlive)

	deadline, _ := ctx.Deadline()
	resp, err := c.conn.roundTrip(raw, deadline, ctx.Done())
	if err != nil {
		return InvocationMetadata{}, nil, err
	}

	switch resp.kind {
	case respNext:
		return resp.metadata, resp.body, nil
	default:
		return InvocationMetadata{}, nil, fmt.Errorf("voker: %w: got response kind %d from invocation/next", ErrBadStatusCode, resp.kind)
	}
}

// Respond reports a successful invocation result.
func (c *client) Respond(ctx context.Context, id RequestId, body []byte) error {
	raw := encodeInvocationResponse(c.host, id, body, c.keepAlive)
	return c.postExpectAccepted(ctx, raw)
}

// RespondError reports a failed invocation.
func (c *client) RespondError(ctx context.Context, id RequestId, rec ErrorRecord) error {
	raw := encodeInvocationError(c.host, id, rec, c.keepAlive)
	return c.postExpectAccepted(ctx, raw)
}

// RespondAndNext reports a successful invocation result and issues the
// following GET next as a second, back-to-back write on the same
// connection, without waiting for the 202 to arrive first — the
// pipelining pattern where "report result + request next" go out
// together.
func (c *client) RespondAndNext(ctx context.Context, id RequestId, body []byte) (InvocationMetadata, []byte, error) {
	respRaw := encodeInvocationResponse(c.host, id, body, c.keepAlive)
	return c.pipelinedReportAndNext(ctx, respRaw)
}

// RespondErrorAndNext is RespondAndNext's counterpart for a failed
// invocation.
func (c *client) RespondErrorAndNext(ctx context.Context, id RequestId, rec ErrorRecord) (InvocationMetadata, []byte, error) {
	errRaw := encodeInvocationError(c.host, id, rec, c.keepAlive)
	return c.pipelinedReportAndNext(ctx, errRaw)
}

func (c *client) pipelinedReportAndNext(ctx context.Context, reportRaw []byte) (InvocationMetadata, []byte, error) {
	nextRaw := encodeGetNext(c.host, c.keepAlive)

	deadline, _ := ctx.Deadline()
	reportResp, nextResp, err := c.conn.pipelinedRoundTrip(reportRaw, nextRaw, deadline, ctx.Done())
	if err != nil {
		if reportResp != nil && reportResp.kind == respAccepted {
			// The report itself was accepted; only the pipelined next
			// failed (e.g. shutdown cancelled the long poll).
			return InvocationMetadata{}, nil, &errReportAcceptedNextFailed{cause: err}
		}
		if reportResp == nil {
			return InvocationMetadata{}, nil, err
		}
		// The report was answered but not accepted: the switch below
		// reports that rejection.
	}

	switch reportResp.kind {
	case respAccepted:
	case respError:
		return InvocationMetadata{}, nil, fmt.Errorf("voker: %w: control plane rejected report: %s: %s", ErrBadStatusCode, reportResp.errorRecord.ErrorType, reportResp.errorRecord.ErrorMessage)
	default:
		return InvocationMetadata{}, nil, fmt.Errorf("voker: %w: got response kind %d for pipelined report", ErrBadStatusCode, reportResp.kind)
	}

	switch nextResp.kind {
	case respNext:
		return nextResp.metadata, nextResp.body, nil
	default:
		return InvocationMetadata{}, nil, fmt.Errorf("voker: %w: got response kind %d from pipelined invocation/next", ErrBadStatusCode, nextResp.kind)
	}
}

// errReportAcceptedNextFailed distinguishes "the report failed" from
// "the report was accepted but the bundled GET next didn't complete" so
// the invocation loop can treat the latter as an ordinary next-poll
// cancellation rather than a report failure.
type errReportAcceptedNextFailed struct{ cause error }

func (e *errReportAcceptedNextFailed) Error() string {
	return fmt.Sprintf("voker: report accepted, pipelined next failed: %v", e.cause)
}

func (e *errReportAcceptedNextFailed) Unwrap() error { return e.cause }

// InitError reports that the handler could not be constructed at all.
// Per the Runtime API, the control plane may answer either 202 Accepted
// or, in newer runtime-interface-client behavior, a response the
// decoder treats as an Error variant; either is treated as success here
// since init/error is a best-effort notification with nothing left to
// retry against.
func (c *client) InitError(ctx context.Context, rec ErrorRecord) error {
	raw := encodeInitError(c.host, rec, c.keepAlive)
	deadline, _ := ctx.Deadline()
	_, err := c.conn.roundTrip(raw, deadline, ctx.Done())
	return err
}

func (c *client) postExpectAccepted(ctx context.Context, raw []byte) error {
	deadline, _ := ctx.Deadline()
	resp, err := c.conn.roundTrip(raw, deadline, ctx.Done())
	if err != nil {
		return err
	}

	switch resp.kind {
	case respAccepted:
		return nil
	case respError:
		return fmt.Errorf("voker: %w: control plane rejected report: %s: %s", ErrBadStatusCode, resp.errorRecord.ErrorType, resp.errorRecord.ErrorMessage)
	default:
		return fmt.Errorf("voker: %w: got response kind %d", ErrBadStatusCode, resp.kind)
	}
}
