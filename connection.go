package voker

import (
	"net"
	"sync"
	"time"
)

// readChunkSize is how much we ask the kernel for on each Read call
// while feeding the decoder.
const readChunkSize = 4096

// connection is a persistent, single-in-flight client over a raw
// net.Conn. Only one request may be outstanding at a time — this
// mirrors the Runtime API's own usage pattern (a runtime process issues
// one GET next, waits for the matching response, then issues the POST
// for that invocation) and lets us keep a single reusable Decoder
// across the connection's lifetime instead of building a header map per
// request the way net/http would.
//
// Grounded on the persistent-client shape in
// aslatter-aws-go-lambda-demo's internal/mlambda package, adapted to
// talk raw bytes instead of net/http.
type connection struct {
	mu        sync.Mutex
	host      string
	keepAlive bool
	dialer    net.Dialer
	conn      net.Conn
	decoder   *Decoder
}

// newConnection returns a connection that dials lazily on first use.
// When keepAlive is false the socket is closed after every response is
// delivered, regardless of what the control plane advertised.
func newConnection(host string, keepAlive bool) *connection {
	return &connection{
		host:      host,
		keepAlive: keepAlive,
		decoder:   NewDecoder(),
	}
}

// ensureConnected dials if there is no live connection.
func (c *connection) ensureConnected() error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.dialer.Dial("tcp", c.host)
	if err != nil {
		return &UpstreamError{Kind: ErrConnectionReset}
	}
	c.conn = conn
	c.decoder = NewDecoder()
	return nil
}

// roundTrip sends raw, writes it on the connection, and decodes exactly
// one response. deadline, if non-zero, bounds the whole exchange;
// cancel, if non-nil, is watched for out-of-band cancellation (used by
// the in-flight GET next so shutdown can interrupt a long poll).
//
// On any I/O or protocol error the underlying net.Conn is closed so the
// next call reconnects from a clean state — errors here are never
// partial-progress-safe to retry on the same socket.
func (c *connection) roundTrip(raw []byte, deadline time.Time, cancel <-chan struct{}) (*controlPlaneResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	if !deadline.IsZero() {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	if cancel != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-cancel:
				_ = c.conn.SetDeadline(time.Now())
			case <-stop:
			}
		}()
	}

	if _, err := c.conn.Write(raw); err != nil {
		c.closeLocked()
		return nil, classifyIOError(err)
	}

	resp, err := c.readOneLocked(cancel)
	if err != nil {
		return nil, err
	}
	if !c.keepAlive || resp.closeAfter {
		c.closeLocked()
	}
	return resp, nil
}

// pipelinedRoundTrip writes first and second back-to-back, before
// reading either response, then decodes them in order. This is the
// "report result + request next" pipelining pattern: the wire ordering
// is relaxed (both requests go out before the first's response
// arrives) while the caller still observes the two responses in order.
//
// If the connection closes (or is cancelled) after first's response
// but before second's, the first response is still returned alongside
// the error so the caller can tell "the report was accepted but the
// pipelined next never arrived" from "the report itself failed".
func (c *connection) pipelinedRoundTrip(first, second []byte, deadline time.Time, cancel <-chan struct{}) (*controlPlaneResponse, *controlPlaneResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, nil, err
	}

	if !deadline.IsZero() {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	if cancel != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-cancel:
				_ = c.conn.SetDeadline(time.Now())
			case <-stop:
			}
		}()
	}

	combined := make([]byte, 0, len(first)+len(second))
	combined = append(combined, first...)
	combined = append(combined, second...)
	if _, err := c.conn.Write(combined); err != nil {
		c.closeLocked()
		return nil, nil, classifyIOError(err)
	}

	resp1, err := c.readOneLocked(cancel)
	if err != nil {
		return nil, nil, err
	}
	if resp1.closeAfter {
		// The control plane is closing after this response, so it will
		// never answer the pipelined second request.
		c.closeLocked()
		return resp1, nil, &UpstreamError{Kind: ErrConnectionReset}
	}

	resp2, err := c.readOneLocked(cancel)
	if err != nil {
		return resp1, nil, err
	}
	if !c.keepAlive || resp2.closeAfter {
		c.closeLocked()
	}
	return resp1, resp2, nil
}

// readOneLocked decodes exactly one response from the connection,
// reading more bytes as needed. Caller must hold c.mu and have already
// written the corresponding request.
func (c *connection) readOneLocked(cancel <-chan struct{}) (*controlPlaneResponse, error) {
	buf := make([]byte, readChunkSize)
	for {
		resp, err := c.decoder.Decode()
		if err == nil {
			return resp, nil
		}
		if !isErrNeedMoreData(err) {
			c.closeLocked()
			return nil, err
		}

		n, readErr := c.conn.Read(buf)
		if n > 0 {
			c.decoder.Feed(buf[:n])
		}
		if readErr != nil {
			c.closeLocked()
			select {
			case <-cancel:
				return nil, &UpstreamError{Kind: ErrCancelled}
			default:
			}
			return nil, classifyIOError(readErr)
		}
	}
}

func (c *connection) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close tears down the underlying socket, if any.
func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func classifyIOError(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return &UpstreamError{Kind: ErrTimeout}
	}
	return &UpstreamError{Kind: ErrConnectionReset}
}
