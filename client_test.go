package voker

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts a single connection, passes it to handle, and
// closes it once handle returns.
func serveOnce(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	return ln.Addr().String()
}

func TestClient_Next_ReturnsMetadataAndBody(t *testing.T) {
	host := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write(nextResponseBytes(`{"n":1}`))
	})

	c := newClient(host, true)
	defer c.Close()

	meta, body, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(body))
	assert.Equal(t, int64(1542409706888), meta.DeadlineMsSinceEpoch)
}

func TestClient_Respond_ExpectsAccepted(t *testing.T) {
	host := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("HTTP/1.1 202 Accepted\r\ncontent-length: 0\r\n\r\n"))
	})

	c := newClient(host, true)
	defer c.Close()

	id, _ := parseRequestId("8476a536-e9f4-11e8-9739-2dfe598c3fcd")
	err := c.Respond(context.Background(), id, []byte(`{"ok":true}`))
	assert.NoError(t, err)
}

func TestClient_RespondError_SurfacesControlPlaneRejection(t *testing.T) {
	body := `{"errorType":"InvalidStateTransition","errorMessage":"nope"}`
	host := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("HTTP/1.1 403 Forbidden\r\ncontent-length: " + itoaForTest(len(body)) + "\r\n\r\n" + body))
	})

	c := newClient(host, true)
	defer c.Close()

	id, _ := parseRequestId("8476a536-e9f4-11e8-9739-2dfe598c3fcd")
	err := c.RespondError(context.Background(), id, ErrorRecord{ErrorType: "Handler.Error", ErrorMessage: "boom"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadStatusCode)
}

func TestClient_Next_PropagatesTransportError(t *testing.T) {
	host := serveOnce(t, func(conn net.Conn) {
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		conn.Close()
	})

	c := newClient(host, true)
	defer c.Close()

	_, _, err := c.Next(context.Background())
	require.Error(t, err)
	var upstream *UpstreamError
	assert.ErrorAs(t, err, &upstream)
}
