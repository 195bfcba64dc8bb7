//go:build debug

package voker

import (
	"context"
	"net/http"
)

// WithLocalServer starts a LocalServer bound to addr (e.g.
// "127.0.0.1:9001") and points the runtime loop at it in place of a
// real Lambda control plane. Only available in binaries built with
// `-tags debug` — see localserver_release.go for the production
// no-op.
func WithLocalServer(addr string) Option {
	return func(o *options) {
		srv := NewLocalServer(o.logger)
		httpServer := &http.Server{Addr: addr, Handler: srv.Router()}

		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				o.logger.Error("local server exited", "error", err)
			}
		}()

		if o.terminator == nil {
			o.terminator = NewTerminator()
		}
		o.terminator.Register(func() error {
			return httpServer.Shutdown(context.Background())
		})

		o.localServerAddr = addr
	}
}
