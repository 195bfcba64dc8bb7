//go:build !debug

package voker

// WithLocalServer is a no-op in production builds. LocalServer and its
// chi-routed mock control plane (localserver.go, pool.go) only compile
// under `-tags debug`, so a production binary never links chi or the
// mock control plane in at all, let alone binds one.
func WithLocalServer(addr string) Option {
	return func(o *options) {}
}
