package voker

import "sync"

// TerminationHook is a shutdown callback registered with a Terminator.
type TerminationHook func() error

// Terminator is an ordered shutdown hook registry: hooks run in the
// reverse of their registration order (last registered, first run),
// mirroring how defer stacks unwind, and their errors are aggregated
// rather than short-circuited so one failing hook doesn't prevent the
// rest from running.
//
// Grounded on the mutex-guarded state handling in the teacher's
// extensionManager (extension.go): same lock-protect-a-slice shape,
// generalized into a registry any part of the runtime can hook into
// (SIGTERM handling, the extensions API client, C8's local server).
type Terminator struct {
	mu    sync.Mutex
	hooks []TerminationHook
}

// NewTerminator returns an empty Terminator.
func NewTerminator() *Terminator {
	return &Terminator{}
}

// Register appends hook to the registry, returning a deregistration
// function. Safe for concurrent use.
func (t *Terminator) Register(hook TerminationHook) (deregister func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.hooks = append(t.hooks, hook)
	id := len(t.hooks) - 1

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if id < len(t.hooks) {
			t.hooks[id] = nil
		}
	}
}

// Run invokes every registered, non-deregistered hook in reverse
// registration order, collecting every error into a TerminationError.
// Returns nil if every hook (or none at all) succeeded.
func (t *Terminator) Run() error {
	t.mu.Lock()
	hooks := make([]TerminationHook, len(t.hooks))
	copy(hooks, t.hooks)
	t.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if hooks[i] == nil {
			continue
		}
		if err := hooks[i](); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &TerminationError{Underlying: errs}
}
