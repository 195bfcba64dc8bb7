//go:build debug

package voker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// pendingInvocation is one outstanding /invoke request waiting for its
// result to come back through the mocked control plane's
// response/error endpoints.
type pendingInvocation struct {
	payload []byte
	resultC chan invocationResult
}

type invocationResult struct {
	body  []byte
	isErr bool
	rec   ErrorRecord
}

// LocalServer impersonates the Lambda Runtime API control plane plus a
// public /invoke endpoint, for running a handler outside Lambda during
// development. It is intentionally single-flight: at most one
// invocation is outstanding at a time, handed off between /invoke and
// GET next through a Pool.
//
// Grounded on the chi-routed control-plane impersonators in
// aws-lambda-rie (handlers.go) and boundlessdigital-live-lambda's
// runtime_api_proxy.go.
type LocalServer struct {
	logger *slog.Logger
	router chi.Router

	incoming *Pool[*pendingInvocation]

	mu      sync.Mutex
	pending map[string]*pendingInvocation
}

// NewLocalServer builds a LocalServer ready to be mounted via Router().
func NewLocalServer(logger *slog.Logger) *LocalServer {
	s := &LocalServer{
		logger:   logger,
		incoming: NewPool[*pendingInvocation](1),
		pending:  make(map[string]*pendingInvocation),
	}

	r := chi.NewRouter()
	r.Get("/2018-06-01/runtime/invocation/next", s.handleNext)
	r.Post("/2018-06-01/runtime/invocation/{requestId}/response", s.handleResponse)
	r.Post("/2018-06-01/runtime/invocation/{requestId}/error", s.handleInvocationError)
	r.Post("/2018-06-01/runtime/init/error", s.handleInitError)
	r.Post("/invoke", s.handleInvoke)
	s.router = r

	return s
}

// Router returns the http.Handler to mount (or serve directly with
// http.ListenAndServe).
func (s *LocalServer) Router() http.Handler {
	return s.router
}

// handleInvoke is the public entry point: POST a JSON payload, block
// until the runtime under test reports a result, and relay it back as
// the HTTP response.
func (s *LocalServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inv := &pendingInvocation{payload: payload, resultC: make(chan invocationResult, 1)}
	if !s.incoming.Push(inv) {
		http.Error(w, "an invocation is already queued awaiting a runtime poll", http.StatusServiceUnavailable)
		return
	}

	select {
	case result := <-inv.resultC:
		if result.isErr {
			w.Header().Set("content-type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(result.rec)
			return
		}
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.body)
	case <-r.Context().Done():
		http.Error(w, "client disconnected", http.StatusRequestTimeout)
	}
}

// handleNext is the mocked GET invocation/next: it waits for an /invoke
// call, assigns it a RequestId, registers it as pending, and answers
// with the headers and body the real control plane would send.
func (s *LocalServer) handleNext(w http.ResponseWriter, r *http.Request) {
	inv, err := s.incoming.Pop(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestTimeout)
		return
	}

	id, err := generateRequestId()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var idBuf [36]byte
	id.ToASCIILower(&idBuf)
	idStr := string(idBuf[:])

	s.mu.Lock()
	s.pending[idStr] = inv
	s.mu.Unlock()

	deadline := time.Now().Add(15 * time.Minute).UnixMilli()

	w.Header().Set("lambda-runtime-aws-request-id", idStr)
	w.Header().Set("lambda-runtime-deadline-ms", fmt.Sprintf("%d", deadline))
	w.Header().Set("lambda-runtime-invoked-function-arn", "arn:aws:lambda:us-east-1:000000000000:function:local")
	w.Header().Set("lambda-runtime-trace-id", synthesizeTraceID())
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(inv.payload)
}

func (s *LocalServer) handleResponse(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "requestId")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inv := s.takePending(idStr)
	if inv == nil {
		http.Error(w, ErrUnknownInvocation.Error(), http.StatusNotFound)
		return
	}

	inv.resultC <- invocationResult{body: body}
	w.WriteHeader(http.StatusAccepted)
}

func (s *LocalServer) handleInvocationError(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "requestId")

	var rec ErrorRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	inv := s.takePending(idStr)
	if inv == nil {
		http.Error(w, ErrUnknownInvocation.Error(), http.StatusNotFound)
		return
	}

	inv.resultC <- invocationResult{isErr: true, rec: rec}
	w.WriteHeader(http.StatusAccepted)
}

func (s *LocalServer) handleInitError(w http.ResponseWriter, r *http.Request) {
	var rec ErrorRecord
	_ = json.NewDecoder(r.Body).Decode(&rec)
	s.logger.ErrorContext(context.Background(), "handler failed to initialize", "error", rec)
	w.WriteHeader(http.StatusAccepted)
}

func (s *LocalServer) takePending(idStr string) *pendingInvocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv := s.pending[idStr]
	delete(s.pending, idStr)
	return inv
}
