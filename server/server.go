// Package server exposes govm over HTTP: a Connect execution service, the
// playground REST endpoint and a websocket output stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/govm"
	"github.com/chazu/govm/ast"
)

var log = commonlog.GetLogger("govm.server")

// Connect procedure names.
const (
	ExecuteProcedure = "/govm.v1.ExecutionService/Execute"
	GetRunProcedure  = "/govm.v1.ExecutionService/GetRun"
)

// Translator turns Go source into a syntax tree.
type Translator interface {
	Translate(ctx context.Context, source string) (*ast.File, error)
}

// Server executes programs on a worker pool and optionally records them.
type Server struct {
	cfg        govm.Config
	workers    int
	pool       *Pool
	history    *History
	translator Translator
	mux        *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithHistory records every run in h.
func WithHistory(h *History) Option {
	return func(s *Server) { s.history = h }
}

// WithTranslator enables requests carrying Go source.
func WithTranslator(t Translator) Option {
	return func(s *Server) { s.translator = t }
}

// WithWorkers sets how many programs may run at once.
func WithWorkers(n int) Option {
	return func(s *Server) { s.workers = n }
}

// New creates a Server running programs with cfg.
func New(cfg govm.Config, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		workers: 4,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = NewPool(s.workers)

	codec := connect.WithCodec(jsonCodec{})
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, s.Execute, codec))
	s.mux.Handle(GetRunProcedure, connect.NewUnaryHandler(GetRunProcedure, s.GetRun, codec))

	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(StatusSuccess))
	})
	s.mux.HandleFunc("POST /api/v1/execute", s.handleExecute)
	s.mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// withCORS allows the browser playground to call the API from any origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Connect-Protocol-Version")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Noticef("govm server listening on %s", addr)
		log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, ExecuteProcedure)
		log.Infof("  REST:                http://%s/api/v1/execute", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close stops the worker pool and closes the history.
func (s *Server) Close() error {
	s.pool.Stop()
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}
