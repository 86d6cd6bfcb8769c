package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/chazu/govm"
	"github.com/chazu/govm/ast"
)

// ErrInvalidRequest marks requests rejected before anything runs.
var ErrInvalidRequest = errors.New("invalid request")

// ExecuteRequest carries either Go source (translated by the configured
// Translator) or a go2json syntax tree.
type ExecuteRequest struct {
	Source string          `json:"source,omitempty"`
	AST    json.RawMessage `json:"ast,omitempty"`
	Entry  string          `json:"entry,omitempty"`
}

// GetRunRequest names a recorded run.
type GetRunRequest struct {
	ID string `json:"id"`
}

// Execute compiles and runs a program.
func (s *Server) Execute(
	ctx context.Context,
	req *connect.Request[ExecuteRequest],
) (*connect.Response[Run], error) {
	run, err := s.run(ctx, req.Msg, nil)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(run), nil
}

// GetRun returns a recorded run.
func (s *Server) GetRun(
	ctx context.Context,
	req *connect.Request[GetRunRequest],
) (*connect.Response[Run], error) {
	if s.history == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("run history is disabled"))
	}
	if req.Msg.ID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("id is required"))
	}
	run, err := s.history.Get(ctx, req.Msg.ID)
	if errors.Is(err, ErrRunNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("run %q not found", req.Msg.ID))
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(run), nil
}

func connectError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// run executes one request. Failures of the guest program (translation,
// compile and run-time errors) are reported in the Run; the error return is
// for rejected requests and cancellation. onOutput, if set, sees each line
// as it is printed.
func (s *Server) run(ctx context.Context, req *ExecuteRequest, onOutput func(string)) (*Run, error) {
	if req.Source == "" && len(req.AST) == 0 {
		return nil, fmt.Errorf("%w: source or ast is required", ErrInvalidRequest)
	}
	if len(req.AST) == 0 && s.translator == nil {
		return nil, fmt.Errorf("%w: no translator configured, send an ast", ErrInvalidRequest)
	}

	cfg := s.cfg
	if req.Entry != "" {
		cfg.Entry = req.Entry
	}
	cfg.OnOutput = onOutput

	r := &Run{ID: uuid.NewString(), CreatedAt: time.Now(), Output: []string{}}
	v, err := s.pool.Do(ctx, func() (interface{}, error) {
		file, err := s.load(ctx, req)
		if err != nil {
			return nil, err
		}
		return govm.Execute(ctx, file, cfg)
	})
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		r.Status = StatusError
		r.Error = err.Error()
		log.Infof("run %s failed: %s", r.ID, r.Error)
	} else {
		res := v.(*govm.Result)
		r.Status = StatusSuccess
		r.Output = append(r.Output, res.Output...)
		r.Steps = res.Stats.Steps
		log.Infof("run %s: %d lines, %d steps", r.ID, len(r.Output), r.Steps)
	}

	if s.history != nil {
		if err := s.history.Record(ctx, r); err != nil {
			log.Errorf("recording run %s: %s", r.ID, err)
		}
	}
	return r, nil
}

func (s *Server) load(ctx context.Context, req *ExecuteRequest) (*ast.File, error) {
	if len(req.AST) > 0 {
		return ast.Decode(req.AST)
	}
	return s.translator.Translate(ctx, req.Source)
}
