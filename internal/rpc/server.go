package rpc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/lattice/internal/backend"
	"github.com/samcharles93/lattice/internal/inference"
	"github.com/samcharles93/lattice/internal/logger"
)

// Server dispatches requests to a backend one at a time.
type Server struct {
	backend backend.Backend
	out     *Writer
	log     logger.Logger
}

func NewServer(b backend.Backend, w io.Writer, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{backend: b, out: NewWriter(w), log: log}
}

// Serve reads requests from r until EOF, a shutdown request or a write
// failure. The next line is not read until the current call has finished.
// Serve returns nil at EOF and ErrShutdown after a shutdown request.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, readErr := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			if err := s.handle(ctx, line); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (s *Server) handle(ctx context.Context, line []byte) error {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn("invalid JSON, skipping line", "error", err, "bytes", len(line))
		return nil
	}
	req.ID = orDefault(req.ID)

	start := time.Now()
	s.log.Debug("request", "id", string(req.ID), "method", req.Method)
	err := s.dispatch(ctx, &req)
	s.log.Debug("request done", "id", string(req.ID), "method", req.Method, "elapsed", time.Since(start))
	return err
}

// dispatch answers one request. It returns an error only when the output
// stream failed or the worker must stop.
func (s *Server) dispatch(ctx context.Context, req *Request) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic during dispatch", "method", req.Method, "panic", rec, "stack", string(debug.Stack()))
			err = s.out.Error(req.ID, CodeInternal, fmt.Sprint(rec))
		}
	}()

	switch req.Method {
	case MethodHealth:
		return s.out.Result(req.ID, HealthResult{Status: "ok", Backend: s.backend.Name()})

	case MethodGenerate:
		params, ok, err := s.params(req)
		if !ok {
			return err
		}
		res, err := s.backend.Generate(ctx, params)
		if err != nil {
			s.log.Error("generate failed", "id", string(req.ID), "error", err)
			return s.out.Error(req.ID, CodeInternal, err.Error())
		}
		return s.out.Result(req.ID, res)

	case MethodGenerateStream:
		params, ok, err := s.params(req)
		if !ok {
			return err
		}
		if err := s.out.Result(req.ID, StatusResult{Status: "streaming"}); err != nil {
			return err
		}
		return s.stream(ctx, req, params)

	case MethodShutdown:
		if err := s.out.Result(req.ID, StatusResult{Status: "shutting_down"}); err != nil {
			return err
		}
		s.log.Info("shutdown requested")
		return ErrShutdown

	default:
		return s.out.Error(req.ID, CodeMethodNotFound, "Method not found: "+req.Method)
	}
}

// params decodes and validates generation parameters. When they are invalid
// the error response has already been written and ok is false.
func (s *Server) params(req *Request) (_ *inference.Request, ok bool, err error) {
	var params inference.Request
	if len(req.Params) > 0 && !bytes.Equal(req.Params, []byte("null")) {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, false, s.out.Error(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
		}
	}
	if err := params.Normalize(); err != nil {
		return nil, false, s.out.Error(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}
	return &params, true, nil
}

// stream forwards tokens and always finishes with exactly one sentinel. A
// failure after the acknowledgement is reported in the sentinel.
func (s *Server) stream(ctx context.Context, req *Request, params *inference.Request) error {
	var streamErr, writeErr error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic during stream", "panic", rec, "stack", string(debug.Stack()))
				streamErr = fmt.Errorf("%v", rec)
			}
		}()
		for tok, err := range s.backend.GenerateStream(ctx, params) {
			if err != nil {
				streamErr = err
				return
			}
			if tok.Done {
				return
			}
			if writeErr = s.out.Token(TokenNotification{Token: tok.Text}); writeErr != nil {
				return
			}
		}
	}()
	if writeErr != nil {
		return writeErr
	}

	end := TokenNotification{Done: true}
	if streamErr != nil {
		s.log.Error("generate_stream failed", "id", string(req.ID), "error", streamErr)
		end.Error = streamErr.Error()
		if errors.Is(streamErr, context.Canceled) {
			end.Error = "cancelled"
		}
	}
	return s.out.Token(end)
}
