// Package httpapi serves the worker's backend over HTTP. Calls are
// serialized in the same way as on the line protocol.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lattice/internal/backend"
	"github.com/samcharles93/lattice/internal/inference"
	"github.com/samcharles93/lattice/internal/logger"
)

type Server struct {
	backend backend.Backend
	log     logger.Logger
	started time.Time

	mu       sync.Mutex
	busy     atomic.Bool
	served   atomic.Int64
	failed   atomic.Int64
	lastID   atomic.Value
	lastDone atomic.Int64
}

func NewServer(b backend.Backend, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{backend: b, log: log, started: timeNow()}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/inference/status", s.handleStatus)
	e.POST("/v1/generate", s.handleGenerate)
	e.POST("/v1/generate/stream", s.handleGenerateStream)
}

type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

type StatusResponse struct {
	Backend   string `json:"backend"`
	Busy      bool   `json:"busy"`
	Served    int64  `json:"served"`
	Failed    int64  `json:"failed"`
	LastID    string `json:"last_id,omitempty"`
	LastDone  int64  `json:"last_completed_at,omitempty"`
	StartedAt int64  `json:"started_at"`
	UptimeSec int64  `json:"uptime_seconds"`
}

type GenerateResponse struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
	Created int64  `json:"created"`
	inference.Result
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Backend: s.backend.Name()})
}

func (s *Server) handleStatus(c *echo.Context) error {
	resp := StatusResponse{
		Backend:   s.backend.Name(),
		Busy:      s.busy.Load(),
		Served:    s.served.Load(),
		Failed:    s.failed.Load(),
		LastDone:  s.lastDone.Load(),
		StartedAt: s.started.Unix(),
		UptimeSec: int64(timeNow().Sub(s.started).Seconds()),
	}
	if id, ok := s.lastID.Load().(string); ok {
		resp.LastID = id
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeRequest(c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	id := newGenerationID()
	release := s.acquire(id)
	res, err := s.backend.Generate(backendContext(c), req)
	release(err)
	if err != nil {
		s.log.Error("generate failed", "id", id, "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, GenerateResponse{
		ID:      id,
		Backend: s.backend.Name(),
		Created: timeNow().Unix(),
		Result:  *res,
	})
}

func (s *Server) handleGenerateStream(c *echo.Context) error {
	req, err := decodeRequest(c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	stream, err := NewNDJSONStreamWriter(c)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	id := newGenerationID()
	release := s.acquire(id)
	var genErr, writeErr error
	defer func() { release(errors.Join(genErr, writeErr)) }()

	c.Response().WriteHeader(http.StatusOK)
	if writeErr = stream.Begin(id, s.backend.Name()); writeErr != nil {
		return nil
	}
	for tok, err := range s.backend.GenerateStream(backendContext(c), req) {
		if err != nil {
			genErr = err
			break
		}
		if tok.Done {
			break
		}
		if writeErr = stream.EmitToken(tok.Text); writeErr != nil {
			// Client went away; the backend finishes on its own.
			s.log.Warn("stream write failed", "id", id, "error", writeErr)
			return nil
		}
	}
	if genErr != nil {
		s.log.Error("generate_stream failed", "id", id, "error", genErr)
	}
	writeErr = stream.End(genErr)
	return nil
}

// backendContext keeps request values but not cancellation. A collective
// aborted by a departed client would leave the ranks out of step; the
// backend finishes the call and the stream is drained instead.
func backendContext(c *echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

// acquire serializes backend calls and tracks status. The returned function
// must be called once the call has finished.
func (s *Server) acquire(id string) func(error) {
	s.mu.Lock()
	s.busy.Store(true)
	s.lastID.Store(id)
	return func(err error) {
		s.served.Add(1)
		if err != nil {
			s.failed.Add(1)
		}
		s.lastDone.Store(timeNow().Unix())
		s.busy.Store(false)
		s.mu.Unlock()
	}
}

var timeNow = func() time.Time {
	return time.Now()
}
