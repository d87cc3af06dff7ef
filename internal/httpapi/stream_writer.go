package httpapi

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/lattice/internal/rpc"
)

const mimeNDJSON = "application/x-ndjson"

// NDJSONStreamWriter writes the same records as the worker protocol, one per
// line, flushing after each.
type NDJSONStreamWriter struct {
	w       io.Writer
	flusher func()
}

func NewNDJSONStreamWriter(c *echo.Context) (*NDJSONStreamWriter, error) {
	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, mimeNDJSON)
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("X-Accel-Buffering", "no")
	return &NDJSONStreamWriter{w: res, flusher: flusher.Flush}, nil
}

// Begin writes the stream acknowledgement.
func (s *NDJSONStreamWriter) Begin(id, backend string) error {
	return s.send(map[string]string{"id": id, "backend": backend, "status": "streaming"})
}

func (s *NDJSONStreamWriter) EmitToken(text string) error {
	return s.send(rpc.TokenNotification{Token: text})
}

// End writes the sentinel. A non-nil err is reported in it.
func (s *NDJSONStreamWriter) End(err error) error {
	end := rpc.TokenNotification{Done: true}
	if err != nil {
		end.Error = err.Error()
	}
	return s.send(end)
}

func (s *NDJSONStreamWriter) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	s.flusher()
	return nil
}
