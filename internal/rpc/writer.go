package rpc

import (
	"bufio"
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// Writer serializes records onto the output stream. Each record is one line
// and is flushed before the call returns.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) Result(id json.RawMessage, result any) error {
	return w.write(Response{JSONRPC: Version, ID: orDefault(id), Result: result})
}

func (w *Writer) Error(id json.RawMessage, code int, msg string) error {
	return w.write(Response{JSONRPC: Version, ID: orDefault(id), Error: &Error{Code: code, Message: msg}})
}

func (w *Writer) Token(tok TokenNotification) error {
	return w.write(tok)
}

func (w *Writer) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// WriteFatal reports a load failure the way a caller waiting for the first
// response expects it: one error record with id 1.
func WriteFatal(w io.Writer, err error) error {
	return NewWriter(w).Error(json.RawMessage("1"), CodeInternal, "Failed to load: "+err.Error())
}

func orDefault(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return defaultID
	}
	return id
}
