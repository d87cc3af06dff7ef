// Package rpc implements the worker's line-delimited JSON-RPC dispatcher.
//
// Requests arrive one per line. Every response and token notification is
// written as a single JSON line on the output stream, which carries nothing
// else; diagnostics go to the logger.
package rpc

import (
	"errors"

	"github.com/goccy/go-json"
)

const Version = "2.0"

// Error codes.
const (
	CodeInternal       = -32000
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

const (
	MethodHealth         = "health"
	MethodGenerate       = "generate"
	MethodGenerateStream = "generate_stream"
	MethodShutdown       = "shutdown"
)

// ErrShutdown is returned by Serve after a shutdown request was answered.
var ErrShutdown = errors.New("shutdown requested")

// defaultID is used when a request carries no id.
var defaultID = json.RawMessage("0")

type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// TokenNotification is written for every streamed fragment, and once more
// with Done set to close the stream.
type TokenNotification struct {
	Token string `json:"token"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

type HealthResult struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

type StatusResult struct {
	Status string `json:"status"`
}
