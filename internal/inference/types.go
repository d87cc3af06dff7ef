package inference

import (
	"errors"
	"time"

	"github.com/samcharles93/lattice/internal/tokenizer"
)

// DefaultMaxTokens applies when a request does not set max_tokens.
const DefaultMaxTokens = 2048

const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// ErrStreamConsumed is yielded when a token stream is ranged a second time.
var ErrStreamConsumed = errors.New("token stream already consumed")

type Message = tokenizer.Message

// Request is one generation call. Nil sampling fields fall back to the
// backend defaults. A nil MaxTokens means DefaultMaxTokens; an explicit
// zero generates nothing.
type Request struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Seed        *int64    `json:"seed,omitempty"`
}

// Result is returned once per non-streaming call.
type Result struct {
	Text             string `json:"text"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

// StreamToken is one element of a token stream. Exactly one token per
// stream has Done set and it is always the last.
type StreamToken struct {
	Text string `json:"token"`
	Done bool   `json:"done"`
}

// IntPtr returns a pointer to v, for optional request fields.
func IntPtr(v int) *int {
	return &v
}

type Stats struct {
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}
