package inference

import (
	"iter"
	"sync/atomic"
)

// Tokens turns a producer into a lazy, one-shot token sequence. The producer
// runs when the sequence is first ranged and receives an emit function that
// suspends it until the consumer asks for the next token. A successful run
// ends with a single Done token; a failed run ends with its error instead.
// Ranging the sequence again yields ErrStreamConsumed.
func Tokens(run func(emit func(string) bool) error) iter.Seq2[StreamToken, error] {
	var used atomic.Bool
	return func(yield func(StreamToken, error) bool) {
		if used.Swap(true) {
			yield(StreamToken{}, ErrStreamConsumed)
			return
		}
		stopped := false
		err := run(func(text string) bool {
			if stopped {
				return false
			}
			if !yield(StreamToken{Text: text}, nil) {
				stopped = true
			}
			return !stopped
		})
		if stopped {
			return
		}
		if err != nil {
			yield(StreamToken{}, err)
			return
		}
		yield(StreamToken{Done: true}, nil)
	}
}

// Failed is a token sequence that yields err once.
func Failed(err error) iter.Seq2[StreamToken, error] {
	return func(yield func(StreamToken, error) bool) {
		yield(StreamToken{}, err)
	}
}
