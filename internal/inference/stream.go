package inference

import "strings"

type State uint8

const (
	NotStarted State = iota
	Streaming
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Streaming:
		return "streaming"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Stream tracks the text produced by one generation call and decides when it
// ends. A fragment that completes a stop string is still emitted whole; the
// output is not trimmed at the stop boundary.
type Stream struct {
	stops   []string
	longest int

	buf    strings.Builder
	state  State
	reason string
}

func NewStream(stops []string) *Stream {
	s := &Stream{stops: stops}
	for _, stop := range stops {
		s.longest = max(s.longest, len(stop))
	}
	return s
}

// Push records a fragment and reports whether it should be emitted. Empty
// fragments and fragments after Done are never emitted.
func (s *Stream) Push(fragment string) bool {
	if s.state == Done || fragment == "" {
		return false
	}
	s.state = Streaming
	prev := s.buf.Len()
	s.buf.WriteString(fragment)

	if len(s.stops) > 0 {
		// Only a match that ends inside this fragment can be new.
		text := s.buf.String()
		from := max(prev-s.longest+1, 0)
		for _, stop := range s.stops {
			if strings.Contains(text[from:], stop) {
				s.state = Done
				s.reason = FinishStop
				break
			}
		}
	}
	return true
}

// Finish ends the stream on a terminal backend condition. It has no effect
// once the stream is done.
func (s *Stream) Finish(reason string) {
	if s.state == Done {
		return
	}
	s.state = Done
	s.reason = reason
}

func (s *Stream) State() State { return s.state }

func (s *Stream) Done() bool { return s.state == Done }

func (s *Stream) Text() string { return s.buf.String() }

// FinishReason is empty until the stream is done.
func (s *Stream) FinishReason() string { return s.reason }
