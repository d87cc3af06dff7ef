package inference

import (
	"fmt"
	"math"
	"strings"
)

// Normalize validates a request and fills defaults. Stop strings are
// treated as a set: empty entries are dropped and duplicates collapsed.
func (r *Request) Normalize() error {
	if r.MaxTokens == nil {
		r.MaxTokens = IntPtr(DefaultMaxTokens)
	}
	if *r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", *r.MaxTokens)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || math.IsNaN(*r.Temperature)) {
		return fmt.Errorf("temperature must not be negative, got %v", *r.Temperature)
	}
	if r.TopP != nil && (*r.TopP <= 0 || *r.TopP > 1 || math.IsNaN(*r.TopP)) {
		return fmt.Errorf("top_p must be in (0, 1], got %v", *r.TopP)
	}
	for i, m := range r.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return fmt.Errorf("message %d has no role", i)
		}
	}

	seen := make(map[string]struct{}, len(r.Stop))
	stops := r.Stop[:0:0]
	for _, s := range r.Stop {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		stops = append(stops, s)
	}
	r.Stop = stops
	return nil
}
