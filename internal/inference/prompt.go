package inference

import (
	"fmt"
	"strings"

	"github.com/samcharles93/lattice/internal/tokenizer"
)

// RenderPrompt formats messages with the tokenizer's own chat template when
// it has one, and otherwise with the fallback template.
func RenderPrompt(tok tokenizer.Tokenizer, msgs []Message) (string, error) {
	if t, ok := tok.(tokenizer.ChatTemplater); ok {
		out, err := t.ApplyChatTemplate(msgs, true)
		if err != nil {
			return "", fmt.Errorf("apply chat template: %w", err)
		}
		return out, nil
	}
	return FallbackPrompt(msgs), nil
}

// FallbackPrompt renders each message as "<|role|>\ncontent</s>", joins them
// with newlines and appends an open assistant turn.
func FallbackPrompt(msgs []Message) string {
	parts := make([]string, 0, len(msgs)+1)
	for _, m := range msgs {
		parts = append(parts, "<|"+m.Role+"|>\n"+m.Content+"</s>")
	}
	parts = append(parts, "<|assistant|>\n")
	return strings.Join(parts, "\n")
}
