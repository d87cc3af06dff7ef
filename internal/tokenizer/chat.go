package tokenizer

import (
	"fmt"
	"strings"
)

// ChatFormat names a built-in chat layout.
type ChatFormat string

const (
	FormatChatML  ChatFormat = "chatml"
	FormatMistral ChatFormat = "mistral"
	FormatLlama3  ChatFormat = "llama3"
)

// DetectChatFormat picks a layout from the model type first and then from
// markers in the model's own template source. ok is false when neither
// matches and the caller should fall back to its default prompt.
func DetectChatFormat(modelType, template string) (ChatFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(modelType)) {
	case "qwen2", "qwen3", "lfm2":
		return FormatChatML, true
	case "mistral", "mistral3":
		return FormatMistral, true
	}
	switch {
	case template == "":
		return "", false
	case strings.Contains(template, "[INST]"):
		return FormatMistral, true
	case strings.Contains(template, "<|start_header_id|>"):
		return FormatLlama3, true
	case strings.Contains(template, "<|im_start|>") && strings.Contains(template, "<|im_end|>"):
		return FormatChatML, true
	default:
		return "", false
	}
}

// Templated attaches a chat layout to a tokenizer.
type Templated struct {
	Tokenizer
	Format ChatFormat
}

func (t Templated) ApplyChatTemplate(msgs []Message, addGenerationPrompt bool) (string, error) {
	return RenderChat(t.Format, msgs, addGenerationPrompt)
}

func RenderChat(format ChatFormat, msgs []Message, addGenerationPrompt bool) (string, error) {
	var b strings.Builder
	switch format {
	case FormatChatML:
		for _, m := range msgs {
			b.WriteString("<|im_start|>" + m.Role + "\n" + m.Content + "<|im_end|>\n")
		}
		if addGenerationPrompt {
			b.WriteString("<|im_start|>assistant\n")
		}
	case FormatLlama3:
		for _, m := range msgs {
			b.WriteString("<|start_header_id|>" + m.Role + "<|end_header_id|>\n\n" + m.Content + "<|eot_id|>")
		}
		if addGenerationPrompt {
			b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
		}
	case FormatMistral:
		if err := renderMistral(&b, msgs); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown chat format %q", format)
	}
	return b.String(), nil
}

// renderMistral folds a leading system message into the first user turn.
// The open [INST] block already prompts the assistant.
func renderMistral(b *strings.Builder, msgs []Message) error {
	system := ""
	if len(msgs) > 0 && msgs[0].Role == "system" {
		system = msgs[0].Content
		msgs = msgs[1:]
	}
	for i, m := range msgs {
		wantUser := i%2 == 0
		if (m.Role == "user") != wantUser || (m.Role != "user" && m.Role != "assistant") {
			return fmt.Errorf("mistral: messages must alternate user/assistant roles, got %q at %d", m.Role, i)
		}
		if m.Role == "assistant" {
			b.WriteString(m.Content + "</s>")
			continue
		}
		content := m.Content
		if i == 0 && system != "" {
			content = system + "\n\n" + content
		}
		b.WriteString("[INST] " + content + " [/INST]")
	}
	return nil
}
