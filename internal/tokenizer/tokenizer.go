package tokenizer

// Tokenizer defines the minimal interface used by the generation loop.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	BOS() int
	EOS() int
}

// Message is a chat turn handed to a template renderer.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatTemplater is implemented by tokenizers that ship their own chat format.
type ChatTemplater interface {
	ApplyChatTemplate(msgs []Message, addGenerationPrompt bool) (string, error)
}
