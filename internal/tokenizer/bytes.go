package tokenizer

import "fmt"

const (
	ByteBOS = 256
	ByteEOS = 257

	// ByteVocabSize is the smallest vocabulary a byte-level model can use.
	ByteVocabSize = 258
)

// Bytes maps every byte to its own id and reserves two ids for BOS and EOS.
type Bytes struct {
	AddBOS bool
}

func (b Bytes) BOS() int { return ByteBOS }
func (b Bytes) EOS() int { return ByteEOS }

func (b Bytes) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text)+1)
	if b.AddBOS {
		ids = append(ids, ByteBOS)
	}
	for i := 0; i < len(text); i++ {
		ids = append(ids, int(text[i]))
	}
	return ids, nil
}

// Decode drops special ids. Incomplete UTF-8 sequences are returned as-is;
// use a Decoder when emitting text token by token.
func (b Bytes) Decode(ids []int) (string, error) {
	out := make([]byte, 0, len(ids))
	for _, id := range ids {
		switch {
		case id >= 0 && id < 256:
			out = append(out, byte(id))
		case id == ByteBOS || id == ByteEOS:
		default:
			return "", fmt.Errorf("token id %d out of range", id)
		}
	}
	return string(out), nil
}
