package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// Decoder turns a token stream into text fragments without splitting
// multi-byte characters across fragments.
type Decoder struct {
	tok     Tokenizer
	ids     []int
	emitted int
}

func NewDecoder(tok Tokenizer) *Decoder {
	return &Decoder{tok: tok}
}

// Push appends id and returns the newly completed text, which may be empty.
func (d *Decoder) Push(id int) (string, error) {
	d.ids = append(d.ids, id)
	text, err := d.tok.Decode(d.ids)
	if err != nil {
		return "", err
	}
	end := len(text)
	for end > d.emitted {
		r, size := utf8.DecodeLastRuneInString(text[:end])
		if r != utf8.RuneError || size > 1 {
			break
		}
		// Trailing bytes of an unfinished rune: hold them back, but only as
		// far as one rune can reach.
		if len(text)-end >= utf8.UTFMax-1 {
			break
		}
		end--
	}
	if end <= d.emitted {
		return "", nil
	}
	frag := text[d.emitted:end]
	d.emitted = end
	return strings.ToValidUTF8(frag, string(utf8.RuneError)), nil
}

// Flush returns any text still held back, replacing invalid bytes.
func (d *Decoder) Flush() (string, error) {
	text, err := d.tok.Decode(d.ids)
	if err != nil {
		return "", err
	}
	if d.emitted >= len(text) {
		return "", nil
	}
	rest := text[d.emitted:]
	d.emitted = len(text)
	return strings.ToValidUTF8(rest, string(utf8.RuneError)), nil
}
