package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesRoundTrip(t *testing.T) {
	tok := Bytes{AddBOS: true}
	ids, err := tok.Encode("héllo")
	require.NoError(t, err)
	assert.Equal(t, ByteBOS, ids[0])
	assert.Len(t, ids, len("héllo")+1)

	text, err := tok.Decode(append(ids, ByteEOS))
	require.NoError(t, err)
	assert.Equal(t, "héllo", text)

	_, err = tok.Decode([]int{300})
	assert.Error(t, err)
}

func TestDecoderHoldsPartialRunes(t *testing.T) {
	tok := Bytes{}
	ids, err := tok.Encode("a€b")
	require.NoError(t, err)

	d := NewDecoder(tok)
	var frags []string
	for _, id := range ids {
		frag, err := d.Push(id)
		require.NoError(t, err)
		frags = append(frags, frag)
	}
	assert.Equal(t, []string{"a", "", "", "€", "b"}, frags)

	rest, err := d.Flush()
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestDecoderFlushInvalidTail(t *testing.T) {
	d := NewDecoder(Bytes{})
	frag, err := d.Push(0xE2)
	require.NoError(t, err)
	assert.Empty(t, frag)

	rest, err := d.Flush()
	require.NoError(t, err)
	assert.True(t, strings.ContainsRune(rest, '�'))
}

func TestDetectChatFormat(t *testing.T) {
	tests := []struct {
		modelType, template string
		want                string
		ok                  bool
	}{
		{"qwen3", "", "chatml", true},
		{"Mistral", "", "mistral", true},
		{"llama", "{% for m in messages %}<|start_header_id|>{{ m.role }}", "llama3", true},
		{"lattice", "<|im_start|>{{ role }}<|im_end|>", "chatml", true},
		{"lattice", "[INST] {{ content }} [/INST]", "mistral", true},
		{"lattice", "", "", false},
		{"lattice", "{{ bos_token }}", "", false},
	}
	for _, tt := range tests {
		got, ok := DetectChatFormat(tt.modelType, tt.template)
		if ok != tt.ok || string(got) != tt.want {
			t.Errorf("DetectChatFormat(%q, %q) = %q, %v; want %q, %v", tt.modelType, tt.template, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRenderChat(t *testing.T) {
	msgs := []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}}

	got, err := RenderChat(FormatChatML, msgs, true)
	if err != nil {
		t.Fatal(err)
	}
	want := "<|im_start|>system\nbe brief<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n"
	if got != want {
		t.Fatalf("chatml:\n got %q\nwant %q", got, want)
	}

	got, err = RenderChat(FormatMistral, append(msgs, Message{Role: "assistant", Content: "ok"}, Message{Role: "user", Content: "more"}), true)
	if err != nil {
		t.Fatal(err)
	}
	want = "[INST] be brief\n\nhi [/INST]ok</s>[INST] more [/INST]"
	if got != want {
		t.Fatalf("mistral:\n got %q\nwant %q", got, want)
	}

	if _, err := RenderChat(FormatMistral, []Message{{Role: "assistant", Content: "x"}}, true); err == nil {
		t.Fatal("expected alternation error")
	}
	if _, err := RenderChat("jinja", msgs, true); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestTemplatedIsChatTemplater(t *testing.T) {
	var tok Tokenizer = Templated{Tokenizer: Bytes{}, Format: FormatLlama3}
	ct, ok := tok.(ChatTemplater)
	if !ok {
		t.Fatal("Templated must implement ChatTemplater")
	}
	out, err := ct.ApplyChatTemplate([]Message{{Role: "user", Content: "x"}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if out != "<|start_header_id|>user<|end_header_id|>\n\nx<|eot_id|>" {
		t.Fatalf("got %q", out)
	}
	if tok.EOS() != ByteEOS {
		t.Fatal("embedded tokenizer methods must be promoted")
	}
}
