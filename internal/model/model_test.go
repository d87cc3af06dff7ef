package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/lattice/internal/dist"
	"github.com/samcharles93/lattice/internal/tokenizer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ModelType:        "lattice",
		HiddenSize:       8,
		IntermediateSize: 16,
		NumHiddenLayers:  3,
		VocabSize:        tokenizer.ByteVocabSize,
		AttentionBias:    true,
		MLPBias:          true,
	}
}

func TestLookupFamily(t *testing.T) {
	tests := []struct {
		modelType string
		archs     []string
		want      string
		wantErr   bool
	}{
		{modelType: "llama", want: "dense"},
		{modelType: "Qwen3", want: "dense"},
		{modelType: "meta_llama", want: "meta"},
		{modelType: "", archs: []string{"MistralForCausalLM"}, want: "dense"},
		{modelType: "mamba", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.modelType, func(t *testing.T) {
			f, err := LookupFamily(tc.modelType, tc.archs...)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, f.Name)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	err := Register(denseFamily())
	assert.Error(t, err)
	assert.Contains(t, FamilyNames(), "dense")
}

func TestParseConfigTextConfig(t *testing.T) {
	raw := []byte(`{"model_type":"mistral3","text_config":{"hidden_size":64,"intermediate_size":128,"num_hidden_layers":2,"vocab_size":300}}`)
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.HiddenSize)
	assert.Equal(t, 2, cfg.NumHiddenLayers)
	assert.Equal(t, defaultNormEps, cfg.RMSNormEps)
	require.NoError(t, cfg.Validate())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m, err := Random(testConfig(), 1)
	require.NoError(t, err)
	require.Len(t, m.Layers(), 3)

	dir := t.TempDir()
	require.NoError(t, Save(m, dir))

	loaded, tok, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, tokenizer.ByteEOS, tok.EOS())
	assert.Equal(t, m.ModuleNames(), loaded.ModuleNames())
	assert.Equal(t, m.Bytes(), loaded.Bytes())

	ctx := context.Background()
	want, err := m.Forward(ctx, dist.Single(), 'a')
	require.NoError(t, err)
	got, err := loaded.Forward(ctx, dist.Single(), 'a')
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMetaFamilyNaming(t *testing.T) {
	cfg := testConfig()
	cfg.ModelType = "meta_llama"
	m, err := Random(cfg, 2)
	require.NoError(t, err)
	assert.Contains(t, m.Modules, "layers.0.attention.wq")
	assert.Contains(t, m.Modules, "layers.2.feed_forward.w2")
	assert.Contains(t, m.Modules, "tok_embeddings")
}

func TestTiedHead(t *testing.T) {
	cfg := testConfig()
	cfg.TieWordEmbeddings = true
	m, err := Random(cfg, 3)
	require.NoError(t, err)
	assert.NotContains(t, m.Modules, "lm_head")
	assert.Same(t, m.Embed.Weight, m.Head.Weight)
}

func TestLoadErrors(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFile), []byte(`{"model_type":"llama","hidden_size":4,"intermediate_size":8,"num_hidden_layers":1,"vocab_size":258}`), 0o644))
	_, _, err = Load(dir)
	assert.ErrorContains(t, err, "no .safetensors")

	cfg := testConfig()
	cfg.VocabSize = 100
	require.NoError(t, writeConfig(filepath.Join(dir, configFile), cfg))
	_, _, err = Load(dir)
	assert.ErrorContains(t, err, "byte vocabulary")
}

func TestStubIsIdentity(t *testing.T) {
	m, err := Random(testConfig(), 4)
	require.NoError(t, err)
	before := len(m.Modules)
	require.NoError(t, m.SetLayer(1, Stub{Idx: 1}))
	assert.Len(t, m.Layers(), 3)
	assert.Len(t, m.Modules, before-9)

	h := []float32{1, 2, 3}
	require.NoError(t, Stub{Idx: 1}.Forward(context.Background(), dist.Single(), h))
	assert.Equal(t, []float32{1, 2, 3}, h)
	assert.Error(t, m.SetLayer(3, Stub{Idx: 3}))
}

func TestForwardDeterministicAfterReset(t *testing.T) {
	m, err := Random(testConfig(), 5)
	require.NoError(t, err)
	ctx := context.Background()

	run := func() []float32 {
		m.Reset()
		var out []float32
		for _, id := range []int{tokenizer.ByteBOS, 'h', 'i'} {
			out, err = m.Forward(ctx, dist.Single(), id)
			require.NoError(t, err)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestLoadAttachesChatTemplate(t *testing.T) {
	m, err := Random(testConfig(), 2)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, Save(m, dir))

	_, tok, err := Load(dir)
	require.NoError(t, err)
	_, ok := tok.(tokenizer.ChatTemplater)
	assert.False(t, ok, "no template shipped")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokenizer_config.json"),
		[]byte(`{"chat_template":"{% for m in messages %}<|im_start|>{{ m.role }}<|im_end|>{% endfor %}"}`), 0o644))
	_, tok, err = Load(dir)
	require.NoError(t, err)
	ct, ok := tok.(tokenizer.ChatTemplater)
	require.True(t, ok)
	out, err := ct.ApplyChatTemplate([]tokenizer.Message{{Role: "user", Content: "hi"}}, true)
	require.NoError(t, err)
	assert.Equal(t, "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n", out)
}
