package launch

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/lattice/internal/backend"
	"github.com/samcharles93/lattice/internal/inference"
	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

func writeModel(t *testing.T) string {
	t.Helper()
	m, err := model.Random(model.Config{
		HiddenSize:       8,
		IntermediateSize: 16,
		NumHiddenLayers:  4,
		VocabSize:        tokenizer.ByteVocabSize,
	}, 3)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, model.Save(m, dir))
	return dir
}

func request(maxTokens int) *inference.Request {
	return &inference.Request{
		Messages:  []inference.Message{{Role: "user", Content: "lattice"}},
		MaxTokens: inference.IntPtr(maxTokens),
	}
}

func start(t *testing.T, kind backend.Kind, path string, size int) *Cluster {
	t.Helper()
	c, err := Start(context.Background(), Config{Kind: kind, ModelPath: path, WorldSize: size})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func drain(t *testing.T, b backend.Backend, req *inference.Request) (string, int) {
	t.Helper()
	var sb strings.Builder
	tokens := 0
	for tok, err := range b.GenerateStream(context.Background(), req) {
		require.NoError(t, err)
		if tok.Done {
			continue
		}
		tokens++
		sb.WriteString(tok.Text)
	}
	return sb.String(), tokens
}

func TestClustersAgreeWithSingle(t *testing.T) {
	path := writeModel(t)
	single := start(t, backend.Single, path, 1)
	want, err := single.Generate(context.Background(), request(6))
	require.NoError(t, err)

	tests := []struct {
		kind backend.Kind
		size int
	}{
		{backend.TensorParallel, 2},
		{backend.PipelineParallel, 2},
		{backend.PipelineParallel, 3},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			c := start(t, tt.kind, path, tt.size)
			assert.Equal(t, tt.size, c.Size())
			assert.Equal(t, tt.kind.String(), c.Name())

			got, err := c.Generate(context.Background(), request(6))
			require.NoError(t, err)
			assert.Equal(t, want.Text, got.Text)
			assert.Equal(t, want.FinishReason, got.FinishReason)

			text, _ := drain(t, c, request(6))
			assert.Equal(t, want.Text, text)
		})
	}
}

func TestStreamEndsWithOneDoneToken(t *testing.T) {
	c := start(t, backend.PipelineParallel, writeModel(t), 2)
	var done, after int
	for tok, err := range c.GenerateStream(context.Background(), request(4)) {
		require.NoError(t, err)
		if done > 0 {
			after++
		}
		if tok.Done {
			done++
		}
	}
	assert.Equal(t, 1, done)
	assert.Zero(t, after)
}

func TestStreamIsOneShot(t *testing.T) {
	c := start(t, backend.Single, writeModel(t), 1)
	seq := c.GenerateStream(context.Background(), request(2))
	for range seq {
	}
	for _, err := range seq {
		assert.ErrorIs(t, err, inference.ErrStreamConsumed)
	}
}

func TestEarlyBreakLeavesWorldUsable(t *testing.T) {
	path := writeModel(t)
	c := start(t, backend.TensorParallel, path, 2)

	for _, err := range c.GenerateStream(context.Background(), request(8)) {
		require.NoError(t, err)
		break
	}
	res, err := c.Generate(context.Background(), request(3))
	require.NoError(t, err)
	assert.LessOrEqual(t, res.CompletionTokens, 3)
}

func TestInvalidRequestDoesNotBreakWorld(t *testing.T) {
	c := start(t, backend.PipelineParallel, writeModel(t), 2)

	_, err := c.Generate(context.Background(), request(-5))
	var be *backend.Error
	require.ErrorAs(t, err, &be)

	_, err = c.Generate(context.Background(), request(2))
	require.NoError(t, err)
}

func TestCancelledCallBreaksWorld(t *testing.T) {
	c := start(t, backend.TensorParallel, writeModel(t), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, request(4))
	require.Error(t, err)

	_, err = c.Generate(context.Background(), request(2))
	assert.ErrorIs(t, err, ErrBroken)
	var le *backend.LoadError
	assert.ErrorAs(t, err, &le)
}

func TestStartFailures(t *testing.T) {
	_, err := Start(context.Background(), Config{Kind: backend.Single, ModelPath: writeModel(t), WorldSize: 2})
	var le *backend.LoadError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, backend.ErrInvalidRank)

	_, err = Start(context.Background(), Config{Kind: backend.PipelineParallel, ModelPath: t.TempDir(), WorldSize: 2})
	require.ErrorAs(t, err, &le)

	_, err = Start(context.Background(), Config{Kind: backend.Single, Transport: "mpi"})
	require.ErrorAs(t, err, &le)
}
