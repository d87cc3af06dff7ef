package httpapi

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/lattice/internal/backend"
	"github.com/samcharles93/lattice/internal/inference"
	"github.com/samcharles93/lattice/internal/launch"
	"github.com/samcharles93/lattice/internal/model"
	"github.com/samcharles93/lattice/internal/tokenizer"
)

type testBackend struct {
	frags []string
	err   error
	seen  *inference.Request
}

func (b *testBackend) Name() string { return "test" }

func (b *testBackend) Generate(_ context.Context, req *inference.Request) (*inference.Result, error) {
	b.seen = req
	if b.err != nil {
		return nil, b.err
	}
	return &inference.Result{
		Text:             strings.Join(b.frags, ""),
		FinishReason:     inference.FinishStop,
		CompletionTokens: len(b.frags),
	}, nil
}

func (b *testBackend) GenerateStream(_ context.Context, req *inference.Request) iter.Seq2[inference.StreamToken, error] {
	b.seen = req
	return inference.Tokens(func(emit func(string) bool) error {
		for _, f := range b.frags {
			if !emit(f) {
				return nil
			}
		}
		return b.err
	})
}

func (b *testBackend) Close() error { return nil }

func newTestEcho(b backend.Backend) *echo.Echo {
	e := echo.New()
	NewServer(b, nil).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func lines(t *testing.T, body string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(body), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), l)
		out = append(out, m)
	}
	return out
}

func TestHealth(t *testing.T) {
	rec := doJSON(t, newTestEcho(&testBackend{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","backend":"test"}`, rec.Body.String())
}

func TestGenerate(t *testing.T) {
	b := &testBackend{frags: []string{"a", "b"}}
	e := newTestEcho(b)
	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"messages":[{"role":"user","content":"hi"}],"stop":["", "x", "x"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "gen_"))
	assert.Equal(t, "ab", resp.Text)
	assert.Equal(t, "test", resp.Backend)
	assert.Equal(t, []string{"x"}, b.seen.Stop)
	require.NotNil(t, b.seen.MaxTokens)
	assert.Equal(t, inference.DefaultMaxTokens, *b.seen.MaxTokens)

	status := doJSON(t, e, http.MethodGet, "/inference/status", "")
	var st StatusResponse
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.Served)
	assert.Equal(t, resp.ID, st.LastID)
	assert.False(t, st.Busy)
}

func TestGenerateErrors(t *testing.T) {
	e := newTestEcho(&testBackend{err: errors.New("out of memory")})

	rec := doJSON(t, e, http.MethodPost, "/v1/generate", `{"max_tokens":-3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/v1/generate", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, e, http.MethodPost, "/v1/generate", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "out of memory")

	status := doJSON(t, e, http.MethodGet, "/inference/status", "")
	var st StatusResponse
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &st))
	assert.Equal(t, int64(1), st.Failed)
}

func TestGenerateStream(t *testing.T) {
	rec := doJSON(t, newTestEcho(&testBackend{frags: []string{"x", "y"}}), http.MethodPost, "/v1/generate/stream", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mimeNDJSON, rec.Header().Get(echo.HeaderContentType))

	got := lines(t, rec.Body.String())
	require.Len(t, got, 4)
	assert.Equal(t, "streaming", got[0]["status"])
	assert.Equal(t, "x", got[1]["token"])
	assert.Equal(t, "y", got[2]["token"])
	assert.Equal(t, true, got[3]["done"])
	assert.Equal(t, "", got[3]["token"])
	assert.NotContains(t, got[3], "error")
}

func TestGenerateStreamError(t *testing.T) {
	rec := doJSON(t, newTestEcho(&testBackend{frags: []string{"x"}, err: errors.New("peer lost")}), http.MethodPost, "/v1/generate/stream", `{}`)
	got := lines(t, rec.Body.String())
	require.Len(t, got, 3)
	assert.Equal(t, true, got[2]["done"])
	assert.Equal(t, "peer lost", got[2]["error"])
}

func TestDecodeRequest(t *testing.T) {
	_, err := decodeRequest(strings.NewReader(`{"top_p":2}`))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req, err := decodeRequest(strings.NewReader(``))
	require.NoError(t, err)
	assert.Equal(t, inference.DefaultMaxTokens, *req.MaxTokens)
}

func pipelineCluster(t *testing.T) *launch.Cluster {
	t.Helper()
	m, err := model.Random(model.Config{HiddenSize: 8, IntermediateSize: 16, NumHiddenLayers: 4, VocabSize: tokenizer.ByteVocabSize}, 5)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, model.Save(m, dir))
	c, err := launch.Start(context.Background(), launch.Config{Kind: backend.PipelineParallel, ModelPath: dir, WorldSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

const clusterBody = `{"messages":[{"role":"user","content":"hi"}],"max_tokens":6}`

// brokenPipe accepts the first writes and then fails, like a client that
// disconnected mid-stream.
type brokenPipe struct {
	*httptest.ResponseRecorder
	left int
}

func (w *brokenPipe) Write(b []byte) (int, error) {
	if w.left == 0 {
		return 0, errors.New("broken pipe")
	}
	w.left--
	return w.ResponseRecorder.Write(b)
}

func TestCancelledClientKeepsClusterServing(t *testing.T) {
	e := newTestEcho(pipelineCluster(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate/stream", strings.NewReader(clusterBody)).WithContext(ctx)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	got := lines(t, rec.Body.String())
	last := got[len(got)-1]
	assert.Equal(t, true, last["done"])
	assert.NotContains(t, last, "error")

	ok := doJSON(t, e, http.MethodPost, "/v1/generate", clusterBody)
	assert.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
}

func TestDisconnectMidStreamKeepsClusterServing(t *testing.T) {
	e := newTestEcho(pipelineCluster(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/generate/stream", strings.NewReader(clusterBody))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(&brokenPipe{ResponseRecorder: httptest.NewRecorder(), left: 1}, req)

	ok := doJSON(t, e, http.MethodPost, "/v1/generate", clusterBody)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(ok.Body.Bytes(), &resp))
	assert.Equal(t, "pipeline", resp.Backend)
}
