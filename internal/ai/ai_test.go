package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/esi_helpdesk/backend/internal/models"
)

func TestMockKnowledgeSourceRanksByOverlap(t *testing.T) {
	src := MockKnowledgeSource{Documents: DefaultMockDocuments()}

	got, err := src.Retrieve(context.Background(), "How do I reset my account password from the portal?", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "KB-001", got[0].ID)
	require.InDelta(t, 4.0/7.0, got[0].Similarity, 1e-9)

	got, err = src.Retrieve(context.Background(), "the simulator container crashed", 3)
	require.NoError(t, err)
	require.Equal(t, "KB-003", got[0].ID)
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}

	got, err = src.Retrieve(context.Background(), "quantum entanglement", 3)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMockSynthesizer(t *testing.T) {
	var s MockSynthesizer
	answer, err := s.Generate(context.Background(), "anything", nil)
	require.NoError(t, err)
	require.Equal(t, NotInKnowledgeBase, answer)

	docs := DefaultMockDocuments()[:1]
	first, err := s.Generate(context.Background(), "reset password", docs)
	require.NoError(t, err)
	again, err := s.Generate(context.Background(), "reset password", docs)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Contains(t, first, "KB-001")
	require.Contains(t, first, docs[0].Content)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("How do I connect?", []models.RetrievedDocument{
		{ID: "KB-002", Content: "Install the client.", Metadata: map[string]any{"version": 4}},
		{ID: "KB-009", Content: "Legacy steps."},
	})
	require.Contains(t, prompt, "[KB-002 | v4]\nInstall the client.")
	require.Contains(t, prompt, "[KB-009 | v1]\nLegacy steps.")
	require.Contains(t, prompt, `"`+NotInKnowledgeBase+`"`)
	require.True(t, strings.HasSuffix(strings.TrimSpace(prompt), "How do I connect?"))
}

func TestParseEmbedding(t *testing.T) {
	_, err := parseEmbedding(openai.EmbeddingResponse{})
	require.ErrorIs(t, err, ErrEmptyEmbedding)

	var r openai.EmbeddingResponse
	require.NoError(t, json.Unmarshal([]byte(`{"data":[{"embedding":[0.1,0.2]}]}`), &r))
	vec, err := parseEmbedding(r)
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"vpn setup"}, req.Input)
		require.Equal(t, "kb-embed", req.Model)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1,2,3]}],"model":"kb-embed"}`))
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder(srv.URL+"/v1/", "kb-embed", "key", srv.Client())
	vec, err := emb.Embed(context.Background(), "vpn setup")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, vec)
}

func TestOpenAIEmbedderEmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIEmbedder(srv.URL, "", "key", nil).Embed(context.Background(), "vpn setup")
	require.ErrorIs(t, err, ErrEmptyEmbedding)
}

func TestOpenAICompatSynthesizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "helpdesk-model", req.Model)
		require.Zero(t, req.Temperature)
		require.Contains(t, req.Messages[0].Content, "[KB-001 | v2]")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"According to KB-001, reset it."}}]}`))
	}))
	defer srv.Close()

	s := OpenAICompatSynthesizer{BaseURL: srv.URL, Model: "helpdesk-model"}
	answer, err := s.Generate(context.Background(), "reset password", DefaultMockDocuments()[:1])
	require.NoError(t, err)
	require.Equal(t, "According to KB-001, reset it.", answer)

	_, err = OpenAICompatSynthesizer{Model: "m"}.Generate(context.Background(), "q", nil)
	require.EqualError(t, err, "LLM_BASE_URL is not set")
}

func TestOpenAICompatSynthesizerRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"7s"}]}}`))
	}))
	defer srv.Close()

	_, err := OpenAICompatSynthesizer{BaseURL: srv.URL, Model: "m"}.Generate(context.Background(), "q", nil)
	var rl RateLimitError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 7*time.Second, rl.RetryAfter)
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.5, 0.25}, nil
}

type fakeIndex struct {
	gotK   int
	gotVec []float32
}

func (f *fakeIndex) SearchKnowledge(_ context.Context, v []float32, k int) ([]models.RetrievedDocument, error) {
	f.gotK, f.gotVec = k, v
	return []models.RetrievedDocument{{ID: "KB-7", Similarity: 0.8}}, nil
}

func TestVectorKnowledgeSource(t *testing.T) {
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	src := VectorKnowledgeSource{Embedder: emb, Index: idx}

	docs, err := src.Retrieve(context.Background(), "q", 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, 1, idx.gotK)
	require.Equal(t, []float32{0.5, 0.25}, idx.gotVec)

	emb.err = errors.New("quota")
	_, err = src.Retrieve(context.Background(), "q", 3)
	require.ErrorContains(t, err, "embed query")
}

func TestCachedEmbedderWithoutRedisPassesThrough(t *testing.T) {
	inner := &fakeEmbedder{}
	c := NewCachedEmbedder(inner, nil, 0, zerolog.Nop())
	require.Equal(t, 24*time.Hour, c.TTL)

	for i := 0; i < 2; i++ {
		_, err := c.Embed(context.Background(), "same text")
		require.NoError(t, err)
	}
	require.Equal(t, 2, inner.calls)

	key := c.cacheKey("same text")
	require.True(t, strings.HasPrefix(key, "emb:"))
	require.Len(t, key, len("emb:")+64)
	require.Equal(t, key, c.cacheKey("same text"))
}

func TestCachedEmbedderRedisIntegration(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	rdb := goredis.NewClient(opts)
	defer rdb.Close()

	inner := &fakeEmbedder{}
	c := NewCachedEmbedder(inner, rdb, time.Minute, zerolog.Nop())
	text := "cache roundtrip " + time.Now().String()
	defer rdb.Del(context.Background(), c.cacheKey(text))

	first, err := c.Embed(context.Background(), text)
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, inner.calls)
}
