package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/llm"
)

type fakeEmbeddingClient struct {
	calls   [][]string
	err     error
	short   bool
	blockOn bool
}

func (f *fakeEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.blockOn {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

func TestNewEmbedderWithConfig(t *testing.T) {
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   "nomic-embed-text:latest",
		BaseURL: "http://localhost:11434",
	})
	require.NoError(t, err)
	assert.Equal(t, 768, emb.Dimension())
	assert.Equal(t, "nomic-embed-text:latest", emb.Model())

	_, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "openai"})
	assert.ErrorIs(t, err, llm.ErrAPIKeyNotSet)

	_, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestEmbedder_BatchesInOrder(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{BatchSize: 2, Dimension: 3}, client)

	vectors, err := emb.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	assert.Len(t, client.calls, 3)
	for i, v := range vectors {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestEmbedder_EmptyInputMakesNoCall(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{}, client)

	vectors, err := emb.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, client.calls)
}

func TestEmbedder_Errors(t *testing.T) {
	t.Run("provider failure is upstream", func(t *testing.T) {
		emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{}, &fakeEmbeddingClient{err: errors.New("connection refused")})

		_, err := emb.Embed(context.Background(), []string{"q"})
		var upstream *types.UpstreamServiceError
		require.True(t, errors.As(err, &upstream))
		assert.Equal(t, "embedding", upstream.Service)
	})

	t.Run("short response is upstream", func(t *testing.T) {
		emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{}, &fakeEmbeddingClient{short: true})

		_, err := emb.Embed(context.Background(), []string{"a", "b"})
		assert.True(t, types.IsUpstream(err))
	})

	t.Run("timeout is upstream", func(t *testing.T) {
		emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{Timeout: 10 * time.Millisecond}, &fakeEmbeddingClient{blockOn: true})

		_, err := emb.Embed(context.Background(), []string{"q"})
		assert.True(t, types.IsUpstream(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller cancellation is not upstream", func(t *testing.T) {
		emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{}, &fakeEmbeddingClient{blockOn: true})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := emb.Embed(ctx, []string{"q"})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, types.IsUpstream(err))
	})
}

func TestEmbedder_RateLimit(t *testing.T) {
	client := &fakeEmbeddingClient{}
	emb := llm.NewEmbedderWithClient(llm.EmbedderConfig{BatchSize: 1, RateLimit: 20, Burst: 1}, client)

	start := time.Now()
	_, err := emb.Embed(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	// three calls at 20/s with burst 1 wait for two refills
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Len(t, client.calls, 3)
}

func TestEstimateCounter(t *testing.T) {
	c := llm.EstimateCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
}
