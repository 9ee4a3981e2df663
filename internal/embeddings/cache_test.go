package embeddings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	calls int
}

func (p *countingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.calls++
	return []float32{float32(len(text)), 1}, nil
}

func TestCachedProviderAvoidsRepeatCalls(t *testing.T) {
	inner := &countingProvider{}
	c, err := NewCached(inner, 128)
	require.NoError(t, err)

	ctx := context.Background()
	v1, err := c.Embed(ctx, "apple earnings call")
	require.NoError(t, err)

	// Ristretto admits asynchronously; give the set a moment to land.
	c.cache.Wait()
	time.Sleep(10 * time.Millisecond)

	v2, err := c.Embed(ctx, "apple earnings call")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)

	_, err = c.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
