package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountEmpty(t *testing.T) {
	c := NewCounter("")
	assert.Equal(t, 0, c.Count(""))
}

func TestCountIsPositiveAndMonotonic(t *testing.T) {
	c := NewCounter("")
	short := c.Count("hello world")
	long := c.Count(strings.Repeat("hello world ", 50))
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}

func TestFallbackApproximation(t *testing.T) {
	c := &Counter{} // no encoding loaded
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
}

func TestTruncateRespectsBudget(t *testing.T) {
	c := NewCounter("")
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)

	out := c.Truncate(text, 10)
	assert.LessOrEqual(t, c.Count(out), 10)
	assert.True(t, strings.HasPrefix(text, out))
}

func TestTruncateNoopUnderBudget(t *testing.T) {
	c := NewCounter("")
	assert.Equal(t, "short", c.Truncate("short", 100))
	assert.Equal(t, "", c.Truncate("anything", 0))
}

func TestTruncateFallbackKeepsValidUTF8(t *testing.T) {
	c := &Counter{}
	text := strings.Repeat("héllo wörld ", 30)
	out := c.Truncate(text, 5)
	assert.LessOrEqual(t, c.Count(out), 5)
	assert.True(t, strings.HasPrefix(text, out))
}
