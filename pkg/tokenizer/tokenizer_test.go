package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiktokenCounter_O200k(t *testing.T) {
	counter, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultEncoding, counter.Encoding())

	assert.Equal(t, 0, counter.Count(""))
	assert.Equal(t, 2, counter.Count("hello world"))

	long := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	first := counter.Count(long)
	assert.Greater(t, first, 100)
	assert.Equal(t, first, counter.Count(long), "counting must be deterministic")
}

func TestNew_UnknownEncoding(t *testing.T) {
	_, err := New("not_an_encoding")
	assert.Error(t, err)
}

func TestCounterFunc(t *testing.T) {
	words := CounterFunc(func(text string) int { return len(strings.Fields(text)) })
	assert.Equal(t, 3, words.Count("one two three"))
}
