package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	text := "Find me all the clips where John is at the Beach."
	tokens := Tokenize(text)
	require.Len(t, tokens, 11)

	assert.Equal(t, "Find", tokens[0].Text)
	assert.Equal(t, "find", tokens[0].Lower)
	assert.True(t, tokens[0].IsTitle())

	last := tokens[10]
	assert.Equal(t, "Beach", last.Text)
	assert.Equal(t, "Beach", text[last.Start:last.End])
	assert.False(t, tokens[4].IsTitle())
}

func TestTokenizeSplitsPunctuation(t *testing.T) {
	assert.Equal(t, []string{"post", "production", "michael", "s", "a7s"}, Words("post-production, Michael's A7S!"))
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("  ?! "))
}

func TestContainsSequence(t *testing.T) {
	words := Words("How do I blur a face blur in Tanooki")

	assert.True(t, ContainsSequence(words, []string{"face", "blur"}))
	assert.True(t, ContainsSequence(words, []string{"tanooki"}))
	assert.False(t, ContainsSequence(words, []string{"blur", "face", "in"}))
	assert.False(t, ContainsSequence(words, nil))
	assert.False(t, HasPrefixAt(words, []string{"tanooki", "app"}, len(words)-1))
}
