package rag

import (
	"strings"
	"testing"

	"zeno/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCounter 每个单词算一个 token
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestSplitConversation(t *testing.T) {
	history, question, err := SplitConversation([]ConversationTurn{
		{Role: "user", Content: "What is mitosis?"},
		{Role: "assistant", Content: "Cell division."},
		{Role: "user", Content: "  And meiosis?  "},
	})
	require.NoError(t, err)
	assert.Equal(t, "And meiosis?", question)
	require.Len(t, history, 2)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestSplitConversationValidation(t *testing.T) {
	cases := map[string][]ConversationTurn{
		"empty":            nil,
		"blank question":   {{Role: "user", Content: "   "}},
		"assistant last":   {{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		"unsupported role": {{Role: "tool", Content: "x"}, {Role: "user", Content: "hi"}},
	}
	for name, turns := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := SplitConversation(turns)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestTrimHistoryDropsOldestFirst(t *testing.T) {
	history := []ConversationTurn{
		{Role: "user", Content: "one two three four"},
		{Role: "assistant", Content: "five six"},
		{Role: "user", Content: "seven"},
	}

	// 每条消息另有 4 个 token 的开销
	kept := TrimHistory(history, 15, wordCounter{})
	require.Len(t, kept, 2)
	assert.Equal(t, "five six", kept[0].Content)
	assert.Equal(t, "seven", kept[1].Content)

	assert.Len(t, TrimHistory(history, 100, wordCounter{}), 3)
	assert.Len(t, TrimHistory(history, 0, wordCounter{}), 3)
	assert.Empty(t, TrimHistory(history, 3, wordCounter{}))
}

func TestApproxCounter(t *testing.T) {
	assert.Equal(t, 0, ApproxCounter{}.Count(""))
	assert.Equal(t, 1, ApproxCounter{}.Count("abcd"))
	assert.Equal(t, 2, ApproxCounter{}.Count("abcde"))
}

func TestTiktokenCounter(t *testing.T) {
	counter, err := NewTiktokenCounter("gpt-3.5-turbo")
	require.NoError(t, err)
	assert.Equal(t, 2, counter.Count("hello world"))

	fallback, err := NewTiktokenCounter("some-unknown-model")
	require.NoError(t, err)
	assert.Equal(t, counter.Count("photosynthesis"), fallback.Count("photosynthesis"))
}

func TestFormatHistory(t *testing.T) {
	out := FormatHistory([]ConversationTurn{
		{Role: "user", Content: "What is mitosis?"},
		{Role: "assistant", Content: "Cell division."},
	})
	assert.Equal(t, "Human: What is mitosis?\nAssistant: Cell division.", out)
}
