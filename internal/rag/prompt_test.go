package rag

import (
	"strings"
	"testing"

	"zeno/internal/config"
	"zeno/pkg/aiinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retrieved(filename string, idx, total int, text string) *RetrievalResult {
	return &RetrievalResult{
		Chunk: &DocumentChunk{
			Text:     text,
			Metadata: ChunkMetadata{Filename: filename, ChunkIndex: idx, TotalChunks: total},
		},
		Score: 0.9,
	}
}

func TestPromptAssemblerBuild(t *testing.T) {
	a, err := NewPromptAssembler(config.PromptConfig{})
	require.NoError(t, err)

	history := []ConversationTurn{
		{Role: "user", Content: "What do plants need?"},
		{Role: "assistant", Content: "Light, water and carbon dioxide."},
	}
	sources := []*RetrievalResult{
		retrieved("bio.pdf", 0, 3, "Chlorophyll absorbs light."),
		retrieved("bio.pdf", 2, 3, "Glucose is stored as starch."),
	}

	prompt, err := a.Build(PromptInput{History: history, Question: "Where is the sugar stored?", Sources: sources})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 4)

	system := prompt.Messages[0]
	assert.Equal(t, aiinterface.RoleSystem, system.Role)
	assert.True(t, strings.HasPrefix(system.Content, "You are Zeno"))
	assert.Contains(t, system.Content, "Chlorophyll absorbs light.\n\nGlucose is stored as starch.")
	assert.NotContains(t, system.Content, "What do plants need?")

	assert.Equal(t, history[0].Content, prompt.Messages[1].Content)
	assert.Equal(t, history[1].Content, prompt.Messages[2].Content)

	last := prompt.Messages[3]
	assert.Equal(t, aiinterface.RoleUser, last.Role)
	assert.Equal(t, "Question: Where is the sugar stored?\nHelpful Answer:", last.Content)

	// 历史与上下文各出现一次，不互相混入
	var all strings.Builder
	for _, m := range prompt.Messages {
		all.WriteString(m.Content)
		all.WriteString("\n")
	}
	assert.Equal(t, 1, strings.Count(all.String(), "Chlorophyll absorbs light."))
	assert.Equal(t, 1, strings.Count(all.String(), "Light, water and carbon dioxide."))
	for _, m := range prompt.Messages[1:] {
		assert.NotContains(t, m.Content, "Glucose is stored as starch.")
	}
}

func TestPromptAssemblerCustomTemplates(t *testing.T) {
	a, err := NewPromptAssembler(config.PromptConfig{
		SystemTemplate:   "Tutor notes:\n{context}",
		QuestionTemplate: "Q: {question}",
		CondenseTemplate: "{chat_history}\n---\n{question}",
	})
	require.NoError(t, err)

	prompt, err := a.Build(PromptInput{Question: "What is {x}?"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 2)
	assert.Equal(t, "Tutor notes:\n", prompt.Messages[0].Content)
	assert.Equal(t, "Q: What is {x}?", prompt.Messages[1].Content)

	condensed, err := a.Condense([]ConversationTurn{{Role: "user", Content: "hi"}}, "and then?")
	require.NoError(t, err)
	assert.Equal(t, "Human: hi\n---\nand then?", condensed)
}

func TestPromptAssemblerRejectsMissingPlaceholders(t *testing.T) {
	_, err := NewPromptAssembler(config.PromptConfig{SystemTemplate: "no context here"})
	assert.Error(t, err)

	_, err = NewPromptAssembler(config.PromptConfig{CondenseTemplate: "{question} only"})
	assert.Error(t, err)
}

func TestPromptBuildIsPure(t *testing.T) {
	a, err := NewPromptAssembler(config.PromptConfig{})
	require.NoError(t, err)
	in := PromptInput{
		History:  []ConversationTurn{{Role: "user", Content: "hi"}},
		Question: "again?",
		Sources:  []*RetrievalResult{retrieved("a.txt", 0, 1, "alpha")},
	}
	first, err := a.Build(in)
	require.NoError(t, err)
	second, err := a.Build(in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, in.History, 1)
}
