package rag

import (
	"context"
	"errors"
	"testing"

	"zeno/internal/apperr"
	"zeno/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var similarityProfile = config.RetrievalProfile{Version: "test", Strategy: "similarity", K: 2, FetchK: 2, Lambda: 0.25}

func newTestChat(t *testing.T, model *fakeChatModel, profile config.RetrievalProfile, chunks ...*DocumentChunk) *ChatPipeline {
	t.Helper()
	gw, _, _ := newTestGateway(t, biologyVectors)
	if len(chunks) > 0 {
		require.NoError(t, gw.Upsert(context.Background(), chunks))
	}
	assembler, err := NewPromptAssembler(config.PromptConfig{})
	require.NoError(t, err)
	return NewChatPipeline(gw, model, assembler, wordCounter{}, ChatOptions{Profile: profile, Temperature: 0.8})
}

func ask(question string) *ChatRequest {
	return &ChatRequest{Messages: []ConversationTurn{{Role: "user", Content: question}}}
}

func TestChatAnswerAppendsSourcesAfterLastToken(t *testing.T) {
	model := &fakeChatModel{tokens: []string{"Hello", ",", " world"}}
	chat := newTestChat(t, model, similarityProfile,
		testChunks("bio.pdf", "photosynthesis uses light", "photosynthesis makes sugar")...)

	stream, err := chat.Answer(context.Background(), ask("what is photosynthesis"))
	require.NoError(t, err)
	require.Len(t, stream.Sources, 2)

	var got []string
	for tok := range stream.Tokens() {
		got = append(got, tok)
	}
	require.NoError(t, stream.Err())

	assert.Equal(t, []string{
		"Hello", ",", " world",
		"\n\nSources:\n1. bio.pdf (1/2)\n2. bio.pdf (2/2)",
	}, got)

	req := model.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, 0.8, req.Temperature)
	assert.Contains(t, req.Messages[0].Content, "photosynthesis uses light")
}

func TestChatAnswerCollect(t *testing.T) {
	model := &fakeChatModel{tokens: []string{"Hello", ",", " world"}}
	chat := newTestChat(t, model, similarityProfile,
		testChunks("bio.pdf", "photosynthesis uses light", "photosynthesis makes sugar")...)

	stream, err := chat.Answer(context.Background(), ask("what is photosynthesis"))
	require.NoError(t, err)
	text, err := stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hello, world\n\nSources:\n1. bio.pdf (1/2)\n2. bio.pdf (2/2)", text)
}

func TestChatAnswerWithoutSources(t *testing.T) {
	model := &fakeChatModel{tokens: []string{"I don't know."}}
	chat := newTestChat(t, model, similarityProfile)

	stream, err := chat.Answer(context.Background(), ask("what is photosynthesis"))
	require.NoError(t, err)
	text, err := stream.Collect()
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", text)
	assert.Empty(t, stream.Sources)
}

func TestChatAnswerFailsBeforeFirstToken(t *testing.T) {
	model := &fakeChatModel{streamErr: errors.New("upstream 503")}
	chat := newTestChat(t, model, similarityProfile, testChunks("bio.pdf", "photosynthesis uses light")...)

	stream, err := chat.Answer(context.Background(), ask("what is photosynthesis"))
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.Equal(t, apperr.KindGeneration, apperr.KindOf(err))
}

func TestChatAnswerMidStreamFailureKeepsSentTokens(t *testing.T) {
	model := &fakeChatModel{tokens: []string{"Hello", ","}, midErr: errors.New("connection reset")}
	chat := newTestChat(t, model, similarityProfile, testChunks("bio.pdf", "photosynthesis uses light")...)

	stream, err := chat.Answer(context.Background(), ask("what is photosynthesis"))
	require.NoError(t, err)
	text, err := stream.Collect()
	assert.Equal(t, "Hello,", text)
	require.Error(t, err)
	assert.Equal(t, apperr.KindGeneration, apperr.KindOf(err))
}

func TestChatAnswerValidation(t *testing.T) {
	model := &fakeChatModel{tokens: []string{"x"}}
	chat := newTestChat(t, model, similarityProfile)

	_, err := chat.Answer(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Zero(t, model.streamCalls)
}

func TestChatAnswerContextualizesFollowUp(t *testing.T) {
	model := &fakeChatModel{tokens: []string{"It makes sugar."}, completion: "what is photosynthesis"}
	profile := similarityProfile
	profile.K = 1
	profile.Contextualize = true
	chat := newTestChat(t, model, profile,
		testChunks("bio.pdf", "photosynthesis uses light", "rocks are made of minerals")...)

	stream, err := chat.Answer(context.Background(), &ChatRequest{Messages: []ConversationTurn{
		{Role: "user", Content: "tell me about plants"},
		{Role: "assistant", Content: "Plants are living things."},
		{Role: "user", Content: "how do they eat?"},
	}})
	require.NoError(t, err)
	_, err = stream.Collect()
	require.NoError(t, err)

	assert.Equal(t, "what is photosynthesis", stream.Standalone)
	require.Len(t, stream.Sources, 1)
	assert.Equal(t, 0, stream.Sources[0].ChunkIndex)

	require.Len(t, model.requests, 2)
	condense := model.requests[0].Messages[0].Content
	assert.Contains(t, condense, "Human: tell me about plants\nAssistant: Plants are living things.")
	assert.Contains(t, condense, "Follow Up Input: how do they eat?")

	final := model.lastRequest().Messages
	assert.Equal(t, "Question: how do they eat?\nHelpful Answer:", final[len(final)-1].Content)
}

func TestChatAnswerCondenseFailure(t *testing.T) {
	model := &fakeChatModel{completeErr: errors.New("timeout")}
	profile := similarityProfile
	profile.Contextualize = true
	chat := newTestChat(t, model, profile)

	_, err := chat.Answer(context.Background(), &ChatRequest{Messages: []ConversationTurn{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "more"},
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindGeneration, apperr.KindOf(err))
	assert.Zero(t, model.streamCalls)
}

func TestChatAnswerHonoursCancellation(t *testing.T) {
	model := &fakeChatModel{tokens: []string{"x"}}
	chat := newTestChat(t, model, similarityProfile, testChunks("bio.pdf", "photosynthesis uses light")...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := chat.Answer(ctx, ask("what is photosynthesis"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, model.streamCalls)
}

func TestFormatSources(t *testing.T) {
	assert.Empty(t, FormatSources(nil))
	citations := Citations([]*RetrievalResult{
		retrieved("notes.pdf", 0, 3, "first   chunk\ntext"),
		nil,
		retrieved("notes.pdf", 2, 3, "last"),
	})
	require.Len(t, citations, 2)
	assert.Equal(t, "first chunk text", citations[0].ContentPreview)
	assert.Equal(t, "\n\nSources:\n1. notes.pdf (1/3)\n2. notes.pdf (3/3)", FormatSources(citations))
}
