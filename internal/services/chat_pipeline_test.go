package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type chatFixture struct {
	store     *fakeStore
	generator *fakeGenerator
	embedder  *fakeEmbedder
	searcher  *fakeSearcher
	pipeline  *ChatPipeline
	project   *models.Project
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	f := &chatFixture{
		store:    newFakeStore(),
		embedder: &fakeEmbedder{},
		searcher: &fakeSearcher{matches: []models.Match{
			{ID: "m1", DocumentID: "doc-a", Score: 0.92, Text: "Design pressure is 16 bar."},
		}},
		project: &models.Project{ID: "proj-1", OwnerID: "user-1"},
	}
	f.generator = &fakeGenerator{stream: func(int, models.GenerationRequest) (models.TextStream, error) {
		return &chunkStream{chunks: []string{"The design ", "pressure is ", "16 bar."}}, nil
	}}
	f.store.addProject(f.project)
	f.pipeline = NewChatPipeline(f.store, f.generator, f.embedder, f.searcher, testCaller(), ChatConfig{TopK: 3, HistoryTurns: 2}, nil)
	f.pipeline.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func drainChat(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("chat stream was never closed")
			return nil
		}
	}
}

func TestChat_StreamsAndPersistsTranscript(t *testing.T) {
	f := newChatFixture(t)
	history := []models.Turn{
		{Role: models.RoleUser, Text: "old question"},
		{Role: models.RoleModel, Text: "old answer"},
		{Role: models.RoleUser, Text: "which pump?"},
		{Role: models.RoleModel, Text: "P-101."},
	}

	chunks := drainChat(t, f.pipeline.Respond(context.Background(), f.project, "What is the design pressure?", history))

	assert.Equal(t, []string{"The design ", "pressure is ", "16 bar."}, chunks)
	assert.Equal(t, map[string]string{"project_id": "proj-1"}, f.searcher.lastFilter)
	assert.Equal(t, 3, f.searcher.lastTopK)

	req := f.generator.lastRequest()
	assert.Equal(t, ChatSystemPrompt, req.SystemInstruction)
	require.Len(t, req.Contents, 3, "two history turns plus the question")
	assert.Equal(t, "which pump?", req.Contents[0].Parts[0].Text)
	assert.Equal(t, models.RoleModel, req.Contents[1].Role)
	question := req.Contents[2].Parts[0].Text
	assert.Contains(t, question, "Design pressure is 16 bar.")
	assert.Contains(t, question, "What is the design pressure?")

	turns := f.store.appendedTurns()
	require.Len(t, turns, 2)
	assert.Equal(t, models.Turn{Role: models.RoleUser, Text: "What is the design pressure?", CreatedAt: f.pipeline.now()}, turns[0])
	assert.Equal(t, models.Turn{Role: models.RoleModel, Text: "The design pressure is 16 bar.", CreatedAt: f.pipeline.now()}, turns[1])
}

func TestChat_SearchFailureDegradesToHistoryOnly(t *testing.T) {
	f := newChatFixture(t)
	f.searcher.err = errors.New("milvus: collection not loaded")

	chunks := drainChat(t, f.pipeline.Respond(context.Background(), f.project, "What is the design pressure?", nil))

	for _, c := range chunks {
		_, isErr := IsChatError(c)
		assert.False(t, isErr, "retrieval failure must not surface: %q", c)
	}
	assert.Equal(t, "The design pressure is 16 bar.", strings.Join(chunks, ""))
	question := f.generator.lastRequest().Contents[0].Parts[0].Text
	assert.Equal(t, "What is the design pressure?", question)
	assert.Len(t, f.store.appendedTurns(), 2)
}

func TestChat_EmbedFailureDegrades(t *testing.T) {
	f := newChatFixture(t)
	f.embedder.err = status.Error(codes.PermissionDenied, "embedding disabled")

	chunks := drainChat(t, f.pipeline.Respond(context.Background(), f.project, "hello", nil))
	assert.Equal(t, "The design pressure is 16 bar.", strings.Join(chunks, ""))
	assert.Nil(t, f.searcher.lastFilter)
}

func TestChat_UsesProjectTranscriptWhenNoHistoryGiven(t *testing.T) {
	f := newChatFixture(t)
	f.project.Transcript = []models.Turn{{Role: models.RoleUser, Text: "earlier"}, {Role: models.RoleModel, Text: "reply"}}

	drainChat(t, f.pipeline.Respond(context.Background(), f.project, "next", nil))
	req := f.generator.lastRequest()
	require.Len(t, req.Contents, 3)
	assert.Equal(t, "earlier", req.Contents[0].Parts[0].Text)
}

func TestChat_InitiationRetriedThenSentinelOnExhaustion(t *testing.T) {
	f := newChatFixture(t)
	f.generator.stream = func(int, models.GenerationRequest) (models.TextStream, error) {
		return nil, status.Error(codes.ResourceExhausted, "quota exceeded")
	}

	chunks := drainChat(t, f.pipeline.Respond(context.Background(), f.project, "hello", nil))

	require.Len(t, chunks, 1)
	msg, isErr := IsChatError(chunks[0])
	require.True(t, isErr)
	assert.Equal(t, apperr.UserMessage(apperr.ErrRateLimited, ""), msg)
	assert.Equal(t, 3, f.generator.calls())
	assert.Empty(t, f.store.appendedTurns())
}

func TestChat_MidStreamErrorEndsWithSentinel(t *testing.T) {
	f := newChatFixture(t)
	f.generator.stream = func(int, models.GenerationRequest) (models.TextStream, error) {
		return &chunkStream{chunks: []string{"partial "}, err: apperr.New(apperr.CategorySafety, "stream", errors.New("blocked"))}, nil
	}

	chunks := drainChat(t, f.pipeline.Respond(context.Background(), f.project, "hello", nil))

	require.Len(t, chunks, 2)
	assert.Equal(t, "partial ", chunks[0])
	msg, isErr := IsChatError(chunks[1])
	require.True(t, isErr)
	assert.Equal(t, apperr.UserMessage(apperr.ErrSafetyBlocked, ""), msg)
	assert.Equal(t, 1, f.generator.calls(), "chunk errors are not retried")
	assert.Empty(t, f.store.appendedTurns())
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	f := newChatFixture(t)
	chunks := drainChat(t, f.pipeline.Respond(context.Background(), f.project, "   ", nil))
	require.Len(t, chunks, 1)
	_, isErr := IsChatError(chunks[0])
	assert.True(t, isErr)
	assert.Zero(t, f.generator.calls())
}

func TestChat_NilProjectEndsWithSentinel(t *testing.T) {
	f := newChatFixture(t)
	chunks := drainChat(t, f.pipeline.Respond(context.Background(), nil, "What is the design pressure?", nil))
	require.Len(t, chunks, 1)
	msg, isErr := IsChatError(chunks[0])
	assert.True(t, isErr)
	assert.Equal(t, msgChat, msg)
	assert.Zero(t, f.generator.calls())
	assert.Empty(t, f.store.appendedTurns())
}

func TestChat_ConsumerGoneStillPersists(t *testing.T) {
	f := newChatFixture(t)
	f.generator.stream = func(int, models.GenerationRequest) (models.TextStream, error) {
		chunks := make([]string, 20)
		for i := range chunks {
			chunks[i] = fmt.Sprintf("c%d ", i)
		}
		return &chunkStream{chunks: chunks}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.pipeline.Respond(ctx, f.project, "hello", nil)

	first := <-ch
	assert.Equal(t, "c0 ", first)
	cancel()
	drainChat(t, ch)

	turns := f.store.appendedTurns()
	require.Len(t, turns, 2)
	assert.True(t, strings.HasPrefix(turns[1].Text, "c0 c1 "))
	assert.True(t, strings.HasSuffix(turns[1].Text, "c19 "))
}
