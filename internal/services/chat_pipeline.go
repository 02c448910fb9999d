package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/retry"
)

// ChatErrorPrefix marks a chunk as the terminal error of a chat stream. The
// rest of the chunk is a short user-facing message.
const ChatErrorPrefix = "__CHAT_ERROR__:"

const msgChat = "The assistant could not answer right now. Please try again."

type ChatConfig struct {
	TopK             int
	HistoryTurns     int
	RelaxHarmFilters bool
}

// ChatPipeline answers project questions with retrieval-augmented streaming generation.
type ChatPipeline struct {
	store     DocumentStore
	generator Generator
	embedder  Embedder
	searcher  SimilaritySearcher
	caller    *retry.Caller
	config    ChatConfig
	log       *slog.Logger
	now       func() time.Time
}

// NewChatPipeline builds a pipeline. embedder and searcher may be nil, in
// which case answers use the transcript only.
func NewChatPipeline(store DocumentStore, generator Generator, embedder Embedder, searcher SimilaritySearcher, caller *retry.Caller, config ChatConfig, log *slog.Logger) *ChatPipeline {
	if log == nil {
		log = slog.Default()
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = 10
	}
	return &ChatPipeline{
		store:     store,
		generator: generator,
		embedder:  embedder,
		searcher:  searcher,
		caller:    caller,
		config:    config,
		log:       log,
		now:       time.Now,
	}
}

// IsChatError reports whether chunk is the terminal error marker and returns its message.
func IsChatError(chunk string) (string, bool) {
	if msg, ok := strings.CutPrefix(chunk, ChatErrorPrefix); ok {
		return msg, true
	}
	return "", false
}

// Respond streams the answer to message. The channel is closed after the last
// chunk. When ctx ends the relay stops, but generation is drained and the
// transcript is still updated.
func (p *ChatPipeline) Respond(ctx context.Context, project *models.Project, message string, recentHistory []models.Turn) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		p.respond(ctx, project, message, recentHistory, out)
	}()
	return out
}

func (p *ChatPipeline) respond(ctx context.Context, project *models.Project, message string, recentHistory []models.Turn, out chan<- string) {
	if project == nil {
		p.log.Error("Chat turn failed.", "error", ErrNoProject)
		select {
		case out <- ChatErrorPrefix + apperr.UserMessage(ErrNoProject, msgChat):
		case <-ctx.Done():
		}
		return
	}
	logCtx := p.log.With("projectId", project.ID)
	work := context.WithoutCancel(ctx)

	relaying := true
	relay := func(chunk string) {
		if !relaying {
			return
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			logCtx.Info("Chat consumer went away; draining without relaying.")
			relaying = false
		}
	}
	fail := func(err error) {
		logCtx.Error("Chat turn failed.", "error", err)
		relay(ChatErrorPrefix + apperr.UserMessage(err, msgChat))
	}
	defer func() {
		if rec := recover(); rec != nil {
			fail(fmt.Errorf("chat panicked: %v", rec))
		}
	}()

	if strings.TrimSpace(message) == "" {
		fail(apperr.New(apperr.CategoryInvalidInput, "chat", errors.New("empty message")))
		return
	}

	passages := p.retrieve(work, logCtx, project.ID, message)
	history := recentHistory
	if history == nil {
		history = project.Transcript
	}
	req := p.composeRequest(tail(history, p.config.HistoryTurns), passages, message)

	stream, err := retry.DoStream(work, p.caller, func(ctx context.Context) (models.TextStream, error) {
		return p.generator.GenerateStream(ctx, req)
	}, 0, nil)
	if err != nil {
		fail(err)
		return
	}
	defer stream.Close()

	var reply strings.Builder
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(err)
			return
		}
		if chunk == "" {
			continue
		}
		reply.WriteString(chunk)
		relay(chunk)
	}

	if reply.Len() == 0 {
		fail(apperr.ErrEmptyResult)
		return
	}

	now := p.now().UTC()
	turns := []models.Turn{
		{Role: models.RoleUser, Text: message, CreatedAt: now},
		{Role: models.RoleModel, Text: reply.String(), CreatedAt: now},
	}
	if err := p.store.AppendTurns(work, project.ID, turns...); err != nil {
		logCtx.Error("Failed to persist chat turns.", "error", err)
		return
	}
	logCtx.Info("Chat turn complete.", "replyChars", reply.Len(), "passages", len(passages))
}

// retrieve returns passages relevant to message. Any failure degrades to no passages.
func (p *ChatPipeline) retrieve(ctx context.Context, logCtx *slog.Logger, projectID, message string) []models.Match {
	if p.embedder == nil || p.searcher == nil {
		return nil
	}
	vector, err := retry.Do(ctx, p.caller, func(ctx context.Context) ([]float32, error) {
		return p.embedder.Embed(ctx, message)
	}, 0, nil)
	if err != nil {
		logCtx.Warn("Embedding failed; answering without retrieved passages.", "error", err)
		return nil
	}
	matches, err := retry.Do(ctx, p.caller, func(ctx context.Context) ([]models.Match, error) {
		return p.searcher.Query(ctx, vector, p.config.TopK, map[string]string{"project_id": projectID})
	}, 0, nil)
	if err != nil {
		logCtx.Warn("Similarity search failed; answering without retrieved passages.", "error", err)
		return nil
	}
	return matches
}

func (p *ChatPipeline) composeRequest(history []models.Turn, passages []models.Match, message string) models.GenerationRequest {
	contents := make([]models.Content, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		role := models.RoleUser
		if t.Role == models.RoleModel {
			role = models.RoleModel
		}
		contents = append(contents, models.Content{Role: role, Parts: []models.Part{models.TextPart(t.Text)}})
	}

	var prompt strings.Builder
	if len(passages) > 0 {
		prompt.WriteString(chatContextHeader)
		prompt.WriteString("\n")
		for i, m := range passages {
			fmt.Fprintf(&prompt, "[%d] (document %s) %s\n", i+1, m.DocumentID, strings.TrimSpace(m.Text))
		}
		prompt.WriteString("\nQuestion: ")
	}
	prompt.WriteString(message)
	contents = append(contents, models.Content{Role: models.RoleUser, Parts: []models.Part{models.TextPart(prompt.String())}})

	return models.GenerationRequest{
		SystemInstruction: ChatSystemPrompt,
		Contents:          contents,
		Safety:            models.SafetyOptions{RelaxHarmFilters: p.config.RelaxHarmFilters},
	}
}

func tail(turns []models.Turn, n int) []models.Turn {
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
