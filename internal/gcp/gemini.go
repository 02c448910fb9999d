package gcp

import (
	"context"
	"fmt"
	"io"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient talks to the Gemini API. It serves as the file registry and
// embedder in every deployment, and as the generator when AI_PROVIDER=gemini.
type GeminiClient struct {
	client         *genai.Client
	modelName      string
	embeddingModel string
}

func NewGeminiClient(ctx context.Context, apiKey, modelName, embeddingModel string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NewGeminiClient: api key cannot be empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, modelName: modelName, embeddingModel: embeddingModel}, nil
}

func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *GeminiClient) RegisterFile(ctx context.Context, r io.Reader, mimeType, displayName string) (models.FileHandle, error) {
	file, err := c.client.UploadFile(ctx, "", r, &genai.UploadFileOptions{
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return models.FileHandle{}, fmt.Errorf("failed to upload file: %w", err)
	}
	return fileHandle(file), nil
}

func (c *GeminiClient) GetFile(ctx context.Context, name string) (models.FileHandle, error) {
	file, err := c.client.GetFile(ctx, name)
	if err != nil {
		return models.FileHandle{}, fmt.Errorf("failed to get file %s: %w", name, err)
	}
	return fileHandle(file), nil
}

func fileHandle(f *genai.File) models.FileHandle {
	h := models.FileHandle{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}
	switch f.State {
	case genai.FileStateActive:
		h.State = models.FileStateActive
	case genai.FileStateFailed:
		h.State = models.FileStateFailed
	case genai.FileStateProcessing:
		h.State = models.FileStateProcessing
	default:
		h.State = models.FileStateUnspecified
	}
	return h
}

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	em := c.client.EmbeddingModel(c.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if res == nil || res.Embedding == nil {
		return nil, apperr.ErrEmptyResult
	}
	return res.Embedding.Values, nil
}

func (c *GeminiClient) model(req models.GenerationRequest) *genai.GenerativeModel {
	model := c.client.GenerativeModel(c.modelName)
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemInstruction)},
		}
	}
	if req.Safety.RelaxHarmFilters {
		model.SafetySettings = []*genai.SafetySetting{
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		}
	}
	return model
}

func (c *GeminiClient) chat(req models.GenerationRequest) (*genai.ChatSession, []genai.Part, error) {
	history, last, err := splitContents(req.Contents)
	if err != nil {
		return nil, nil, err
	}
	cs := c.model(req).StartChat()
	for _, ct := range history {
		cs.History = append(cs.History, &genai.Content{Role: contentRole(ct.Role), Parts: geminiParts(ct.Parts)})
	}
	return cs, geminiParts(last.Parts), nil
}

func (c *GeminiClient) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	cs, parts, err := c.chat(req)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return "", geminiError(err)
	}
	return geminiText(resp), nil
}

func (c *GeminiClient) GenerateStream(ctx context.Context, req models.GenerationRequest) (models.TextStream, error) {
	cs, parts, err := c.chat(req)
	if err != nil {
		return nil, err
	}
	iter := cs.SendMessageStream(ctx, parts...)
	return &responseStream[*genai.GenerateContentResponse]{next: iter.Next, text: geminiText, mapErr: geminiError}, nil
}

func geminiParts(parts []models.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Blob != nil:
			out = append(out, genai.Blob{MIMEType: p.Blob.MIMEType, Data: p.Blob.Data})
		case p.FileURI != "":
			out = append(out, genai.FileData{MIMEType: p.MIMEType, URI: p.FileURI})
		default:
			out = append(out, genai.Text(p.Text))
		}
	}
	return out
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	return joinText[genai.Part, genai.Text](resp.Candidates[0].Content.Parts)
}

func geminiError(err error) error {
	return safetyError[*genai.BlockedError](err)
}
