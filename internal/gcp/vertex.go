package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
)

// VertexGenerator runs generation against Vertex AI. Each request builds its
// own model view so system instructions and safety settings never leak
// between the report and chat paths.
type VertexGenerator struct {
	client    *genai.Client
	modelName string
}

// NewVertexGenerator creates a Vertex AI client bound to a project and region.
func NewVertexGenerator(ctx context.Context, projectID, region, modelName string) (*VertexGenerator, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexGenerator: projectID and region cannot be empty")
	}

	client, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexGenerator{client: client, modelName: modelName}, nil
}

func (g *VertexGenerator) model(req models.GenerationRequest) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.modelName)
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

// chat seeds a session with every content but the last, which is returned as
// the message to send.
func (g *VertexGenerator) chat(req models.GenerationRequest) (*genai.ChatSession, []genai.Part, error) {
	history, last, err := splitContents(req.Contents)
	if err != nil {
		return nil, nil, err
	}
	cs := g.model(req).StartChat()
	for _, c := range history {
		cs.History = append(cs.History, &genai.Content{Role: contentRole(c.Role), Parts: vertexParts(c.Parts)})
	}
	return cs, vertexParts(last.Parts), nil
}

func (g *VertexGenerator) Generate(ctx context.Context, req models.GenerationRequest) (string, error) {
	cs, parts, err := g.chat(req)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return "", vertexError(err)
	}
	return vertexText(resp), nil
}

func (g *VertexGenerator) GenerateStream(ctx context.Context, req models.GenerationRequest) (models.TextStream, error) {
	cs, parts, err := g.chat(req)
	if err != nil {
		return nil, err
	}
	iter := cs.SendMessageStream(ctx, parts...)
	return &responseStream[*genai.GenerateContentResponse]{next: iter.Next, text: vertexText, mapErr: vertexError}, nil
}

func (g *VertexGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func vertexParts(parts []models.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Blob != nil:
			out = append(out, genai.Blob{MIMEType: p.Blob.MIMEType, Data: p.Blob.Data})
		case p.FileURI != "":
			out = append(out, genai.FileData{MIMEType: p.MIMEType, FileURI: p.FileURI})
		default:
			out = append(out, genai.Text(p.Text))
		}
	}
	return out
}

// vertexText concatenates the text parts of the first candidate.
func vertexText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	return joinText[genai.Part, genai.Text](resp.Candidates[0].Content.Parts)
}

func vertexError(err error) error {
	return safetyError[*genai.BlockedError](err)
}
