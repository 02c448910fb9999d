package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/retry"
	"github.com/Lllllllleong/engineeringdocs/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage messages shown when a failure has no more specific category.
const (
	msgResolve     = "This project has no uploaded documents to build a report from."
	msgMaterialize = "One of the project documents could not be read from storage."
	msgExtract     = "The documents could not be read by the AI service."
	msgSynthesize  = "The report content could not be generated."
	msgRender      = "The report could not be rendered to PDF."
	msgPublish     = "The finished report could not be saved."
	msgNoProject   = "A report must be requested for an existing project."
)

// ErrNoProject is returned when a pipeline is invoked without a project.
var ErrNoProject = errors.New("project is required")

// ReportConfig holds the tuning for report generation.
type ReportConfig struct {
	ReportsPrefix    string // scheme://bucket[/prefix] for rendered artifacts
	SignedURLTTL     time.Duration
	FetchConcurrency int
	RelaxHarmFilters bool
	ComplianceRules  string
	Render           models.RenderOptions
}

// ReportPipeline produces one derived PDF artifact per invocation.
type ReportPipeline struct {
	store     DocumentStore
	objects   ObjectStore
	generator Generator
	renderer  Renderer
	caller    *retry.Caller
	config    ReportConfig
	log       *slog.Logger
	now       func() time.Time
}

func NewReportPipeline(store DocumentStore, objects ObjectStore, generator Generator, renderer Renderer, caller *retry.Caller, config ReportConfig, log *slog.Logger) *ReportPipeline {
	if log == nil {
		log = slog.Default()
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = 4
	}
	if config.SignedURLTTL <= 0 {
		config.SignedURLTTL = 7 * 24 * time.Hour
	}
	if config.Render.PaperSize == "" {
		config.Render = models.RenderOptions{PaperSize: "A4", MarginInches: 0.6}
	}
	return &ReportPipeline{
		store:     store,
		objects:   objects,
		generator: generator,
		renderer:  renderer,
		caller:    caller,
		config:    config,
		log:       log,
		now:       time.Now,
	}
}

// Generate starts a report run in the background and returns its reporter.
// The run continues to completion even if the consumer detaches, so callers
// that want that should pass a context that outlives the request.
func (p *ReportPipeline) Generate(ctx context.Context, project *models.Project, kind models.ReportKind) *ProgressReporter {
	r := NewProgressReporter(defaultProgressBuffer)
	if project == nil {
		go Run(r, p.log, func() (string, error) {
			return "", Stage(msgNoProject, fmt.Errorf("generate %s report: %w", kind, ErrNoProject))
		})
		return r
	}
	logCtx := p.log.With("projectId", project.ID, "reportKind", kind, "runId", uuid.NewString())
	go Run(r, logCtx, func() (string, error) {
		return p.run(ctx, logCtx, r, project, kind)
	})
	return r
}

// sourceInput is one materialized source document.
type sourceInput struct {
	doc  *models.Document
	data []byte
}

func (p *ReportPipeline) run(ctx context.Context, logCtx *slog.Logger, r *ProgressReporter, project *models.Project, kind models.ReportKind) (string, error) {
	logCtx.Info("Starting report generation.")

	r.Status("Collecting project documents...")
	sources, err := p.resolveSources(ctx, project.ID)
	if err != nil {
		return "", Stage(msgResolve, err)
	}
	logCtx.Info("Resolved report sources.", "sourceCount", len(sources))

	r.Status(fmt.Sprintf("Reading %d document(s) from storage...", len(sources)))
	inputs, err := p.materialize(ctx, sources)
	if err != nil {
		return "", Stage(msgMaterialize, err)
	}

	r.Status("Extracting document content...")
	extracted, err := p.extract(ctx, r, inputs)
	if err != nil {
		return "", Stage(msgExtract, err)
	}
	logCtx.Info("Extraction complete.", "chars", len(extracted))

	r.Status(fmt.Sprintf("Writing the %s...", strings.ToLower(kind.Title())))
	markup, err := p.synthesize(ctx, r, kind, extracted)
	if err != nil {
		return "", Stage(msgSynthesize, err)
	}
	markup = StripCodeFences(markup)

	r.Status("Rendering PDF...")
	pdf, err := p.render(ctx, r, project, kind, markup)
	if err != nil {
		return "", Stage(msgRender, apperr.New(apperr.CategoryRender, "render report", err))
	}

	r.Status("Saving report...")
	url, err := p.publish(ctx, r, project, kind, pdf)
	if err != nil {
		return "", Stage(msgPublish, err)
	}
	logCtx.Info("Report published.", "bytes", len(pdf))
	return url, nil
}

func (p *ReportPipeline) resolveSources(ctx context.Context, projectID string) ([]*models.Document, error) {
	docs, err := p.store.ListDocuments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	var sources []*models.Document
	for _, d := range docs {
		if d.HasSource() {
			sources = append(sources, d)
		}
	}
	if len(sources) == 0 {
		return nil, apperr.ErrNoSources
	}
	return sources, nil
}

// materialize downloads every source concurrently. Any single failure cancels
// the remaining fetches and aborts the job.
func (p *ReportPipeline) materialize(ctx context.Context, sources []*models.Document) ([]sourceInput, error) {
	inputs := make([]sourceInput, len(sources))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.config.FetchConcurrency)

	for i, doc := range sources {
		eg.Go(func() error {
			data, err := p.objects.Download(gctx, doc.StorageLocator)
			if err != nil {
				return fmt.Errorf("document %s: %w", doc.ID, err)
			}
			inputs[i] = sourceInput{doc: doc, data: data}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func (p *ReportPipeline) extract(ctx context.Context, r *ProgressReporter, inputs []sourceInput) (string, error) {
	parts := make([]models.Part, 0, len(inputs)*2+1)
	for _, in := range inputs {
		parts = append(parts,
			models.TextPart(fmt.Sprintf("File: %s", displayName(in.doc))),
			models.BlobPart(detectMIMEType(in.doc), in.data),
		)
	}
	parts = append(parts, models.TextPart(ExtractionUserPrompt))

	req := models.GenerationRequest{
		SystemInstruction: ExtractionSystemPrompt,
		Contents:          []models.Content{{Role: models.RoleUser, Parts: parts}},
		Safety:            models.SafetyOptions{RelaxHarmFilters: p.config.RelaxHarmFilters},
	}
	return p.generate(ctx, r, "Extraction", req)
}

func (p *ReportPipeline) synthesize(ctx context.Context, r *ProgressReporter, kind models.ReportKind, extracted string) (string, error) {
	var prompt strings.Builder
	prompt.WriteString(SynthesisPrompt(kind))
	if kind == models.ReportCompliance && p.config.ComplianceRules != "" {
		prompt.WriteString("\n\nCompliance rules:\n")
		prompt.WriteString(p.config.ComplianceRules)
	}
	prompt.WriteString("\n\nDocuments:\n")
	prompt.WriteString(extracted)

	req := models.GenerationRequest{
		SystemInstruction: SynthesisSystemPrompt,
		Contents:          []models.Content{{Role: models.RoleUser, Parts: []models.Part{models.TextPart(prompt.String())}}},
		Safety:            models.SafetyOptions{RelaxHarmFilters: p.config.RelaxHarmFilters},
	}
	return p.generate(ctx, r, "Report writing", req)
}

// generate runs one retried generation call and rejects empty or refused output.
func (p *ReportPipeline) generate(ctx context.Context, r *ProgressReporter, label string, req models.GenerationRequest) (string, error) {
	out, err := retry.Do(ctx, p.caller, func(ctx context.Context) (string, error) {
		return p.generator.Generate(ctx, req)
	}, 0, func(attempt, maxAttempts int) {
		r.Status(fmt.Sprintf("%s hit a temporary problem, retrying (attempt %d of %d)...", label, attempt+1, maxAttempts))
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", apperr.ErrEmptyResult
	}
	if IsRefusal(out) {
		return "", apperr.New(apperr.CategorySafety, strings.ToLower(label), fmt.Errorf("model response indicates refusal: %w", apperr.ErrSafetyBlocked))
	}
	return out, nil
}

func (p *ReportPipeline) render(ctx context.Context, r *ProgressReporter, project *models.Project, kind models.ReportKind, markup string) ([]byte, error) {
	if p.renderer == nil {
		return nil, fmt.Errorf("renderer: %w", apperr.ErrNotConfigured)
	}
	page, err := RenderReportPage(ReportPage{
		Title:       kind.Title(),
		ProjectName: project.Name,
		GeneratedAt: p.now().UTC(),
		Body:        markup,
	})
	if err != nil {
		return nil, err
	}
	pdf, err := retry.Do(ctx, p.caller, func(ctx context.Context) ([]byte, error) {
		return p.renderer.RenderToDocument(ctx, page, p.config.Render)
	}, 0, func(attempt, maxAttempts int) {
		r.Status(fmt.Sprintf("Rendering hit a temporary problem, retrying (attempt %d of %d)...", attempt+1, maxAttempts))
	})
	if err != nil {
		return nil, err
	}
	if len(pdf) == 0 {
		return nil, apperr.ErrEmptyResult
	}
	return pdf, nil
}

func (p *ReportPipeline) publish(ctx context.Context, r *ProgressReporter, project *models.Project, kind models.ReportKind, pdf []byte) (string, error) {
	if p.config.ReportsPrefix == "" {
		return "", fmt.Errorf("reports location: %w", apperr.ErrNotConfigured)
	}
	slug := sanitizeFileName(project.Name)
	if slug == "" {
		slug = "project"
	}
	name := fmt.Sprintf("%s-%s-%s.pdf", kind, slug, p.now().UTC().Format("20060102T150405Z"))
	locator := storage.Join(p.config.ReportsPrefix, project.ID, name)

	_, err := retry.Do(ctx, p.caller, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.objects.Upload(ctx, pdf, locator, pdfMIMEType)
	}, 0, func(attempt, maxAttempts int) {
		r.Status(fmt.Sprintf("Saving hit a temporary problem, retrying (attempt %d of %d)...", attempt+1, maxAttempts))
	})
	if err != nil {
		return "", err
	}
	url, err := p.objects.SignedURL(ctx, locator, p.config.SignedURLTTL)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", fmt.Errorf("signed url for %s: %w", locator, apperr.ErrEmptyResult)
	}
	return url, nil
}

func displayName(doc *models.Document) string {
	if doc.OriginalFilename != "" {
		return doc.OriginalFilename
	}
	return doc.ID
}

var fencePattern = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)\r?\n?```$")

// StripCodeFences removes one enclosing ``` fence (with optional language tag).
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

var refusalPhrases = []string{
	"i am unable to",
	"i'm unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"i can't help with",
	"as a large language model",
}

// maxRefusalLength bounds what counts as a refusal. Real reports are longer.
const maxRefusalLength = 300

// IsRefusal reports whether a model response is nothing but a short refusal:
// the whole output is brief and its first character starts a refusal phrase.
// Quoted source text and long reports that happen to open with one are kept.
func IsRefusal(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" || len(trimmed) > maxRefusalLength {
		return false
	}
	for _, phrase := range refusalPhrases {
		if strings.HasPrefix(trimmed, phrase) {
			return true
		}
	}
	return false
}

var nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// sanitizeFileName converts a title into a safe object name component.
func sanitizeFileName(title string) string {
	sanitized := nonAlphanumericRegex.ReplaceAllString(strings.ToLower(title), "-")
	sanitized = strings.Trim(sanitized, "-")
	const maxLength = 60
	if len(sanitized) > maxLength {
		sanitized = strings.Trim(sanitized[:maxLength], "-")
	}
	return sanitized
}

// ReportPage is the data bound into the presentation template.
type ReportPage struct {
	Title       string
	ProjectName string
	GeneratedAt time.Time
	Body        string
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: "Helvetica Neue", Arial, sans-serif; font-size: 10.5pt; color: #1d2733; }
  header { border-bottom: 2px solid #1f4e79; margin-bottom: 18px; padding-bottom: 6px; }
  header h1 { font-size: 18pt; margin: 0; color: #1f4e79; }
  header p { margin: 2px 0 0; color: #5b6b7b; font-size: 9pt; }
  h2 { font-size: 13pt; color: #1f4e79; margin-top: 20px; }
  h3 { font-size: 11pt; }
  table { border-collapse: collapse; width: 100%; margin: 8px 0 14px; }
  th, td { border: 1px solid #c7d0d9; padding: 4px 6px; text-align: left; vertical-align: top; }
  th { background: #eef2f6; }
  tr { page-break-inside: avoid; }
</style>
</head>
<body>
<header>
  <h1>{{.Title}}</h1>
  <p>{{if .ProjectName}}{{.ProjectName}} &middot; {{end}}Generated {{.GeneratedAt.Format "2 Jan 2006 15:04 MST"}}</p>
</header>
<main>
{{.Markup}}
</main>
</body>
</html>
`))

// RenderReportPage wraps generated markup in the fixed presentation template.
func RenderReportPage(page ReportPage) (string, error) {
	var buf bytes.Buffer
	err := reportTemplate.Execute(&buf, struct {
		ReportPage
		Markup template.HTML
	}{page, template.HTML(page.Body)})
	if err != nil {
		return "", fmt.Errorf("failed to execute report template: %w", err)
	}
	return buf.String(), nil
}
