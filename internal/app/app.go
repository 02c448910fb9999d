// Package app is the composition root. Every client is created once here and
// injected into the services that use it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"github.com/Lllllllleong/engineeringdocs/internal/api"
	"github.com/Lllllllleong/engineeringdocs/internal/config"
	"github.com/Lllllllleong/engineeringdocs/internal/gcp"
	"github.com/Lllllllleong/engineeringdocs/internal/minio"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/render"
	"github.com/Lllllllleong/engineeringdocs/internal/retry"
	"github.com/Lllllllleong/engineeringdocs/internal/services"
	"github.com/Lllllllleong/engineeringdocs/internal/storage"
	"github.com/Lllllllleong/engineeringdocs/internal/vector"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config     *config.Config
	Store      *gcp.FirestoreStore
	Objects    *storage.Router
	Caller     *retry.Caller
	Machine    *services.StateMachine
	Dispatcher services.Dispatcher
	Reports    *services.ReportPipeline
	Chat       *services.ChatPipeline
	Handler    http.Handler

	gemini  *gcp.GeminiClient
	log     *slog.Logger
	closers []func() error
}

// BuildActivation wires the parts needed to advance documents: the entity
// store, object storage, the AI file registry and the state machine.
func BuildActivation(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}
	if err := a.buildActivation(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Build wires everything, including the report and chat pipelines and the HTTP router.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}
	if err := a.buildActivation(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.buildServing(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildActivation(ctx context.Context) error {
	cfg := a.Config

	fsClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, fsClient.Close)
	a.Store = gcp.NewFirestoreStore(fsClient, cfg.ProjectsCollection)

	gcsClient, err := gcs.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	a.closers = append(a.closers, gcsClient.Close)
	a.Objects = storage.NewRouter().Register(gcp.NewGCSStore(gcsClient), "gs")

	if cfg.MinIOEndpoint != "" {
		store, err := minio.New(ctx, minio.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Secure:    cfg.MinIOSecure,
		})
		if err != nil {
			return err
		}
		a.Objects.Register(store, "s3", "minio")
	}

	a.Caller = retry.New(
		retry.WithMaxAttempts(cfg.RetryMaxAttempts),
		retry.WithBaseDelay(cfg.RetryBaseDelay),
		retry.WithLogger(a.log),
	)

	var registry services.FileRegistry
	if cfg.GeminiAPIKey != "" {
		a.gemini, err = gcp.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GenerationModel, cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.gemini.Close)
		registry = a.gemini
	} else {
		a.log.Warn("GEMINI_API_KEY is not set; documents cannot be activated.")
	}

	ingestor := services.NewDocumentIngestor(a.Objects, registry, a.Caller, cfg.LocalCacheDir, a.log)
	poller := services.NewActivationPoller(registry, a.log,
		services.WithPollInterval(cfg.PollInterval),
		services.WithPollMaxAttempts(cfg.PollMaxAttempts),
	)
	a.Machine = services.NewStateMachine(a.Store, ingestor, poller, a.log)
	return nil
}

func (a *App) buildServing(ctx context.Context) error {
	cfg := a.Config

	var generator services.Generator
	switch cfg.AIProvider {
	case "vertex":
		vg, err := gcp.NewVertexGenerator(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.GenerationModel)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, vg.Close)
		generator = vg
	default:
		if a.gemini == nil {
			return errors.New("AI_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		generator = a.gemini
	}

	switch cfg.Dispatcher {
	case "workflows":
		wd, err := gcp.NewWorkflowDispatcher(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID, a.log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, wd.Close)
		a.Dispatcher = wd
	default:
		a.Dispatcher = services.NewLocalDispatcher(a.Machine, a.log)
	}

	var embedder services.Embedder
	var searcher services.SimilaritySearcher
	if cfg.MilvusAddress != "" && a.gemini != nil {
		ms, mc, err := vector.Dial(ctx, cfg.MilvusAddress, cfg.MilvusCollection, cfg.MilvusMetric, cfg.MilvusNProbe, a.log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, mc.Close)
		embedder, searcher = a.gemini, ms
	}

	var renderer services.Renderer
	if cfg.RendererURL != "" {
		renderer = render.NewHTTPRenderer(cfg.RendererURL, 0)
	} else {
		a.log.Warn("RENDERER_URL is not set; reports cannot be rendered.")
	}

	rules, err := config.LoadRules(cfg.ComplianceRulesPath)
	if err != nil {
		return err
	}

	a.Reports = services.NewReportPipeline(a.Store, a.Objects, generator, renderer, a.Caller, services.ReportConfig{
		ReportsPrefix:    cfg.ReportsLocatorPrefix,
		SignedURLTTL:     cfg.SignedURLTTL,
		FetchConcurrency: cfg.FetchConcurrency,
		RelaxHarmFilters: cfg.RelaxHarmFilters,
		ComplianceRules:  rules.Corpus(),
		Render:           models.RenderOptions{PaperSize: "A4", MarginInches: 0.6},
	}, a.log)
	a.Chat = services.NewChatPipeline(a.Store, generator, embedder, searcher, a.Caller, services.ChatConfig{
		TopK:             cfg.ChatTopK,
		HistoryTurns:     cfg.ChatHistoryTurns,
		RelaxHarmFilters: cfg.RelaxHarmFilters,
	}, a.log)

	var guard api.ReportGuard = api.NewMemoryReportGuard()
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, rc.Close)
		guard = api.NewRedisReportGuard(rc, cfg.ReportLockTTL)
	}

	a.Handler = api.NewRouter(api.Dependencies{
		Auth:       api.NewAuthenticator(cfg.JWTSecret),
		Projects:   a.Store,
		Activation: a.Machine,
		Dispatcher: a.Dispatcher,
		Reports:    a.Reports,
		Chat:       a.Chat,
		Guard:      guard,
		Log:        a.log,
	})
	return nil
}

// Drain waits for locally dispatched activations to finish.
func (a *App) Drain(ctx context.Context) error {
	if ld, ok := a.Dispatcher.(*services.LocalDispatcher); ok {
		return ld.Wait(ctx)
	}
	return nil
}

// Close releases clients in reverse creation order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
