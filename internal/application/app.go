package application

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bsrbot/bsr/internal/application/usecase"
	"github.com/bsrbot/bsr/internal/infrastructure/config"
	"github.com/bsrbot/bsr/internal/infrastructure/httpx"
	"github.com/bsrbot/bsr/internal/infrastructure/karakeep"
	"github.com/bsrbot/bsr/internal/infrastructure/llm"
	_ "github.com/bsrbot/bsr/internal/infrastructure/llm/anthropic"  // register anthropic provider factory
	_ "github.com/bsrbot/bsr/internal/infrastructure/llm/openai"     // register openai provider factory
	_ "github.com/bsrbot/bsr/internal/infrastructure/llm/openrouter" // register openrouter provider factory
	"github.com/bsrbot/bsr/internal/infrastructure/persistence"
	"github.com/bsrbot/bsr/internal/infrastructure/scrape"
	"github.com/bsrbot/bsr/internal/infrastructure/youtube"
	"github.com/bsrbot/bsr/internal/interfaces/httpapi"
	"github.com/bsrbot/bsr/internal/interfaces/telegram"
	syncsvc "github.com/bsrbot/bsr/internal/sync"
	"github.com/bsrbot/bsr/pkg/safego"
)

// App is the dependency-injection container: it wires the persistence,
// infrastructure and interface layers and owns their lifecycle.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	store      *persistence.Store
	llmClient  *llm.Client
	scraper    *scrape.Client
	videos     *youtube.Pipeline
	syncSvc    *syncsvc.Service
	summarizer *usecase.Summarizer

	httpServer *httpapi.Server
	bot        *telegram.Bot
	scheduler  *cron.Cron

	cancel context.CancelFunc
}

// NewApp builds the full object graph from configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initPersistence(); err != nil {
		return nil, fmt.Errorf("failed to init persistence: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	return app, nil
}

func (a *App) initPersistence() error {
	db, err := persistence.NewDBConnection(&a.config.Database)
	if err != nil {
		return err
	}
	a.db = db
	a.store = persistence.NewStore(db)
	a.logger.Info("Database initialized", zap.String("type", a.config.Database.Type))
	return nil
}

func (a *App) initInfrastructure() error {
	cfg := a.config

	builder, err := llm.CreateBuilder(llm.BuilderConfig{
		Name:          cfg.LLM.Provider.Name,
		Type:          cfg.LLM.Provider.Type,
		BaseURL:       cfg.LLM.Provider.BaseURL,
		APIKey:        cfg.LLM.Provider.APIKey,
		OrgID:         cfg.LLM.Provider.OrgID,
		ProviderOrder: cfg.LLM.Provider.ProviderOrder,
	}, a.logger)
	if err != nil {
		return err
	}
	breaker := llm.NewCircuitBreaker(
		cfg.LLM.Breaker.FailureThreshold,
		cfg.LLM.Breaker.SuccessThreshold,
		cfg.LLM.Breaker.Timeout,
	)
	a.llmClient = llm.NewClient(builder, llm.ClientConfig{
		Model:             cfg.LLM.Model,
		FallbackModels:    cfg.LLM.FallbackModels,
		Temperature:       cfg.LLM.Temperature,
		MaxTokens:         cfg.LLM.MaxTokens,
		MaxRetries:        cfg.LLM.MaxRetries,
		RequestTimeout:    cfg.LLM.RequestTimeout,
		RetryBaseWait:     cfg.LLM.RetryBaseWait,
		RetryMaxWait:      cfg.LLM.RetryMaxWait,
		StructuredOutputs: cfg.LLM.StructuredOutputs,
		MaxConcurrent:     cfg.LLM.MaxConcurrent,
		MaxResponseBytes:  cfg.LLM.MaxResponseBytes,
		DebugPayloads:     cfg.Log.DebugPayloads,
	}, breaker, httpx.DefaultPool, a.logger)

	if cfg.Firecrawl.APIKey != "" {
		scraper, err := scrape.New(cfg.Firecrawl, a.logger)
		if err != nil {
			return err
		}
		a.scraper = scraper
	} else {
		a.logger.Warn("No content-extraction API key configured, article ingestion disabled")
	}

	transcripts := youtube.NewTranscriptService(cfg.YouTube.TranscriptAPIURL, cfg.YouTube.TranscriptTimeout, a.logger)
	downloader := youtube.NewDownloader(cfg.YouTube.Quality, cfg.YouTube.Languages, a.logger)
	a.videos = youtube.NewPipeline(cfg.YouTube, a.store, transcripts, downloader, a.logger)

	a.syncSvc = syncsvc.NewService(cfg.Sync, a.store, func() (*karakeep.Client, error) {
		return karakeep.New(cfg.Karakeep, a.logger)
	}, a.logger)

	a.summarizer = usecase.NewSummarizer(a.store, a.llmClient, a.scraper, a.videos, a.logger)
	return nil
}

func (a *App) initInterfaces() error {
	cfg := a.config

	a.httpServer = httpapi.NewServer(cfg.API, a.summarizer, a.syncSvc, a.store, a.logger)

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		bot, err := telegram.NewBot(cfg.Telegram, a.summarizer, a.syncSvc, a.logger)
		if err != nil {
			return err
		}
		a.bot = bot
	}

	if cfg.Sync.Enabled && cfg.Sync.CronSpec != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(cfg.Sync.CronSpec, a.runScheduledSync)
		if err != nil {
			return fmt.Errorf("invalid sync cron spec %q: %w", cfg.Sync.CronSpec, err)
		}
		a.scheduler = scheduler
	}

	return nil
}

// Start brings up all interfaces. It returns immediately; the caller waits
// for a shutdown signal.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.httpServer.Start(ctx); err != nil {
		return err
	}

	if a.bot != nil {
		safego.Go(a.logger, "telegram-bot", func() {
			a.bot.Start(ctx)
		})
	}

	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("Sync scheduler started", zap.String("spec", a.config.Sync.CronSpec))
	}

	return nil
}

// Stop shuts everything down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	if a.scheduler != nil {
		<-a.scheduler.Stop().Done()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.httpServer.Stop(ctx); err != nil {
		return err
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}

func (a *App) runScheduledSync() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	full := a.syncSvc.RunFullSync(ctx, nil, 0, false)
	a.logger.Info("Scheduled sync finished",
		zap.Int("outbound_synced", full.Outbound.Synced),
		zap.Int("outbound_failed", full.Outbound.Failed),
		zap.Int("status_checked", full.Status.Checked),
		zap.Int("errors", len(full.Outbound.Errors)+len(full.Status.Errors)),
	)
}

// Summarizer exposes the ingestion use case for alternative frontends.
func (a *App) Summarizer() *usecase.Summarizer {
	return a.summarizer
}

// SyncService exposes the sync facade for alternative frontends.
func (a *App) SyncService() *syncsvc.Service {
	return a.syncSvc
}

// Logger exposes the process logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}
