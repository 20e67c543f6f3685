package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hyperifyio/deepresearch/internal/api"
	"github.com/hyperifyio/deepresearch/internal/fetch"
	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/research"
	"github.com/hyperifyio/deepresearch/internal/schedule"
	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/store"
)

// App is the assembled server.
type App struct {
	Config Config

	Mongo        *mongo.Client
	Store        *store.Store
	Provider     llm.Provider
	Searcher     search.Searcher
	Scheduler    *schedule.Scheduler
	Fetcher      *fetch.Fetcher
	Orchestrator *research.Orchestrator
	Server       *http.Server
}

// New builds every component from the configuration and connects to
// Mongo. Close must be called to release the client.
func New(ctx context.Context, cfg Config) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	dbName := cfg.DBName
	if dbName == "" {
		dbName = DefaultDBName
	}
	st := store.New(client.Database(dbName))

	provider, err := buildProvider(cfg)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	// The markdown conversion model always speaks the local protocol.
	var reader llm.Provider
	if cfg.LocalBaseURL != "" {
		reader = &llm.Local{BaseURL: cfg.LocalBaseURL}
	}

	scheduler := schedule.New(cfg.ConcurrentLimit, cfg.CoolDown)
	fetcher := &fetch.Fetcher{
		Scheduler:      scheduler,
		UseReader:      cfg.UseReader,
		ReaderBaseURL:  cfg.ReaderBaseURL,
		ReaderAPIKey:   cfg.ReaderAPIKey,
		BrowseLite:     cfg.BrowseLite,
		MaxHTMLLength:  cfg.MaxHTMLLength,
		MaxEvalTime:    cfg.MaxEvalTime,
		Reader:         reader,
		ReaderModel:    cfg.ReasonModel,
		PDFMaxPages:    cfg.PDFMaxPages,
		PDFMaxFilesize: cfg.PDFMaxFilesize,
		PDFTimeout:     cfg.PDFTimeout,
	}
	searcher := &search.SearxNG{BaseURL: cfg.SearchBaseURL}

	orchestrator := &research.Orchestrator{
		Provider:          provider,
		Searcher:          searcher,
		Fetcher:           fetcher,
		Store:             st,
		DefaultModel:      cfg.DefaultModel,
		ReasonModel:       cfg.ReasonModel,
		DefaultCtx:        cfg.DefaultCtx,
		ReasonCtx:         cfg.ReasonCtx,
		MaxResults:        cfg.MaxResults,
		OperationWaitTime: cfg.OperationWaitTime,
		VerboseWebParse:   cfg.VerboseWebParse,
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(st, orchestrator).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:       cfg,
		Mongo:        client,
		Store:        st,
		Provider:     provider,
		Searcher:     searcher,
		Scheduler:    scheduler,
		Fetcher:      fetcher,
		Orchestrator: orchestrator,
		Server:       server,
	}, nil
}

func buildProvider(cfg Config) (llm.Provider, error) {
	switch cfg.LLMProvider {
	case ProviderLocal:
		return &llm.Local{BaseURL: cfg.LocalBaseURL}, nil
	case ProviderOpenAICompatible:
		return &llm.OpenAICompatible{
			Client:            llm.NewOpenAICompatible(cfg.OpenAIBaseURL, cfg.APIKey),
			DefaultModel:      cfg.DefaultModel,
			FallbackModel:     cfg.FallbackModel,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// Run verifies stored sessions, serves HTTP, and shuts down gracefully
// when the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.Store.Verify(ctx); err != nil {
		log.Warn().Err(err).Msg("integrity sweep incomplete")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.Server.Addr).Msg("listening")
		errCh <- a.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// Close releases the Mongo client.
func (a *App) Close(ctx context.Context) error {
	if a.Mongo == nil {
		return nil
	}
	return a.Mongo.Disconnect(ctx)
}
