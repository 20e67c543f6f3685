package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env is optional; real env vars win over it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	var (
		cfg        app.Config
		configPath string
		rpm        int
	)

	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "Path to YAML or JSON config file")
	flag.StringVar(&cfg.ListenAddr, "listen", envOr("LISTEN_ADDR", app.DefaultListenAddr), "HTTP listen address")

	flag.StringVar(&cfg.LLMProvider, "llm.provider", envOr("LLM_PROVIDER", app.ProviderLocal), "LLM provider: local or openai_compatible")
	flag.StringVar(&cfg.DefaultModel, "llm.default_model", envOr("DEFAULT_MODEL", app.DefaultModelName), "Default model for query generation, extraction, and reports")
	flag.StringVar(&cfg.ReasonModel, "llm.reason_model", os.Getenv("REASON_MODEL"), "Reasoning model for planning and judging")
	flag.IntVar(&cfg.DefaultCtx, "llm.default_ctx", 0, "Context window for the default model; <=2000 omits the hint")
	flag.IntVar(&cfg.ReasonCtx, "llm.reason_ctx", 0, "Context window for the reasoning model; <=2000 omits the hint")
	flag.StringVar(&cfg.LocalBaseURL, "llm.local_base", os.Getenv("LOCAL_BASE_URL"), "Local chat API base URL")
	flag.StringVar(&cfg.OpenAIBaseURL, "llm.openai_base", os.Getenv("OPENAI_BASE_URL"), "OpenAI-compatible base URL")
	flag.StringVar(&cfg.APIKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for the OpenAI-compatible server")
	flag.StringVar(&cfg.FallbackModel, "llm.fallback_model", os.Getenv("FALLBACK_MODEL"), "Model retried once after empty or rate/context errors")
	flag.IntVar(&rpm, "ratelimit.rpm", -1, "Requests per minute for the default model; <=0 disables")

	flag.StringVar(&cfg.SearchBaseURL, "search.base", os.Getenv("SEARXNG_BASE_URL"), "SearxNG base URL")
	flag.IntVar(&cfg.MaxResults, "search.max_results", app.DefaultMaxResults, "Default per-query link cap")

	flag.IntVar(&cfg.ConcurrentLimit, "fetch.concurrent", app.DefaultConcurrentLimit, "Global fetch parallelism")
	flag.DurationVar(&cfg.CoolDown, "fetch.cooldown", app.DefaultCoolDown, "Per-domain cooldown between fetches")
	flag.BoolVar(&cfg.UseReader, "fetch.use_reader", false, "Fetch pages through a remote reader service")
	flag.StringVar(&cfg.ReaderBaseURL, "fetch.reader_base", os.Getenv("READER_BASE_URL"), "Remote reader base URL")
	flag.StringVar(&cfg.ReaderAPIKey, "fetch.reader_key", os.Getenv("READER_API_KEY"), "Remote reader API key")
	flag.BoolVar(&cfg.BrowseLite, "fetch.browse_lite", true, "Extract innerText only instead of full render plus markdown conversion")
	flag.IntVar(&cfg.MaxHTMLLength, "fetch.max_html_length", app.DefaultMaxHTMLLength, "Cleaned HTML truncation length in full mode")
	flag.DurationVar(&cfg.MaxEvalTime, "fetch.max_eval_time", app.DefaultMaxEvalTime, "HTML cleanup time bound in full mode")
	flag.BoolVar(&cfg.VerboseWebParse, "fetch.verbose_web_parse", false, "Stream extracted-context previews")

	flag.IntVar(&cfg.PDFMaxPages, "pdf.max_pages", app.DefaultPDFMaxPages, "Maximum PDF pages to extract")
	flag.Int64Var(&cfg.PDFMaxFilesize, "pdf.max_filesize", app.DefaultPDFMaxFilesize, "Maximum PDF download size in bytes")
	flag.DurationVar(&cfg.PDFTimeout, "pdf.timeout", app.DefaultPDFTimeout, "PDF extraction time bound")

	flag.StringVar(&cfg.MongoURI, "mongo.uri", os.Getenv("MONGO_URI"), "MongoDB connection URI")
	flag.StringVar(&cfg.DBName, "mongo.db", envOr("MONGO_DB", app.DefaultDBName), "MongoDB database name")

	flag.DurationVar(&cfg.OperationWaitTime, "research.wait", 0, "Pause between research iterations")
	flag.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	flag.Parse()

	cfg.RequestsPerMinute = rpm

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if configPath != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("config file load failed")
		}
		app.ApplyFileConfig(&cfg, fc)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("mongo disconnect failed")
		}
	}()

	if err := a.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
