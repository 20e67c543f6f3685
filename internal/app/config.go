// Package app wires configuration into the running server: providers,
// searcher, scheduler, fetcher, store, orchestrator, and the HTTP layer.
package app

import (
	"errors"
	"fmt"
	"time"
)

// Provider kinds for the primary LLM backend.
const (
	ProviderLocal            = "local"
	ProviderOpenAICompatible = "openai_compatible"
)

// Config holds runtime configuration for the server.
type Config struct {
	ListenAddr string

	// LLM
	LLMProvider   string
	DefaultModel  string
	ReasonModel   string
	DefaultCtx    int
	ReasonCtx     int
	LocalBaseURL  string
	OpenAIBaseURL string
	APIKey        string
	FallbackModel string

	// Rate limiting for the default model; <=0 disables.
	RequestsPerMinute int

	// Search
	SearchBaseURL string
	MaxResults    int

	// Fetch
	ConcurrentLimit int
	CoolDown        time.Duration
	UseReader       bool
	ReaderBaseURL   string
	ReaderAPIKey    string
	BrowseLite      bool
	MaxHTMLLength   int
	MaxEvalTime     time.Duration
	VerboseWebParse bool

	// PDF extraction bounds
	PDFMaxPages    int
	PDFMaxFilesize int64
	PDFTimeout     time.Duration

	// Persistence
	MongoURI string
	DBName   string

	// Research loop
	OperationWaitTime time.Duration

	Verbose bool
}

// Defaults mirrored by the flag definitions in main.
const (
	DefaultListenAddr      = ":8000"
	DefaultModelName       = "deep_researcher"
	DefaultConcurrentLimit = 3
	DefaultCoolDown        = time.Second
	DefaultMaxResults      = 4
	DefaultMaxHTMLLength   = 1_000_000
	DefaultMaxEvalTime     = 30 * time.Second
	DefaultPDFMaxPages     = 10
	DefaultPDFMaxFilesize  = 10 * 1024 * 1024
	DefaultPDFTimeout      = 60 * time.Second
	DefaultDBName          = "deep_search"
)

// ValidateConfig performs minimal schema validation for required
// settings.
func ValidateConfig(cfg Config) error {
	switch cfg.LLMProvider {
	case ProviderLocal:
		if cfg.LocalBaseURL == "" {
			return errors.New("config: llm.local_base_url is required for the local provider")
		}
	case ProviderOpenAICompatible:
		if cfg.OpenAIBaseURL == "" {
			return errors.New("config: llm.openai_base_url is required for the openai_compatible provider")
		}
	default:
		return fmt.Errorf("config: unknown llm.provider %q", cfg.LLMProvider)
	}
	if cfg.DefaultModel == "" {
		return errors.New("config: llm.default_model is required")
	}
	if cfg.SearchBaseURL == "" {
		return errors.New("config: search.base_url is required")
	}
	if cfg.MongoURI == "" {
		return errors.New("config: persistence.mongo_uri is required")
	}
	if cfg.ConcurrentLimit < 0 || cfg.MaxResults < 0 || cfg.MaxHTMLLength < 0 || cfg.PDFMaxPages < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	return nil
}
