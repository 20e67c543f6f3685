package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseConfig() Config {
	return Config{
		ListenAddr:      DefaultListenAddr,
		LLMProvider:     ProviderLocal,
		DefaultModel:    DefaultModelName,
		LocalBaseURL:    "http://localhost:11434",
		SearchBaseURL:   "http://localhost:8080/search",
		MongoURI:        "mongodb://localhost:27017",
		DBName:          DefaultDBName,
		ConcurrentLimit: DefaultConcurrentLimit,
		CoolDown:        DefaultCoolDown,
		MaxResults:      DefaultMaxResults,
		MaxHTMLLength:   DefaultMaxHTMLLength,
		MaxEvalTime:     DefaultMaxEvalTime,
		PDFMaxPages:     DefaultPDFMaxPages,
		PDFMaxFilesize:  DefaultPDFMaxFilesize,
		PDFTimeout:      DefaultPDFTimeout,
		BrowseLite:      true,
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := baseConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.LLMProvider = "something_else"
	if err := ValidateConfig(bad); err == nil {
		t.Fatal("unknown provider must be rejected")
	}

	bad = cfg
	bad.LocalBaseURL = ""
	if err := ValidateConfig(bad); err == nil {
		t.Fatal("local provider without base url must be rejected")
	}

	bad = cfg
	bad.MongoURI = ""
	if err := ValidateConfig(bad); err == nil {
		t.Fatal("missing mongo uri must be rejected")
	}

	compat := cfg
	compat.LLMProvider = ProviderOpenAICompatible
	compat.OpenAIBaseURL = "https://api.example.com/v1"
	if err := ValidateConfig(compat); err != nil {
		t.Fatalf("openai_compatible config rejected: %v", err)
	}
}

func TestApplyFileConfig_OverlaysDefaultsOnly(t *testing.T) {
	cfg := baseConfig()
	cfg.ReasonModel = "" // unset, file should fill it
	cfg.APIKey = "flag-key"

	var fc FileConfig
	fc.LLM.ReasonModel = "deep-thinker"
	fc.LLM.APIKey = "file-key"
	fc.Search.MaxResults = 9
	fc.Fetch.CoolDown = 2 * time.Second
	lite := false
	fc.Fetch.BrowseLite = &lite
	fc.RateLimit.RequestsPerMinute = 30
	fc.Research.OperationWaitTime = 5 * time.Second

	ApplyFileConfig(&cfg, fc)

	if cfg.ReasonModel != "deep-thinker" {
		t.Fatalf("reason model not overlaid: %q", cfg.ReasonModel)
	}
	if cfg.APIKey != "flag-key" {
		t.Fatalf("explicit flag value must win, got %q", cfg.APIKey)
	}
	if cfg.MaxResults != 9 {
		t.Fatalf("max results not overlaid: %d", cfg.MaxResults)
	}
	if cfg.CoolDown != 2*time.Second {
		t.Fatalf("cool down not overlaid: %v", cfg.CoolDown)
	}
	if cfg.BrowseLite {
		t.Fatal("browse_lite=false in file must disable lite mode")
	}
	if cfg.RequestsPerMinute != 30 {
		t.Fatalf("rate limit not overlaid: %d", cfg.RequestsPerMinute)
	}
	if cfg.OperationWaitTime != 5*time.Second {
		t.Fatalf("operation wait not overlaid: %v", cfg.OperationWaitTime)
	}
}

func TestLoadConfigFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
llm:
  provider: openai_compatible
  default_model: big-model
  fallback_model: small-model
search:
  base_url: http://searx:8080/search
persistence:
  mongo_uri: mongodb://mongo:27017
  db_name: research
fetch:
  concurrent_limit: 5
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if fc.LLM.Provider != "openai_compatible" || fc.LLM.DefaultModel != "big-model" {
		t.Fatalf("llm section misparsed: %+v", fc.LLM)
	}
	if fc.LLM.FallbackModel != "small-model" {
		t.Fatalf("fallback model misparsed: %q", fc.LLM.FallbackModel)
	}
	if fc.Persistence.DBName != "research" {
		t.Fatalf("persistence misparsed: %+v", fc.Persistence)
	}
	if fc.Fetch.ConcurrentLimit != 5 {
		t.Fatalf("fetch misparsed: %+v", fc.Fetch)
	}
}

func TestLoadConfigFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"llm":{"provider":"local","local_base_url":"http://ollama:11434"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	fc, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if fc.LLM.Provider != "local" || fc.LLM.LocalBaseURL != "http://ollama:11434" {
		t.Fatalf("json config misparsed: %+v", fc.LLM)
	}
}
