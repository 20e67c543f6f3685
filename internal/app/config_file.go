package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema. Nested
// sections map naturally to flags and environment variables.
type FileConfig struct {
	Listen string `yaml:"listen" json:"listen"`

	LLM struct {
		Provider      string `yaml:"provider" json:"provider"`
		DefaultModel  string `yaml:"default_model" json:"default_model"`
		ReasonModel   string `yaml:"reason_model" json:"reason_model"`
		DefaultCtx    int    `yaml:"default_ctx" json:"default_ctx"`
		ReasonCtx     int    `yaml:"reason_ctx" json:"reason_ctx"`
		LocalBaseURL  string `yaml:"local_base_url" json:"local_base_url"`
		OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`
		APIKey        string `yaml:"api_key" json:"api_key"`
		FallbackModel string `yaml:"fallback_model" json:"fallback_model"`
	} `yaml:"llm" json:"llm"`

	RateLimit struct {
		RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	} `yaml:"ratelimit" json:"ratelimit"`

	Search struct {
		BaseURL    string `yaml:"base_url" json:"base_url"`
		MaxResults int    `yaml:"max_results" json:"max_results"`
	} `yaml:"search" json:"search"`

	Fetch struct {
		ConcurrentLimit int           `yaml:"concurrent_limit" json:"concurrent_limit"`
		CoolDown        time.Duration `yaml:"cool_down" json:"cool_down"`
		UseReader       bool          `yaml:"use_reader" json:"use_reader"`
		ReaderBaseURL   string        `yaml:"reader_base_url" json:"reader_base_url"`
		ReaderAPIKey    string        `yaml:"reader_api_key" json:"reader_api_key"`
		BrowseLite      *bool         `yaml:"browse_lite" json:"browse_lite"`
		MaxHTMLLength   int           `yaml:"max_html_length" json:"max_html_length"`
		MaxEvalTime     time.Duration `yaml:"max_eval_time" json:"max_eval_time"`
		VerboseWebParse bool          `yaml:"verbose_web_parse" json:"verbose_web_parse"`
	} `yaml:"fetch" json:"fetch"`

	PDF struct {
		MaxPages    int           `yaml:"max_pages" json:"max_pages"`
		MaxFilesize int64         `yaml:"max_filesize" json:"max_filesize"`
		Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"pdf" json:"pdf"`

	Persistence struct {
		MongoURI string `yaml:"mongo_uri" json:"mongo_uri"`
		DBName   string `yaml:"db_name" json:"db_name"`
	} `yaml:"persistence" json:"persistence"`

	Research struct {
		OperationWaitTime time.Duration `yaml:"operation_wait_time" json:"operation_wait_time"`
	} `yaml:"research" json:"research"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any
// fields that are currently unset or still at their flag default. Flags
// should already have been parsed; this lets file config supply
// defaults while preserving explicit flags.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	if (cfg.ListenAddr == "" || cfg.ListenAddr == DefaultListenAddr) && fc.Listen != "" {
		cfg.ListenAddr = fc.Listen
	}

	if cfg.LLMProvider == "" && fc.LLM.Provider != "" {
		cfg.LLMProvider = fc.LLM.Provider
	}
	if (cfg.DefaultModel == "" || cfg.DefaultModel == DefaultModelName) && fc.LLM.DefaultModel != "" {
		cfg.DefaultModel = fc.LLM.DefaultModel
	}
	if cfg.ReasonModel == "" && fc.LLM.ReasonModel != "" {
		cfg.ReasonModel = fc.LLM.ReasonModel
	}
	if cfg.DefaultCtx == 0 && fc.LLM.DefaultCtx > 0 {
		cfg.DefaultCtx = fc.LLM.DefaultCtx
	}
	if cfg.ReasonCtx == 0 && fc.LLM.ReasonCtx > 0 {
		cfg.ReasonCtx = fc.LLM.ReasonCtx
	}
	if cfg.LocalBaseURL == "" && fc.LLM.LocalBaseURL != "" {
		cfg.LocalBaseURL = fc.LLM.LocalBaseURL
	}
	if cfg.OpenAIBaseURL == "" && fc.LLM.OpenAIBaseURL != "" {
		cfg.OpenAIBaseURL = fc.LLM.OpenAIBaseURL
	}
	if cfg.APIKey == "" && fc.LLM.APIKey != "" {
		cfg.APIKey = fc.LLM.APIKey
	}
	if cfg.FallbackModel == "" && fc.LLM.FallbackModel != "" {
		cfg.FallbackModel = fc.LLM.FallbackModel
	}
	if cfg.RequestsPerMinute == 0 && fc.RateLimit.RequestsPerMinute != 0 {
		cfg.RequestsPerMinute = fc.RateLimit.RequestsPerMinute
	}

	if cfg.SearchBaseURL == "" && fc.Search.BaseURL != "" {
		cfg.SearchBaseURL = fc.Search.BaseURL
	}
	if (cfg.MaxResults == 0 || cfg.MaxResults == DefaultMaxResults) && fc.Search.MaxResults > 0 {
		cfg.MaxResults = fc.Search.MaxResults
	}

	if (cfg.ConcurrentLimit == 0 || cfg.ConcurrentLimit == DefaultConcurrentLimit) && fc.Fetch.ConcurrentLimit > 0 {
		cfg.ConcurrentLimit = fc.Fetch.ConcurrentLimit
	}
	if (cfg.CoolDown == 0 || cfg.CoolDown == DefaultCoolDown) && fc.Fetch.CoolDown > 0 {
		cfg.CoolDown = fc.Fetch.CoolDown
	}
	if !cfg.UseReader && fc.Fetch.UseReader {
		cfg.UseReader = true
	}
	if cfg.ReaderBaseURL == "" && fc.Fetch.ReaderBaseURL != "" {
		cfg.ReaderBaseURL = fc.Fetch.ReaderBaseURL
	}
	if cfg.ReaderAPIKey == "" && fc.Fetch.ReaderAPIKey != "" {
		cfg.ReaderAPIKey = fc.Fetch.ReaderAPIKey
	}
	if fc.Fetch.BrowseLite != nil {
		cfg.BrowseLite = *fc.Fetch.BrowseLite
	}
	if (cfg.MaxHTMLLength == 0 || cfg.MaxHTMLLength == DefaultMaxHTMLLength) && fc.Fetch.MaxHTMLLength > 0 {
		cfg.MaxHTMLLength = fc.Fetch.MaxHTMLLength
	}
	if (cfg.MaxEvalTime == 0 || cfg.MaxEvalTime == DefaultMaxEvalTime) && fc.Fetch.MaxEvalTime > 0 {
		cfg.MaxEvalTime = fc.Fetch.MaxEvalTime
	}
	if !cfg.VerboseWebParse && fc.Fetch.VerboseWebParse {
		cfg.VerboseWebParse = true
	}

	if (cfg.PDFMaxPages == 0 || cfg.PDFMaxPages == DefaultPDFMaxPages) && fc.PDF.MaxPages > 0 {
		cfg.PDFMaxPages = fc.PDF.MaxPages
	}
	if (cfg.PDFMaxFilesize == 0 || cfg.PDFMaxFilesize == DefaultPDFMaxFilesize) && fc.PDF.MaxFilesize > 0 {
		cfg.PDFMaxFilesize = fc.PDF.MaxFilesize
	}
	if (cfg.PDFTimeout == 0 || cfg.PDFTimeout == DefaultPDFTimeout) && fc.PDF.Timeout > 0 {
		cfg.PDFTimeout = fc.PDF.Timeout
	}

	if cfg.MongoURI == "" && fc.Persistence.MongoURI != "" {
		cfg.MongoURI = fc.Persistence.MongoURI
	}
	if (cfg.DBName == "" || cfg.DBName == DefaultDBName) && fc.Persistence.DBName != "" {
		cfg.DBName = fc.Persistence.DBName
	}

	if cfg.OperationWaitTime == 0 && fc.Research.OperationWaitTime > 0 {
		cfg.OperationWaitTime = fc.Research.OperationWaitTime
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
}
