// Package config holds the service configuration, its defaults and its
// validation rules.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/pkg/terminology/artifact"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// Config is the full service configuration.
type Config struct {
	Log       logging.Config  `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Glossary  GlossaryConfig  `mapstructure:"glossary"`
	Index     IndexConfig     `mapstructure:"index"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // debug | release | test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	MaxBatch        int           `mapstructure:"max_batch"`
}

type GlossaryConfig struct {
	Path     string        `mapstructure:"path"`
	Watch    bool          `mapstructure:"watch"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type IndexConfig struct {
	BuildOnStart   bool `mapstructure:"build_on_start"`
	IncludeContext bool `mapstructure:"include_context"`
	// IncludeVariants defaults to true when loaded through Load.
	IncludeVariants bool `mapstructure:"include_variants"`
	ContextChars    int  `mapstructure:"context_chars"`
	BatchSize       int  `mapstructure:"batch_size"`
}

type AnalyzerConfig struct {
	// MorphURL points at the morphological sidecar; empty uses the rule analyzer only.
	MorphURL     string        `mapstructure:"morph_url"`
	Models       []string      `mapstructure:"models"`
	Timeout      time.Duration `mapstructure:"timeout"`
	LexiconPath  string        `mapstructure:"lexicon_path"`
	StoplistPath string        `mapstructure:"stoplist_path"`
}

type EncoderConfig struct {
	Kind    string        `mapstructure:"kind"` // hash | http | onnx
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Dims    int           `mapstructure:"dims"`
	Timeout time.Duration `mapstructure:"timeout"`

	ONNXModelPath     string `mapstructure:"onnx_model_path"`
	ONNXTokenizerPath string `mapstructure:"onnx_tokenizer_path"`
	ONNXLibrary       string `mapstructure:"onnx_library"`
	MaxTokens         int    `mapstructure:"max_tokens"`
}

type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
	Prefix    string        `mapstructure:"prefix"`
}

type FallbackConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retries  int           `mapstructure:"retries"`
	Backoff  time.Duration `mapstructure:"backoff"`
	MaxChars int           `mapstructure:"max_chars"`
}

type EngineConfig struct {
	K                int           `mapstructure:"k"`
	Threshold        float64       `mapstructure:"threshold"`
	ContextWindow    int           `mapstructure:"context_window"`
	EncoderTimeout   time.Duration `mapstructure:"encoder_timeout"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	MaxExamples      int           `mapstructure:"max_examples"`
}

type CatalogConfig struct {
	// Path of the SQLite catalog; empty keeps the catalog in memory.
	Path string `mapstructure:"path"`
}

type ArtifactsConfig struct {
	Kind     string               `mapstructure:"kind"` // file | minio | none
	Dir      string               `mapstructure:"dir"`
	CacheDir string               `mapstructure:"cache_dir"`
	Minio    artifact.MinioConfig `mapstructure:"minio"`
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 4 << 20
	}
	if c.Server.MaxBatch == 0 {
		c.Server.MaxBatch = 64
	}

	if c.Glossary.Debounce == 0 {
		c.Glossary.Debounce = 2 * time.Second
	}

	if c.Index.ContextChars == 0 {
		c.Index.ContextChars = 160
	}
	if c.Index.BatchSize == 0 {
		c.Index.BatchSize = 32
	}

	if len(c.Analyzer.Models) == 0 {
		c.Analyzer.Models = []string{"ca_core_news_trf", "ca_core_news_sm"}
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = 5 * time.Second
	}

	if c.Encoder.Kind == "" {
		c.Encoder.Kind = "hash"
	}
	if c.Encoder.Model == "" && c.Encoder.Kind != "hash" {
		c.Encoder.Model = "projecte-aina/ST-NLI-ca_paraphrase-multilingual-mpnet-base"
	}
	if c.Encoder.Dims == 0 && c.Encoder.Kind != "http" {
		c.Encoder.Dims = 768
		if c.Encoder.Kind == "hash" {
			c.Encoder.Dims = 256
		}
	}
	if c.Encoder.Timeout == 0 {
		c.Encoder.Timeout = 10 * time.Second
	}
	if c.Encoder.MaxTokens == 0 {
		c.Encoder.MaxTokens = 128
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 7 * 24 * time.Hour
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "aina:emb:"
	}

	if c.Fallback.Timeout == 0 {
		c.Fallback.Timeout = 20 * time.Second
	}
	if c.Fallback.Backoff == 0 {
		c.Fallback.Backoff = 250 * time.Millisecond
	}
	if c.Fallback.MaxChars == 0 {
		c.Fallback.MaxChars = 6000
	}

	if c.Engine.K == 0 {
		c.Engine.K = 5
	}
	if c.Engine.Threshold == 0 {
		c.Engine.Threshold = 0.80
	}
	if c.Engine.ContextWindow == 0 {
		c.Engine.ContextWindow = 3
	}
	if c.Engine.EncoderTimeout == 0 {
		c.Engine.EncoderTimeout = c.Encoder.Timeout
	}
	if c.Engine.BatchConcurrency == 0 {
		c.Engine.BatchConcurrency = 4
	}

	if c.Artifacts.Kind == "" {
		c.Artifacts.Kind = "file"
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = "var/index"
	}
	if c.Artifacts.CacheDir == "" {
		c.Artifacts.CacheDir = "var/cache"
	}
	if c.Artifacts.Minio.Bucket == "" {
		c.Artifacts.Minio.Bucket = "aina-terminology"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{internalerr.ErrInvalidConfig}, args...)...))
	}

	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		bad("server.mode %q", c.Server.Mode)
	}
	if c.Server.MaxBatch < 1 {
		bad("server.max_batch must be positive")
	}

	switch c.Encoder.Kind {
	case "hash":
	case "http":
		if c.Encoder.URL == "" {
			bad("encoder.url required for the http encoder")
		}
	case "onnx":
		if c.Encoder.ONNXModelPath == "" || c.Encoder.ONNXTokenizerPath == "" {
			bad("encoder.onnx_model_path and encoder.onnx_tokenizer_path required for the onnx encoder")
		}
	default:
		bad("encoder.kind %q", c.Encoder.Kind)
	}
	if c.Encoder.Dims < 0 {
		bad("encoder.dims must not be negative")
	}

	if c.Fallback.Enabled && (c.Fallback.BaseURL == "" || c.Fallback.Model == "") {
		bad("fallback.base_url and fallback.model required when the fallback is enabled")
	}
	if c.Fallback.Retries < 0 {
		bad("fallback.retries must not be negative")
	}

	if c.Engine.K < 1 {
		bad("engine.k must be positive")
	}
	if c.Engine.Threshold < 0 || c.Engine.Threshold > 1 {
		bad("engine.threshold must be within [0,1]")
	}
	if c.Engine.ContextWindow < 0 {
		bad("engine.context_window must not be negative")
	}
	if c.Index.BatchSize < 1 {
		bad("index.batch_size must be positive")
	}

	switch c.Artifacts.Kind {
	case "file", "none":
	case "minio":
		if c.Artifacts.Minio.Endpoint == "" {
			bad("artifacts.minio.endpoint required for minio artifacts")
		}
	default:
		bad("artifacts.kind %q", c.Artifacts.Kind)
	}

	if c.Glossary.Watch && c.Glossary.Path == "" {
		bad("glossary.watch requires glossary.path")
	}
	return errors.Join(errs...)
}
