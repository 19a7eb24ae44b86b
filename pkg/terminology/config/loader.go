package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/optim-dev/aina/pkg/terminology/lexicon"
	"github.com/optim-dev/aina/pkg/terminology/stoplist"
)

// envPrefix maps server.addr to AINA_SERVER_ADDR.
const envPrefix = "AINA"

// keys that may be set from the environment alone, without a file entry.
var envKeys = []string{
	"log.level", "log.format",
	"server.addr", "server.mode", "server.max_batch",
	"glossary.path", "glossary.watch", "glossary.debounce",
	"index.build_on_start", "index.include_context", "index.include_variants", "index.batch_size",
	"analyzer.morph_url", "analyzer.lexicon_path", "analyzer.stoplist_path",
	"encoder.kind", "encoder.url", "encoder.api_key", "encoder.model", "encoder.dims", "encoder.timeout",
	"encoder.onnx_model_path", "encoder.onnx_tokenizer_path", "encoder.onnx_library",
	"cache.redis_addr", "cache.password", "cache.db", "cache.ttl",
	"fallback.enabled", "fallback.base_url", "fallback.api_key", "fallback.model", "fallback.timeout",
	"engine.k", "engine.threshold", "engine.context_window", "engine.batch_concurrency",
	"catalog.path",
	"artifacts.kind", "artifacts.dir", "artifacts.cache_dir",
	"artifacts.minio.endpoint", "artifacts.minio.access_key_id", "artifacts.minio.secret_access_key",
	"artifacts.minio.use_ssl", "artifacts.minio.region", "artifacts.minio.bucket", "artifacts.minio.prefix",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("index.include_variants", true)
	for _, k := range envKeys {
		// Unmarshal only sees keys viper knows about.
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at path (optional when empty), merges AINA_*
// environment overrides, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Assets are the auxiliary YAML files the analyzers read.
type Assets struct {
	Stops   *stoplist.Manager
	Lexicon *lexicon.Lexicon
}

// LoadAssets reads the stop list and lexicon named by the analyzer settings.
// Missing paths fall back to the built-in stop list and no lexicon.
func LoadAssets(c AnalyzerConfig) (*Assets, error) {
	a := &Assets{Stops: stoplist.Catalan()}
	if c.StoplistPath != "" {
		stops, err := stoplist.LoadYAML(c.StoplistPath)
		if err != nil {
			return nil, fmt.Errorf("load stoplist: %w", err)
		}
		a.Stops = stops
	}
	if c.LexiconPath != "" {
		lex, err := lexicon.LoadFile(c.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("load lexicon: %w", err)
		}
		a.Lexicon = lex
	}
	return a, nil
}
