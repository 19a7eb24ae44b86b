// Package app assembles the service from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/optim-dev/aina/internal/httpapi"
	"github.com/optim-dev/aina/internal/llm"
	"github.com/optim-dev/aina/internal/logging"
	"github.com/optim-dev/aina/internal/metrics"
	"github.com/optim-dev/aina/pkg/terminology"
	"github.com/optim-dev/aina/pkg/terminology/artifact"
	"github.com/optim-dev/aina/pkg/terminology/config"
	"github.com/optim-dev/aina/pkg/terminology/embed"
	"github.com/optim-dev/aina/pkg/terminology/fallback"
	"github.com/optim-dev/aina/pkg/terminology/index"
	"github.com/optim-dev/aina/pkg/terminology/ingest"
	"github.com/optim-dev/aina/pkg/terminology/internalerr"
	"github.com/optim-dev/aina/pkg/terminology/lifecycle"
	"github.com/optim-dev/aina/pkg/terminology/stem"
	"github.com/optim-dev/aina/pkg/terminology/store"
	"github.com/optim-dev/aina/pkg/terminology/store/memstore"
	"github.com/optim-dev/aina/pkg/terminology/store/sqlite"
)

// App holds every long-lived component of the service.
type App struct {
	Config  *config.Config
	Log     logging.Logger
	Metrics *metrics.Metrics
	Holder  *index.Holder
	Encoder embed.Encoder
	Engine  *terminology.Engine
	Manager *lifecycle.Manager
	Catalog store.Catalog

	closers []func() error
}

// New wires the components named by cfg. Nothing is built yet; call
// Manager.Bootstrap to make an index available.
func New(ctx context.Context, cfg *config.Config, log logging.Logger) (_ *App, err error) {
	log = logging.OrDefault(log)
	a := &App{Config: cfg, Log: log, Metrics: metrics.New(true), Holder: &index.Holder{}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	assets, err := config.LoadAssets(cfg.Analyzer)
	if err != nil {
		return nil, err
	}

	if a.Encoder, err = a.newEncoder(ctx); err != nil {
		return nil, err
	}
	stemmer := stem.New()
	builder := &index.Builder{
		Encoder:         a.Encoder,
		Stemmer:         stemmer,
		Log:             log,
		BatchSize:       cfg.Index.BatchSize,
		IncludeContext:  cfg.Index.IncludeContext,
		IncludeVariants: cfg.Index.IncludeVariants,
		ContextChars:    cfg.Index.ContextChars,
		ObserveBatch:    a.Metrics.EncoderBatch,
	}

	if a.Catalog, err = openCatalog(ctx, cfg.Catalog); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Catalog.Close)

	artifacts, err := newArtifacts(ctx, cfg.Artifacts, log)
	if err != nil {
		return nil, err
	}

	a.Manager = &lifecycle.Manager{
		Holder:       a.Holder,
		Builder:      builder,
		Catalog:      a.Catalog,
		Artifacts:    artifacts,
		GlossaryPath: cfg.Glossary.Path,
		Log:          log,
		OnSwap:       a.Metrics.IndexSwapped,
	}

	a.Engine, err = terminology.New(terminology.Options{
		Holder:           a.Holder,
		Tokenizer:        newTokenizer(ctx, cfg.Analyzer, assets, log),
		Encoder:          a.Encoder,
		Fallback:         newFallback(cfg.Fallback, log),
		Stemmer:          stemmer,
		Stops:            assets.Stops,
		Log:              log,
		Observer:         a.Metrics,
		EncoderTimeout:   cfg.Engine.EncoderTimeout,
		BatchSize:        cfg.Index.BatchSize,
		BatchConcurrency: cfg.Engine.BatchConcurrency,
		MaxExamples:      cfg.Engine.MaxExamples,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Server returns the HTTP front of the app.
func (a *App) Server() *httpapi.Server {
	s := a.Config.Server
	return httpapi.New(a.Engine, a.Manager, a.Metrics, a.Log, httpapi.Config{
		Mode:          s.Mode,
		MaxBodyBytes:  s.MaxBodyBytes,
		MaxBatch:      s.MaxBatch,
		K:             a.Config.Engine.K,
		Threshold:     a.Config.Engine.Threshold,
		ContextWindow: a.Config.Engine.ContextWindow,
	})
}

// Request applies the configured tuning to req where it is unset.
func (a *App) Request(req terminology.Request) terminology.Request {
	e := a.Config.Engine
	if req.K == 0 {
		req.K = e.K
	}
	if req.Threshold == nil {
		req.Threshold = terminology.Threshold(e.Threshold)
	}
	if req.ContextWindow == 0 {
		req.ContextWindow = e.ContextWindow
	}
	return req
}

// Close releases resources in reverse order of acquisition.
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

func (a *App) newEncoder(ctx context.Context) (embed.Encoder, error) {
	cfg := a.Config.Encoder
	var enc embed.Encoder
	switch cfg.Kind {
	case "hash":
		enc = embed.NewHashEncoder(cfg.Dims)
	case "http":
		enc = &embed.HTTPEncoder{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dims:       cfg.Dims,
			HTTPClient: &http.Client{Timeout: cfg.Timeout},
		}
	case "onnx":
		onnx, err := embed.NewONNXEncoder(embed.ONNXConfig{
			ModelPath:     cfg.ONNXModelPath,
			TokenizerPath: cfg.ONNXTokenizerPath,
			SharedLibrary: cfg.ONNXLibrary,
			ModelID:       cfg.Model,
			Dims:          cfg.Dims,
			MaxTokens:     cfg.MaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx encoder: %w", err)
		}
		a.closers = append(a.closers, onnx.Close)
		enc = onnx
	default:
		return nil, fmt.Errorf("%w: encoder kind %q", internalerr.ErrInvalidConfig, cfg.Kind)
	}

	c := a.Config.Cache
	if c.RedisAddr == "" {
		return enc, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.Password, DB: c.DB})
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		a.Log.Warn("embedding cache unreachable", logging.String("addr", c.RedisAddr), logging.Err(err))
	}
	return embed.NewCachedEncoder(enc, rdb,
		embed.WithPrefix(c.Prefix+enc.ModelID()+":"),
		embed.WithTTL(c.TTL),
		embed.WithLogger(a.Log)), nil
}

// newTokenizer probes the configured sidecar models in order and falls back
// to the rule analyzer.
func newTokenizer(ctx context.Context, cfg config.AnalyzerConfig, assets *config.Assets, log logging.Logger) *ingest.LemmaTokenizer {
	light := ingest.NewRuleAnalyzer(assets.Lexicon)
	var candidates []ingest.Analyzer
	if cfg.MorphURL != "" {
		client := &http.Client{Timeout: cfg.Timeout}
		for _, model := range cfg.Models {
			candidates = append(candidates, &ingest.MorphClient{BaseURL: cfg.MorphURL, Model: model, HTTPClient: client})
		}
	}
	candidates = append(candidates, light)
	primary := ingest.Select(ctx, log, candidates...)
	log.Info("analyzer selected", logging.String("analyzer", primary.Name()))
	return ingest.NewLemmaTokenizer(primary, light, log)
}

func newFallback(cfg config.FallbackConfig, log logging.Logger) fallback.Detector {
	if !cfg.Enabled {
		return nil
	}
	det := fallback.NewLLMDetector(&llm.Client{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		HTTPClient: &http.Client{},
	}, log)
	det.Timeout = cfg.Timeout
	det.Backoff = cfg.Backoff
	det.MaxChars = cfg.MaxChars
	if cfg.Retries != 0 {
		det.Retries = cfg.Retries
	}
	return det
}

func openCatalog(ctx context.Context, cfg config.CatalogConfig) (store.Catalog, error) {
	if cfg.Path == "" {
		return memstore.New(), nil
	}
	cat, err := sqlite.Open(ctx, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	return cat, nil
}

func newArtifacts(ctx context.Context, cfg config.ArtifactsConfig, log logging.Logger) (artifact.Store, error) {
	switch cfg.Kind {
	case "file":
		return artifact.NewFileStore(cfg.Dir), nil
	case "minio":
		client, err := artifact.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		st := artifact.NewMinioStore(client, cfg.Minio.Bucket, cfg.Minio.Prefix, cfg.CacheDir, log)
		if err := st.EnsureBucket(ctx, cfg.Minio.Region); err != nil {
			return nil, err
		}
		return st, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: artifacts kind %q", internalerr.ErrInvalidConfig, cfg.Kind)
	}
}
