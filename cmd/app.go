package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/byessilyurt/polish-legal-assistant/internal/types"
	"github.com/byessilyurt/polish-legal-assistant/pkg/config"
	"github.com/byessilyurt/polish-legal-assistant/pkg/ingest"
	"github.com/byessilyurt/polish-legal-assistant/pkg/llm"
	"github.com/byessilyurt/polish-legal-assistant/pkg/metrics"
	"github.com/byessilyurt/polish-legal-assistant/pkg/processor"
	"github.com/byessilyurt/polish-legal-assistant/pkg/rag"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retriever"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retry"
	"github.com/byessilyurt/polish-legal-assistant/pkg/store"
)

// app holds the components shared by the subcommands.
type app struct {
	config   *config.Config
	logger   *zap.Logger
	embedder *llm.Embedder
	index    types.VectorIndex
	closers  []func()
}

// indexPinger is implemented by indexes backed by a remote database.
type indexPinger interface {
	Ping(ctx context.Context) error
}

type indexCounter interface {
	Count(ctx context.Context) (int, error)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		joined := make([]error, 0, len(errs))
		for _, e := range errs {
			joined = append(joined, e)
		}
		return nil, fmt.Errorf("invalid config: %w", errors.Join(joined...))
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zc.Build()
}

// newApp loads configuration and connects the embedder and vector index. The
// pgvector index is used when a database URL is configured, otherwise an
// in-memory index that lives as long as the process.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	a := &app{config: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	a.embedder, err = llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:          cfg.LLM.Provider,
		Model:             cfg.LLM.EmbeddingModel,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		BatchSize:         cfg.Database.BatchSize,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using in-memory index")
		a.index = store.NewMemory()
		return a, nil
	}

	vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
		BatchSize:  cfg.Database.BatchSize,
		Lists:      cfg.Database.Lists,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = vs
	a.closers = append(a.closers, vs.Close)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) retryPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = a.config.Retrieval.MaxAttempts
	return policy
}

func (a *app) newProcessor() (*processor.Processor, error) {
	counter, err := processor.NewCounter(a.config.Processor.Tokenizer, a.config.Processor.Encoding)
	if err != nil {
		return nil, err
	}
	return processor.NewWithConfig(a.config.ProcessorConfig(counter)), nil
}

func (a *app) newPipeline(replace bool) (*ingest.Pipeline, *processor.Processor, error) {
	proc, err := a.newProcessor()
	if err != nil {
		return nil, nil, err
	}
	pipeline, err := ingest.NewWithConfig(ingest.PipelineConfig{
		Workers:         a.config.Processor.Workers,
		BatchSize:       a.config.Database.BatchSize,
		ReplaceExisting: replace,
		Retry:           a.retryPolicy(),
	}, proc, a.embedder, a.index, a.logger.Named("ingest"))
	if err != nil {
		return nil, nil, err
	}
	return pipeline, proc, nil
}

// preload ingests knowledge files into the index without progress output.
func (a *app) preload(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	pipeline, proc, err := a.newPipeline(false)
	if err != nil {
		return err
	}
	for _, path := range paths {
		docs, err := ingest.LoadKnowledgeFile(path)
		if err != nil {
			return err
		}
		report, err := pipeline.Run(ctx, docs, proc.Config().Strategy, nil)
		if err != nil {
			return err
		}
		a.logger.Info("knowledge loaded",
			zap.String("file", path),
			zap.Int("documents", report.Documents),
			zap.Int("chunks", report.Chunks),
			zap.Int("skipped", report.Skipped))
	}
	return nil
}

// newCollector builds the metrics collector with a JSONL writer and, when a
// database is configured, a SQL writer. History from the metrics file is
// replayed into the in-memory aggregates.
func (a *app) newCollector(ctx context.Context) (*metrics.Collector, error) {
	var writers []metrics.Writer

	if path := a.config.Metrics.File; path != "" {
		writers = append(writers, metrics.NewFileWriter(path))
	}

	if a.config.Database.URL != "" {
		w, err := metrics.OpenSQLWriter(a.config.Database.URL, a.config.Metrics.Table)
		if err != nil {
			return nil, err
		}
		if err := w.EnsureSchema(ctx); err != nil {
			_ = w.Close()
			return nil, err
		}
		writers = append(writers, w)
		a.closers = append(a.closers, func() { _ = w.Close() })
	}

	collector := metrics.NewCollector(a.logger.Named("metrics"), writers...)

	if path := a.config.Metrics.File; path != "" {
		history, err := metrics.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			a.logger.Warn("failed to read metrics history", zap.String("file", path), zap.Error(err))
		default:
			collector.Restore(history)
		}
	}
	return collector, nil
}

func (a *app) newService(collector *metrics.Collector) (*rag.Service, error) {
	var reranker retriever.Reranker = retriever.ScoreReranker{}
	if a.config.Retrieval.Reranker == "recency" {
		reranker = retriever.RecencyReranker{}
	}

	r, err := retriever.New(retriever.RetrieverConfig{
		Strict: retriever.TierConfig{
			Threshold:    a.config.Retrieval.Tier1Threshold,
			TopK:         a.config.Retrieval.Tier1TopK,
			MinDocuments: a.config.Retrieval.Tier1MinDocuments,
		},
		Relaxed: retriever.TierConfig{
			Threshold:    a.config.Retrieval.Tier2Threshold,
			TopK:         a.config.Retrieval.Tier2TopK,
			MinDocuments: a.config.Retrieval.Tier2MinDocuments,
		},
		Retry: a.retryPolicy(),
	}, a.embedder, a.index,
		retriever.WithLogger(a.logger.Named("retriever")),
		retriever.WithReranker(reranker))
	if err != nil {
		return nil, err
	}

	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:         a.config.LLM.Provider,
		Model:            a.config.LLM.Model,
		Temperature:      a.config.LLM.Temperature,
		MaxTokens:        a.config.LLM.MaxTokens,
		MaxContextLength: a.config.LLM.MaxContextLength,
		BaseURL:          a.config.LLM.BaseURL,
		APIKey:           a.config.LLM.APIKey,
		Retry:            a.retryPolicy(),
	})
	if err != nil {
		return nil, err
	}

	opts := []rag.Option{
		rag.WithLogger(a.logger.Named("rag")),
		rag.WithHealthCheck("embedder", func(ctx context.Context) error {
			_, err := a.embedder.EmbedQuery(ctx, "health")
			return err
		}),
		rag.WithHealthCheck("vector_index", func(ctx context.Context) error {
			if p, ok := a.index.(indexPinger); ok {
				return p.Ping(ctx)
			}
			return nil
		}),
	}
	if collector != nil {
		opts = append(opts, rag.WithMetrics(collector))
	}

	return rag.NewWithConfig(rag.ServiceConfig{
		MaxContextLength: a.config.LLM.MaxContextLength,
	}, r, chat, opts...)
}

func (a *app) indexSize(ctx context.Context) (int, bool) {
	c, ok := a.index.(indexCounter)
	if !ok {
		return 0, false
	}
	n, err := c.Count(ctx)
	if err != nil {
		a.logger.Warn("failed to count indexed chunks", zap.Error(err))
		return 0, false
	}
	return n, true
}
