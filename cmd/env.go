package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/artifact"
	"github.com/sells-group/pipeline-intel/internal/benchmark"
	"github.com/sells-group/pipeline-intel/internal/notify"
	"github.com/sells-group/pipeline-intel/internal/queue"
	"github.com/sells-group/pipeline-intel/internal/scoring"
	"github.com/sells-group/pipeline-intel/internal/store"
	"github.com/sells-group/pipeline-intel/internal/telemetry"
	"github.com/sells-group/pipeline-intel/internal/triage"
	anthropicpkg "github.com/sells-group/pipeline-intel/pkg/anthropic"
)

// engineEnv holds everything the predict/triage/queue/serve commands need.
type engineEnv struct {
	Store      store.Store
	Benchmarks *benchmark.Dataset
	Engine     *triage.Engine
	Tracker    *queue.Tracker
	Registry   *prometheus.Registry
	// Drafts is the LLM draft cache, nil for the template generator.
	Drafts     *artifact.Cache
}

// Close waits for pending notifications and releases the store.
func (e *engineEnv) Close() {
	if e.Tracker != nil {
		e.Tracker.Wait()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func loadBenchmarks() (*benchmark.Dataset, error) {
	if cfg.Benchmark.Path != "" {
		return benchmark.Load(cfg.Benchmark.Path)
	}
	return benchmark.Default()
}

// initEngine validates config for mode and wires the store, scoring engine,
// artifact generator, triage engine and queue tracker. Callers should defer
// env.Close().
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	if err := scoring.ValidateConfig(cfg.Scoring); err != nil {
		return nil, err
	}

	bench, err := loadBenchmarks()
	if err != nil {
		return nil, err
	}

	var client anthropicpkg.Client
	if cfg.Artifact.Generator == "llm" {
		client = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}
	gen, err := artifact.New(cfg, client)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink := telemetry.Multi{telemetry.NewLogSink(zap.L()), telemetry.NewPromSink(reg)}

	scorer := scoring.NewEngine(cfg.Scoring, bench)
	eng := triage.New(cfg.Triage, st, scorer, gen,
		triage.WithQueue(st),
		triage.WithSink(sink),
		triage.WithTopFactors(cfg.Artifact.TopFactors),
	)

	tracker, err := queue.NewTracker(st, eng, notify.New(cfg.Notify), cfg.Queue)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	zap.L().Debug("engine initialised",
		zap.String("store", cfg.Store.Driver),
		zap.String("generator", cfg.Artifact.Generator),
		zap.String("scoring_config", scorer.ConfigHash()),
	)

	env := &engineEnv{
		Store:      st,
		Benchmarks: bench,
		Engine:     eng,
		Tracker:    tracker,
		Registry:   reg,
	}
	if llm, ok := gen.(*artifact.LLMGenerator); ok {
		env.Drafts = llm.Cache()
	}
	return env, nil
}
