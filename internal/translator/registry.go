package translator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"babelbot/internal/apperrors"
	"babelbot/internal/domain"
	"babelbot/internal/httputil"
	"babelbot/internal/metrics"
)

// TranslationPipeline executes translations for one fixed route.
type TranslationPipeline interface {
	Translate(ctx context.Context, text string) (string, error)
}

// LoaderFunc creates and warms a pipeline for a route. The default loader
// talks to the Hugging Face Inference API; tests inject their own.
type LoaderFunc func(ctx context.Context, pair domain.LanguagePair, model string) (TranslationPipeline, error)

// loadState tracks where a route is in its lifecycle. Absent entries are
// implicitly stateNotLoaded.
type loadState int

const (
	stateNotLoaded loadState = iota
	stateLoading
	stateReady
	stateFailed
)

func (s loadState) String() string {
	switch s {
	case stateLoading:
		return "loading"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "not_loaded"
	}
}

// entry is one route's slot in the registry. pipe is set once Ready; fl is
// set while Loading so concurrent callers share a single load.
type entry struct {
	state loadState
	pipe  TranslationPipeline
	fl    *inflight
}

// inflight carries one load attempt's result to every goroutine waiting on
// it. Fields are written before done is closed.
type inflight struct {
	done chan struct{}
	pipe TranslationPipeline
	err  error
}

// Registry implements domain.Translator. It resolves routes through the
// table, loads each model at most once concurrently, and reuses warm
// pipelines for the process lifetime. A failed load is handed to everyone
// already waiting; the next message to arrive claims a fresh attempt.
type Registry struct {
	table  *Table
	loader LoaderFunc
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type RegistryConfig struct {
	Table       *Table
	APIBase     string
	APIToken    string
	LoadTimeout time.Duration
	Logger      *slog.Logger
	// Loader overrides the Hugging Face loader (used by tests).
	Loader LoaderFunc
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 120 * time.Second
	}
	loader := cfg.Loader
	if loader == nil {
		client := httputil.SharedClient(cfg.LoadTimeout)
		loader = func(ctx context.Context, pair domain.LanguagePair, model string) (TranslationPipeline, error) {
			pipe := NewPipeline(PipelineConfig{
				Pair:    pair,
				Model:   model,
				APIBase: cfg.APIBase,
				Token:   cfg.APIToken,
				Client:  client,
				Logger:  cfg.Logger,
			})
			warmCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
			defer cancel()
			if err := pipe.WarmUp(warmCtx); err != nil {
				return nil, err
			}
			return pipe, nil
		}
	}
	return &Registry{
		table:   cfg.Table,
		loader:  loader,
		logger:  cfg.Logger,
		entries: make(map[string]*entry),
	}
}

// Translate resolves the pair's pipeline and runs the text through it.
func (r *Registry) Translate(ctx context.Context, text, source, target string) (string, error) {
	pipe, err := r.pipeline(ctx, domain.LanguagePair{Source: source, Target: target})
	if err != nil {
		return "", err
	}
	return pipe.Translate(ctx, text)
}

// Has reports whether a route exists in the table.
func (r *Registry) Has(pair domain.LanguagePair) bool {
	return r.table.Has(pair)
}

// Pairs returns all configured routes.
func (r *Registry) Pairs() []domain.LanguagePair {
	return r.table.Pairs()
}

// RouteStatus describes one configured route and where its pipeline is in
// the load lifecycle.
type RouteStatus struct {
	Pair  domain.LanguagePair `json:"pair"`
	Model string              `json:"model"`
	State string              `json:"state"`
}

// Routes reports every configured route with its current state, sorted by key.
func (r *Registry) Routes() []RouteStatus {
	pairs := r.table.Pairs()
	r.mu.Lock()
	defer r.mu.Unlock()
	routes := make([]RouteStatus, 0, len(pairs))
	for _, pair := range pairs {
		model, _ := r.table.ModelFor(pair)
		state := stateNotLoaded
		if e, ok := r.entries[pair.Key()]; ok {
			state = e.state
		}
		routes = append(routes, RouteStatus{Pair: pair, Model: model, State: state.String()})
	}
	return routes
}

// Ready returns the route keys whose pipelines are warm, sorted.
func (r *Registry) Ready() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for key, e := range r.entries {
		if e.state == stateReady {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// pipeline returns the warm pipeline for a pair, loading it on first use.
// An unconfigured pair fails before any load starts.
func (r *Registry) pipeline(ctx context.Context, pair domain.LanguagePair) (TranslationPipeline, error) {
	model, err := r.table.ModelFor(pair)
	if err != nil {
		return nil, err
	}
	key := pair.Key()

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}

	switch e.state {
	case stateReady:
		pipe := e.pipe
		r.mu.Unlock()
		return pipe, nil

	case stateLoading:
		fl := e.fl
		r.mu.Unlock()
		select {
		case <-fl.done:
			return fl.pipe, fl.err
		case <-ctx.Done():
			return nil, apperrors.FromContext(ctx.Err(), "gave up waiting for model load of "+key)
		}
	}

	// stateNotLoaded or stateFailed: this goroutine claims the load.
	fl := &inflight{done: make(chan struct{})}
	e.state = stateLoading
	e.fl = fl
	r.mu.Unlock()

	r.logger.Info("loading translation pipeline", "pair", key, "model", model)
	metrics.ModelLoads.Inc()

	// The load is detached from the claiming caller: a turn that gives up
	// waiting must not cancel the warm-up everyone else shares.
	loadCtx := context.WithoutCancel(ctx)
	go func() {
		start := time.Now()
		pipe, loadErr := r.loader(loadCtx, pair, model)

		r.mu.Lock()
		fl.pipe = pipe
		fl.err = loadErr
		e.fl = nil
		if loadErr != nil {
			e.state = stateFailed
			metrics.ModelLoadFailures.Inc()
			r.logger.Error("translation pipeline load failed",
				"pair", key, "model", model, "err", loadErr)
		} else {
			e.state = stateReady
			e.pipe = pipe
			r.logger.Info("translation pipeline ready",
				"pair", key, "model", model, "took", time.Since(start).Round(time.Millisecond))
		}
		close(fl.done)
		r.mu.Unlock()
	}()

	select {
	case <-fl.done:
		return fl.pipe, fl.err
	case <-ctx.Done():
		return nil, apperrors.FromContext(ctx.Err(), "gave up waiting for model load of "+key)
	}
}
