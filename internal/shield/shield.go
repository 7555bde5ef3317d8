// Package shield orchestrates PII protection: it drives one or more
// detector adapters, reconciles their spans into a non-overlapping set,
// and applies the configured masking strategy.
//
// A Shield holds no mutable state between calls. Every Protect/Detect
// invocation is a pure function of its inputs and the construction-time
// configuration, so a single Shield is safe for concurrent use.
package shield

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/dativo-io/aegis/internal/detect"
	"github.com/dativo-io/aegis/internal/entity"
	"github.com/dativo-io/aegis/internal/mask"
	aegisotel "github.com/dativo-io/aegis/internal/otel"
	"github.com/dativo-io/aegis/internal/reconcile"
)

var tracer = aegisotel.Tracer("github.com/dativo-io/aegis/internal/shield")

// Mode selects the orchestration policy. It is fixed for the lifetime of a
// Shield, never negotiated per call.
type Mode string

const (
	// ModeSingle runs the only configured adapter; any failure propagates.
	ModeSingle Mode = "single"
	// ModePrimaryFallback runs the first adapter and falls back to the
	// second only when the first fails.
	ModePrimaryFallback Mode = "primary-fallback"
	// ModeDualMerge runs all adapters concurrently and merges their spans;
	// individual failures are soft unless the adapter is marked Required.
	ModeDualMerge Mode = "dual-merge"
)

// DefaultAdapterTimeout bounds each adapter call. A timeout is treated
// exactly like an adapter failure under the configured mode.
const DefaultAdapterTimeout = 10 * time.Second

// Adapter pairs a detector with its orchestration attributes.
type Adapter struct {
	Name     string
	Detector detect.Detector
	// Required makes this adapter's failure fatal even in soft-fail modes.
	Required bool
}

// Options is the explicit construction-time configuration for a Shield.
// Nothing in this package reads the environment.
type Options struct {
	Adapters        []Adapter
	Mode            Mode
	DefaultLanguage string
	ScoreThreshold  float64
	AdapterTimeout  time.Duration
	Masker          *mask.Masker
	DefaultStrategy string
}

// AdapterFailure records a soft adapter failure that reduced coverage.
type AdapterFailure struct {
	Adapter string `json:"adapter"`
	Error   string `json:"error"`
}

// Result is the outcome of one Protect call. It is freshly allocated per
// call and owned solely by the caller.
type Result struct {
	Text            string           `json:"text"`
	MaskedText      string           `json:"masked_text"`
	Spans           []entity.Span    `json:"spans"`
	EntityCounts    map[string]int   `json:"entity_counts"`
	Language        string           `json:"language"`
	Strategy        string           `json:"strategy"`
	AdapterFailures []AdapterFailure `json:"adapter_failures,omitempty"`
	Duration        time.Duration    `json:"-"`
}

// Shield is the orchestrator over detection, reconciliation and masking.
type Shield struct {
	adapters        []Adapter
	mode            Mode
	defaultLanguage string
	scoreThreshold  float64
	adapterTimeout  time.Duration
	masker          *mask.Masker
	defaultStrategy string
}

// New validates the configuration and builds a Shield. Misconfiguration
// fails here, at construction, never per call.
func New(opts Options) (*Shield, error) {
	if len(opts.Adapters) == 0 {
		return nil, errors.New("shield: at least one adapter is required")
	}
	for _, a := range opts.Adapters {
		if a.Detector == nil {
			return nil, fmt.Errorf("shield: adapter %q has no detector", a.Name)
		}
	}

	mode := opts.Mode
	if mode == "" {
		if len(opts.Adapters) == 1 {
			mode = ModeSingle
		} else {
			mode = ModeDualMerge
		}
	}
	switch mode {
	case ModeSingle:
		if len(opts.Adapters) != 1 {
			return nil, fmt.Errorf("shield: mode %q requires exactly one adapter, got %d", mode, len(opts.Adapters))
		}
	case ModePrimaryFallback:
		if len(opts.Adapters) != 2 {
			return nil, fmt.Errorf("shield: mode %q requires exactly two adapters, got %d", mode, len(opts.Adapters))
		}
	case ModeDualMerge:
		if len(opts.Adapters) < 2 {
			return nil, fmt.Errorf("shield: mode %q requires at least two adapters, got %d", mode, len(opts.Adapters))
		}
	default:
		return nil, fmt.Errorf("shield: unknown mode %q", mode)
	}

	s := &Shield{
		adapters:        opts.Adapters,
		mode:            mode,
		defaultLanguage: opts.DefaultLanguage,
		scoreThreshold:  opts.ScoreThreshold,
		adapterTimeout:  opts.AdapterTimeout,
		masker:          opts.Masker,
		defaultStrategy: opts.DefaultStrategy,
	}
	if s.defaultLanguage == "" {
		s.defaultLanguage = "en"
	}
	if s.scoreThreshold <= 0 {
		s.scoreThreshold = detect.DefaultMinScore
	}
	if s.adapterTimeout <= 0 {
		s.adapterTimeout = DefaultAdapterTimeout
	}
	if s.masker == nil {
		s.masker = mask.MustNewMasker()
	}
	if s.defaultStrategy == "" {
		s.defaultStrategy = mask.StrategyReplace
	}
	return s, nil
}

// CallOption overrides per-call parameters.
type CallOption func(*callConfig)

type callConfig struct {
	language string
	strategy string
}

// WithLanguage overrides the default language for one call.
func WithLanguage(lang string) CallOption {
	return func(c *callConfig) { c.language = lang }
}

// WithStrategy overrides the default masking strategy for one call.
func WithStrategy(strategy string) CallOption {
	return func(c *callConfig) { c.strategy = strategy }
}

// Protect detects PII in text, reconciles the detections and masks them.
func (s *Shield) Protect(ctx context.Context, text string, opts ...CallOption) (*Result, error) {
	ctx, span := tracer.Start(ctx, "shield.protect")
	defer span.End()

	cfg := callConfig{language: s.defaultLanguage, strategy: s.defaultStrategy}
	for _, o := range opts {
		o(&cfg)
	}

	start := time.Now()

	spans, failures, err := s.detect(ctx, text, cfg.language)
	if err != nil {
		return nil, err
	}

	reconciled := reconcile.Merge(spans)

	masked, counts, err := s.masker.Apply(text, reconciled, cfg.strategy)
	if err != nil {
		return nil, fmt.Errorf("masking: %w", err)
	}

	span.SetAttributes(
		attribute.Int("shield.span_count", len(reconciled)),
		attribute.Int("shield.adapter_failures", len(failures)),
		attribute.String("shield.strategy", cfg.strategy),
	)

	return &Result{
		Text:            text,
		MaskedText:      masked,
		Spans:           reconciled,
		EntityCounts:    counts,
		Language:        cfg.language,
		Strategy:        cfg.strategy,
		AdapterFailures: failures,
		Duration:        time.Since(start),
	}, nil
}

// ProtectBatch applies Protect to each text in order.
func (s *Shield) ProtectBatch(ctx context.Context, texts []string, opts ...CallOption) ([]*Result, error) {
	results := make([]*Result, 0, len(texts))
	for i, text := range texts {
		res, err := s.Protect(ctx, text, opts...)
		if err != nil {
			return nil, fmt.Errorf("protecting text %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Detect returns reconciled detections without masking.
func (s *Shield) Detect(ctx context.Context, text string, opts ...CallOption) ([]entity.Span, []AdapterFailure, error) {
	ctx, span := tracer.Start(ctx, "shield.detect")
	defer span.End()

	cfg := callConfig{language: s.defaultLanguage}
	for _, o := range opts {
		o(&cfg)
	}

	spans, failures, err := s.detect(ctx, text, cfg.language)
	if err != nil {
		return nil, nil, err
	}
	return reconcile.Merge(spans), failures, nil
}

// detect runs the configured adapters under the orchestration mode and
// returns the union of successful adapters' spans.
func (s *Shield) detect(ctx context.Context, text, language string) ([]entity.Span, []AdapterFailure, error) {
	switch s.mode {
	case ModeSingle:
		spans, err := s.callAdapter(ctx, s.adapters[0], text, language)
		if err != nil {
			return nil, nil, fmt.Errorf("adapter %q: %w", s.adapters[0].Name, err)
		}
		return spans, nil, nil

	case ModePrimaryFallback:
		primary, secondary := s.adapters[0], s.adapters[1]
		spans, err := s.callAdapter(ctx, primary, text, language)
		if err == nil {
			return spans, nil, nil
		}
		log.Warn().
			Err(err).
			Str("adapter", primary.Name).
			Func(aegisotel.LogTraceFields(ctx)).
			Msg("primary adapter failed, falling back")

		spans, ferr := s.callAdapter(ctx, secondary, text, language)
		if ferr != nil {
			return nil, nil, fmt.Errorf("primary adapter %q failed (%v); fallback adapter %q failed: %w",
				primary.Name, err, secondary.Name, ferr)
		}
		return spans, []AdapterFailure{{Adapter: primary.Name, Error: err.Error()}}, nil

	case ModeDualMerge:
		return s.detectDualMerge(ctx, text, language)

	default:
		return nil, nil, fmt.Errorf("shield: unknown mode %q", s.mode)
	}
}

// detectDualMerge runs all adapters concurrently and joins their outputs.
// Failures of non-required adapters only reduce coverage; they are logged
// and reported on the result, never raised. If every adapter fails the call
// errors out rather than returning a silently unmasked text.
func (s *Shield) detectDualMerge(ctx context.Context, text, language string) ([]entity.Span, []AdapterFailure, error) {
	perAdapter := make([][]entity.Span, len(s.adapters))
	perErr := make([]error, len(s.adapters))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i := range s.adapters {
		g.Go(func() error {
			spans, err := s.callAdapter(gctx, s.adapters[i], text, language)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				perErr[i] = err
				if s.adapters[i].Required {
					return fmt.Errorf("required adapter %q: %w", s.adapters[i].Name, err)
				}
				return nil
			}
			perAdapter[i] = spans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var union []entity.Span
	var failures []AdapterFailure
	succeeded := 0
	for i, a := range s.adapters {
		if perErr[i] != nil {
			log.Warn().
				Err(perErr[i]).
				Str("adapter", a.Name).
				Func(aegisotel.LogTraceFields(ctx)).
				Msg("adapter failed, continuing with reduced coverage")
			failures = append(failures, AdapterFailure{Adapter: a.Name, Error: perErr[i].Error()})
			continue
		}
		succeeded++
		union = append(union, perAdapter[i]...)
	}

	if succeeded == 0 {
		msgs := make([]string, len(failures))
		for i, f := range failures {
			msgs[i] = fmt.Sprintf("%s: %s", f.Adapter, f.Error)
		}
		return nil, nil, fmt.Errorf("all adapters failed: %s", strings.Join(msgs, "; "))
	}

	return union, failures, nil
}

// callAdapter invokes one adapter with the per-adapter timeout applied.
func (s *Shield) callAdapter(ctx context.Context, a Adapter, text, language string) ([]entity.Span, error) {
	ctx, cancel := context.WithTimeout(ctx, s.adapterTimeout)
	defer cancel()
	return a.Detector.Detect(ctx, text, language, s.scoreThreshold)
}
