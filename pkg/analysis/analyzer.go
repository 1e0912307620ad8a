package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jscharber/convosense/pkg/analysis/lexicon"
	"github.com/jscharber/convosense/pkg/logger"
	"github.com/jscharber/convosense/pkg/metrics"
)

// ErrAnalysisFailed is returned when the pipeline fails for any reason.
// No partial result is returned with it.
var ErrAnalysisFailed = errors.New("failed to analyze text")

// Analyzer runs the heuristic pipeline. It holds only immutable state and is
// safe for concurrent use.
type Analyzer struct {
	lexicon *lexicon.Lexicon
	mode    MatchMode
	logger  *logger.Logger
	metrics *metrics.ServiceMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option customises an Analyzer.
type Option func(*Analyzer)

// WithLexicon replaces the embedded AFINN lexicon.
func WithLexicon(lex *lexicon.Lexicon) Option {
	return func(a *Analyzer) { a.lexicon = lex }
}

// WithLogger sets the logger used to report failures.
func WithLogger(l *logger.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithMetrics records call counts and durations.
func WithMetrics(m *metrics.ServiceMetrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an Analyzer.
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	mode, err := ParseMatchMode(string(cfg.MatchMode))
	if err != nil {
		return nil, err
	}
	a := &Analyzer{
		mode:   mode,
		tracer: otel.Tracer("convosense/analysis"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.lexicon == nil {
		a.lexicon = lexicon.Default()
	}
	if a.logger == nil {
		a.logger = logger.GetDefault()
	}
	return a, nil
}

// MatchMode reports the keyword matching mode in use.
func (a *Analyzer) MatchMode() MatchMode {
	return a.mode
}

// extractEntities is swapped in tests.
var extractEntities = ExtractEntities

// AnalyzeText computes metrics, sentiment, emotions and the language stamp for text.
func (a *Analyzer) AnalyzeText(ctx context.Context, text string) (*Result, error) {
	var result Result
	err := a.run(ctx, "analysis.analyze_text", text, func(m *matcher, span trace.Span) {
		result = a.analyze(text, m)
		setResultAttributes(span, result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AnalyzeContext classifies formality, topic and urgency of text.
func (a *Analyzer) AnalyzeContext(text string) Context {
	return analyzeContext(newMatcher(text, a.mode))
}

// AnalyzeFull runs the whole pipeline, including context and entities.
// A panic in any stage yields ErrAnalysisFailed and no partial result.
func (a *Analyzer) AnalyzeFull(ctx context.Context, text string) (*Full, error) {
	var full Full
	err := a.run(ctx, "analysis.analyze_full", text, func(m *matcher, span trace.Span) {
		full = Full{
			Result:   a.analyze(text, m),
			Context:  analyzeContext(m),
			Entities: extractEntities(text),
		}
		setResultAttributes(span, full.Result)
	})
	if err != nil {
		return nil, err
	}
	return &full, nil
}

// run executes fn inside one span and turns a panic into ErrAnalysisFailed.
func (a *Analyzer) run(ctx context.Context, name, text string, fn func(*matcher, trace.Span)) (err error) {
	ctx, span := a.tracer.Start(ctx, name)
	defer span.End()
	span.SetAttributes(attribute.Int("text.length", len(text)))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrAnalysisFailed, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			a.logger.WithContext(ctx).WithField("error", err.Error()).Error("Text analysis failed")
		}
		a.metrics.RecordAnalysis(start, err)
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	fn(newMatcher(text, a.mode), span)
	return nil
}

func setResultAttributes(span trace.Span, r Result) {
	span.SetAttributes(
		attribute.Int("analysis.word_count", r.Metrics.WordCount),
		attribute.Int("analysis.sentiment_score", r.Sentiment.Score),
	)
}

func (a *Analyzer) analyze(text string, m *matcher) Result {
	return Result{
		Metrics:   ComputeMetrics(text),
		Sentiment: ScoreSentiment(a.lexicon, text),
		Emotions:  analyzeEmotions(m),
		Language:  DetectLanguage(text),
		Timestamp: a.now().UTC(),
	}
}
