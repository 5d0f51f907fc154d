// Package stream carries measure events from executors to collectors.
//
// Each event kind has its own pipeline with its own configuration. Every
// registered collector receives the events posted after its registration,
// passed through the transformers of that kind and rate limited by the
// kind's debounce interval.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bradenaw/juniper/xsync"
	"golang.org/x/time/rate"

	"github.com/Swind/go-chronos/core"
)

const defaultBufferCapacity = 500

// Config configures the pipeline of one event kind.
type Config struct {
	// Enabled toggles the pipeline. A disabled pipeline drops every posted
	// event and ignores registrations.
	Enabled bool `json:"enabled"`

	// BufferCapacity is the number of events buffered per collector while
	// it is busy. Events posted to a full buffer are dropped.
	BufferCapacity int `json:"buffer_capacity,omitempty"`

	// Debounce lets at most one event per interval through to a collector;
	// events arriving within the interval are skipped. Zero disables it.
	Debounce time.Duration `json:"debounce,omitempty"`
}

// DefaultConfig is an enabled pipeline without debounce.
func DefaultConfig() Config {
	return Config{Enabled: true, BufferCapacity: defaultBufferCapacity}
}

// DefaultConfigs returns DefaultConfig for every known event kind.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		core.KindExecutionMeasure: DefaultConfig(),
		core.KindExecutorMeasure:  DefaultConfig(),
	}
}

// Collector consumes events. Collect runs on a goroutine owned by the
// stream, one per collector.
type Collector interface {
	Collect(ctx context.Context, event core.MeasureEvent)
}

// CollectorFunc adapts a function to Collector.
type CollectorFunc func(ctx context.Context, event core.MeasureEvent)

func (f CollectorFunc) Collect(ctx context.Context, event core.MeasureEvent) { f(ctx, event) }

// Transformer rewrites an event before collection. Returning nil drops it.
type Transformer interface {
	Transform(event core.MeasureEvent) core.MeasureEvent
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(event core.MeasureEvent) core.MeasureEvent

func (f TransformerFunc) Transform(event core.MeasureEvent) core.MeasureEvent { return f(event) }

// Stream is a core.EventSink that fans events out to collectors.
type Stream struct {
	logger core.Logger
	bg     *xsync.Group

	mu        sync.RWMutex
	pipelines map[string]*pipeline
	closed    bool

	posted  atomic.Uint64
	dropped atomic.Uint64
}

type pipeline struct {
	kind         string
	cfg          Config
	transformers []Transformer
	subscribers  []*subscriber
}

type subscriber struct {
	collector Collector
	events    chan core.MeasureEvent
	limiter   *rate.Limiter
}

var _ core.EventSink = (*Stream)(nil)

// New creates a stream. Kinds missing from configs use DefaultConfig.
func New(configs map[string]Config, logger core.Logger) *Stream {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	s := &Stream{
		logger:    logger,
		bg:        xsync.NewGroup(context.Background()),
		pipelines: make(map[string]*pipeline),
	}
	for kind, cfg := range DefaultConfigs() {
		if c, ok := configs[kind]; ok {
			cfg = c
		}
		s.pipelines[kind] = newPipeline(kind, cfg)
	}
	for kind, cfg := range configs {
		if _, ok := s.pipelines[kind]; !ok {
			s.pipelines[kind] = newPipeline(kind, cfg)
		}
	}
	return s
}

func newPipeline(kind string, cfg Config) *pipeline {
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = defaultBufferCapacity
	}
	return &pipeline{kind: kind, cfg: cfg}
}

// RegisterTransformer appends t to the transformers of kind. Transformers
// run in registration order.
func (s *Stream) RegisterTransformer(kind string, t Transformer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[kind]
	if !ok || !p.cfg.Enabled || s.closed || t == nil {
		return
	}
	p.transformers = append(p.transformers, t)
}

// RegisterCollector starts a goroutine delivering events of kind to c.
func (s *Stream) RegisterCollector(kind string, c Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[kind]
	if !ok || !p.cfg.Enabled || s.closed || c == nil {
		return
	}

	sub := &subscriber{
		collector: c,
		events:    make(chan core.MeasureEvent, p.cfg.BufferCapacity),
	}
	if p.cfg.Debounce > 0 {
		sub.limiter = rate.NewLimiter(rate.Every(p.cfg.Debounce), 1)
	}
	p.subscribers = append(p.subscribers, sub)

	s.bg.Once(func(ctx context.Context) {
		s.deliver(ctx, p, sub)
	})
}

// Post hands event to every collector of its kind without blocking.
func (s *Stream) Post(event core.MeasureEvent) {
	if event == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[event.Kind()]
	if !ok || !p.cfg.Enabled || s.closed {
		s.dropped.Add(1)
		return
	}
	s.posted.Add(1)
	for _, sub := range p.subscribers {
		select {
		case sub.events <- event:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Stream) deliver(ctx context.Context, p *pipeline, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub.events:
			event = s.transform(p, event)
			if event == nil {
				continue
			}
			if sub.limiter != nil && !sub.limiter.Allow() {
				continue
			}
			s.collect(ctx, p, sub, event)
		}
	}
}

func (s *Stream) transform(p *pipeline, event core.MeasureEvent) core.MeasureEvent {
	s.mu.RLock()
	transformers := p.transformers
	s.mu.RUnlock()
	for _, t := range transformers {
		if event = t.Transform(event); event == nil {
			return nil
		}
	}
	return event
}

func (s *Stream) collect(ctx context.Context, p *pipeline, sub *subscriber, event core.MeasureEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("event collector panicked",
				core.F("kind", p.kind),
				core.F("panic", rec),
			)
		}
	}()
	sub.collector.Collect(ctx, event)
}

// Posted returns the number of events accepted by an enabled pipeline.
func (s *Stream) Posted() uint64 { return s.posted.Load() }

// Dropped returns the number of deliveries skipped because a pipeline was
// disabled, unknown, closed or a collector buffer was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Close stops every collector goroutine and waits for them. Buffered
// events that were not delivered yet are discarded.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.bg.Wait()
}
