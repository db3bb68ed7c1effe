// Package pipeline chains the interpretation stages for one perception
// event: validate, recall context, infer intent, assess suspicion, remember,
// decide. In performance mode repeated events short-circuit through the
// result cache and the slower stages run on the background scheduler.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"edgesentry/internal/alerts"
	"edgesentry/internal/config"
	"edgesentry/internal/memory"
	"edgesentry/internal/metrics"
	"edgesentry/internal/model"
	"edgesentry/internal/policy"
	"edgesentry/internal/pool"
	"edgesentry/internal/reasoning"
	"edgesentry/internal/rescache"
	"edgesentry/internal/sched"
	"edgesentry/internal/storage"
)

type Pipeline struct {
	cfg    atomic.Value
	logger *slog.Logger

	memory    *memory.Index
	cache     *rescache.Cache
	scheduler *sched.Scheduler
	policy    *policy.Engine
	perf      *metrics.Tracker
	pools     *memory.ContextPools

	reasoner reasoning.ReasoningEngine
	intents  reasoning.IntentModeler
	learner  reasoning.AdaptiveLearner
	presence reasoning.PresenceObserver

	alerts *alerts.Store
	store  storage.Store

	started  time.Time
	now      func() time.Time
	retrieve func(location string, timestamp int64, entityType string) memory.Context
}

func New(cfg *config.Config, logger *slog.Logger, alertsStore *alerts.Store, store storage.Store) *Pipeline {
	scheduler := sched.New(cfg.Scheduler.BatchSize, cfg.Scheduler.IdleInterval, logger)
	index := memory.NewIndex(cfg.Memory, scheduler, logger)

	capacity := cfg.ResultCache.Capacity
	if !cfg.PerformanceMode() {
		capacity = cfg.ResultCache.AccuracyCapacity
	}

	p := &Pipeline{
		logger:    logger,
		memory:    index,
		cache:     rescache.New(capacity, cfg.ResultCache.TTL),
		scheduler: scheduler,
		policy:    policy.NewEngine(cfg.Policy),
		perf:      metrics.NewTracker(cfg.Perf.EMAAlpha, cfg.Perf.WindowSize),
		reasoner:  reasoning.NewHeuristicReasoner(0),
		intents:   reasoning.NewRuleIntentModeler(),
		learner:   &reasoning.LoggingLearner{Logger: logger},
		presence:  reasoning.NewPresenceTracker(512),
		alerts:    alertsStore,
		store:     store,
		started:   time.Now().UTC(),
		now:       time.Now,
	}
	p.retrieve = index.RetrieveContext
	if cfg.Pool.Enabled {
		p.pools = memory.NewContextPools(cfg.Pool.MaxSize)
		index.AttachPools(p.pools)
	}
	p.cfg.Store(cfg)
	return p
}

// SetCollaborators swaps in alternative reasoning components. Nil arguments
// keep the current one.
func (p *Pipeline) SetCollaborators(r reasoning.ReasoningEngine, m reasoning.IntentModeler, l reasoning.AdaptiveLearner, o reasoning.PresenceObserver) {
	if r != nil {
		p.reasoner = r
	}
	if m != nil {
		p.intents = m
	}
	if l != nil {
		p.learner = l
	}
	if o != nil {
		p.presence = o
	}
}

func (p *Pipeline) UpdateConfig(cfg *config.Config) {
	p.cfg.Store(cfg)
	p.policy.UpdateConfig(cfg.Policy)
}

func (p *Pipeline) config() *config.Config {
	if v := p.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

// Start runs the background scheduler and consumes events from in until ctx
// is cancelled. Each notified decision is recorded, logged and journaled.
func (p *Pipeline) Start(ctx context.Context, in <-chan model.PerceptionEvent) {
	p.scheduler.Start(ctx)
	go func() {
		for {
			select {
			case ev := <-in:
				result, err := p.InterpretEvent(ctx, ev)
				if err != nil {
					if p.logger != nil {
						p.logger.Warn("event rejected", "source", ev.Source, "error", err)
					}
					continue
				}
				p.record(result)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) record(result model.InterpretationResult) {
	if p.store != nil {
		_ = p.store.SaveResult(context.Background(), result)
	}
	if !result.Decision.ShouldNotify {
		return
	}
	rec := alerts.Record{
		Timestamp:       time.UnixMilli(result.Event.Timestamp).UTC(),
		EventID:         result.EventID,
		EntityType:      result.Event.EntityType,
		EntityID:        result.Event.EntityID,
		Location:        result.Event.Location,
		Level:           result.Decision.Level,
		ShapedSuspicion: result.Decision.ShapedSuspicion,
		Reasons:         result.Decision.Reasons,
		Intent:          result.Intent.PrimaryIntent,
		Source:          result.Event.Source,
	}
	if p.alerts != nil {
		p.alerts.Add(rec)
	}
	if p.logger != nil {
		p.logger.Warn("alert",
			"level", rec.Level,
			"location", rec.Location,
			"entity_type", rec.EntityType,
			"shaped_suspicion", rec.ShapedSuspicion,
			"reasons", rec.Reasons,
		)
	}
	if p.store != nil {
		_ = p.store.SaveAlert(context.Background(), rec)
	}
}

// InterpretEvent interprets a single event.
func (p *Pipeline) InterpretEvent(ctx context.Context, ev model.PerceptionEvent) (model.InterpretationResult, error) {
	return p.interpret(ctx, ev, nil, false)
}

// InterpretSequence interprets related events oldest first, each one seeing
// the results of the events before it. Memory stores run synchronously so
// later events observe earlier ones.
func (p *Pipeline) InterpretSequence(ctx context.Context, events []model.PerceptionEvent) ([]model.InterpretationResult, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty event sequence", model.ErrValidation)
	}
	ordered := make([]model.PerceptionEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	results := make([]model.InterpretationResult, 0, len(ordered))
	for i, ev := range ordered {
		result, err := p.interpret(ctx, ev, results, true)
		if err != nil {
			return results, fmt.Errorf("event %d: %w", i, err)
		}
		results = append(results, result)
	}
	return results, nil
}

func (p *Pipeline) interpret(ctx context.Context, ev model.PerceptionEvent, history []model.InterpretationResult, syncStore bool) (model.InterpretationResult, error) {
	cfg := p.config()
	start := p.now()
	perfMode := cfg.PerformanceMode()

	// Sequence events are never served from the cache: each one must be
	// interpreted against the history built so far.
	if perfMode && !syncStore {
		if cached, ok := p.cache.Lookup(ev); ok {
			cached.CacheHit = true
			cached.LatencyMs = p.sinceMs(start)
			p.perf.Observe(cached.LatencyMs)
			return cached, nil
		}
	}

	if err := ev.Validate(); err != nil {
		return model.InterpretationResult{}, err
	}

	memCtx := p.retrieveContext(ctx, cfg, ev)
	memCtx.History = history

	intent, err := p.intents.Infer(ev, memCtx)
	if err != nil {
		p.memory.ReleaseContext(memCtx)
		return model.InterpretationResult{}, fmt.Errorf("%w: intent: %v", model.ErrInterpretation, err)
	}
	assessment, err := p.reasoner.Assess(ev, intent, memCtx)
	if err != nil {
		p.memory.ReleaseContext(memCtx)
		return model.InterpretationResult{}, fmt.Errorf("%w: assess: %v", model.ErrInterpretation, err)
	}
	assessment = assessment.Normalized()

	eventID := uuid.NewString()
	if syncStore || !perfMode {
		p.memory.StoreEntry(eventID, ev, assessment)
	} else {
		storeEv, storeAssessment := ev, assessment
		p.scheduler.Enqueue(sched.Task{
			Name:     "memory_store",
			Priority: sched.PriorityHigh,
			Run: func() error {
				p.memory.StoreEntry(eventID, storeEv, storeAssessment)
				return nil
			},
		})
	}
	p.presence.ObservePresence(ev)

	decision := p.policy.Decide(policy.Input{
		Event:      ev,
		Intent:     intent,
		Assessment: assessment,
		Context:    memCtx,
	})
	p.memory.ReleaseContext(memCtx)

	result := model.InterpretationResult{
		EventID:             eventID,
		Event:               ev,
		Intent:              intent,
		Assessment:          assessment,
		Decision:            decision,
		CognitiveConfidence: policy.CognitiveConfidence(assessment),
		LatencyMs:           p.sinceMs(start),
	}
	p.perf.Observe(result.LatencyMs)

	if perfMode {
		p.cache.Record(ev, result)
		learnResult := result
		p.scheduler.Enqueue(sched.Task{
			Name:     "adaptive_learn",
			Priority: sched.PriorityLow,
			Run: func() error {
				return p.learner.Learn(learnResult.Event, learnResult)
			},
		})
	} else if err := p.learner.Learn(ev, result); err != nil && p.logger != nil {
		p.logger.Warn("adaptive learner failed", "error", err)
	}
	return result, nil
}

// retrieveContext recalls recent context, bounded by the configured timeout.
// On timeout interpretation continues with an empty low-relevance snapshot.
func (p *Pipeline) retrieveContext(ctx context.Context, cfg *config.Config, ev model.PerceptionEvent) memory.Context {
	timeout := cfg.Perf.ContextTimeout
	if timeout <= 0 {
		return p.retrieve(ev.Location, ev.Timestamp, ev.EntityType)
	}
	done := make(chan memory.Context, 1)
	go func() {
		done <- p.retrieve(ev.Location, ev.Timestamp, ev.EntityType)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c := <-done:
		return c
	case <-timer.C:
	case <-ctx.Done():
	}
	if p.logger != nil {
		p.logger.Warn("context retrieval timed out", "location", ev.Location, "timeout", timeout)
	}
	go func() {
		p.memory.ReleaseContext(<-done)
	}()
	return memory.Context{ContextualRelevance: 0.25}
}

func (p *Pipeline) sinceMs(start time.Time) float64 {
	return float64(p.now().Sub(start).Microseconds()) / 1000
}

// PerfReport is the combined runtime health snapshot.
type PerfReport struct {
	Mode          string                `json:"mode"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	Inference     metrics.Snapshot      `json:"inference"`
	Cache         CacheReport           `json:"result_cache"`
	Scheduler     SchedulerReport       `json:"scheduler"`
	Memory        memory.Stats          `json:"memory"`
	Pools         map[string]pool.Stats `json:"pools,omitempty"`
}

type CacheReport struct {
	Entries int     `json:"entries"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type SchedulerReport struct {
	Depth      int  `json:"depth"`
	Processing bool `json:"processing"`
}

func (p *Pipeline) Perf() PerfReport {
	report := PerfReport{
		Mode:          p.config().Mode,
		UptimeSeconds: time.Since(p.started).Seconds(),
		Inference:     p.perf.Snapshot(),
		Cache: CacheReport{
			Entries: p.cache.Len(),
			Hits:    p.cache.Hits(),
			Misses:  p.cache.Misses(),
			HitRate: p.cache.HitRate(),
		},
		Scheduler: SchedulerReport{
			Depth:      p.scheduler.Depth(),
			Processing: p.scheduler.Processing(),
		},
		Memory: p.memory.Stats(),
	}
	if p.pools != nil {
		report.Pools = p.pools.Stats()
	}
	return report
}

// Flush drains pending scheduler work synchronously.
func (p *Pipeline) Flush() {
	p.scheduler.Flush()
}

// Reset clears all accumulated state: memory, caches, backoff, metrics and
// queued background work.
func (p *Pipeline) Reset() {
	p.scheduler.Clear()
	p.memory.Clear()
	p.cache.Clear()
	p.policy.Reset()
	p.perf.Reset()
	if p.logger != nil {
		p.logger.Info("pipeline state cleared")
	}
}

func (p *Pipeline) Alerts() *alerts.Store {
	return p.alerts
}

func (p *Pipeline) Started() time.Time {
	return p.started
}
