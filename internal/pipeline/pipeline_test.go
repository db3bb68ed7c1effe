package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"edgesentry/internal/alerts"
	"edgesentry/internal/config"
	"edgesentry/internal/memory"
	"edgesentry/internal/model"
	"edgesentry/internal/policy"
)

// 03:00 UTC on a fixed day.
const nightTs = int64(1_700_017_200_000)

// 13:00 UTC the same day.
const dayTs = int64(1_700_053_200_000)

func newTestPipeline(mode string) *Pipeline {
	cfg := config.DefaultConfig()
	cfg.Mode = mode
	return New(cfg, nil, alerts.NewStore(100), nil)
}

func TestInterpretRejectsInvalidEvent(t *testing.T) {
	p := newTestPipeline(config.ModeAccuracy)
	_, err := p.InterpretEvent(context.Background(), model.PerceptionEvent{
		Location:  "front_door",
		Timestamp: dayTs,
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("missing entity type must fail validation, got %v", err)
	}
}

func TestNightForcedEntryEscalates(t *testing.T) {
	p := newTestPipeline(config.ModeAccuracy)
	result, err := p.InterpretEvent(context.Background(), model.PerceptionEvent{
		EntityType:          "unknown",
		EntityID:            "intruder-1",
		Location:            "back_door",
		Timestamp:           nightTs,
		Behaviors:           []string{"forced_entry", "crouching"},
		DetectionConfidence: 0.9,
	})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if result.Decision.Level != model.LevelCritical {
		t.Fatalf("level = %s, want critical (shaped %v)", result.Decision.Level, result.Decision.ShapedSuspicion)
	}
	if !result.Decision.ShouldNotify {
		t.Fatalf("critical night entry must notify")
	}
	found := false
	for _, r := range result.Decision.Reasons {
		if r == policy.ReasonNightEntryBoost {
			found = true
		}
	}
	if !found {
		t.Fatalf("night boost reason missing: %v", result.Decision.Reasons)
	}
}

func TestAuthorizedDaytimeStaysQuiet(t *testing.T) {
	p := newTestPipeline(config.ModeAccuracy)
	result, err := p.InterpretEvent(context.Background(), model.PerceptionEvent{
		EntityType:          "adult_male",
		EntityID:            "resident-1",
		Location:            "front_door",
		Timestamp:           dayTs,
		Behaviors:           []string{"walking"},
		Metadata:            map[string]string{"known_human": "true"},
		DetectionConfidence: 0.95,
	})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if result.Decision.ShouldNotify {
		t.Fatalf("authorized daytime activity must not notify: %+v", result.Decision)
	}
	if result.Decision.ShapedSuspicion > 0.3 {
		t.Fatalf("authorized suspicion exceeds cap: %v", result.Decision.ShapedSuspicion)
	}
	if result.Intent.PrimaryIntent != model.IntentAuthorizedAccess {
		t.Fatalf("intent = %q", result.Intent.PrimaryIntent)
	}
}

func TestPerformanceModeCachesRepeats(t *testing.T) {
	p := newTestPipeline(config.ModePerformance)
	ev := model.PerceptionEvent{
		EntityType:          "adult_female",
		EntityID:            "visitor-1",
		Location:            "driveway",
		Timestamp:           dayTs,
		Behaviors:           []string{"walking"},
		DetectionConfidence: 0.8,
	}
	first, err := p.InterpretEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("first interpret: %v", err)
	}
	if first.CacheHit {
		t.Fatalf("first interpretation cannot be a cache hit")
	}
	second, err := p.InterpretEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("second interpret: %v", err)
	}
	if !second.CacheHit {
		t.Fatalf("repeat within the same minute must hit the cache")
	}
	if second.EventID != first.EventID {
		t.Fatalf("cached result must carry the original event id")
	}

	report := p.Perf()
	if report.Inference.TotalInferences != 2 {
		t.Fatalf("total inferences = %d, want 2", report.Inference.TotalInferences)
	}
	if report.Cache.Hits != 1 || report.Cache.Misses != 1 {
		t.Fatalf("cache counters = %d/%d, want 1/1", report.Cache.Hits, report.Cache.Misses)
	}
}

func TestAccuracyModeSkipsCache(t *testing.T) {
	p := newTestPipeline(config.ModeAccuracy)
	ev := model.PerceptionEvent{
		EntityType:          "adult_female",
		EntityID:            "visitor-1",
		Location:            "driveway",
		Timestamp:           dayTs,
		Behaviors:           []string{"walking"},
		DetectionConfidence: 0.8,
	}
	first, _ := p.InterpretEvent(context.Background(), ev)
	second, err := p.InterpretEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if second.CacheHit {
		t.Fatalf("accuracy mode must not serve cached results")
	}
	if second.EventID == first.EventID {
		t.Fatalf("accuracy mode must assign fresh event ids")
	}
}

func TestPerformanceModeDefersStores(t *testing.T) {
	p := newTestPipeline(config.ModePerformance)
	_, err := p.InterpretEvent(context.Background(), model.PerceptionEvent{
		EntityType:          "vehicle",
		EntityID:            "car-1",
		Location:            "driveway",
		Timestamp:           dayTs,
		DetectionConfidence: 0.7,
	})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if got := p.Perf().Memory.Events; got != 0 {
		t.Fatalf("store must be deferred, memory already holds %d events", got)
	}
	p.Flush()
	if got := p.Perf().Memory.Events; got != 1 {
		t.Fatalf("flushed memory holds %d events, want 1", got)
	}
}

func TestSequenceOrdersEventsAndStoresSync(t *testing.T) {
	p := newTestPipeline(config.ModePerformance)
	events := []model.PerceptionEvent{
		{EntityType: "unknown", EntityID: "x", Location: "back_window", Timestamp: dayTs + 2000, Behaviors: []string{"peering"}, DetectionConfidence: 0.8},
		{EntityType: "unknown", EntityID: "x", Location: "back_window", Timestamp: dayTs, Behaviors: []string{"loitering"}, DetectionConfidence: 0.8},
		{EntityType: "unknown", EntityID: "x", Location: "back_window", Timestamp: dayTs + 1000, Behaviors: []string{"crouching"}, DetectionConfidence: 0.8},
	}
	results, err := p.InterpretSequence(context.Background(), events)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Event.Timestamp < results[i-1].Event.Timestamp {
			t.Fatalf("results out of order at %d", i)
		}
	}
	// sequence stores bypass the scheduler even in performance mode
	if got := p.Perf().Memory.Events; got != 3 {
		t.Fatalf("memory holds %d events, want 3", got)
	}
}

func TestEmptySequenceRejected(t *testing.T) {
	p := newTestPipeline(config.ModeAccuracy)
	if _, err := p.InterpretSequence(context.Background(), nil); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("empty sequence must fail validation, got %v", err)
	}
}

func TestSlowContextRetrievalDegrades(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeAccuracy
	cfg.Perf.ContextTimeout = 5 * time.Millisecond
	p := New(cfg, nil, alerts.NewStore(100), nil)

	release := make(chan struct{})
	defer close(release)
	p.retrieve = func(location string, timestamp int64, entityType string) memory.Context {
		<-release
		return memory.Context{ContextualRelevance: 0.75}
	}

	result, err := p.InterpretEvent(context.Background(), model.PerceptionEvent{
		EntityType:          "adult_male",
		EntityID:            "p1",
		Location:            "front_door",
		Timestamp:           dayTs,
		Behaviors:           []string{"walking"},
		DetectionConfidence: 0.8,
	})
	if err != nil {
		t.Fatalf("interpretation must survive a slow retrieval: %v", err)
	}
	if result.Assessment.ContextualRelevance != 0.25 {
		t.Fatalf("relevance = %v, want the degraded 0.25 snapshot", result.Assessment.ContextualRelevance)
	}
}

func TestResetClearsState(t *testing.T) {
	p := newTestPipeline(config.ModeAccuracy)
	_, err := p.InterpretEvent(context.Background(), model.PerceptionEvent{
		EntityType:          "adult_male",
		EntityID:            "p1",
		Location:            "front_door",
		Timestamp:           dayTs,
		DetectionConfidence: 0.8,
	})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	p.Reset()
	report := p.Perf()
	if report.Memory.Events != 0 || report.Inference.TotalInferences != 0 || report.Cache.Entries != 0 {
		t.Fatalf("state survived reset: %+v", report)
	}
}
