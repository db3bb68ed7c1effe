package memory

import (
	"testing"
	"time"

	"edgesentry/internal/config"
	"edgesentry/internal/model"
)

func testMemoryConfig() config.MemoryConfig {
	return config.DefaultConfig().Memory
}

func testEvent(entityID, location string, ts int64, behaviors ...string) model.PerceptionEvent {
	return model.PerceptionEvent{
		EntityType:          "adult_male",
		EntityID:            entityID,
		Location:            location,
		Timestamp:           ts,
		Behaviors:           behaviors,
		DetectionConfidence: 0.8,
	}
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	x.chance = func() float64 { return 1 } // no cleanup during the test

	ts := int64(1_700_000_000_000)
	ev := testEvent("person-1", "front_door", ts, "walking")
	id := x.Store(ev, model.Assessment{SuspicionLevel: 0.6})
	if id == "" {
		t.Fatalf("store must return an event id")
	}

	ctx := x.RetrieveContext("front_door", ts, "adult_male")
	if len(ctx.Spatial) != 1 || ctx.Spatial[0].EventID != id {
		t.Fatalf("stored event missing from spatial context: %+v", ctx.Spatial)
	}
	if len(ctx.Temporal) != 1 {
		t.Fatalf("stored event missing from temporal context")
	}
	if len(ctx.EntitySample) != 1 || ctx.EntitySample[0].EntityType != "adult_male" {
		t.Fatalf("entity sample missing: %+v", ctx.EntitySample)
	}
	if ctx.ContextualRelevance != 0.75 {
		t.Fatalf("relevance = %v, want 0.75", ctx.ContextualRelevance)
	}
}

func TestEmptyContextRelevance(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	ctx := x.RetrieveContext("backyard", 1_700_000_000_000, "adult_male")
	if len(ctx.Spatial) != 0 || len(ctx.Temporal) != 0 {
		t.Fatalf("expected empty context")
	}
	if ctx.ContextualRelevance != 0.25 {
		t.Fatalf("relevance = %v, want 0.25", ctx.ContextualRelevance)
	}
}

func TestSpatialContextCapped(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	x.chance = func() float64 { return 1 }
	ts := int64(1_700_000_000_000)
	for i := 0; i < 25; i++ {
		x.Store(testEvent("person-1", "front_door", ts+int64(i)), model.Assessment{SuspicionLevel: 0.6})
	}
	ctx := x.RetrieveContext("front_door", ts, "adult_male")
	if len(ctx.Spatial) != 10 {
		t.Fatalf("spatial context should cap at 10, got %d", len(ctx.Spatial))
	}
	if len(ctx.Temporal) != 5 {
		t.Fatalf("temporal context should cap at 5, got %d", len(ctx.Temporal))
	}
}

func TestNormalPatternOnlyLowSuspicion(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	x.chance = func() float64 { return 1 }
	ts := int64(1_700_000_000_000)

	x.Store(testEvent("p1", "front_door", ts, "walking"), model.Assessment{SuspicionLevel: 0.9})
	ctx := x.RetrieveContext("front_door", ts, "adult_male")
	if ctx.Normal != nil {
		t.Fatalf("high-suspicion events must not feed normal patterns")
	}

	x.Store(testEvent("p1", "front_door", ts, "walking"), model.Assessment{SuspicionLevel: 0.1})
	x.Store(testEvent("p2", "front_door", ts, "walking"), model.Assessment{SuspicionLevel: 0.2})
	ctx = x.RetrieveContext("front_door", ts, "adult_male")
	if ctx.Normal == nil || ctx.Normal.TotalCount != 2 {
		t.Fatalf("expected normal pattern with two samples, got %+v", ctx.Normal)
	}
	if ctx.Normal.BehaviorFrequencies["walking"] != 2 {
		t.Fatalf("behavior frequency wrong: %+v", ctx.Normal.BehaviorFrequencies)
	}
}

func TestNormalPatternIsolatedFromLaterStores(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	x.chance = func() float64 { return 1 }
	ts := int64(1_700_000_000_000)

	x.Store(testEvent("p1", "front_door", ts, "walking"), model.Assessment{SuspicionLevel: 0.1})
	ctx := x.RetrieveContext("front_door", ts, "adult_male")
	if ctx.Normal == nil || ctx.Normal.TotalCount != 1 {
		t.Fatalf("expected one-sample pattern, got %+v", ctx.Normal)
	}

	x.Store(testEvent("p2", "front_door", ts, "loitering"), model.Assessment{SuspicionLevel: 0.1})
	if ctx.Normal.TotalCount != 1 || ctx.Normal.BehaviorFrequencies["loitering"] != 0 {
		t.Fatalf("retrieved pattern mutated by a later store: %+v", ctx.Normal)
	}
}

func TestConcurrentStoreAndRetrieve(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	x.chance = func() float64 { return 1 }
	ts := int64(1_700_000_000_000)
	x.Store(testEvent("p0", "front_door", ts, "walking"), model.Assessment{SuspicionLevel: 0.1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			x.Store(testEvent("p1", "front_door", ts, "walking"), model.Assessment{SuspicionLevel: 0.1})
		}
	}()
	for i := 0; i < 200; i++ {
		ctx := x.RetrieveContext("front_door", ts, "adult_male")
		if ctx.Normal != nil && ctx.Normal.TotalCount < 1 {
			t.Fatalf("pattern count went backwards: %+v", ctx.Normal)
		}
	}
	<-done
}

func TestEvictionDropsFromContext(t *testing.T) {
	cfg := testMemoryConfig()
	cfg.MaxEvents = 5
	x := NewIndex(cfg, nil, nil)
	x.chance = func() float64 { return 1 }
	ts := int64(1_700_000_000_000)

	first := x.Store(testEvent("p0", "front_door", ts), model.Assessment{SuspicionLevel: 0.6})
	for i := 1; i <= 5; i++ {
		x.Store(testEvent("p0", "front_door", ts+int64(i)), model.Assessment{SuspicionLevel: 0.6})
	}
	ctx := x.RetrieveContext("front_door", ts, "adult_male")
	for _, entry := range ctx.Spatial {
		if entry.EventID == first {
			t.Fatalf("evicted event still resolvable in context")
		}
	}
}

func TestRetentionSweep(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	x.chance = func() float64 { return 1 }
	now := time.UnixMilli(1_700_000_000_000)
	x.now = func() time.Time { return now }

	x.Store(testEvent("p1", "front_door", now.UnixMilli()), model.Assessment{SuspicionLevel: 0.6})
	now = now.Add(2 * time.Hour)
	x.removeExpired()
	if stats := x.Stats(); stats.Events != 0 {
		t.Fatalf("expired entries not swept: %+v", stats)
	}
}

func TestPooledContextRelease(t *testing.T) {
	x := NewIndex(testMemoryConfig(), nil, nil)
	x.chance = func() float64 { return 1 }
	pools := NewContextPools(16)
	x.AttachPools(pools)

	ts := int64(1_700_000_000_000)
	x.Store(testEvent("p1", "front_door", ts), model.Assessment{SuspicionLevel: 0.6})
	ctx := x.RetrieveContext("front_door", ts, "adult_male")
	x.ReleaseContext(ctx)

	stats := pools.Stats()
	if stats["context_entries"].Free == 0 {
		t.Fatalf("released entry slices not pooled: %+v", stats)
	}
}
