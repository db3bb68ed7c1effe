package rescache

import (
	"testing"
	"time"

	"edgesentry/internal/model"
)

func sampleEvent(ts int64) model.PerceptionEvent {
	return model.PerceptionEvent{
		EntityType:          "adult_male",
		EntityID:            "person-1",
		Location:            "front_door",
		Timestamp:           ts,
		Behaviors:           []string{"walking"},
		DetectionConfidence: 0.85,
	}
}

func TestFingerprintMinuteBucket(t *testing.T) {
	base := int64(1_700_000_000_000)
	a := Fingerprint(sampleEvent(base))
	b := Fingerprint(sampleEvent(base + 30_000)) // same minute
	c := Fingerprint(sampleEvent(base + 90_000)) // next minute
	if a != b {
		t.Fatalf("same-minute events should share a fingerprint")
	}
	if a == c {
		t.Fatalf("different minute buckets should differ")
	}
	other := sampleEvent(base)
	other.Behaviors = []string{"running"}
	if Fingerprint(other) == a {
		t.Fatalf("behavior change should alter the fingerprint")
	}
}

func TestLookupHitAndTTL(t *testing.T) {
	c := New(10, 30*time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	ev := sampleEvent(1_700_000_000_000)
	if _, ok := c.Lookup(ev); ok {
		t.Fatalf("empty cache should miss")
	}
	c.Record(ev, model.InterpretationResult{EventID: "e1"})
	got, ok := c.Lookup(ev)
	if !ok || got.EventID != "e1" {
		t.Fatalf("expected hit with recorded result, got ok=%v %+v", ok, got)
	}

	now = now.Add(31 * time.Second)
	if _, ok := c.Lookup(ev); ok {
		t.Fatalf("expired entry should miss")
	}

	// Record refreshes regardless of prior TTL state.
	c.Record(ev, model.InterpretationResult{EventID: "e2"})
	got, ok = c.Lookup(ev)
	if !ok || got.EventID != "e2" {
		t.Fatalf("expected refreshed entry, got ok=%v %+v", ok, got)
	}
}

func TestCounters(t *testing.T) {
	c := New(10, time.Minute)
	ev := sampleEvent(1_700_000_000_000)
	c.Lookup(ev)
	c.Record(ev, model.InterpretationResult{})
	c.Lookup(ev)
	if c.Hits() != 1 || c.Misses() != 1 {
		t.Fatalf("unexpected counters: hits=%d misses=%d", c.Hits(), c.Misses())
	}
	if rate := c.HitRate(); rate != 0.5 {
		t.Fatalf("hit rate = %v, want 0.5", rate)
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(2, time.Minute)
	for i := 0; i < 3; i++ {
		ev := sampleEvent(1_700_000_000_000 + int64(i)*60_000)
		c.Record(ev, model.InterpretationResult{})
	}
	if c.Len() != 2 {
		t.Fatalf("expected capped length 2, got %d", c.Len())
	}
}
