package normalize

import (
	"testing"
	"time"

	"edgesentry/internal/config"
)

func TestNormalizeUnixMillis(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(EventFields{
		EntityType: "Adult_Male",
		EntityID:   "track-1",
		Location:   "front_door",
		Timestamp:  "1700000000000",
		Behaviors:  []string{" Walking ", ""},
		Confidence: "0.9",
	}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Timestamp != 1700000000000 {
		t.Fatalf("timestamp = %d", ev.Timestamp)
	}
	if ev.EntityType != "adult_male" {
		t.Fatalf("entity type not lowered: %q", ev.EntityType)
	}
	if len(ev.Behaviors) != 1 || ev.Behaviors[0] != "walking" {
		t.Fatalf("behaviors: %v", ev.Behaviors)
	}
	if ev.DetectionConfidence != 0.9 {
		t.Fatalf("confidence: %v", ev.DetectionConfidence)
	}
}

func TestNormalizeRFC3339AndSeconds(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(EventFields{EntityType: "vehicle", Timestamp: "2026-02-23T12:34:56Z"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := time.Date(2026, 2, 23, 12, 34, 56, 0, time.UTC).UnixMilli()
	if ev.Timestamp != want {
		t.Fatalf("timestamp = %d, want %d", ev.Timestamp, want)
	}

	ev, err = Normalize(EventFields{EntityType: "vehicle", Timestamp: "1700000000"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Timestamp != 1700000000*1000 {
		t.Fatalf("seconds timestamp = %d", ev.Timestamp)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	ev, err := Normalize(EventFields{EntityType: "animal"}, cfg)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Location != cfg.Ingest.Parser.DefaultLocation {
		t.Fatalf("default location not applied: %q", ev.Location)
	}
	if ev.DetectionConfidence != defaultConfidence {
		t.Fatalf("default confidence not applied: %v", ev.DetectionConfidence)
	}
	if ev.Timestamp == 0 {
		t.Fatalf("missing timestamp must fall back to now")
	}
}

func TestNormalizeBadTimestamp(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := Normalize(EventFields{EntityType: "vehicle", Timestamp: "not-a-time"}, cfg); err == nil {
		t.Fatalf("expected timestamp error")
	}
}
