package policy

import (
	"testing"
	"time"

	"edgesentry/internal/config"
	"edgesentry/internal/detrand"
	"edgesentry/internal/memory"
	"edgesentry/internal/model"
)

func testPolicyConfig() config.PolicyConfig {
	return config.DefaultConfig().Policy
}

func confidentAssessment(suspicion float64) model.Assessment {
	return model.Assessment{
		SuspicionLevel:      suspicion,
		IntentConfidence:    0.9,
		ContextualRelevance: 0.9,
		ReasoningCertainty:  0.9,
	}
}

func nightEvent() model.PerceptionEvent {
	return model.PerceptionEvent{
		EntityType:          "adult_male",
		EntityID:            "person-1",
		Location:            "front_door",
		Timestamp:           1_700_000_000_000,
		Behaviors:           []string{"walking"},
		DetectionConfidence: 0.85,
	}
}

func hasReason(d model.AlertDecision, tag string) bool {
	for _, r := range d.Reasons {
		if r == tag {
			return true
		}
	}
	return false
}

func TestNightUnauthorizedEntry(t *testing.T) {
	e := NewEngine(testPolicyConfig())
	d := e.Decide(Input{
		Event: nightEvent(),
		Intent: model.IntentSignal{
			PrimaryIntent: model.IntentUnauthorizedAccess,
			RiskFactors:   []string{model.RiskUnusualTime},
		},
		Assessment: confidentAssessment(0.5),
	})
	if d.Level.Rank() < model.LevelStandard.Rank() {
		t.Fatalf("expected at least standard, got %s", d.Level)
	}
	if !d.ShouldNotify {
		t.Fatalf("night entry must notify")
	}
	if !hasReason(d, ReasonNightEntryBoost) {
		t.Fatalf("missing night boost reason: %v", d.Reasons)
	}
}

func TestNightFloorSurvivesConfidenceGate(t *testing.T) {
	e := NewEngine(testPolicyConfig())
	weak := confidentAssessment(0.5)
	weak.IntentConfidence = 0.2
	weak.ContextualRelevance = 0.2
	weak.ReasoningCertainty = 0.2
	d := e.Decide(Input{
		Event: nightEvent(),
		Intent: model.IntentSignal{
			PrimaryIntent: model.IntentUnauthorizedAccess,
			RiskFactors:   []string{model.RiskUnusualTime},
		},
		Assessment: weak,
	})
	if d.Level.Rank() < model.LevelStandard.Rank() || !d.ShouldNotify {
		t.Fatalf("night floor must hold after gating, got %s notify=%v", d.Level, d.ShouldNotify)
	}
	if !hasReason(d, ReasonLowConfidence) {
		t.Fatalf("expected gating reason: %v", d.Reasons)
	}
}

func TestAuthorizedDownweightCap(t *testing.T) {
	cfg := testPolicyConfig()
	cfg.KnownActivity = "low"
	e := NewEngine(cfg)
	ev := nightEvent()
	ev.Metadata = map[string]string{"known_human": "true"}
	d := e.Decide(Input{
		Event:      ev,
		Intent:     model.IntentSignal{PrimaryIntent: model.IntentAuthorizedAccess},
		Assessment: confidentAssessment(0.9),
	})
	if d.ShapedSuspicion > 0.3 {
		t.Fatalf("authorized suspicion %v exceeds cap", d.ShapedSuspicion)
	}
	if !hasReason(d, ReasonAuthorizedDownweight) {
		t.Fatalf("missing downweight reason: %v", d.Reasons)
	}
	// Shaped 0.3 maps to standard; "low" handling steps down exactly once.
	if d.Level != model.LevelInfo {
		t.Fatalf("expected one-step downgrade to info, got %s", d.Level)
	}
	if !hasReason(d, ReasonKnownDowngraded) {
		t.Fatalf("missing known-activity reason: %v", d.Reasons)
	}
	if d.ShouldNotify {
		t.Fatalf("info decisions must not notify")
	}
}

func TestKnownIgnorePolicy(t *testing.T) {
	e := NewEngine(testPolicyConfig()) // ignore is the default
	d := e.Decide(Input{
		Event:      nightEvent(),
		Intent:     model.IntentSignal{PrimaryIntent: model.IntentAuthorizedAccess},
		Assessment: confidentAssessment(0.9),
	})
	if d.Level != model.LevelInfo || d.ShouldNotify {
		t.Fatalf("ignore policy should suppress, got %s notify=%v", d.Level, d.ShouldNotify)
	}
	if !hasReason(d, ReasonKnownIgnored) {
		t.Fatalf("missing ignore reason: %v", d.Reasons)
	}

	// With risk factors present, ignore does not suppress.
	d = e.Decide(Input{
		Event: nightEvent(),
		Intent: model.IntentSignal{
			PrimaryIntent: model.IntentAuthorizedAccess,
			RiskFactors:   []string{model.RiskUnusualTime},
		},
		Assessment: confidentAssessment(0.95),
	})
	if hasReason(d, ReasonKnownIgnored) {
		t.Fatalf("risky authorized activity should not be ignored: %v", d.Reasons)
	}
}

func TestNormalPatternDamping(t *testing.T) {
	e := NewEngine(testPolicyConfig())
	d := e.Decide(Input{
		Event:      nightEvent(),
		Intent:     model.IntentSignal{PrimaryIntent: model.IntentUnauthorizedAccess},
		Assessment: confidentAssessment(0.5),
		Context: memory.Context{
			Normal: &memory.NormalPattern{TotalCount: 12},
		},
	})
	if d.ShapedSuspicion != 0.4 {
		t.Fatalf("expected damped suspicion 0.4, got %v", d.ShapedSuspicion)
	}
	if !hasReason(d, ReasonNormalPatternDamping) {
		t.Fatalf("missing damping reason: %v", d.Reasons)
	}
}

func TestBackoffWindow(t *testing.T) {
	e := NewEngine(testPolicyConfig())
	now := time.UnixMilli(1_700_000_000_000)
	e.now = func() time.Time { return now }

	in := Input{
		Event: nightEvent(),
		Intent: model.IntentSignal{
			PrimaryIntent: model.IntentUnauthorizedAccess,
			RiskFactors:   []string{model.RiskUnusualTime},
		},
		Assessment: confidentAssessment(0.6),
	}
	first := e.Decide(in)
	if !first.ShouldNotify {
		t.Fatalf("first decision should notify")
	}

	now = now.Add(10 * time.Second)
	second := e.Decide(in)
	if second.ShouldNotify && second.Level == first.Level {
		t.Fatalf("second decision inside the window must be suppressed or downgraded")
	}

	now = now.Add(61 * time.Second)
	third := e.Decide(in)
	if !third.ShouldNotify {
		t.Fatalf("window reopened, third decision should notify")
	}
}

func TestBackoffDowngradesCritical(t *testing.T) {
	e := NewEngine(testPolicyConfig())
	now := time.UnixMilli(1_700_000_000_000)
	e.now = func() time.Time { return now }

	in := Input{
		Event:      nightEvent(),
		Intent:     model.IntentSignal{PrimaryIntent: model.IntentUnauthorizedAccess},
		Assessment: confidentAssessment(0.95),
	}
	first := e.Decide(in)
	if first.Level != model.LevelCritical || !first.ShouldNotify {
		t.Fatalf("expected critical notify, got %s notify=%v", first.Level, first.ShouldNotify)
	}

	now = now.Add(5 * time.Second)
	second := e.Decide(in)
	if second.Level != model.LevelElevated {
		t.Fatalf("critical inside window should downgrade one level, got %s", second.Level)
	}
	if !hasReason(second, ReasonBackoffDowngrade) {
		t.Fatalf("missing backoff reason: %v", second.Reasons)
	}
}

func TestShapedSuspicionAlwaysClamped(t *testing.T) {
	rng := detrand.New(99)
	for i := 0; i < 500; i++ {
		cfg := testPolicyConfig()
		cfg.AuthorizedDownweight = rng.Float64() * 2
		cfg.NightBoost = rng.Float64() * 2
		cfg.PatternDamping = rng.Float64()
		e := NewEngine(cfg)

		in := Input{
			Event:      nightEvent(),
			Assessment: confidentAssessment(rng.Float64()),
		}
		if rng.Intn(2) == 0 {
			in.Intent = model.IntentSignal{
				PrimaryIntent: model.IntentUnauthorizedAccess,
				RiskFactors:   []string{model.RiskUnusualTime},
			}
		} else {
			in.Intent = model.IntentSignal{PrimaryIntent: model.IntentAuthorizedAccess}
		}
		if rng.Intn(2) == 0 {
			in.Context.Normal = &memory.NormalPattern{TotalCount: 1}
		}
		d := e.Decide(in)
		if d.ShapedSuspicion < 0 || d.ShapedSuspicion > 1 {
			t.Fatalf("iteration %d: shaped suspicion %v outside [0,1]", i, d.ShapedSuspicion)
		}
	}
}

func TestDowngradeSaturates(t *testing.T) {
	if model.LevelInfo.Downgrade() != model.LevelInfo {
		t.Fatalf("info must saturate")
	}
	if model.LevelCritical.Downgrade() != model.LevelElevated {
		t.Fatalf("critical downgrades to elevated")
	}
}
