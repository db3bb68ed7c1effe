// Package policy turns a raw suspicion assessment into a graded,
// deduplicated alert decision. Shaping steps run in a fixed order and each
// one that fires appends a reason tag, so every decision carries an
// auditable trail.
package policy

import (
	"strings"
	"sync"
	"time"

	"edgesentry/internal/bounded"
	"edgesentry/internal/config"
	"edgesentry/internal/memory"
	"edgesentry/internal/model"
)

// Reason tags, in the order the steps can emit them.
const (
	ReasonAuthorizedDownweight = "authorized_downweight"
	ReasonNormalPatternDamping = "normal_pattern_damping"
	ReasonNightEntryBoost      = "night_entry_boost"
	ReasonKnownIgnored         = "known_activity_ignored"
	ReasonKnownSilenced        = "known_activity_silenced"
	ReasonKnownDowngraded      = "known_activity_downgraded"
	ReasonLowConfidence        = "low_confidence_downgrade"
	ReasonBackoffDowngrade     = "backoff_downgrade"
	ReasonBackoffSuppressed    = "backoff_suppressed"
)

type Input struct {
	Event      model.PerceptionEvent
	Intent     model.IntentSignal
	Assessment model.Assessment
	Context    memory.Context
}

type Engine struct {
	mu      sync.Mutex
	cfg     config.PolicyConfig
	backoff *bounded.Cache[string, int64] // entityId@location -> last notified, ms
	now     func() time.Time
}

func NewEngine(cfg config.PolicyConfig) *Engine {
	return &Engine{
		cfg:     cfg,
		backoff: bounded.NewCache[string, int64](cfg.BackoffEntries),
		now:     time.Now,
	}
}

func (e *Engine) UpdateConfig(cfg config.PolicyConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) Reset() {
	e.mu.Lock()
	e.backoff.Clear()
	e.mu.Unlock()
}

// CognitiveConfidence is the mean of the three collaborator confidence
// signals.
func CognitiveConfidence(a model.Assessment) float64 {
	return (a.IntentConfidence + a.ContextualRelevance + a.ReasoningCertainty) / 3
}

// Decide applies the shaping steps to one assessed event. Suspicion stays
// clamped to [0,1] after every step.
func (e *Engine) Decide(in Input) model.AlertDecision {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg

	s := model.Clamp01(in.Assessment.SuspicionLevel)
	reasons := make([]string, 0, 4)

	authorized := in.Intent.PrimaryIntent == model.IntentAuthorizedAccess || in.Event.MarkedAuthorized()

	// 1. Authorization downweight, capped.
	if authorized {
		s = model.Clamp01(s - cfg.AuthorizedDownweight)
		if s > cfg.AuthorizedCap {
			s = cfg.AuthorizedCap
		}
		reasons = append(reasons, ReasonAuthorizedDownweight)
	}

	// 2. Normal-pattern damping.
	if in.Context.Normal != nil && in.Context.Normal.TotalCount > 0 {
		s = model.Clamp01(s - cfg.PatternDamping)
		reasons = append(reasons, ReasonNormalPatternDamping)
	}

	// 3. Night-unauthorized-entry boost.
	nightEntry := in.Intent.PrimaryIntent == model.IntentUnauthorizedAccess &&
		in.Intent.HasRiskFactor(cfg.UnusualTimeTag) &&
		isEntryLocation(in.Event.Location, cfg.EntryLocationTerms)
	if nightEntry {
		s = model.Clamp01(s + cfg.NightBoost)
		reasons = append(reasons, ReasonNightEntryBoost)
	}

	// 4. Base alert level from the shaped suspicion.
	level := model.LevelForSuspicion(s, cfg.CutpointsArray())
	notify := level != model.LevelInfo

	// 5. Minimum-level enforcement for night entries.
	nightFloor := model.AlertLevel(strings.ToLower(cfg.NightMinLevel))
	if nightEntry {
		level = level.AtLeast(nightFloor)
		notify = true
	}

	// 6. Known-activity handling.
	if authorized {
		switch strings.ToLower(cfg.KnownActivity) {
		case "silent":
			level = model.LevelInfo
			notify = false
			reasons = append(reasons, ReasonKnownSilenced)
		case "low":
			level = level.Downgrade()
			if level == model.LevelInfo {
				notify = false
			}
			reasons = append(reasons, ReasonKnownDowngraded)
		default: // ignore
			if len(in.Intent.RiskFactors) == 0 {
				level = model.LevelInfo
				notify = false
				reasons = append(reasons, ReasonKnownIgnored)
			}
		}
	}

	// 7. Confidence gating.
	if CognitiveConfidence(in.Assessment) < cfg.ConfidenceThreshold && level != model.LevelCritical {
		level = level.Downgrade()
		if level == model.LevelInfo {
			notify = false
		}
		reasons = append(reasons, ReasonLowConfidence)
	}

	// 8. Re-enforce the night-entry floor after gating.
	if nightEntry {
		level = level.AtLeast(nightFloor)
		notify = true
	}

	// 9. Backoff for the entity/location pair.
	key := in.Event.EntityID + "@" + in.Event.Location
	nowMs := e.now().UnixMilli()
	if last, ok := e.backoff.Peek(key); ok && nowMs-last < cfg.Backoff.Milliseconds() {
		if level == model.LevelCritical {
			level = level.Downgrade()
			reasons = append(reasons, ReasonBackoffDowngrade)
		} else {
			level = model.LevelInfo
			notify = false
			reasons = append(reasons, ReasonBackoffSuppressed)
		}
	}

	// 10. Record the notification time for future backoff checks.
	if notify && level != model.LevelInfo {
		e.backoff.Set(key, nowMs)
	}

	return model.AlertDecision{
		ShapedSuspicion: s,
		Level:           level,
		ShouldNotify:    notify,
		Reasons:         reasons,
	}
}

func isEntryLocation(location string, terms []string) bool {
	loc := strings.ToLower(location)
	for _, term := range terms {
		if strings.Contains(loc, term) {
			return true
		}
	}
	return false
}
