// Package reasoning defines the collaborator contracts the pipeline is
// constructed with, plus replaceable stand-in implementations driven by
// weight tables and a seeded generator so fixtures stay reproducible.
package reasoning

import (
	"log/slog"
	"time"

	"edgesentry/internal/bounded"
	"edgesentry/internal/detrand"
	"edgesentry/internal/memory"
	"edgesentry/internal/model"
)

// ReasoningEngine scores an event given the intent signal and memory
// context. The pipeline consumes only the numeric assessment fields and
// passes factors through untouched.
type ReasoningEngine interface {
	Assess(event model.PerceptionEvent, intent model.IntentSignal, ctx memory.Context) (model.Assessment, error)
}

// IntentModeler classifies the primary intent behind an event.
type IntentModeler interface {
	Infer(event model.PerceptionEvent, ctx memory.Context) (model.IntentSignal, error)
}

// AdaptiveLearner receives every finished interpretation for offline
// adjustment. Failures are logged by the caller, never propagated.
type AdaptiveLearner interface {
	Learn(event model.PerceptionEvent, result model.InterpretationResult) error
}

// PresenceObserver is notified of entity presence on every store.
type PresenceObserver interface {
	ObservePresence(event model.PerceptionEvent)
}

// HeuristicReasoner is the default stand-in scoring engine: a base score
// per entity type plus additive behavior weights, nudged by intent and the
// normal-pattern table, with a small seeded jitter.
type HeuristicReasoner struct {
	EntityBase      map[string]float64
	BehaviorWeights map[string]float64
	rng             *detrand.LCG
}

func NewHeuristicReasoner(seed uint32) *HeuristicReasoner {
	return &HeuristicReasoner{
		EntityBase: map[string]float64{
			"adult_male":   0.35,
			"adult_female": 0.35,
			"child":        0.15,
			"vehicle":      0.30,
			"animal":       0.10,
			"unknown":      0.50,
		},
		BehaviorWeights: map[string]float64{
			"walking":         0.05,
			"running":         0.15,
			"loitering":       0.30,
			"crouching":       0.35,
			"peering":         0.40,
			"forced_entry":    0.60,
			"carrying_object": 0.20,
		},
		rng: detrand.New(seed),
	}
}

func (r *HeuristicReasoner) Assess(event model.PerceptionEvent, intent model.IntentSignal, ctx memory.Context) (model.Assessment, error) {
	base, ok := r.EntityBase[event.EntityType]
	if !ok {
		base = 0.3
	}
	s := base
	factors := make([]string, 0, len(event.Behaviors))
	for _, b := range event.Behaviors {
		if w, ok := r.BehaviorWeights[b]; ok {
			s += w
			factors = append(factors, "behavior:"+b)
		}
	}
	if intent.PrimaryIntent == model.IntentUnauthorizedAccess {
		s += 0.15
		factors = append(factors, "intent:unauthorized")
	}
	if ctx.Normal != nil && ctx.Normal.TotalCount > 0 {
		s -= 0.05
		factors = append(factors, "context:known_pattern")
	}
	s += r.rng.Float64() * 0.05

	return model.Assessment{
		SuspicionLevel:      model.Clamp01(s),
		IntentConfidence:    model.Clamp01(0.5 + event.DetectionConfidence/2),
		ContextualRelevance: model.Clamp01(ctx.ContextualRelevance),
		ReasoningCertainty:  model.Clamp01(0.55 + event.DetectionConfidence*0.35),
		Factors:             factors,
	}, nil
}

// RuleIntentModeler flags authorization from event metadata and tags night
// hours as an unusual time.
type RuleIntentModeler struct {
	NightStartHour int // inclusive, default 22
	NightEndHour   int // exclusive, default 6
}

func NewRuleIntentModeler() *RuleIntentModeler {
	return &RuleIntentModeler{NightStartHour: 22, NightEndHour: 6}
}

func (m *RuleIntentModeler) Infer(event model.PerceptionEvent, ctx memory.Context) (model.IntentSignal, error) {
	signal := model.IntentSignal{PrimaryIntent: model.IntentUnauthorizedAccess}
	if event.MarkedAuthorized() {
		signal.PrimaryIntent = model.IntentAuthorizedAccess
	}
	hour := time.UnixMilli(event.Timestamp).UTC().Hour()
	if hour >= m.NightStartHour || hour < m.NightEndHour {
		signal.RiskFactors = append(signal.RiskFactors, model.RiskUnusualTime)
	}
	return signal, nil
}

// LoggingLearner is the default adaptive-learning stand-in: it records the
// outcome at debug level and never fails.
type LoggingLearner struct {
	Logger *slog.Logger
}

func (l *LoggingLearner) Learn(event model.PerceptionEvent, result model.InterpretationResult) error {
	if l.Logger != nil {
		l.Logger.Debug("adaptive learning sample",
			"entity_id", event.EntityID,
			"location", event.Location,
			"alert_level", result.Decision.Level,
			"shaped_suspicion", result.Decision.ShapedSuspicion,
		)
	}
	return nil
}

// PresenceTracker keeps a bounded last-seen table per entity.
type PresenceTracker struct {
	seen *bounded.Cache[string, int64]
}

func NewPresenceTracker(capacity int) *PresenceTracker {
	return &PresenceTracker{seen: bounded.NewCache[string, int64](capacity)}
}

func (p *PresenceTracker) ObservePresence(event model.PerceptionEvent) {
	p.seen.Set(event.EntityID, event.Timestamp)
}

// LastSeen returns the newest observed timestamp for an entity.
func (p *PresenceTracker) LastSeen(entityID string) (int64, bool) {
	return p.seen.Peek(entityID)
}
