package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation marks malformed input rejected before any processing.
var ErrValidation = errors.New("validation failed")

// ErrInterpretation wraps collaborator failures during event interpretation.
var ErrInterpretation = errors.New("interpretation failed")

type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelStandard AlertLevel = "standard"
	LevelElevated AlertLevel = "elevated"
	LevelCritical AlertLevel = "critical"
)

var levelRank = map[AlertLevel]int{
	LevelInfo:     0,
	LevelStandard: 1,
	LevelElevated: 2,
	LevelCritical: 3,
}

var rankLevel = []AlertLevel{LevelInfo, LevelStandard, LevelElevated, LevelCritical}

func (l AlertLevel) Rank() int {
	return levelRank[l]
}

// Downgrade steps one level toward info, saturating at info.
func (l AlertLevel) Downgrade() AlertLevel {
	r := l.Rank()
	if r == 0 {
		return LevelInfo
	}
	return rankLevel[r-1]
}

// AtLeast raises l to floor when l orders below it.
func (l AlertLevel) AtLeast(floor AlertLevel) AlertLevel {
	if l.Rank() < floor.Rank() {
		return floor
	}
	return l
}

// LevelForSuspicion maps a shaped suspicion value onto the alert ladder:
// below cutpoints[0] is info, elevated starts at cutpoints[2], critical at
// cutpoints[3], and everything in between is standard. cutpoints[1] sits
// inside the standard band and does not bind a boundary; it is kept so the
// four configured values stay one ascending ladder.
func LevelForSuspicion(s float64, cutpoints [4]float64) AlertLevel {
	switch {
	case s >= cutpoints[3]:
		return LevelCritical
	case s >= cutpoints[2]:
		return LevelElevated
	case s >= cutpoints[0]:
		return LevelStandard
	default:
		return LevelInfo
	}
}

const (
	IntentAuthorizedAccess   = "authorized_access"
	IntentUnauthorizedAccess = "unauthorized_access"

	RiskUnusualTime = "unusual_time"
)

type PerceptionEvent struct {
	EntityType          string            `json:"entity_type"`
	EntityID            string            `json:"entity_id"`
	Location            string            `json:"location"`
	Timestamp           int64             `json:"timestamp"` // ms since epoch
	Behaviors           []string          `json:"behaviors,omitempty"`
	Spatial             map[string]any    `json:"spatial,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	DetectionConfidence float64           `json:"detection_confidence"`
	Source              string            `json:"source,omitempty"`
}

func (e PerceptionEvent) Validate() error {
	if strings.TrimSpace(e.EntityType) == "" {
		return fmt.Errorf("%w: entity_type required", ErrValidation)
	}
	if strings.TrimSpace(e.EntityID) == "" {
		return fmt.Errorf("%w: entity_id required", ErrValidation)
	}
	if strings.TrimSpace(e.Location) == "" {
		return fmt.Errorf("%w: location required", ErrValidation)
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp required", ErrValidation)
	}
	if e.DetectionConfidence < 0 || e.DetectionConfidence > 1 {
		return fmt.Errorf("%w: detection_confidence %v outside [0,1]", ErrValidation, e.DetectionConfidence)
	}
	return nil
}

// MarkedAuthorized reports whether event metadata flags the entity as
// known, keyed or whitelisted.
func (e PerceptionEvent) MarkedAuthorized() bool {
	for _, key := range []string{"known_human", "known", "keyed", "whitelisted", "authorized"} {
		if v, ok := e.Metadata[key]; ok && strings.EqualFold(v, "true") {
			return true
		}
	}
	return false
}

type Assessment struct {
	SuspicionLevel      float64  `json:"suspicion_level"`
	IntentConfidence    float64  `json:"intent_confidence"`
	ContextualRelevance float64  `json:"contextual_relevance"`
	ReasoningCertainty  float64  `json:"reasoning_certainty"`
	Factors             []string `json:"factors,omitempty"`
}

// Normalized clamps every numeric field into [0,1]. A negative value means
// the collaborator left the field unset; it defaults to 0.5.
func (a Assessment) Normalized() Assessment {
	a.SuspicionLevel = normField(a.SuspicionLevel)
	a.IntentConfidence = normField(a.IntentConfidence)
	a.ContextualRelevance = normField(a.ContextualRelevance)
	a.ReasoningCertainty = normField(a.ReasoningCertainty)
	return a
}

func normField(v float64) float64 {
	if v < 0 {
		return 0.5
	}
	return Clamp01(v)
}

type IntentSignal struct {
	PrimaryIntent string   `json:"primary_intent"`
	RiskFactors   []string `json:"risk_factors,omitempty"`
}

func (s IntentSignal) HasRiskFactor(tag string) bool {
	for _, f := range s.RiskFactors {
		if f == tag {
			return true
		}
	}
	return false
}

type MemoryEntry struct {
	EventID    string          `json:"event_id"`
	Event      PerceptionEvent `json:"event"`
	Assessment Assessment      `json:"assessment"`
	StoredAt   int64           `json:"stored_at"` // ms since epoch
}

type AlertDecision struct {
	ShapedSuspicion float64    `json:"shaped_suspicion"`
	Level           AlertLevel `json:"alert_level"`
	ShouldNotify    bool       `json:"should_notify"`
	Reasons         []string   `json:"reasons"`
}

type InterpretationResult struct {
	EventID             string          `json:"event_id"`
	Event               PerceptionEvent `json:"event"`
	Intent              IntentSignal    `json:"intent"`
	Assessment          Assessment      `json:"assessment"`
	Decision            AlertDecision   `json:"decision"`
	CognitiveConfidence float64         `json:"cognitive_confidence"`
	LatencyMs           float64         `json:"processing_latency_ms"`
	CacheHit            bool            `json:"cache_hit,omitempty"`
}

func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
