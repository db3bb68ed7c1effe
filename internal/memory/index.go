// Package memory holds the bounded event memory: a primary store of recent
// perception events plus spatial, temporal and entity views, and a table of
// behavior patterns considered normal for a location and time of week.
package memory

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"edgesentry/internal/bounded"
	"edgesentry/internal/config"
	"edgesentry/internal/model"
	"edgesentry/internal/sched"
)

// Suspicion below this feeds the normal-pattern table.
const normalSuspicionCeiling = 0.3

const (
	spatialContextLimit  = 10
	temporalContextLimit = 5
	entitySampleLimit    = 10
)

// Observation is the per-entity view of a stored event.
type Observation struct {
	Timestamp  int64            `json:"timestamp"`
	EntityType string           `json:"entity_type"`
	Behaviors  []string         `json:"behaviors,omitempty"`
	Assessment model.Assessment `json:"assessment"`
}

// NormalPattern accumulates what low-suspicion traffic at a location looks
// like for one hour-of-day/day-of-week slot.
type NormalPattern struct {
	BehaviorFrequencies   map[string]int `json:"behavior_frequencies"`
	EntityTypeFrequencies map[string]int `json:"entity_type_frequencies"`
	TotalCount            int            `json:"total_count"`
}

// snapshot copies the pattern so callers never share maps with the
// index, which keeps mutating the stored pattern under its own lock.
func (p *NormalPattern) snapshot() *NormalPattern {
	c := &NormalPattern{
		BehaviorFrequencies:   make(map[string]int, len(p.BehaviorFrequencies)),
		EntityTypeFrequencies: make(map[string]int, len(p.EntityTypeFrequencies)),
		TotalCount:            p.TotalCount,
	}
	for k, v := range p.BehaviorFrequencies {
		c.BehaviorFrequencies[k] = v
	}
	for k, v := range p.EntityTypeFrequencies {
		c.EntityTypeFrequencies[k] = v
	}
	return c
}

// Context is the snapshot handed to the reasoning collaborators.
type Context struct {
	Spatial             []model.MemoryEntry          `json:"spatial,omitempty"`
	Temporal            []model.MemoryEntry          `json:"temporal,omitempty"`
	EntitySample        []Observation                `json:"entity_sample,omitempty"`
	Normal              *NormalPattern               `json:"normal,omitempty"`
	ContextualRelevance float64                      `json:"contextual_relevance"`
	History             []model.InterpretationResult `json:"-"`
}

type Stats struct {
	Events   int `json:"events"`
	Spatial  int `json:"spatial_buckets"`
	Temporal int `json:"temporal_buckets"`
	Entities int `json:"entity_buckets"`
	Patterns int `json:"pattern_buckets"`
}

type Index struct {
	mu  sync.Mutex
	cfg config.MemoryConfig

	events   *bounded.Cache[string, model.MemoryEntry]
	spatial  *bounded.Cache[string, *bounded.Ring[string]]
	temporal *bounded.Cache[int64, *bounded.Ring[string]]
	entities *bounded.Cache[string, *bounded.Ring[Observation]]
	patterns *bounded.Cache[string, *NormalPattern]

	scheduler *sched.Scheduler
	pools     *ContextPools
	logger    *slog.Logger
	chance    func() float64
	now       func() time.Time
}

func NewIndex(cfg config.MemoryConfig, scheduler *sched.Scheduler, logger *slog.Logger) *Index {
	return &Index{
		cfg:       cfg,
		events:    bounded.NewCache[string, model.MemoryEntry](cfg.MaxEvents),
		spatial:   bounded.NewCache[string, *bounded.Ring[string]](cfg.SpatialBuckets),
		temporal:  bounded.NewCache[int64, *bounded.Ring[string]](cfg.TemporalBuckets),
		entities:  bounded.NewCache[string, *bounded.Ring[Observation]](cfg.EntityBuckets),
		patterns:  bounded.NewCache[string, *NormalPattern](cfg.PatternBuckets),
		scheduler: scheduler,
		logger:    logger,
		chance:    rand.Float64,
		now:       time.Now,
	}
}

// Store indexes the event under a fresh event id and returns that id.
// Roughly one store in ten also schedules a retention sweep; the sweep runs
// through the scheduler when one is attached so the caller never waits on it.
func (x *Index) Store(event model.PerceptionEvent, assessment model.Assessment) string {
	id := uuid.NewString()
	x.StoreEntry(id, event, assessment)
	return id
}

// StoreEntry indexes the event under a caller-supplied id. Callers that
// defer the store keep handing out the id before the entry lands here.
func (x *Index) StoreEntry(id string, event model.PerceptionEvent, assessment model.Assessment) {
	storedAt := x.now().UnixMilli()
	entry := model.MemoryEntry{EventID: id, Event: event, Assessment: assessment, StoredAt: storedAt}

	x.mu.Lock()
	x.events.Set(id, entry)

	ring, ok := x.spatial.Get(event.Location)
	if !ok {
		ring = bounded.NewRing[string](x.cfg.EventsPerLocation)
		x.spatial.Set(event.Location, ring)
	}
	ring.Push(id)

	window := event.Timestamp / x.cfg.TemporalWindow.Milliseconds()
	tring, ok := x.temporal.Get(window)
	if !ok {
		tring = bounded.NewRing[string](x.cfg.EventsPerWindow)
		x.temporal.Set(window, tring)
	}
	tring.Push(id)

	ering, ok := x.entities.Get(event.EntityID)
	if !ok {
		ering = bounded.NewRing[Observation](x.cfg.EventsPerEntity)
		x.entities.Set(event.EntityID, ering)
	}
	ering.Push(Observation{
		Timestamp:  event.Timestamp,
		EntityType: event.EntityType,
		Behaviors:  event.Behaviors,
		Assessment: assessment,
	})

	if assessment.SuspicionLevel < normalSuspicionCeiling {
		x.updatePattern(event)
	}
	x.mu.Unlock()

	if x.chance() < x.cfg.CleanupProbability {
		x.scheduleCleanup()
	}
}

// RetrieveContext assembles the recent-activity snapshot for a location,
// timestamp and entity type. Ids whose entries were already evicted from the
// primary store are skipped.
func (x *Index) RetrieveContext(location string, timestamp int64, entityType string) Context {
	x.mu.Lock()
	defer x.mu.Unlock()

	var ctx Context
	if ring, ok := x.spatial.Get(location); ok {
		ctx.Spatial = x.resolve(ring.Recent(spatialContextLimit))
	}
	window := timestamp / x.cfg.TemporalWindow.Milliseconds()
	if ring, ok := x.temporal.Get(window); ok {
		ctx.Temporal = x.resolve(ring.Recent(temporalContextLimit))
	}
	ctx.EntitySample = x.sampleEntities(entityType)
	if p, ok := x.patterns.Peek(patternKey(location, timestamp)); ok {
		ctx.Normal = p.snapshot()
	}

	spatialScore := 0.2
	if len(ctx.Spatial) > 0 {
		spatialScore = 0.8
	}
	temporalScore := 0.3
	if len(ctx.Temporal) > 0 {
		temporalScore = 0.7
	}
	ctx.ContextualRelevance = (spatialScore + temporalScore) / 2
	return ctx
}

// AttachPools enables slice pooling for context snapshots. Callers that
// attach pools must hand snapshots back through ReleaseContext once the
// collaborators are done with them.
func (x *Index) AttachPools(p *ContextPools) {
	x.pools = p
}

func (x *Index) resolve(ids []string) []model.MemoryEntry {
	out := x.entrySlice(len(ids))
	for _, id := range ids {
		if entry, ok := x.events.Peek(id); ok {
			out = append(out, entry)
		}
	}
	return out
}

// sampleEntities gathers recent observations across entity buffers,
// same-type observations first, most recently active entities first.
func (x *Index) sampleEntities(entityType string) []Observation {
	keys := x.entities.Keys()
	out := x.observationSlice()
	for pass := 0; pass < 2 && len(out) < entitySampleLimit; pass++ {
		for _, key := range keys {
			if len(out) >= entitySampleLimit {
				break
			}
			ring, ok := x.entities.Peek(key)
			if !ok {
				continue
			}
			for _, obs := range ring.Recent(2) {
				match := obs.EntityType == entityType
				if (pass == 0) != match {
					continue
				}
				out = append(out, obs)
				if len(out) >= entitySampleLimit {
					break
				}
			}
		}
	}
	return out
}

func (x *Index) updatePattern(event model.PerceptionEvent) {
	key := patternKey(event.Location, event.Timestamp)
	p, ok := x.patterns.Get(key)
	if !ok {
		p = &NormalPattern{
			BehaviorFrequencies:   make(map[string]int),
			EntityTypeFrequencies: make(map[string]int),
		}
		x.patterns.Set(key, p)
	}
	for _, b := range event.Behaviors {
		p.BehaviorFrequencies[b]++
	}
	p.EntityTypeFrequencies[event.EntityType]++
	p.TotalCount++
}

func (x *Index) scheduleCleanup() {
	if x.scheduler == nil {
		x.removeExpired()
		return
	}
	x.scheduler.Enqueue(sched.Task{
		Name:     "memory_cleanup",
		Priority: sched.PriorityLow,
		Run: func() error {
			x.removeExpired()
			return nil
		},
	})
}

func (x *Index) removeExpired() {
	cutoff := x.now().Add(-x.cfg.Retention).UnixMilli()
	x.mu.Lock()
	removed := 0
	for _, id := range x.events.Keys() {
		if entry, ok := x.events.Peek(id); ok && entry.StoredAt < cutoff {
			x.events.Remove(id)
			removed++
		}
	}
	x.mu.Unlock()
	if removed > 0 && x.logger != nil {
		x.logger.Debug("memory retention sweep", "removed", removed)
	}
}

func (x *Index) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Stats{
		Events:   x.events.Len(),
		Spatial:  x.spatial.Len(),
		Temporal: x.temporal.Len(),
		Entities: x.entities.Len(),
		Patterns: x.patterns.Len(),
	}
}

func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.events.Clear()
	x.spatial.Clear()
	x.temporal.Clear()
	x.entities.Clear()
	x.patterns.Clear()
}

func patternKey(location string, timestamp int64) string {
	t := time.UnixMilli(timestamp).UTC()
	return fmt.Sprintf("%s|%d|%d", location, t.Hour(), int(t.Weekday()))
}
