package memory

import (
	"edgesentry/internal/model"
	"edgesentry/internal/pool"
)

// ContextPools recycles the short-lived slices backing context snapshots.
// All acquisitions use fixed capacities so released slices always land back
// in the same bucket.
type ContextPools struct {
	entries      *pool.SlicePool[model.MemoryEntry]
	observations *pool.SlicePool[Observation]
}

func NewContextPools(maxSize int) *ContextPools {
	return &ContextPools{
		entries:      pool.NewSlicePool[model.MemoryEntry](maxSize),
		observations: pool.NewSlicePool[Observation](maxSize),
	}
}

func (p *ContextPools) Stats() map[string]pool.Stats {
	return map[string]pool.Stats{
		"context_entries":      p.entries.Stats(),
		"context_observations": p.observations.Stats(),
	}
}

func (x *Index) entrySlice(n int) []model.MemoryEntry {
	if x.pools == nil {
		return make([]model.MemoryEntry, 0, n)
	}
	return x.pools.entries.Acquire(spatialContextLimit)
}

func (x *Index) observationSlice() []Observation {
	if x.pools == nil {
		return make([]Observation, 0, entitySampleLimit)
	}
	return x.pools.observations.Acquire(entitySampleLimit)
}

// ReleaseContext returns a snapshot's slices to the pools. The snapshot and
// anything aliasing its slices must not be used afterwards.
func (x *Index) ReleaseContext(ctx Context) {
	if x.pools == nil {
		return
	}
	if ctx.Spatial != nil {
		x.pools.entries.Release(ctx.Spatial)
	}
	if ctx.Temporal != nil {
		x.pools.entries.Release(ctx.Temporal)
	}
	if ctx.EntitySample != nil {
		x.pools.observations.Release(ctx.EntitySample)
	}
}
