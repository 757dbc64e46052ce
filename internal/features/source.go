package features

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// Source is the read-only view of the external data store that feature
// extraction depends on. Implementations must honour ctx deadlines.
type Source interface {
	// GetEntities returns the entities found for ids, keyed by id. Missing
	// ids are simply absent from the map.
	GetEntities(ctx context.Context, ids []string) (map[string]model.Entity, error)
	// ListActivities returns activities since the given time, keyed by entity id.
	ListActivities(ctx context.Context, ids []string, since time.Time) (map[string][]model.Activity, error)
	// ListCandidateIDs returns non-terminal entity ids for an owner ("" for all).
	ListCandidateIDs(ctx context.Context, ownerID string, limit int) ([]string, error)
}

// MemorySource is a Source backed by in-process maps. Used for fixtures and tests.
type MemorySource struct {
	mu         sync.RWMutex
	entities   map[string]model.Entity
	activities map[string][]model.Activity
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		entities:   make(map[string]model.Entity),
		activities: make(map[string][]model.Activity),
	}
}

// Put adds or replaces an entity.
func (m *MemorySource) Put(e model.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e
}

// AddActivity records an activity for its entity.
func (m *MemorySource) AddActivity(a model.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities[a.EntityID] = append(m.activities[a.EntityID], a)
}

func (m *MemorySource) GetEntities(ctx context.Context, ids []string) (map[string]model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.Entity, len(ids))
	for _, id := range ids {
		if e, ok := m.entities[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (m *MemorySource) ListActivities(ctx context.Context, ids []string, since time.Time) (map[string][]model.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]model.Activity, len(ids))
	for _, id := range ids {
		for _, a := range m.activities[id] {
			if !a.OccurredAt.Before(since) {
				out[id] = append(out[id], a)
			}
		}
	}
	return out, nil
}

func (m *MemorySource) ListCandidateIDs(ctx context.Context, ownerID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, e := range m.entities {
		if e.Stage.Terminal() {
			continue
		}
		if ownerID != "" && e.OwnerID != ownerID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Fixtures is the on-disk YAML layout for seeding entities and activities.
type Fixtures struct {
	Entities   []model.Entity   `yaml:"entities"`
	Activities []model.Activity `yaml:"activities"`
}

// LoadFixtures reads a YAML fixture file.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "features: read fixtures %s", path)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "features: parse fixtures %s", path)
	}
	for i, e := range f.Entities {
		if e.ID == "" {
			return nil, eris.Errorf("features: fixture entity %d has no id", i)
		}
	}
	return &f, nil
}

// NewMemorySourceFromFixtures builds a MemorySource holding f.
func NewMemorySourceFromFixtures(f *Fixtures) *MemorySource {
	m := NewMemorySource()
	for _, e := range f.Entities {
		m.Put(e)
	}
	for _, a := range f.Activities {
		m.AddActivity(a)
	}
	return m
}
