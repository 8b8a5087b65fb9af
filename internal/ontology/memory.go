package ontology

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// EntityDoc is the YAML shape of a single configured entity.
type EntityDoc struct {
	ID         string              `yaml:"id"`
	Class      string              `yaml:"class"`
	Label      string              `yaml:"label"`
	Properties map[string][]string `yaml:"properties"`
	Relations  map[string][]string `yaml:"relations"`
}

// Document is the YAML shape of the whole configuration graph.
type Document struct {
	Entities []EntityDoc `yaml:"entities"`
}

type entity struct {
	class     string
	label     string
	props     map[string][]string
	relations map[string][]string
}

// InMemoryRepository keeps the configuration graph in memory. Reads are
// concurrency safe; Replace swaps the whole graph atomically under the lock.
type InMemoryRepository struct {
	mu       sync.RWMutex
	entities map[string]*entity
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{entities: make(map[string]*entity)}
}

// LoadFile reads a YAML configuration document into a fresh repository.
func LoadFile(path string) (*InMemoryRepository, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	repo := NewInMemoryRepository()
	if err := repo.LoadDocument(raw); err != nil {
		return nil, fmt.Errorf("ontology %s: %w", path, err)
	}
	return repo, nil
}

// LoadDocument replaces the repository contents with the parsed document.
func (r *InMemoryRepository) LoadDocument(raw []byte) error {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	entities := make(map[string]*entity, len(doc.Entities))
	for _, e := range doc.Entities {
		if e.ID == "" {
			return fmt.Errorf("entity without id")
		}
		for name := range e.Properties {
			if err := CheckDataProperty(name); err != nil {
				return fmt.Errorf("entity %s: %w", e.ID, err)
			}
		}
		for name := range e.Relations {
			if err := CheckRelation(name); err != nil {
				return fmt.Errorf("entity %s: %w", e.ID, err)
			}
		}
		entities[e.ID] = &entity{
			class:     e.Class,
			label:     e.Label,
			props:     e.Properties,
			relations: e.Relations,
		}
	}
	r.mu.Lock()
	r.entities = entities
	r.mu.Unlock()
	return nil
}

// Put registers a single entity. Intended for tests and seeding.
func (r *InMemoryRepository) Put(doc EntityDoc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[doc.ID] = &entity{
		class:     doc.Class,
		label:     doc.Label,
		props:     doc.Properties,
		relations: doc.Relations,
	}
}

// GetProperty implements Repository.
func (r *InMemoryRepository) GetProperty(entityID, property string) (string, bool) {
	values := r.GetDataValues(entityID, property)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// GetDataValues implements Repository.
func (r *InMemoryRepository) GetDataValues(entityID, property string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok {
		return nil
	}
	values := e.props[property]
	out := make([]string, len(values))
	copy(out, values)
	return out
}

// GetRelated implements Repository.
func (r *InMemoryRepository) GetRelated(entityID, relation string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok {
		return nil
	}
	objects := e.relations[relation]
	out := make([]string, len(objects))
	copy(out, objects)
	return out
}

// ClassOf implements Repository.
func (r *InMemoryRepository) ClassOf(entityID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[entityID]
	if !ok || e.class == "" {
		return "", false
	}
	return e.class, true
}

// Label implements Repository.
func (r *InMemoryRepository) Label(entityID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entities[entityID]; ok && e.label != "" {
		return e.label
	}
	return entityID
}

// QueryInstances implements Repository by scanning the graph. Results are
// sorted so trigger execution order is deterministic.
func (r *InMemoryRepository) QueryInstances(p Pattern) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, e := range r.entities {
		if p.Class != "" && e.class != p.Class {
			continue
		}
		if !r.matchesRelated(e, p.Related) {
			continue
		}
		if !r.matchesSomeClass(e, p.SomeClass) {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *InMemoryRepository) matchesRelated(e *entity, related map[string]string) bool {
	for relation, object := range related {
		if !contains(e.relations[relation], object) {
			return false
		}
	}
	return true
}

func (r *InMemoryRepository) matchesSomeClass(e *entity, someClass map[string]string) bool {
	for relation, class := range someClass {
		found := false
		for _, object := range e.relations[relation] {
			if target, ok := r.entities[object]; ok && target.class == class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, cur := range values {
		if cur == v {
			return true
		}
	}
	return false
}
