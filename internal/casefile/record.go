// Package casefile models the mutable per-case fact graph written by the
// activity engine: the case entity itself, its service activities and the
// recorded question answers.
package casefile

import (
	"time"

	"example.com/casework/internal/ontology"
)

// TimeFormat is the literal format for timestamp facts.
const TimeFormat = time.RFC3339Nano

// Answer is one recorded question answer on the case.
type Answer struct {
	Field   string   `json:"field"`
	Label   string   `json:"label,omitempty"`
	Value   string   `json:"value,omitempty"`
	Objects []string `json:"objects,omitempty"`
}

// CaseRecord is the fact graph of one service case. Entities are keyed by
// identifier; the case itself is the entity named by CaseID. Not safe for
// concurrent use: callers serialize all operations for one case.
type CaseRecord struct {
	id       string
	caseType string
	version  int64
	props    map[string]map[string][]string
	rels     map[string]map[string][]string
	answers  []Answer
}

// New constructs an empty record for a case of the given type.
func New(id, caseType string) *CaseRecord {
	return &CaseRecord{
		id:       id,
		caseType: caseType,
		props:    make(map[string]map[string][]string),
		rels:     make(map[string]map[string][]string),
	}
}

// CaseID returns the case identifier.
func (r *CaseRecord) CaseID() string { return r.id }

// CaseType returns the configured case type entity.
func (r *CaseRecord) CaseType() string { return r.caseType }

// Version returns the optimistic-concurrency version of the stored case.
func (r *CaseRecord) Version() int64 { return r.version }

// SetVersion records the version loaded from the store.
func (r *CaseRecord) SetVersion(v int64) { r.version = v }

// AssertProperty sets a single-valued data property on an entity, replacing
// any prior value. Unknown property names fail fast.
func (r *CaseRecord) AssertProperty(entity, property, value string) error {
	if err := ontology.CheckDataProperty(property); err != nil {
		return err
	}
	bag, ok := r.props[entity]
	if !ok {
		bag = make(map[string][]string)
		r.props[entity] = bag
	}
	bag[property] = []string{value}
	return nil
}

// RetractProperty removes a data property from an entity.
func (r *CaseRecord) RetractProperty(entity, property string) {
	if bag, ok := r.props[entity]; ok {
		delete(bag, property)
	}
}

// GetProperty returns the first value of a data property.
func (r *CaseRecord) GetProperty(entity, property string) (string, bool) {
	bag, ok := r.props[entity]
	if !ok {
		return "", false
	}
	values := bag[property]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// AssertRelation adds an object to a relation, ignoring duplicates.
func (r *CaseRecord) AssertRelation(entity, relation, object string) error {
	if err := ontology.CheckRelation(relation); err != nil {
		return err
	}
	bag, ok := r.rels[entity]
	if !ok {
		bag = make(map[string][]string)
		r.rels[entity] = bag
	}
	for _, cur := range bag[relation] {
		if cur == object {
			return nil
		}
	}
	bag[relation] = append(bag[relation], object)
	return nil
}

// RetractRelation removes all objects of a relation from an entity.
func (r *CaseRecord) RetractRelation(entity, relation string) {
	if bag, ok := r.rels[entity]; ok {
		delete(bag, relation)
	}
}

// RemoveRelationObject removes one object from a relation.
func (r *CaseRecord) RemoveRelationObject(entity, relation, object string) {
	bag, ok := r.rels[entity]
	if !ok {
		return
	}
	objects := bag[relation]
	for i, cur := range objects {
		if cur == object {
			bag[relation] = append(objects[:i], objects[i+1:]...)
			return
		}
	}
}

// Related returns the objects of a relation in assertion order.
func (r *CaseRecord) Related(entity, relation string) []string {
	bag, ok := r.rels[entity]
	if !ok {
		return nil
	}
	objects := bag[relation]
	out := make([]string, len(objects))
	copy(out, objects)
	return out
}

// RemoveEntity drops every fact about an entity. The caller removes any
// inbound links first.
func (r *CaseRecord) RemoveEntity(entity string) {
	delete(r.props, entity)
	delete(r.rels, entity)
}

// Activities returns the activity entities linked to the case, in creation
// order.
func (r *CaseRecord) Activities() []string {
	return r.Related(r.id, ontology.RelServiceActivity)
}

// AddAnswer records a question answer.
func (r *CaseRecord) AddAnswer(a Answer) {
	r.answers = append(r.answers, a)
}

// Answers returns the recorded answers.
func (r *CaseRecord) Answers() []Answer {
	out := make([]Answer, len(r.answers))
	copy(out, r.answers)
	return out
}

// GetTime parses a timestamp fact. The zero time and false are returned when
// the fact is absent or unparseable.
func (r *CaseRecord) GetTime(entity, property string) (time.Time, bool) {
	raw, ok := r.GetProperty(entity, property)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(TimeFormat, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AssertTime writes a timestamp fact.
func (r *CaseRecord) AssertTime(entity, property string, t time.Time) error {
	return r.AssertProperty(entity, property, t.UTC().Format(TimeFormat))
}
