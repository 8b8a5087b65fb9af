package casefile

// Snapshot is the serializable form of a CaseRecord, stored as the case
// payload in Postgres.
type Snapshot struct {
	CaseID    string                         `json:"case_id"`
	CaseType  string                         `json:"case_type"`
	Props     map[string]map[string][]string `json:"props,omitempty"`
	Relations map[string]map[string][]string `json:"relations,omitempty"`
	Answers   []Answer                       `json:"answers,omitempty"`
}

// Snapshot exports the record's facts.
func (r *CaseRecord) Snapshot() Snapshot {
	return Snapshot{
		CaseID:    r.id,
		CaseType:  r.caseType,
		Props:     copyFacts(r.props),
		Relations: copyFacts(r.rels),
		Answers:   r.Answers(),
	}
}

// FromSnapshot rebuilds a record from stored facts.
func FromSnapshot(s Snapshot) *CaseRecord {
	r := New(s.CaseID, s.CaseType)
	r.props = copyFacts(s.Props)
	r.rels = copyFacts(s.Relations)
	r.answers = append(r.answers, s.Answers...)
	return r
}

func copyFacts(in map[string]map[string][]string) map[string]map[string][]string {
	out := make(map[string]map[string][]string, len(in))
	for entity, bag := range in {
		dst := make(map[string][]string, len(bag))
		for name, values := range bag {
			cp := make([]string, len(values))
			copy(cp, values)
			dst[name] = cp
		}
		out[entity] = dst
	}
	return out
}
