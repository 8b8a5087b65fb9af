package engine

import (
	"time"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/ontology"
)

// Activity is the read view of one activity's facts, shaped for API
// responses and persistence rows.
type Activity struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	TypeLabel     string     `json:"type_label,omitempty"`
	Outcome       string     `json:"outcome,omitempty"`
	Details       string     `json:"details,omitempty"`
	AssignedTo    string     `json:"assigned_to,omitempty"`
	CreatedBy     string     `json:"created_by,omitempty"`
	ModifiedBy    string     `json:"modified_by,omitempty"`
	CreatedDate   time.Time  `json:"created_date"`
	UpdatedDate   time.Time  `json:"updated_date"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
}

// ActivityView assembles the Activity read model for one activity id.
func ActivityView(repo ontology.Repository, rec *casefile.CaseRecord, actID string) Activity {
	a := Activity{ID: actID}
	if typeID, ok := firstOf(rec.Related(actID, ontology.RelActivity)); ok {
		a.Type = typeID
		a.TypeLabel = repo.Label(typeID)
	}
	a.Outcome, _ = firstOf(rec.Related(actID, ontology.RelOutcome))
	a.Details, _ = rec.GetProperty(actID, ontology.PropDetails)
	a.AssignedTo, _ = rec.GetProperty(actID, ontology.PropAssignedTo)
	a.CreatedBy, _ = rec.GetProperty(actID, ontology.PropCreatedBy)
	a.ModifiedBy, _ = rec.GetProperty(actID, ontology.PropModifiedBy)
	a.CreatedDate, _ = rec.GetTime(actID, ontology.PropCreatedDate)
	a.UpdatedDate, _ = rec.GetTime(actID, ontology.PropUpdatedDate)
	if t, ok := rec.GetTime(actID, ontology.PropDueDate); ok {
		a.DueDate = &t
	}
	if t, ok := rec.GetTime(actID, ontology.PropCompletedTimestamp); ok {
		a.CompletedDate = &t
	}
	return a
}

// CaseActivities assembles the read model for every activity on the case,
// in link order.
func CaseActivities(repo ontology.Repository, rec *casefile.CaseRecord) []Activity {
	ids := rec.Activities()
	out := make([]Activity, 0, len(ids))
	for _, id := range ids {
		out = append(out, ActivityView(repo, rec, id))
	}
	return out
}
