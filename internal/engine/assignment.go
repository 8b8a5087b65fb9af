package engine

import (
	"context"
	"log"
	"strconv"
	"strings"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/ontology"
)

// AssignmentResolver evaluates one assignment rule against a case record.
// The engine walks an activity type's rules in configured order and stops at
// the first non-empty result.
type AssignmentResolver struct {
	repo   ontology.Repository
	gis    GISClient
	logger *log.Logger
}

// NewAssignmentResolver constructs a resolver. gis may be nil when no
// geo-attribute rules are configured.
func NewAssignmentResolver(repo ontology.Repository, gis GISClient, logger *log.Logger) *AssignmentResolver {
	if logger == nil {
		logger = log.New(log.Writer(), "[assignment] ", log.LstdFlags)
	}
	return &AssignmentResolver{repo: repo, gis: gis, logger: logger}
}

// Resolve returns the assignee produced by one rule, or "" when the rule
// does not apply. A GIS lookup failure skips the rule rather than aborting
// the enclosing creation call.
func (r *AssignmentResolver) Resolve(ctx context.Context, rule string, rec *casefile.CaseRecord, outcome string) string {
	if rule == ontology.RuleCaseCreator {
		createdBy, _ := rec.GetProperty(rec.CaseID(), ontology.PropCreatedBy)
		return createdBy
	}
	class, ok := r.repo.ClassOf(rule)
	if !ok {
		return ""
	}
	switch class {
	case ontology.ClassAssignToUser:
		username, _ := r.repo.GetProperty(rule, ontology.PropUsername)
		return username
	case ontology.ClassAssignFromGeo:
		return r.resolveGeoAttribute(ctx, rule, rec)
	case ontology.ClassAssignOutcomeEmail:
		return r.OutcomeEmail(outcome)
	}
	return ""
}

// OutcomeEmail extracts the assignee address from an outcome's display
// label, if the label contains one.
func (r *AssignmentResolver) OutcomeEmail(outcome string) string {
	if outcome == "" {
		return ""
	}
	label := r.repo.Label(outcome)
	if !strings.Contains(label, "@") {
		return ""
	}
	return findEmailIn(label)
}

func (r *AssignmentResolver) resolveGeoAttribute(ctx context.Context, rule string, rec *casefile.CaseRecord) string {
	if r.gis == nil {
		r.logger.Printf("rule %s skipped: no GIS client configured", rule)
		return ""
	}
	x, okX := coordinate(rec, ontology.PropXCoordinate)
	y, okY := coordinate(rec, ontology.PropYCoordinate)
	if !okX || !okY {
		r.logger.Printf("rule %s skipped: case %s has no coordinates", rule, rec.CaseID())
		return ""
	}
	loc, err := r.gis.ResolveLocation(ctx, x, y)
	if err != nil {
		r.logger.Printf("rule %s skipped: GIS lookup failed: %v", rule, err)
		return ""
	}
	for _, assignment := range r.repo.GetRelated(rule, ontology.RelAssignmentRule) {
		attribute, _ := r.repo.GetProperty(assignment, ontology.PropName)
		expected, _ := r.repo.GetProperty(assignment, ontology.PropValue)
		username, _ := r.repo.GetProperty(assignment, ontology.PropUsername)
		layer := ""
		if layerEntity, ok := firstOf(r.repo.GetRelated(assignment, ontology.RelGisLayer)); ok {
			layer, _ = r.repo.GetProperty(layerEntity, ontology.PropName)
		}
		match, err := r.gis.TestLayerValue(loc, layer, attribute, expected)
		if err != nil {
			r.logger.Printf("rule %s skipped: layer test failed: %v", rule, err)
			return ""
		}
		if match {
			return username
		}
	}
	return ""
}

func coordinate(rec *casefile.CaseRecord, property string) (float64, bool) {
	raw, ok := rec.GetProperty(rec.CaseID(), property)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func firstOf(values []string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// findEmailIn returns the first whitespace-delimited token containing "@",
// trimmed of wrapping punctuation.
func findEmailIn(label string) string {
	for _, token := range strings.Fields(label) {
		if strings.Contains(token, "@") {
			return strings.Trim(token, "<>(),;:")
		}
	}
	return ""
}
