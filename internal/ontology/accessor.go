package ontology

import (
	"fmt"
	"strconv"
	"strings"
)

// Business code tags carried in hasBusinessCodes.
const (
	businessCodeWorkWeek = "5DAYWORK"
	businessCodeDupStaff = "DUPSTAFF"
)

// ActivityType is a typed view over an activity type definition entity.
type ActivityType struct {
	ID   string
	repo Repository
}

// NewActivityType wraps a configured activity type identifier.
func NewActivityType(repo Repository, id string) ActivityType {
	return ActivityType{ID: id, repo: repo}
}

// AutoCreate reports whether the type is created automatically with the case.
func (t ActivityType) AutoCreate() bool {
	return t.boolProp(PropAutoCreate)
}

// Disabled reports whether the type is switched off in configuration.
func (t ActivityType) Disabled() bool {
	return t.boolProp(PropDisabled)
}

// OccurDays returns the configured creation delay in days.
// A missing value is 0; an unparseable value is 0 with an error.
func (t ActivityType) OccurDays() (float64, error) {
	return t.dayProp(PropOccurDays)
}

// SuspenseDays returns the configured due-date delay in days.
func (t ActivityType) SuspenseDays() (float64, error) {
	return t.dayProp(PropSuspenseDays)
}

// WorkWeek reports whether delay arithmetic skips weekends and holidays.
func (t ActivityType) WorkWeek() bool {
	return t.hasBusinessCode(businessCodeWorkWeek)
}

// DupStaff reports whether trigger-created activities of this type inherit
// the completing activity's assignee.
func (t ActivityType) DupStaff() bool {
	return t.hasBusinessCode(businessCodeDupStaff)
}

// AssignmentRules returns the ordered assignment rule references.
func (t ActivityType) AssignmentRules() []string {
	return t.repo.GetRelated(t.ID, RelAssignmentRule)
}

// DefaultOutcome returns the configured default outcome, if any.
func (t ActivityType) DefaultOutcome() (string, bool) {
	return firstRelated(t.repo, t.ID, RelDefaultOutcome)
}

// AutoDefaultOutcome reports whether the default outcome is applied
// immediately at creation time.
func (t ActivityType) AutoDefaultOutcome() bool {
	return t.boolProp(PropAutoDefaultOutcome)
}

// OverdueActivityType returns the activity type scheduled at the due date.
func (t ActivityType) OverdueActivityType() (string, bool) {
	return firstRelated(t.repo, t.ID, RelOverdueActivity)
}

// EmailTemplate returns the configured email template reference.
func (t ActivityType) EmailTemplate() (string, bool) {
	return firstRelated(t.repo, t.ID, RelEmailTemplate)
}

// SmsTemplate returns the configured SMS template reference.
func (t ActivityType) SmsTemplate() (string, bool) {
	return firstRelated(t.repo, t.ID, RelSmsTemplate)
}

// LegacyCode returns the interface routing code of the type, if any.
func (t ActivityType) LegacyCode() string {
	code, _ := t.repo.GetProperty(t.ID, PropLegacyCode)
	return code
}

// HasOutcomeEmailRule reports whether any assignment rule of the type is the
// outcome-email rule. Activity types with this rule defer template dispatch
// until an assignee is resolved.
func (t ActivityType) HasOutcomeEmailRule() bool {
	for _, rule := range t.AssignmentRules() {
		if rule == RuleOutcomeEmail {
			return true
		}
		if class, ok := t.repo.ClassOf(rule); ok && class == ClassAssignOutcomeEmail {
			return true
		}
	}
	return false
}

func (t ActivityType) boolProp(name string) bool {
	raw, ok := t.repo.GetProperty(t.ID, name)
	if !ok {
		return false
	}
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "Y", "TRUE", "1":
		return true
	}
	return false
}

func (t ActivityType) dayProp(name string) (float64, error) {
	raw, ok := t.repo.GetProperty(t.ID, name)
	if !ok {
		return 0, nil
	}
	days, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("activity type %s: %s %q: %w", t.ID, name, raw, err)
	}
	if days < 0 {
		return 0, fmt.Errorf("activity type %s: %s %q: negative", t.ID, name, raw)
	}
	return days, nil
}

func (t ActivityType) hasBusinessCode(code string) bool {
	for _, raw := range t.repo.GetDataValues(t.ID, PropBusinessCodes) {
		if strings.Contains(raw, code) {
			return true
		}
	}
	return false
}

func firstRelated(repo Repository, entity, relation string) (string, bool) {
	objects := repo.GetRelated(entity, relation)
	if len(objects) == 0 {
		return "", false
	}
	return objects[0], true
}
