// Package ontology exposes the configuration knowledge base that drives
// activity creation: activity type definitions, assignment rules, triggers
// and case type metadata. The engine only talks to the Repository interface;
// the backing store is an in-memory graph loaded from a YAML document.
package ontology

import "fmt"

// Data property names recognized by the vocabulary.
const (
	PropAutoCreate         = "isAutoCreate"
	PropDisabled           = "isDisabled"
	PropOccurDays          = "hasOccurDays"
	PropSuspenseDays       = "hasSuspenseDays"
	PropBusinessCodes      = "hasBusinessCodes"
	PropAutoDefaultOutcome = "isAutoDefaultOutcome"
	PropLegacyCode         = "hasLegacyCode"
	PropUsername           = "hasUsername"
	PropName               = "hasName"
	PropValue              = "hasValue"
	PropDataType           = "hasDataType"
	PropAnswerValue        = "hasAnswerValue"

	PropCreatedBy          = "isCreatedBy"
	PropModifiedBy         = "isModifiedBy"
	PropAssignedTo         = "isAssignedTo"
	PropDetails            = "hasDetails"
	PropCreatedDate        = "hasDateCreated"
	PropSysCreatedDate     = "hasDateSysCreated"
	PropUpdatedDate        = "hasUpdatedDate"
	PropCompletedTimestamp = "hasCompletedTimestamp"
	PropDueDate            = "hasDueDate"
	PropLastModifiedDate   = "hasDateLastModified"
	PropAddress            = "atAddress"
	PropXCoordinate        = "hasXCoordinate"
	PropYCoordinate        = "hasYCoordinate"
	PropParentCaseNumber   = "hasParentCaseNumber"
	PropInterfaceCode      = "hasLegacyInterfaceCode"
)

// Relation (object property) names recognized by the vocabulary.
const (
	RelActivity           = "hasActivity"
	RelServiceActivity    = "hasServiceActivity"
	RelOutcome            = "hasOutcome"
	RelDefaultOutcome     = "hasDefaultOutcome"
	RelAssignmentRule     = "hasAssignmentRule"
	RelOverdueActivity    = "hasOverdueActivity"
	RelEmailTemplate      = "hasEmailTemplate"
	RelSmsTemplate        = "hasSmsTemplate"
	RelLegacyEvent        = "hasLegacyEvent"
	RelServiceCase        = "hasServiceCase"
	RelStatus             = "hasStatus"
	RelPriority           = "hasPriority"
	RelIntakeMethod       = "hasIntakeMethod"
	RelGisLayer           = "hasGisLayer"
	RelAnswerObject       = "hasAnswerObject"
	RelActivityAssignment = "hasActivityAssignment"
	RelDueBaseQuestion    = "hasUserProvidedDueBaseDate"
	RelAutoOnPending      = "hasAutoOnPendingActivity"
	RelAutoOnLocked       = "hasAutoOnLockedActivity"
	RelAllowableEvent     = "hasAllowableEvent"
	RelInterfaceOf        = "isLegacyInterface"
	RelServiceField       = "hasServiceField"
)

// Entity classes used in pattern queries.
const (
	ClassActivityType       = "ActivityType"
	ClassServiceCaseType    = "ServiceCaseType"
	ClassActivityTrigger    = "ActivityTrigger"
	ClassCaseOutcomeTrigger = "ServiceCaseOutcomeTrigger"
	ClassQuestionTrigger    = "QuestionTrigger"
	ClassActivityAssignment = "ActivityAssignment"
	ClassCreateServiceCase  = "CreateServiceCase"
	ClassSendEmail          = "SendEmail"
	ClassSendSms            = "SendSms"
	ClassLegacyInterface    = "LegacyInterface"
	ClassAssignToUser       = "AssignActivityToUserRule"
	ClassAssignFromGeo      = "AssignActivityFromGeoAttribute"
	ClassAssignOutcomeEmail = "AssignActivityToOutcomeEmail"
)

// Well-known entity identifiers.
const (
	RuleCaseCreator      = "AssignActivityToCaseCreator"
	RuleOutcomeEmail     = "AssignActivityToOutcomeEmail"
	EventCloseCase       = "CloseServiceCase"
	EventNewCase         = "NEWSR"
	OutcomeComplete      = "OUTCOME_COMPLETE"
	StatusClosed         = "C-CLOSED"
	StatusChangeActivity = "StatusChangeActivity"
	AnswerValueWildcard  = "any"
)

// Pattern is a conjunctive instance query: members of Class whose relations
// point at the given objects and, for SomeClass entries, at least one object
// of the named class.
type Pattern struct {
	Class     string
	Related   map[string]string
	SomeClass map[string]string
}

// Repository is the read-only query surface of the rule repository.
type Repository interface {
	// GetProperty returns the first literal value of a data property.
	GetProperty(entity, property string) (string, bool)
	// GetDataValues returns all literal values of a data property.
	GetDataValues(entity, property string) []string
	// GetRelated returns the objects of an object property.
	GetRelated(entity, relation string) []string
	// QueryInstances evaluates a Pattern and returns matching entities.
	QueryInstances(p Pattern) []string
	// ClassOf returns the asserted class of an entity.
	ClassOf(entity string) (string, bool)
	// Label returns the human-readable label, or the identifier itself.
	Label(entity string) string
}

var knownDataProperties = map[string]struct{}{
	PropAutoCreate: {}, PropDisabled: {}, PropOccurDays: {}, PropSuspenseDays: {},
	PropBusinessCodes: {}, PropAutoDefaultOutcome: {}, PropLegacyCode: {},
	PropUsername: {}, PropName: {}, PropValue: {}, PropDataType: {}, PropAnswerValue: {},
	PropCreatedBy: {}, PropModifiedBy: {}, PropAssignedTo: {}, PropDetails: {},
	PropCreatedDate: {}, PropSysCreatedDate: {}, PropUpdatedDate: {},
	PropCompletedTimestamp: {}, PropDueDate: {}, PropLastModifiedDate: {},
	PropAddress: {}, PropXCoordinate: {}, PropYCoordinate: {},
	PropParentCaseNumber: {}, PropInterfaceCode: {},
}

var knownRelations = map[string]struct{}{
	RelActivity: {}, RelServiceActivity: {}, RelOutcome: {}, RelDefaultOutcome: {},
	RelAssignmentRule: {}, RelOverdueActivity: {}, RelEmailTemplate: {}, RelSmsTemplate: {},
	RelLegacyEvent: {}, RelServiceCase: {}, RelStatus: {}, RelPriority: {},
	RelIntakeMethod: {}, RelGisLayer: {}, RelAnswerObject: {}, RelActivityAssignment: {},
	RelDueBaseQuestion: {}, RelAutoOnPending: {}, RelAutoOnLocked: {},
	RelAllowableEvent: {}, RelInterfaceOf: {}, RelServiceField: {},
}

// CheckDataProperty fails fast on property names outside the vocabulary.
func CheckDataProperty(name string) error {
	if _, ok := knownDataProperties[name]; !ok {
		return fmt.Errorf("unknown data property %q", name)
	}
	return nil
}

// CheckRelation fails fast on relation names outside the vocabulary.
func CheckRelation(name string) error {
	if _, ok := knownRelations[name]; !ok {
		return fmt.Errorf("unknown relation %q", name)
	}
	return nil
}
