package engine

import (
	"context"
	"fmt"
	"time"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/ontology"
)

// runCascades executes the four outcome cascades in fixed order: follow-on
// activity triggers, referral case creation, close-case, outcome
// notifications. Integration failures inside the referral and notification
// cascades are logged and do not abort the siblings; a missing completion
// timestamp on the source activity is fatal.
func (e *Engine) runCascades(ctx context.Context, rec *casefile.CaseRecord, actID, typeID, outcome, assigned string) ([]Message, error) {
	var msgs []Message

	followOn, err := e.runActivityTriggers(ctx, rec, actID, typeID, outcome, assigned)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, followOn...)

	caseTriggers := e.repo.QueryInstances(ontology.Pattern{
		Class: ontology.ClassCaseOutcomeTrigger,
		Related: map[string]string{
			ontology.RelServiceCase: rec.CaseType(),
			ontology.RelOutcome:     outcome,
		},
	})

	for _, trigger := range caseTriggers {
		for _, event := range e.repo.GetRelated(trigger, ontology.RelAllowableEvent) {
			if class, _ := e.repo.ClassOf(event); class == ontology.ClassCreateServiceCase {
				e.createReferralCase(ctx, rec, event)
			}
		}
	}

	for _, trigger := range caseTriggers {
		for _, event := range e.repo.GetRelated(trigger, ontology.RelAllowableEvent) {
			if class, _ := e.repo.ClassOf(event); class != ontology.EventCloseCase {
				continue
			}
			closeMsgs, err := e.runCloseCase(ctx, rec, actID, event)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, closeMsgs...)
		}
	}

	msgs = append(msgs, e.runOutcomeNotifications(ctx, rec, outcome)...)
	return msgs, nil
}

// runActivityTriggers creates the follow-on activities configured for the
// (source type, outcome) pair. Each assignment event on a matched trigger
// names one target activity type; a DUPSTAFF business code on the target
// carries the source activity's assignee over.
func (e *Engine) runActivityTriggers(ctx context.Context, rec *casefile.CaseRecord, actID, typeID, outcome, assigned string) ([]Message, error) {
	triggers := e.repo.QueryInstances(ontology.Pattern{
		Class: ontology.ClassActivityTrigger,
		Related: map[string]string{
			ontology.RelActivity: typeID,
			ontology.RelOutcome:  outcome,
		},
	})
	if len(triggers) == 0 {
		return nil, nil
	}

	completed, ok := rec.GetTime(actID, ontology.PropCompletedTimestamp)
	if !ok {
		return nil, invariantf("activity trigger on %s (%s) without completed timestamp", actID, typeID)
	}

	var msgs []Message
	for _, trigger := range triggers {
		for _, event := range e.repo.GetRelated(trigger, ontology.RelActivityAssignment) {
			targetType, ok := firstOf(e.repo.GetRelated(event, ontology.RelActivity))
			if !ok {
				e.logger.Printf("activity trigger %s event %s names no activity type", trigger, event)
				continue
			}
			in := CreateInput{
				CreatedBy:   CreatedByAuto,
				CreatedDate: &completed,
			}
			if ontology.NewActivityType(e.repo, targetType).DupStaff() {
				in.AssignedTo = assigned
			}
			created, err := e.createActivity(ctx, rec, targetType, in, false)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, explainAll(created,
				fmt.Sprintf("activityTrigger %s -> %s", trigger, targetType))...)
			cascadeSteps.WithLabelValues("activity_trigger").Inc()
		}
	}
	return msgs, nil
}

// referralFields is the whitelist of parent facts copied onto a referral
// case. Everything else on the parent stays with the parent.
var referralProps = []string{
	ontology.PropAddress,
	ontology.PropXCoordinate,
	ontology.PropYCoordinate,
}

var referralRels = []string{
	ontology.RelPriority,
	ontology.RelIntakeMethod,
}

// createReferralCase builds and submits a child case of the type the event
// names. Submission failures are logged; the recorded outcome stands.
func (e *Engine) createReferralCase(ctx context.Context, rec *casefile.CaseRecord, event string) {
	targetType, ok := firstOf(e.repo.GetRelated(event, ontology.RelServiceCase))
	if !ok {
		e.logger.Printf("referral event %s names no case type", event)
		return
	}

	child := casefile.New(e.newID(), targetType)
	for _, prop := range referralProps {
		if v, ok := rec.GetProperty(rec.CaseID(), prop); ok {
			assertProp(child, child.CaseID(), prop, v)
		}
	}
	for _, rel := range referralRels {
		for _, obj := range rec.Related(rec.CaseID(), rel) {
			assertRel(child, child.CaseID(), rel, obj)
		}
	}
	assertProp(child, child.CaseID(), ontology.PropParentCaseNumber, rec.CaseID())
	if status, ok := firstOf(e.repo.GetRelated(event, ontology.RelStatus)); ok {
		assertRel(child, child.CaseID(), ontology.RelStatus, status)
	}

	// An active legacy interface for the target type routes the new case to
	// the downstream system as a fresh intake event.
	interfaces := e.repo.QueryInstances(ontology.Pattern{
		Class:   ontology.ClassLegacyInterface,
		Related: map[string]string{ontology.RelInterfaceOf: targetType},
	})
	if iface, ok := firstOf(interfaces); ok {
		if code, ok := e.repo.GetProperty(iface, ontology.PropLegacyCode); ok {
			assertProp(child, child.CaseID(), ontology.PropInterfaceCode, code)
		}
		assertRel(child, child.CaseID(), ontology.RelLegacyEvent, ontology.EventNewCase)
	}

	result, err := e.submitter.Submit(ctx, child)
	if err != nil {
		e.logger.Printf("referral case of type %s from %s not submitted: %v", targetType, rec.CaseID(), err)
		cascadeFailures.WithLabelValues("referral").Inc()
		return
	}
	e.logger.Printf("referral case %s (%s) created from %s", result.CaseID, targetType, rec.CaseID())
	cascadeSteps.WithLabelValues("referral").Inc()
}

// runCloseCase resolves the close event's status, actor and date from the
// completed activity with the documented fallbacks, then changes the case
// status through the audited path.
func (e *Engine) runCloseCase(ctx context.Context, rec *casefile.CaseRecord, actID, event string) ([]Message, error) {
	newStatus, ok := firstOf(e.repo.GetRelated(event, ontology.RelStatus))
	if !ok {
		newStatus = ontology.StatusClosed
	}

	actor, ok := rec.GetProperty(actID, ontology.PropModifiedBy)
	if !ok {
		actor, ok = rec.GetProperty(actID, ontology.PropCreatedBy)
	}
	if !ok {
		actor = ActorError
	}

	changeDate, ok := rec.GetTime(actID, ontology.PropCompletedTimestamp)
	if !ok {
		changeDate, ok = rec.GetTime(rec.CaseID(), ontology.PropLastModifiedDate)
	}
	if !ok {
		changeDate, ok = rec.GetTime(rec.CaseID(), ontology.PropCreatedDate)
	}
	if !ok {
		changeDate = e.now()
	}

	cascadeSteps.WithLabelValues("close_case").Inc()
	return e.ChangeStatus(ctx, rec, newStatus, changeDate, actor)
}

// runOutcomeNotifications renders the email/SMS events linked to the
// outcome itself, scoped to the event's applicable case types.
func (e *Engine) runOutcomeNotifications(ctx context.Context, rec *casefile.CaseRecord, outcome string) []Message {
	var msgs []Message
	for _, event := range e.repo.GetRelated(outcome, ontology.RelAllowableEvent) {
		class, _ := e.repo.ClassOf(event)
		var kind MessageKind
		var templateRel string
		switch class {
		case ontology.ClassSendEmail:
			kind, templateRel = MessageEmail, ontology.RelEmailTemplate
		case ontology.ClassSendSms:
			kind, templateRel = MessageSMS, ontology.RelSmsTemplate
		default:
			continue
		}
		if !containsString(e.repo.GetRelated(event, ontology.RelServiceCase), rec.CaseType()) {
			continue
		}
		template, ok := firstOf(e.repo.GetRelated(event, templateRel))
		if !ok {
			continue
		}
		legacyCode, _ := e.repo.GetProperty(event, ontology.PropLegacyCode)
		var (
			m   *Message
			err error
		)
		if kind == MessageEmail {
			m, err = e.renderer.RenderEmail(ctx, rec, legacyCode, template)
		} else {
			m, err = e.renderer.RenderSMS(ctx, rec, legacyCode, template)
		}
		if err != nil {
			e.logger.Printf("outcome %s notification template %s failed: %v", outcome, template, err)
			cascadeFailures.WithLabelValues("notification").Inc()
			continue
		}
		if m == nil {
			continue
		}
		m.AddExplanation(fmt.Sprintf("outcomeNotification %s Tpl: %s", outcome, template))
		msgs = append(msgs, *m)
		cascadeSteps.WithLabelValues("notification").Inc()
	}
	return msgs
}

// ChangeStatus moves the case to newStatus and records the transition as a
// completed status-change activity whose details carry the old status. The
// audit activity runs through the full creation pipeline, so a status
// change can itself cascade.
func (e *Engine) ChangeStatus(ctx context.Context, rec *casefile.CaseRecord, newStatus string, changeDate time.Time, changedBy string) ([]Message, error) {
	oldStatus, _ := firstOf(rec.Related(rec.CaseID(), ontology.RelStatus))
	if oldStatus == newStatus {
		return nil, nil
	}
	rec.RetractRelation(rec.CaseID(), ontology.RelStatus)
	assertRel(rec, rec.CaseID(), ontology.RelStatus, newStatus)

	msgs, err := e.createActivity(ctx, rec, ontology.StatusChangeActivity, CreateInput{
		Outcome:       newStatus,
		Details:       "Old: " + e.repo.Label(oldStatus),
		CreatedBy:     changedBy,
		CreatedDate:   &changeDate,
		CompletedDate: &changeDate,
	}, false)
	if err != nil {
		return nil, err
	}
	statusChanges.WithLabelValues(newStatus).Inc()
	return explainAll(msgs, fmt.Sprintf("changeStatus %s -> %s", oldStatus, newStatus)), nil
}

// CreateDefaultActivities creates every enabled auto-create activity of the
// case's type and then fires the question-answer triggers. Run once when a
// case is created.
func (e *Engine) CreateDefaultActivities(ctx context.Context, rec *casefile.CaseRecord, createdBy string) ([]Message, error) {
	var msgs []Message
	for _, typeID := range e.repo.GetRelated(rec.CaseType(), ontology.RelActivity) {
		at := ontology.NewActivityType(e.repo, typeID)
		if !at.AutoCreate() || at.Disabled() {
			continue
		}
		created, err := e.CreateActivity(ctx, rec, typeID, CreateInput{CreatedBy: createdBy})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, created...)
	}
	questionMsgs, err := e.createActivitiesFromQuestions(ctx, rec)
	if err != nil {
		return nil, err
	}
	return append(msgs, questionMsgs...), nil
}

// createActivitiesFromQuestions fires the question triggers configured for
// the case's answered fields. Value triggers only fire on the wildcard
// expected value; exact matching is present in configuration but disabled.
// Object triggers fire when the answer's selected objects intersect the
// trigger's configured set.
func (e *Engine) createActivitiesFromQuestions(ctx context.Context, rec *casefile.CaseRecord) ([]Message, error) {
	var msgs []Message
	for _, answer := range rec.Answers() {
		triggers := e.repo.QueryInstances(ontology.Pattern{
			Class:   ontology.ClassQuestionTrigger,
			Related: map[string]string{ontology.RelServiceField: answer.Field},
		})
		for _, trigger := range triggers {
			details, fired := e.questionTriggerFires(trigger, answer)
			if !fired {
				continue
			}
			targetType, ok := firstOf(e.repo.GetRelated(trigger, ontology.RelActivity))
			if !ok {
				e.logger.Printf("question trigger %s names no activity type", trigger)
				continue
			}
			created, err := e.CreateActivity(ctx, rec, targetType, CreateInput{
				CreatedBy: CreatedByAuto,
				Details:   details,
			})
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, explainAll(created,
				fmt.Sprintf("questionTrigger %s -> %s", trigger, targetType))...)
			cascadeSteps.WithLabelValues("question_trigger").Inc()
		}
	}
	return msgs, nil
}

func (e *Engine) questionTriggerFires(trigger string, answer casefile.Answer) (string, bool) {
	if expected, ok := e.repo.GetProperty(trigger, ontology.PropAnswerValue); ok {
		if expected == ontology.AnswerValueWildcard && answer.Value != "" {
			return fmt.Sprintf("%s: %s", e.repo.Label(answer.Field), answer.Value), true
		}
		return "", false
	}
	configured := e.repo.GetRelated(trigger, ontology.RelAnswerObject)
	for _, obj := range answer.Objects {
		if containsString(configured, obj) {
			return e.repo.Label(obj), true
		}
	}
	return "", false
}

// CreateAutoOnPendingActivities creates the activities configured to fire
// when a case enters the pending state. Creation failures are logged per
// type and do not stop the rest.
func (e *Engine) CreateAutoOnPendingActivities(ctx context.Context, rec *casefile.CaseRecord) []Message {
	return e.createAutoStateActivities(ctx, rec, ontology.RelAutoOnPending, "pending")
}

// CreateAutoOnLockedActivities is the locked-state counterpart of
// CreateAutoOnPendingActivities.
func (e *Engine) CreateAutoOnLockedActivities(ctx context.Context, rec *casefile.CaseRecord) []Message {
	return e.createAutoStateActivities(ctx, rec, ontology.RelAutoOnLocked, "locked")
}

func (e *Engine) createAutoStateActivities(ctx context.Context, rec *casefile.CaseRecord, relation, state string) []Message {
	var msgs []Message
	intake, _ := firstOf(rec.Related(rec.CaseID(), ontology.RelIntakeMethod))
	for _, typeID := range e.repo.GetRelated(rec.CaseType(), relation) {
		scoped := e.repo.GetRelated(typeID, ontology.RelIntakeMethod)
		if len(scoped) > 0 && !containsString(scoped, intake) {
			continue
		}
		created, err := e.CreateActivity(ctx, rec, typeID, CreateInput{CreatedBy: CreatedByAuto})
		if err != nil {
			e.logger.Printf("auto-on-%s activity %s for case %s failed: %v", state, typeID, rec.CaseID(), err)
			continue
		}
		msgs = append(msgs, created...)
	}
	return msgs
}
