// Package engine implements activity lifecycle management for service
// cases: creating activities immediately or on a delay, resolving
// assignment, recording outcomes and executing the configured trigger
// cascades that follow an outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/ontology"
)

// Marker values written into activity facts.
const (
	// CreatedByAuto marks activities created by trigger cascades.
	CreatedByAuto = "auto"
	// ActorError marks a status change whose actor could not be determined.
	ActorError = "error"
)

// maxCascadeDepth bounds recursive trigger cascades. Trigger configuration
// is mutable external content; a cycle must surface as an error, not as
// unbounded recursion.
const maxCascadeDepth = 16

// Config wires the engine's collaborators.
type Config struct {
	Repository ontology.Repository
	Calculator *DueDateCalculator
	Scheduler  Scheduler
	Renderer   Renderer
	Submitter  CaseSubmitter
	GIS        GISClient

	// CallbackBaseURL prefixes the deferred-creation callback paths the
	// scheduler will invoke.
	CallbackBaseURL string

	// StrictOccurDays escalates occur-day parse failures to fatal errors
	// instead of defaulting to immediate creation.
	StrictOccurDays bool
}

// Option configures optional engine behaviour.
type Option func(*Engine)

// WithClock overrides the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDSource overrides activity identifier generation, for tests.
func WithIDSource(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// Engine creates, updates and deletes service activities and executes the
// outcome cascades.
//
// Construct one Engine per transaction-processing attempt and serialize all
// operations for one case through it. Replaying an aborted attempt with a
// fresh engine replays identical task keys, which keeps deferred-job
// scheduling idempotent under retry. Not safe for concurrent use.
type Engine struct {
	repo      ontology.Repository
	calc      *DueDateCalculator
	scheduler Scheduler
	renderer  Renderer
	submitter CaseSubmitter
	resolver  *AssignmentResolver
	tasks     *TaskAllocator
	baseURL   string
	strict    bool
	now       func() time.Time
	newID     func() string
	logger    *log.Logger
	depth     int
}

// New constructs an Engine for one transaction attempt.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		repo:      cfg.Repository,
		calc:      cfg.Calculator,
		scheduler: cfg.Scheduler,
		renderer:  cfg.Renderer,
		submitter: cfg.Submitter,
		tasks:     NewTaskAllocator(),
		baseURL:   cfg.CallbackBaseURL,
		strict:    cfg.StrictOccurDays,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    log.New(log.Writer(), "[engine] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewAssignmentResolver(cfg.Repository, cfg.GIS, e.logger)
	return e
}

// CreateInput carries the optional fields of an activity creation.
type CreateInput struct {
	Outcome       string
	Details       string
	AssignedTo    string
	CreatedBy     string
	CreatedDate   *time.Time
	CompletedDate *time.Time
}

// CreateActivity creates an activity of the given type on the case, or
// schedules its creation when the type configures occur days. The returned
// messages include any produced by nested cascades.
func (e *Engine) CreateActivity(ctx context.Context, rec *casefile.CaseRecord, activityType string, in CreateInput) ([]Message, error) {
	return e.createActivity(ctx, rec, activityType, in, false)
}

// CreateActivityNow creates an activity ignoring any configured occur-day
// delay. Used when a previously scheduled creation callback fires.
func (e *Engine) CreateActivityNow(ctx context.Context, rec *casefile.CaseRecord, activityType string) ([]Message, error) {
	return e.createActivity(ctx, rec, activityType, CreateInput{}, true)
}

func (e *Engine) createActivity(ctx context.Context, rec *casefile.CaseRecord, typeID string, in CreateInput, ignoreOccurDays bool) ([]Message, error) {
	e.depth++
	defer func() { e.depth-- }()
	if e.depth > maxCascadeDepth {
		return nil, ErrCascadeDepth
	}

	at := ontology.NewActivityType(e.repo, typeID)
	now := e.now()
	created := now
	if in.CreatedDate != nil {
		created = *in.CreatedDate
	}

	suspenseDays, err := at.SuspenseDays()
	if err != nil {
		e.logger.Printf("suspense days unusable, using 0: %v", err)
		suspenseDays = 0
	}
	occurDays, err := at.OccurDays()
	if err != nil {
		if e.strict {
			return nil, configf("occur days for %s: %v", typeID, err)
		}
		e.logger.Printf("occur days unusable, creating immediately: %v", err)
		occurDays = 0
	}

	outcome := in.Outcome
	if outcome == "" && suspenseDays == 0 {
		outcome = e.autoDefaultOutcome(at)
	}

	baseDate := e.dueBaseDate(rec, now)
	workWeek := at.WorkWeek()

	// A configured occur-day delay defers creation entirely; the activity
	// materializes only when the scheduler calls back.
	if occurDays > 0 && !ignoreOccurDays {
		if err := e.scheduleDeferredCreation(ctx, rec, typeID, baseDate, occurDays, workWeek); err != nil {
			return nil, err
		}
		return nil, nil
	}

	actID := e.newID()
	assertRel(rec, actID, ontology.RelActivity, typeID)
	assertTime(rec, actID, ontology.PropSysCreatedDate, now)
	assertTime(rec, actID, ontology.PropCreatedDate, created)
	assertTime(rec, actID, ontology.PropUpdatedDate, created)
	if in.Details != "" {
		assertProp(rec, actID, ontology.PropDetails, in.Details)
	}

	assigned := in.AssignedTo
	if assigned == "" {
		for _, rule := range at.AssignmentRules() {
			if assigned = e.resolver.Resolve(ctx, rule, rec, outcome); assigned != "" {
				break
			}
		}
	}
	if assigned != "" {
		assertProp(rec, actID, ontology.PropAssignedTo, assigned)
	}
	if in.CreatedBy != "" {
		assertProp(rec, actID, ontology.PropCreatedBy, in.CreatedBy)
	}
	assertRel(rec, rec.CaseID(), ontology.RelServiceActivity, actID)

	var msgs []Message
	if outcome != "" || in.CompletedDate != nil {
		if outcome == "" {
			outcome = ontology.OutcomeComplete
		}
		assertRel(rec, actID, ontology.RelOutcome, outcome)
		completed := created
		if in.CompletedDate != nil {
			completed = *in.CompletedDate
		}
		assertTime(rec, actID, ontology.PropCompletedTimestamp, completed)

		cascadeMsgs, err := e.runCascades(ctx, rec, actID, typeID, outcome, assigned)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, explainAll(cascadeMsgs,
			fmt.Sprintf("createActivity cascade Outcome: %s Act: %s", outcome, typeID))...)
		activitiesCompleted.Inc()
	}

	if suspenseDays > 0 {
		due, err := e.calc.AddDelay(baseDate, suspenseDays, workWeek)
		if err != nil {
			return nil, err
		}
		assertTime(rec, actID, ontology.PropDueDate, due)
		if overdueType, ok := at.OverdueActivityType(); ok {
			e.scheduleOverdueCreation(ctx, rec, typeID, overdueType, due)
			e.logger.Printf("scheduled overdue %s workweek=%v %v + %v days = %v",
				overdueType, workWeek, baseDate, suspenseDays, due)
		}
	}

	msgs = append(msgs, e.renderTemplates(ctx, rec, at, actID, assigned,
		fmt.Sprintf("createActivity %s Tpl: ", actID))...)

	activitiesCreated.WithLabelValues(typeID).Inc()
	return msgs, nil
}

// UpdateInput carries the optional fields of an activity update. Nil-like
// empty fields leave the prior value untouched.
type UpdateInput struct {
	Outcome    string
	Details    string
	AssignedTo string
	ModifiedBy string

	// Accepted applies the type's default outcome when no outcome was
	// chosen, used when the assignee accepts the activity.
	Accepted bool
}

// UpdateActivity overwrites the supplied fields of an existing activity.
// Supplying an outcome completes the activity and runs the outcome cascade;
// assignment resolved through the outcome-email rule settles before
// template dispatch is evaluated.
func (e *Engine) UpdateActivity(ctx context.Context, rec *casefile.CaseRecord, actID string, in UpdateInput) ([]Message, error) {
	updated, ok := rec.GetTime(rec.CaseID(), ontology.PropLastModifiedDate)
	if !ok {
		updated = e.now()
	}
	rec.RetractProperty(actID, ontology.PropUpdatedDate)
	assertTime(rec, actID, ontology.PropUpdatedDate, updated)

	if in.Details != "" {
		rec.RetractProperty(actID, ontology.PropDetails)
		assertProp(rec, actID, ontology.PropDetails, in.Details)
	}
	if in.ModifiedBy != "" {
		rec.RetractProperty(actID, ontology.PropModifiedBy)
		assertProp(rec, actID, ontology.PropModifiedBy, in.ModifiedBy)
	}

	typeID, _ := firstOf(rec.Related(actID, ontology.RelActivity))

	outcome := in.Outcome
	if outcome == "" && in.Accepted && typeID != "" {
		outcome, _ = ontology.NewActivityType(e.repo, typeID).DefaultOutcome()
	}

	assigned := in.AssignedTo
	renderAfterAssign := false
	var msgs []Message
	if outcome != "" && typeID != "" {
		at := ontology.NewActivityType(e.repo, typeID)
		rec.RetractRelation(actID, ontology.RelOutcome)
		assertRel(rec, actID, ontology.RelOutcome, outcome)
		rec.RetractProperty(actID, ontology.PropCompletedTimestamp)
		assertTime(rec, actID, ontology.PropCompletedTimestamp, updated)

		cascadeMsgs, err := e.runCascades(ctx, rec, actID, typeID, outcome, assigned)
		if err != nil {
			return nil, err
		}
		if assigned == "" && at.HasOutcomeEmailRule() {
			if assigned = e.resolver.OutcomeEmail(outcome); assigned != "" {
				renderAfterAssign = true
			}
		}
		msgs = append(msgs, explainAll(cascadeMsgs,
			fmt.Sprintf("updateActivity cascade Outcome: %s Act: %s", outcome, typeID))...)
		activitiesCompleted.Inc()
	}

	// Assignment lands after the outcome-email resolution above so a newly
	// resolved assignee is visible to template dispatch.
	if assigned != "" {
		rec.RetractProperty(actID, ontology.PropAssignedTo)
		assertProp(rec, actID, ontology.PropAssignedTo, assigned)
	}

	if renderAfterAssign {
		at := ontology.NewActivityType(e.repo, typeID)
		msgs = append(msgs, e.renderTemplates(ctx, rec, at, actID, assigned,
			fmt.Sprintf("updateActivity outcomeEmailAssign %s Outcome: %s Tpl: ", actID, outcome))...)
	}
	return msgs, nil
}

// ApplyAutoDefaultOutcome completes a still-open activity with its type's
// auto default outcome, if one is configured.
func (e *Engine) ApplyAutoDefaultOutcome(ctx context.Context, rec *casefile.CaseRecord, actID string) ([]Message, error) {
	if existing := rec.Related(actID, ontology.RelOutcome); len(existing) > 0 {
		return nil, nil
	}
	typeID, ok := firstOf(rec.Related(actID, ontology.RelActivity))
	if !ok {
		return nil, nil
	}
	outcome := e.autoDefaultOutcome(ontology.NewActivityType(e.repo, typeID))
	if outcome == "" {
		return nil, nil
	}
	return e.UpdateActivity(ctx, rec, actID, UpdateInput{Outcome: outcome, ModifiedBy: CreatedByAuto})
}

// DeleteActivity removes an activity and its link from the case.
func (e *Engine) DeleteActivity(rec *casefile.CaseRecord, actID string) error {
	if !containsString(rec.Activities(), actID) {
		return fmt.Errorf("activity %s not linked to case %s", actID, rec.CaseID())
	}
	rec.RemoveRelationObject(rec.CaseID(), ontology.RelServiceActivity, actID)
	rec.RemoveEntity(actID)
	return nil
}

func (e *Engine) autoDefaultOutcome(at ontology.ActivityType) string {
	if !at.AutoDefaultOutcome() {
		return ""
	}
	outcome, _ := at.DefaultOutcome()
	return outcome
}

// dueBaseDate returns the user-provided due base date when the case type
// declares a DATE question for it and the case has a parseable answer;
// otherwise fallback.
func (e *Engine) dueBaseDate(rec *casefile.CaseRecord, fallback time.Time) time.Time {
	question, ok := firstOf(e.repo.GetRelated(rec.CaseType(), ontology.RelDueBaseQuestion))
	if !ok {
		return fallback
	}
	if dataType, _ := e.repo.GetProperty(question, ontology.PropDataType); dataType != "DATE" {
		return fallback
	}
	for _, answer := range rec.Answers() {
		if answer.Field != question || answer.Value == "" {
			continue
		}
		if t, err := parseAnswerDate(answer.Value); err == nil {
			return t
		}
	}
	return fallback
}

func (e *Engine) scheduleDeferredCreation(ctx context.Context, rec *casefile.CaseRecord, typeID string, baseDate time.Time, occurDays float64, workWeek bool) error {
	fireAt, err := e.calc.AddDelay(baseDate, occurDays, workWeek)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/v1/cases/%s/activities/create/%s", rec.CaseID(), typeID)
	task := ScheduledTask{
		TaskKey:     e.tasks.NextTaskID(path),
		FireAt:      fireAt,
		CallbackURL: e.baseURL + path,
	}
	if err := e.scheduler.ScheduleCallback(ctx, task); err != nil {
		return integrationf("schedule deferred creation of %s: %v", typeID, err)
	}
	tasksScheduled.WithLabelValues("create").Inc()
	e.logger.Printf("scheduled create %s workweek=%v %v + %v days = %v",
		typeID, workWeek, baseDate, occurDays, fireAt)
	return nil
}

// scheduleOverdueCreation registers the overdue callback at the due date.
// The key deliberately omits the activity instance id: instance ids are
// regenerated on each retry and would defeat the overwrite semantics.
func (e *Engine) scheduleOverdueCreation(ctx context.Context, rec *casefile.CaseRecord, sourceType, overdueType string, due time.Time) {
	path := fmt.Sprintf("/v1/cases/%s/activities/overdue/create/%s", rec.CaseID(), overdueType)
	label := fmt.Sprintf("%sact: %s/overdue/create/%s", rec.CaseID(), sourceType, overdueType)
	task := ScheduledTask{
		TaskKey:     e.tasks.NextTaskID(label),
		FireAt:      due,
		CallbackURL: e.baseURL + path,
	}
	if err := e.scheduler.ScheduleCallback(ctx, task); err != nil {
		e.logger.Printf("could not schedule overdue %s for case %s: %v", overdueType, rec.CaseID(), err)
		return
	}
	tasksScheduled.WithLabelValues("overdue").Inc()
}

// renderTemplates renders the type's configured templates. Dispatch is
// suppressed while an outcome-email rule is configured and nobody is
// assigned: an unassigned activity is never notified.
func (e *Engine) renderTemplates(ctx context.Context, rec *casefile.CaseRecord, at ontology.ActivityType, actID, assigned, explainPrefix string) []Message {
	var msgs []Message
	if template, ok := at.EmailTemplate(); ok {
		if at.HasOutcomeEmailRule() && assigned == "" {
			e.logger.Printf("email for activity %s suppressed: outcome-email rule configured and nobody assigned", actID)
			notificationsSuppressed.Inc()
		} else if m := e.render(ctx, rec, at, template, MessageEmail); m != nil {
			m.To = assigned
			m.AddExplanation(explainPrefix + template)
			msgs = append(msgs, *m)
		}
	}
	if template, ok := at.SmsTemplate(); ok {
		if m := e.render(ctx, rec, at, template, MessageSMS); m != nil {
			m.AddExplanation(explainPrefix + template)
			msgs = append(msgs, *m)
		}
	}
	return msgs
}

func (e *Engine) render(ctx context.Context, rec *casefile.CaseRecord, at ontology.ActivityType, template string, kind MessageKind) *Message {
	var (
		m   *Message
		err error
	)
	if kind == MessageEmail {
		m, err = e.renderer.RenderEmail(ctx, rec, at.LegacyCode(), template)
	} else {
		m, err = e.renderer.RenderSMS(ctx, rec, at.LegacyCode(), template)
	}
	if err != nil {
		e.logger.Printf("render %s template %s for case %s failed: %v", kind, template, rec.CaseID(), err)
		return nil
	}
	if m == nil {
		e.logger.Printf("rendered %s template %s for case %s was empty", kind, template, rec.CaseID())
		return nil
	}
	return m
}

// IsFatal reports whether an engine error must abort the case transaction.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariant) || errors.Is(err, ErrConfiguration)
}

func assertProp(rec *casefile.CaseRecord, entity, property, value string) {
	if err := rec.AssertProperty(entity, property, value); err != nil {
		panic(err) // vocabulary names are compile-time constants
	}
}

func assertRel(rec *casefile.CaseRecord, entity, relation, object string) {
	if err := rec.AssertRelation(entity, relation, object); err != nil {
		panic(err)
	}
}

func assertTime(rec *casefile.CaseRecord, entity, property string, t time.Time) {
	if err := rec.AssertTime(entity, property, t); err != nil {
		panic(err)
	}
}

func containsString(values []string, v string) bool {
	for _, cur := range values {
		if cur == v {
			return true
		}
	}
	return false
}

func parseAnswerDate(raw string) (time.Time, error) {
	for _, layout := range []string{casefile.TimeFormat, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
