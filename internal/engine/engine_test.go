package engine

import (
	"context"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/ontology"
)

// Monday, well clear of weekends for non-workweek arithmetic.
var testNow = time.Date(2026, time.January, 5, 10, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type stubScheduler struct {
	tasks []ScheduledTask
	err   error
}

func (s *stubScheduler) ScheduleCallback(_ context.Context, task ScheduledTask) error {
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}

type stubRenderer struct {
	fail bool
}

func (r *stubRenderer) RenderEmail(_ context.Context, rec *casefile.CaseRecord, legacyCode, template string) (*Message, error) {
	if r.fail {
		return nil, fmt.Errorf("render failed")
	}
	return &Message{Kind: MessageEmail, CaseID: rec.CaseID(), Template: template, LegacyCode: legacyCode, Subject: "subject", Body: "body"}, nil
}

func (r *stubRenderer) RenderSMS(_ context.Context, rec *casefile.CaseRecord, legacyCode, template string) (*Message, error) {
	if r.fail {
		return nil, fmt.Errorf("render failed")
	}
	return &Message{Kind: MessageSMS, CaseID: rec.CaseID(), Template: template, LegacyCode: legacyCode, Body: "body"}, nil
}

type stubSubmitter struct {
	submitted []*casefile.CaseRecord
	err       error
}

func (s *stubSubmitter) Submit(_ context.Context, rec *casefile.CaseRecord) (SubmitResult, error) {
	if s.err != nil {
		return SubmitResult{}, s.err
	}
	s.submitted = append(s.submitted, rec)
	return SubmitResult{CaseID: rec.CaseID()}, nil
}

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

type fixture struct {
	repo      *ontology.InMemoryRepository
	scheduler *stubScheduler
	submitter *stubSubmitter
	eng       *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      ontology.NewInMemoryRepository(),
		scheduler: &stubScheduler{},
		submitter: &stubSubmitter{},
	}
	ids := 0
	f.eng = New(Config{
		Repository:      f.repo,
		Calculator:      NewDueDateCalculator(false, false, nil, WithCalcClock(testClock)),
		Scheduler:       f.scheduler,
		Renderer:        &stubRenderer{},
		Submitter:       f.submitter,
		CallbackBaseURL: "http://api.test",
	},
		WithClock(testClock),
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithIDSource(func() string {
			ids++
			return fmt.Sprintf("act-%d", ids)
		}),
	)
	return f
}

func newCase(t *testing.T, caseType string) *casefile.CaseRecord {
	t.Helper()
	rec := casefile.New("case-1", caseType)
	require.NoError(t, rec.AssertTime("case-1", ontology.PropCreatedDate, testNow))
	return rec
}

func TestCreateActivityDefersWhenOccurDaysConfigured(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "INSPECT", Class: ontology.ClassActivityType, Label: "Inspection",
		Properties: map[string][]string{ontology.PropOccurDays: {"5"}},
	})
	rec := newCase(t, "GARBAGE")

	msgs, err := f.eng.CreateActivity(context.Background(), rec, "INSPECT", CreateInput{})
	require.NoError(t, err)
	require.Empty(t, msgs)

	// Nothing materialized; the scheduler holds the only trace.
	require.Empty(t, rec.Activities())
	require.Len(t, f.scheduler.tasks, 1)

	task := f.scheduler.tasks[0]
	require.Equal(t, "/v1/cases/case-1/activities/create/INSPECT idx 0", task.TaskKey)
	require.Equal(t, "http://api.test/v1/cases/case-1/activities/create/INSPECT", task.CallbackURL)
	require.Equal(t, testNow.AddDate(0, 0, 5), task.FireAt)
}

func TestCreateActivityNowIgnoresOccurDays(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "INSPECT", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropOccurDays: {"5"}},
	})
	rec := newCase(t, "GARBAGE")

	_, err := f.eng.CreateActivityNow(context.Background(), rec, "INSPECT")
	require.NoError(t, err)
	require.Len(t, rec.Activities(), 1)
	require.Empty(t, f.scheduler.tasks)
}

func TestCreateActivitySchedulesOverdueAtDueDate(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "REVIEW", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropSuspenseDays: {"3"}},
		Relations:  map[string][]string{ontology.RelOverdueActivity: {"REVIEW_LATE"}},
	})
	rec := newCase(t, "GARBAGE")

	_, err := f.eng.CreateActivity(context.Background(), rec, "REVIEW", CreateInput{})
	require.NoError(t, err)

	require.Len(t, rec.Activities(), 1)
	actID := rec.Activities()[0]
	due, ok := rec.GetTime(actID, ontology.PropDueDate)
	require.True(t, ok)
	require.Equal(t, testNow.AddDate(0, 0, 3), due)

	require.Len(t, f.scheduler.tasks, 1)
	task := f.scheduler.tasks[0]
	require.Equal(t, "case-1act: REVIEW/overdue/create/REVIEW_LATE idx 0", task.TaskKey)
	require.Equal(t, due, task.FireAt)
}

func TestCreateActivityOverdueScheduleFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.scheduler.err = fmt.Errorf("scheduler down")
	f.repo.Put(ontology.EntityDoc{
		ID: "REVIEW", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropSuspenseDays: {"3"}},
		Relations:  map[string][]string{ontology.RelOverdueActivity: {"REVIEW_LATE"}},
	})
	rec := newCase(t, "GARBAGE")

	_, err := f.eng.CreateActivity(context.Background(), rec, "REVIEW", CreateInput{})
	require.NoError(t, err)
	require.Len(t, rec.Activities(), 1)
}

func TestCreateActivityDeferredScheduleFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.scheduler.err = fmt.Errorf("scheduler down")
	f.repo.Put(ontology.EntityDoc{
		ID: "INSPECT", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropOccurDays: {"5"}},
	})
	rec := newCase(t, "GARBAGE")

	_, err := f.eng.CreateActivity(context.Background(), rec, "INSPECT", CreateInput{})
	require.Error(t, err)
}

func TestCreateActivityAppliesAutoDefaultOutcome(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "INTAKE", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropAutoDefaultOutcome: {"Y"}},
		Relations:  map[string][]string{ontology.RelDefaultOutcome: {"OUTCOME_DONE"}},
	})
	rec := newCase(t, "GARBAGE")

	_, err := f.eng.CreateActivity(context.Background(), rec, "INTAKE", CreateInput{})
	require.NoError(t, err)

	actID := rec.Activities()[0]
	require.Equal(t, []string{"OUTCOME_DONE"}, rec.Related(actID, ontology.RelOutcome))
	_, ok := rec.GetTime(actID, ontology.PropCompletedTimestamp)
	require.True(t, ok)
}

func TestCreateActivitySuspenseSuppressesAutoDefaultOutcome(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "INTAKE", Class: ontology.ClassActivityType,
		Properties: map[string][]string{
			ontology.PropAutoDefaultOutcome: {"Y"},
			ontology.PropSuspenseDays:       {"2"},
		},
		Relations: map[string][]string{ontology.RelDefaultOutcome: {"OUTCOME_DONE"}},
	})
	rec := newCase(t, "GARBAGE")

	_, err := f.eng.CreateActivity(context.Background(), rec, "INTAKE", CreateInput{})
	require.NoError(t, err)

	actID := rec.Activities()[0]
	require.Empty(t, rec.Related(actID, ontology.RelOutcome))
}

func TestCreateActivityCompletedDateDefaultsOutcomeToComplete(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{ID: "INTAKE", Class: ontology.ClassActivityType})
	rec := newCase(t, "GARBAGE")

	completed := testNow.Add(-time.Hour)
	_, err := f.eng.CreateActivity(context.Background(), rec, "INTAKE", CreateInput{CompletedDate: &completed})
	require.NoError(t, err)

	actID := rec.Activities()[0]
	require.Equal(t, []string{ontology.OutcomeComplete}, rec.Related(actID, ontology.RelOutcome))
	got, ok := rec.GetTime(actID, ontology.PropCompletedTimestamp)
	require.True(t, ok)
	require.Equal(t, completed, got)
}

func TestCreateActivityUsesDueBaseDateAnswer(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "GARBAGE", Class: ontology.ClassServiceCaseType,
		Relations: map[string][]string{ontology.RelDueBaseQuestion: {"Q_PICKUP"}},
	})
	f.repo.Put(ontology.EntityDoc{
		ID:         "Q_PICKUP",
		Properties: map[string][]string{ontology.PropDataType: {"DATE"}},
	})
	f.repo.Put(ontology.EntityDoc{
		ID: "REVIEW", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropSuspenseDays: {"1"}},
	})
	rec := newCase(t, "GARBAGE")
	base := time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC)
	rec.AddAnswer(casefile.Answer{Field: "Q_PICKUP", Value: base.Format(time.RFC3339)})

	_, err := f.eng.CreateActivity(context.Background(), rec, "REVIEW", CreateInput{})
	require.NoError(t, err)

	actID := rec.Activities()[0]
	due, ok := rec.GetTime(actID, ontology.PropDueDate)
	require.True(t, ok)
	require.Equal(t, base.AddDate(0, 0, 1), due)
}

func TestCreateActivitySuppressesEmailWhenOutcomeEmailRuleAndUnassigned(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "NOTIFY", Class: ontology.ClassActivityType,
		Relations: map[string][]string{
			ontology.RelEmailTemplate:  {"TPL_DONE"},
			ontology.RelAssignmentRule: {ontology.RuleOutcomeEmail},
		},
	})
	rec := newCase(t, "GARBAGE")

	msgs, err := f.eng.CreateActivity(context.Background(), rec, "NOTIFY", CreateInput{})
	require.NoError(t, err)
	require.Empty(t, msgs, "unassigned activity must not notify")
}

func TestCreateActivityDispatchesEmailWhenAssigned(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "NOTIFY", Class: ontology.ClassActivityType,
		Relations: map[string][]string{
			ontology.RelEmailTemplate:  {"TPL_DONE"},
			ontology.RelAssignmentRule: {ontology.RuleOutcomeEmail},
		},
	})
	rec := newCase(t, "GARBAGE")

	msgs, err := f.eng.CreateActivity(context.Background(), rec, "NOTIFY", CreateInput{AssignedTo: "inspector1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, MessageEmail, msgs[0].Kind)
	require.Equal(t, "TPL_DONE", msgs[0].Template)
	require.Equal(t, "inspector1", msgs[0].To)
	require.NotEmpty(t, msgs[0].Explanations)
}

func TestUpdateActivityOutcomeEmailAssignmentSettlesBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "NOTIFY", Class: ontology.ClassActivityType,
		Relations: map[string][]string{
			ontology.RelEmailTemplate:  {"TPL_DONE"},
			ontology.RelAssignmentRule: {ontology.RuleOutcomeEmail},
		},
	})
	f.repo.Put(ontology.EntityDoc{
		ID: "OUTCOME_REFER", Label: "Refer to clerk clerk@example.gov",
	})
	rec := newCase(t, "GARBAGE")

	_, err := f.eng.CreateActivity(context.Background(), rec, "NOTIFY", CreateInput{})
	require.NoError(t, err)
	actID := rec.Activities()[0]

	msgs, err := f.eng.UpdateActivity(context.Background(), rec, actID, UpdateInput{Outcome: "OUTCOME_REFER"})
	require.NoError(t, err)

	assigned, ok := rec.GetProperty(actID, ontology.PropAssignedTo)
	require.True(t, ok)
	require.Equal(t, "clerk@example.gov", assigned)

	require.Len(t, msgs, 1)
	require.Equal(t, "clerk@example.gov", msgs[0].To)
}

func TestUpdateActivityAcceptedAppliesDefaultOutcome(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "TASK", Class: ontology.ClassActivityType,
		Relations: map[string][]string{ontology.RelDefaultOutcome: {"OUTCOME_OK"}},
	})
	rec := newCase(t, "GARBAGE")
	_, err := f.eng.CreateActivity(context.Background(), rec, "TASK", CreateInput{})
	require.NoError(t, err)
	actID := rec.Activities()[0]

	_, err = f.eng.UpdateActivity(context.Background(), rec, actID, UpdateInput{Accepted: true, ModifiedBy: "clerk"})
	require.NoError(t, err)
	require.Equal(t, []string{"OUTCOME_OK"}, rec.Related(actID, ontology.RelOutcome))
}

func TestUpdateActivityUsesCaseLastModifiedForUpdatedDate(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{ID: "TASK", Class: ontology.ClassActivityType})
	rec := newCase(t, "GARBAGE")
	modified := testNow.Add(2 * time.Hour)
	require.NoError(t, rec.AssertTime("case-1", ontology.PropLastModifiedDate, modified))

	_, err := f.eng.CreateActivity(context.Background(), rec, "TASK", CreateInput{})
	require.NoError(t, err)
	actID := rec.Activities()[0]

	_, err = f.eng.UpdateActivity(context.Background(), rec, actID, UpdateInput{Details: "checked"})
	require.NoError(t, err)

	updated, ok := rec.GetTime(actID, ontology.PropUpdatedDate)
	require.True(t, ok)
	require.Equal(t, modified, updated)
	details, _ := rec.GetProperty(actID, ontology.PropDetails)
	require.Equal(t, "checked", details)
}

func TestDeleteActivityRemovesLinkAndFacts(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{ID: "TASK", Class: ontology.ClassActivityType})
	rec := newCase(t, "GARBAGE")
	_, err := f.eng.CreateActivity(context.Background(), rec, "TASK", CreateInput{})
	require.NoError(t, err)
	actID := rec.Activities()[0]

	require.NoError(t, f.eng.DeleteActivity(rec, actID))
	require.Empty(t, rec.Activities())
	_, ok := rec.GetProperty(actID, ontology.PropCreatedDate)
	require.False(t, ok)

	require.Error(t, f.eng.DeleteActivity(rec, "no-such-activity"))
}

func TestApplyAutoDefaultOutcomeSkipsCompletedActivity(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "TASK", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropAutoDefaultOutcome: {"Y"}},
		Relations:  map[string][]string{ontology.RelDefaultOutcome: {"OUTCOME_OK"}},
	})
	rec := newCase(t, "GARBAGE")
	_, err := f.eng.CreateActivity(context.Background(), rec, "TASK", CreateInput{Outcome: "OUTCOME_OTHER"})
	require.NoError(t, err)
	actID := rec.Activities()[0]

	msgs, err := f.eng.ApplyAutoDefaultOutcome(context.Background(), rec, actID)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, []string{"OUTCOME_OTHER"}, rec.Related(actID, ontology.RelOutcome))
}

func TestCreateActivityStrictModeEscalatesOccurDaysParseFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.Put(ontology.EntityDoc{
		ID: "BAD", Class: ontology.ClassActivityType,
		Properties: map[string][]string{ontology.PropOccurDays: {"not-a-number"}},
	})
	rec := newCase(t, "GARBAGE")

	// Default mode logs and creates immediately.
	_, err := f.eng.CreateActivity(context.Background(), rec, "BAD", CreateInput{})
	require.NoError(t, err)
	require.Len(t, rec.Activities(), 1)

	strict := New(Config{
		Repository:      f.repo,
		Calculator:      NewDueDateCalculator(false, false, nil, WithCalcClock(testClock)),
		Scheduler:       f.scheduler,
		Renderer:        &stubRenderer{},
		Submitter:       f.submitter,
		StrictOccurDays: true,
	}, WithClock(testClock), WithLogger(log.New(testWriter{t}, "", 0)))

	_, err = strict.CreateActivity(context.Background(), newCase(t, "GARBAGE"), "BAD", CreateInput{})
	require.Error(t, err)
	require.True(t, IsFatal(err))
}
