package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/casework/internal/casefile"
	"example.com/casework/internal/engine"
	"example.com/casework/internal/ontology"
	"example.com/casework/internal/persistence/postgres"
)

// Store is the persistence surface the service drives.
type Store interface {
	LoadCase(ctx context.Context, caseID string) (*casefile.CaseRecord, error)
	SaveCase(ctx context.Context, rec *casefile.CaseRecord, activities []engine.Activity) error
	Submit(ctx context.Context, rec *casefile.CaseRecord) (engine.SubmitResult, error)
	ListOpenActivities(ctx context.Context, limit int) ([]engine.Activity, error)
}

// Publisher forwards rendered notifications after a successful save.
type Publisher interface {
	Publish(ctx context.Context, msgs []engine.Message) error
}

// EngineConfig carries the collaborator wiring the service hands to each
// per-attempt engine.
type EngineConfig struct {
	Repository ontology.Repository
	Calculator *engine.DueDateCalculator
	Scheduler  engine.Scheduler
	Renderer   engine.Renderer
	GIS        engine.GISClient

	CallbackBaseURL string
	StrictOccurDays bool
}

// Service runs engine operations as retried optimistic transactions: load
// the case, run the operation through a fresh engine, save under the
// version guard, publish the produced notifications.
type Service struct {
	store     Store
	publisher Publisher
	engCfg    EngineConfig
	retries   int
	logger    *log.Logger
}

// NewService builds a Service.
func NewService(store Store, publisher Publisher, engCfg EngineConfig, retries int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	return &Service{
		store:     store,
		publisher: publisher,
		engCfg:    engCfg,
		retries:   retries,
		logger:    logger,
	}
}

// ErrCaseNotFound is surfaced to handlers for a missing case id.
var ErrCaseNotFound = postgres.ErrNotFound

func (s *Service) newEngine() *engine.Engine {
	return engine.New(engine.Config{
		Repository:      s.engCfg.Repository,
		Calculator:      s.engCfg.Calculator,
		Scheduler:       s.engCfg.Scheduler,
		Renderer:        s.engCfg.Renderer,
		Submitter:       s.store,
		GIS:             s.engCfg.GIS,
		CallbackBaseURL: s.engCfg.CallbackBaseURL,
		StrictOccurDays: s.engCfg.StrictOccurDays,
	})
}

type operation func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error)

// runTransaction executes op against the named case, retrying on version
// conflicts with a fresh engine each attempt so deferred-task keys replay
// identically.
func (s *Service) runTransaction(ctx context.Context, caseID string, op operation) (*casefile.CaseRecord, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		rec, err := s.store.LoadCase(ctx, caseID)
		if err != nil {
			return nil, err
		}

		msgs, err := op(s.newEngine(), rec)
		if err != nil {
			return nil, err
		}

		activities := engine.CaseActivities(s.engCfg.Repository, rec)
		if err := s.store.SaveCase(ctx, rec, activities); err != nil {
			if errors.Is(err, postgres.ErrVersionConflict) {
				lastErr = err
				s.logger.Printf("version conflict on case %s, attempt %d", caseID, attempt+1)
				continue
			}
			return nil, err
		}

		if len(msgs) > 0 {
			if err := s.publisher.Publish(ctx, msgs); err != nil {
				// The save already committed; a publish failure loses the
				// notification, not the case state.
				s.logger.Printf("publish for case %s failed: %v", caseID, err)
			}
		}
		return rec, nil
	}
	return nil, fmt.Errorf("case %s: retries exhausted: %w", caseID, lastErr)
}

// CreateCaseInput is the material for a brand-new case.
type CreateCaseInput struct {
	CaseType     string
	Status       string
	IntakeMethod string
	Priority     string
	Address      string
	XCoordinate  string
	YCoordinate  string
	CreatedBy    string
	Answers      []casefile.Answer
}

// CreateCase inserts a new case and runs its default and question-triggered
// activities.
func (s *Service) CreateCase(ctx context.Context, in CreateCaseInput) (*casefile.CaseRecord, error) {
	rec := casefile.New(uuid.NewString(), in.CaseType)
	now := time.Now()
	if err := rec.AssertTime(rec.CaseID(), ontology.PropCreatedDate, now); err != nil {
		return nil, err
	}
	if err := rec.AssertTime(rec.CaseID(), ontology.PropLastModifiedDate, now); err != nil {
		return nil, err
	}
	assertIfSet := func(prop, value string) error {
		if value == "" {
			return nil
		}
		return rec.AssertProperty(rec.CaseID(), prop, value)
	}
	if err := assertIfSet(ontology.PropCreatedBy, in.CreatedBy); err != nil {
		return nil, err
	}
	if err := assertIfSet(ontology.PropAddress, in.Address); err != nil {
		return nil, err
	}
	if err := assertIfSet(ontology.PropXCoordinate, in.XCoordinate); err != nil {
		return nil, err
	}
	if err := assertIfSet(ontology.PropYCoordinate, in.YCoordinate); err != nil {
		return nil, err
	}
	relateIfSet := func(rel, object string) error {
		if object == "" {
			return nil
		}
		return rec.AssertRelation(rec.CaseID(), rel, object)
	}
	if err := relateIfSet(ontology.RelStatus, in.Status); err != nil {
		return nil, err
	}
	if err := relateIfSet(ontology.RelIntakeMethod, in.IntakeMethod); err != nil {
		return nil, err
	}
	if err := relateIfSet(ontology.RelPriority, in.Priority); err != nil {
		return nil, err
	}
	for _, a := range in.Answers {
		rec.AddAnswer(a)
	}

	if _, err := s.store.Submit(ctx, rec); err != nil {
		return nil, err
	}

	return s.runTransaction(ctx, rec.CaseID(), func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error) {
		return eng.CreateDefaultActivities(ctx, rec, in.CreatedBy)
	})
}

// GetCase loads a case record.
func (s *Service) GetCase(ctx context.Context, caseID string) (*casefile.CaseRecord, error) {
	return s.store.LoadCase(ctx, caseID)
}

// CreateActivity runs one activity creation as a case transaction.
func (s *Service) CreateActivity(ctx context.Context, caseID, typeID string, in engine.CreateInput) (*casefile.CaseRecord, error) {
	return s.runTransaction(ctx, caseID, func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error) {
		return eng.CreateActivity(ctx, rec, typeID, in)
	})
}

// CreateActivityNow materializes a previously deferred activity. Invoked by
// the scheduler callback, so any configured occur-day delay is ignored.
func (s *Service) CreateActivityNow(ctx context.Context, caseID, typeID string) (*casefile.CaseRecord, error) {
	return s.runTransaction(ctx, caseID, func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error) {
		return eng.CreateActivityNow(ctx, rec, typeID)
	})
}

// CreateOverdueActivity creates the overdue follow-up for a still-open
// activity of the source type; if every activity of that type has an
// outcome the deadline was met and nothing happens.
func (s *Service) CreateOverdueActivity(ctx context.Context, caseID, overdueType string) (*casefile.CaseRecord, error) {
	return s.runTransaction(ctx, caseID, func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error) {
		if !hasOpenSourceActivity(s.engCfg.Repository, rec, overdueType) {
			return nil, nil
		}
		return eng.CreateActivityNow(ctx, rec, overdueType)
	})
}

// hasOpenSourceActivity reports whether any activity whose type configures
// overdueType as its overdue follow-up is still open on the case.
func hasOpenSourceActivity(repo ontology.Repository, rec *casefile.CaseRecord, overdueType string) bool {
	for _, actID := range rec.Activities() {
		typeID := ""
		if related := rec.Related(actID, ontology.RelActivity); len(related) > 0 {
			typeID = related[0]
		}
		if typeID == "" {
			continue
		}
		configured, ok := ontology.NewActivityType(repo, typeID).OverdueActivityType()
		if !ok || configured != overdueType {
			continue
		}
		if len(rec.Related(actID, ontology.RelOutcome)) == 0 {
			return true
		}
	}
	return false
}

// UpdateActivity runs one activity update as a case transaction.
func (s *Service) UpdateActivity(ctx context.Context, caseID, actID string, in engine.UpdateInput) (*casefile.CaseRecord, error) {
	return s.runTransaction(ctx, caseID, func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error) {
		if !contains(rec.Activities(), actID) {
			return nil, fmt.Errorf("activity %s: %w", actID, ErrActivityNotFound)
		}
		return eng.UpdateActivity(ctx, rec, actID, in)
	})
}

// ErrActivityNotFound is surfaced to handlers for a missing activity id.
var ErrActivityNotFound = errors.New("activity not found")

// DeleteActivity removes an activity as a case transaction.
func (s *Service) DeleteActivity(ctx context.Context, caseID, actID string) (*casefile.CaseRecord, error) {
	return s.runTransaction(ctx, caseID, func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error) {
		if err := eng.DeleteActivity(rec, actID); err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrActivityNotFound)
		}
		return nil, nil
	})
}

// ChangeStatus moves the case's status through the audited path.
func (s *Service) ChangeStatus(ctx context.Context, caseID, newStatus, changedBy string) (*casefile.CaseRecord, error) {
	return s.runTransaction(ctx, caseID, func(eng *engine.Engine, rec *casefile.CaseRecord) ([]engine.Message, error) {
		return eng.ChangeStatus(ctx, rec, newStatus, time.Now(), changedBy)
	})
}

// ListOpenActivities exposes the approaching-deadline view.
func (s *Service) ListOpenActivities(ctx context.Context, limit int) ([]engine.Activity, error) {
	return s.store.ListOpenActivities(ctx, limit)
}

func contains(values []string, v string) bool {
	for _, cur := range values {
		if cur == v {
			return true
		}
	}
	return false
}
