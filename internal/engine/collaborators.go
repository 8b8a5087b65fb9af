package engine

import (
	"context"
	"time"

	"example.com/casework/internal/casefile"
)

// ScheduledTask is a deferred HTTP callback handed to the external
// scheduler. TaskKey is retry-stable so the scheduler overwrites a pending
// job instead of duplicating it.
type ScheduledTask struct {
	TaskKey     string            `json:"task_key"`
	FireAt      time.Time         `json:"fire_at"`
	CallbackURL string            `json:"callback_url"`
	Payload     map[string]string `json:"payload,omitempty"`
}

// Scheduler registers deferred callbacks with the external time machine.
type Scheduler interface {
	ScheduleCallback(ctx context.Context, task ScheduledTask) error
}

// Renderer instantiates notification templates for a case. A nil message
// with a nil error means the template produced nothing.
type Renderer interface {
	RenderEmail(ctx context.Context, rec *casefile.CaseRecord, legacyCode, template string) (*Message, error)
	RenderSMS(ctx context.Context, rec *casefile.CaseRecord, legacyCode, template string) (*Message, error)
}

// LocationInfo is the opaque layer-attribute payload returned by the GIS
// collaborator for one coordinate pair.
type LocationInfo map[string]any

// GISClient resolves case coordinates to layer attributes.
type GISClient interface {
	ResolveLocation(ctx context.Context, x, y float64) (LocationInfo, error)
	TestLayerValue(loc LocationInfo, layer, attribute, expected string) (bool, error)
}

// SubmitResult describes a referral case accepted by the case store.
type SubmitResult struct {
	CaseID string
}

// CaseSubmitter persists a newly built referral case.
type CaseSubmitter interface {
	Submit(ctx context.Context, rec *casefile.CaseRecord) (SubmitResult, error)
}
