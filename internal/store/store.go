package store

import (
	"context"

	"github.com/oantajames/tinyviber/internal/models"
)

// PipelineUpdate is a field-level merge write against a pipeline
// document. Nil fields are left untouched, so orchestrator progress
// writes and webhook-driven checks/deploy writes never clobber each
// other. Status changes that would move backwards are dropped.
type PipelineUpdate struct {
	Status       *models.PipelineStatus
	Error        *string
	PRNumber     *int
	PRURL        *string
	CommitSHA    *string
	FilesChanged []string
	ChecksStatus *string
	DeployStatus *string
	DeployURL    *string
}

// Store defines persistence for pipeline status documents and the
// operator config override record.
type Store interface {
	CreatePipeline(ctx context.Context, p *models.PipelineRequest) error
	GetPipeline(ctx context.Context, id string) (*models.PipelineRequest, error)
	ListPipelines(ctx context.Context, limit int) ([]*models.PipelineRequest, error)
	UpdatePipeline(ctx context.Context, id string, u PipelineUpdate) error

	// Watch returns a channel receiving the document after every write
	// to it, and a cancel func that must be called when done. Consumers
	// treat a missing document as "not yet created", not an error.
	Watch(id string) (<-chan *models.PipelineRequest, func())

	ConfigOverride(ctx context.Context) ([]byte, error)
	SetConfigOverride(ctx context.Context, raw []byte) error
	ClearConfigOverride(ctx context.Context) error

	Migrate(ctx context.Context) error
	Close() error
}
