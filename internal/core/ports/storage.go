package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
)

// Run kinds recorded in the ledger.
const (
	RunKindPipeline = "pipeline"
	RunKindPublish  = "publish"
)

// PipelineRun is the ledger record of one design pipeline run.
type PipelineRun struct {
	ID          string              `json:"id"`
	Session     string              `json:"session"`
	Status      string              `json:"status"` // done, error
	FailedStage string              `json:"failed_stage,omitempty"`
	Error       string              `json:"error,omitempty"`
	FinalURL    string              `json:"final_url,omitempty"`
	Stages      []domain.StageEntry `json:"stages"`
	Duration    time.Duration       `json:"duration_ns"`
	CreatedAt   time.Time           `json:"created_at"`
}

// PublishRun is the ledger record of one publish run.
type PublishRun struct {
	ID             string                `json:"id"`
	Session        string                `json:"session,omitempty"`
	Status         string                `json:"status"` // published, error
	ProductID      int64                 `json:"product_id,omitempty"`
	ProductTitle   string                `json:"product_title,omitempty"`
	ListingSource  domain.ListingSource  `json:"listing_source,omitempty"`
	ArtifactSource domain.ArtifactSource `json:"artifact_source,omitempty"`
	ThemeStatus    string                `json:"theme_status,omitempty"`
	ImageStatus    string                `json:"image_status,omitempty"`
	Error          string                `json:"error,omitempty"`
	Duration       time.Duration         `json:"duration_ns"`
	CreatedAt      time.Time             `json:"created_at"`
}

// RunSummary is a unified view of pipeline and publish runs.
type RunSummary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Session   string    `json:"session,omitempty"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions controls ledger listing.
type ListOptions struct {
	Session string
	Kind    string
	Limit   int
}

// RunStore is the run ledger.
// Implementations: SQLite (default), in-memory.
type RunStore interface {
	RecordPipelineRun(ctx context.Context, run *PipelineRun) error
	RecordPublishRun(ctx context.Context, run *PublishRun) error
	GetPipelineRun(ctx context.Context, id string) (*PipelineRun, error)
	GetPublishRun(ctx context.Context, id string) (*PublishRun, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]*RunSummary, error)
	Close() error
}
