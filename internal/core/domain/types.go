package domain

import (
	"fmt"
	"time"
)

// Role identifies one of the well-known artifact slots within a session.
type Role string

const (
	RoleRaw       Role = "raw"
	RoleGenerated Role = "generated"
	RoleFinal     Role = "final"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleRaw, RoleGenerated, RoleFinal:
		return true
	}
	return false
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown artifact role %q", s)
	}
	return r, nil
}

// ArtifactRef is a stable reference to a stored artifact.
type ArtifactRef struct {
	Session  string    `json:"session"`
	Role     Role      `json:"role"`
	Path     string    `json:"-"`
	URL      string    `json:"url"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Written  time.Time `json:"written"`
}

// Design pipeline stage names.
const (
	StageGeneration  = "generation"
	StageEnhancement = "enhancement"
	StageSuggestions = "suggestions"
	StageCleanup     = "cleanup"
)

// StageStatus is the outcome of a single step recorded in a stage log.
type StageStatus string

const (
	StatusOK             StageStatus = "ok"
	StatusFailed         StageStatus = "failed"
	StatusAdvisoryFailed StageStatus = "advisory_failed"
	StatusSkipped        StageStatus = "skipped"
)

// StageEntry is one line of a pipeline's stage log.
type StageEntry struct {
	Stage    string        `json:"stage"`
	Status   StageStatus   `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// PipelineResult is produced once per successful design pipeline run.
type PipelineResult struct {
	RunID         string       `json:"run_id"`
	Session       string       `json:"session"`
	FinalArtifact ArtifactRef  `json:"final"`
	StageLog      []StageEntry `json:"stages"`
}

// ListingSource records where listing metadata came from.
type ListingSource string

const (
	ListingSourceAI       ListingSource = "ai"
	ListingSourceFallback ListingSource = "fallback"
)

// ListingMetadata is the copy used for a commerce listing. Always populated.
type ListingMetadata struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Tags        []string      `json:"tags"`
	Source      ListingSource `json:"source"`
}

// Theme is a storefront theme resource on the commerce platform.
type Theme struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ThemeInstallResult is advisory; downstream steps never assume success.
type ThemeInstallResult struct {
	Success   bool   `json:"success"`
	Theme     *Theme `json:"theme,omitempty"`
	Published bool   `json:"published"`
	Error     string `json:"error,omitempty"`
}

// ThemeOutcome is either a theme install result or the absence marker
// (Attempted false) when no theme archive was configured.
type ThemeOutcome struct {
	Attempted bool `json:"attempted"`
	ThemeInstallResult
}

// ProductVariant is a commerce product variant.
type ProductVariant struct {
	ID                  int64  `json:"id,omitempty"`
	Price               string `json:"price"`
	SKU                 string `json:"sku"`
	InventoryManagement string `json:"inventory_management,omitempty"`
	InventoryQuantity   int    `json:"inventory_quantity"`
	InventoryPolicy     string `json:"inventory_policy,omitempty"`
}

// Product is a commerce product record.
type Product struct {
	ID          int64            `json:"id,omitempty"`
	Title       string           `json:"title"`
	BodyHTML    string           `json:"body_html"`
	Vendor      string           `json:"vendor"`
	ProductType string           `json:"product_type"`
	Handle      string           `json:"handle,omitempty"`
	Status      string           `json:"status"`
	Tags        []string         `json:"tags"`
	Variants    []ProductVariant `json:"variants"`
	CreatedAt   string           `json:"created_at,omitempty"`
}

// ProductImage is an image attached to a product.
type ProductImage struct {
	ID        int64  `json:"id,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Src       string `json:"src,omitempty"`
	Alt       string `json:"alt,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// ArtifactSource records which image a publish run used.
type ArtifactSource string

const (
	ArtifactSourceFinal    ArtifactSource = "final"
	ArtifactSourceFallback ArtifactSource = "fallback"
	ArtifactSourceNone     ArtifactSource = "none"
)

// PublishResult is the sole externally observable output of a publish run.
// Advisory sub-failures are embedded rather than returned.
type PublishResult struct {
	RunID           string          `json:"run_id"`
	Session         string          `json:"session,omitempty"`
	Message         string          `json:"message"`
	Product         Product         `json:"product"`
	AIDetails       ListingMetadata `json:"aiDetails"`
	UploadedImage   *ProductImage   `json:"uploadedImage"`
	ImageError      string          `json:"imageError,omitempty"`
	Theme           ThemeOutcome    `json:"theme"`
	ArtifactSource  ArtifactSource  `json:"artifactSource"`
	WaitlistEnabled bool            `json:"waitlistEnabled"`
}

// AdvisoryError describes a failed non-mandatory step.
type AdvisoryError struct {
	Step string `json:"step"`
	Err  error  `json:"-"`
}

func (e *AdvisoryError) Error() string {
	return fmt.Sprintf("%s: %s (step %s)", KindAdvisory, e.Err, e.Step)
}

func (e *AdvisoryError) Unwrap() error {
	return e.Err
}

// Advisory carries the result of a non-mandatory step. A failed advisory step
// still yields a usable (possibly zero) Value.
type Advisory[T any] struct {
	Value T
	Err   *AdvisoryError
}

// OK builds a successful advisory result.
func OK[T any](v T) Advisory[T] {
	return Advisory[T]{Value: v}
}

// Failed builds a failed advisory result carrying a fallback value.
func Failed[T any](step string, fallback T, err error) Advisory[T] {
	return Advisory[T]{Value: fallback, Err: &AdvisoryError{Step: step, Err: ClassifyProviderError(err)}}
}

// Ok reports whether the step succeeded.
func (a Advisory[T]) Ok() bool {
	return a.Err == nil
}

// ErrorString returns the failure message or the empty string.
func (a Advisory[T]) ErrorString() string {
	if a.Err == nil {
		return ""
	}
	return a.Err.Err.Error()
}
