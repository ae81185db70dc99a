package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
)

// Store is an in-memory implementation of RunStore
type Store struct {
	mu        sync.RWMutex
	pipelines map[string]*ports.PipelineRun
	publishes map[string]*ports.PublishRun
}

var _ ports.RunStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		pipelines: make(map[string]*ports.PipelineRun),
		publishes: make(map[string]*ports.PublishRun),
	}
}

func (s *Store) RecordPipelineRun(ctx context.Context, run *ports.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	cp := *run
	cp.Stages = append([]domain.StageEntry(nil), run.Stages...)
	s.pipelines[run.ID] = &cp
	return nil
}

func (s *Store) RecordPublishRun(ctx context.Context, run *ports.PublishRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	cp := *run
	s.publishes[run.ID] = &cp
	return nil
}

func (s *Store) GetPipelineRun(ctx context.Context, id string) (*ports.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.pipelines[id]
	if !ok {
		return nil, domain.ErrNotFound("pipeline run " + id + " not found")
	}
	cp := *run
	return &cp, nil
}

func (s *Store) GetPublishRun(ctx context.Context, id string) (*ports.PublishRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.publishes[id]
	if !ok {
		return nil, domain.ErrNotFound("publish run " + id + " not found")
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns pipeline and publish runs newest first.
func (s *Store) ListRuns(ctx context.Context, opts ports.ListOptions) ([]*ports.RunSummary, error) {
	switch opts.Kind {
	case "", ports.RunKindPipeline, ports.RunKindPublish:
	default:
		return nil, domain.ErrValidation(fmt.Sprintf("unknown run kind %q", opts.Kind))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ports.RunSummary
	if opts.Kind == "" || opts.Kind == ports.RunKindPipeline {
		for _, r := range s.pipelines {
			if opts.Session != "" && r.Session != opts.Session {
				continue
			}
			detail := r.FinalURL
			if r.FailedStage != "" {
				detail = r.FailedStage
			}
			result = append(result, &ports.RunSummary{
				ID:        r.ID,
				Kind:      ports.RunKindPipeline,
				Session:   r.Session,
				Status:    r.Status,
				Detail:    detail,
				CreatedAt: r.CreatedAt,
			})
		}
	}
	if opts.Kind == "" || opts.Kind == ports.RunKindPublish {
		for _, r := range s.publishes {
			if opts.Session != "" && r.Session != opts.Session {
				continue
			}
			result = append(result, &ports.RunSummary{
				ID:        r.ID,
				Kind:      ports.RunKindPublish,
				Session:   r.Session,
				Status:    r.Status,
				Detail:    r.ProductTitle,
				CreatedAt: r.CreatedAt,
			})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
