package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/imaging"
	"github.com/tjfontaine/threadsketch/internal/metrics"
	"github.com/tjfontaine/threadsketch/internal/telemetry"
)

// State is a design pipeline run state.
type State string

const (
	StateReceived   State = "received"
	StateGenerating State = "generating"
	StateGenerated  State = "generated"
	StateEnhancing  State = "enhancing"
	StateFinal      State = "final"
	StateDone       State = "done"
	StateError      State = "error"
)

var transitions = map[State][]State{
	StateReceived:   {StateGenerating},
	StateGenerating: {StateGenerated, StateError},
	StateGenerated:  {StateEnhancing},
	StateEnhancing:  {StateFinal, StateError},
	StateFinal:      {StateDone},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is emitted to observers on every state change.
type Transition struct {
	RunID   string
	Session string
	From    State
	To      State
	Stage   string // set when To is StateError
	Err     error
	At      time.Time
}

// Observer receives state transitions.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(t Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver registers an observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, obs)
	}
}

// WithLedger records every run to store.
func WithLedger(store ports.RunStore) Option {
	return func(o *Orchestrator) {
		o.ledger = store
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// Orchestrator runs the generation and enhancement stages for one session
// at a time.
type Orchestrator struct {
	store       ArtifactStore
	generation  Stage
	enhancement Stage
	observers   []Observer
	ledger      ports.RunStore
	logger      *slog.Logger
}

// NewOrchestrator creates an orchestrator over the two mandatory stages.
func NewOrchestrator(store ArtifactStore, generation, enhancement Stage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		generation:  generation,
		enhancement: enhancement,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type run struct {
	id      string
	session string
	state   State
	start   time.Time
	log     []domain.StageEntry
}

// Run stores raw as the session's sketch and drives it to a final artifact.
// An undecodable upload is a validation error and a stage whose capability
// is unconfigured is a configuration error; both are returned before the
// session's artifacts are touched. Otherwise a failure is a *domain.Error of
// kind stage_failure naming the stage that failed and no final artifact is
// written.
func (o *Orchestrator) Run(ctx context.Context, session string, raw []byte) (*domain.PipelineResult, error) {
	if err := o.admit(raw); err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("rejected").Inc()
		o.logger.Warn("design pipeline rejected", slog.String("session", session), slog.String("error", err.Error()))
		return nil, err
	}

	r := &run{
		id:      uuid.NewString(),
		session: session,
		state:   StateReceived,
		start:   time.Now(),
	}

	ctx, span := telemetry.StartSpan(ctx, "pipeline.run",
		attribute.String("run_id", r.id),
		attribute.String("session", session))
	var runErr error
	defer func() { telemetry.EndSpan(span, runErr) }()

	o.logger.Info("design pipeline started", slog.String("run_id", r.id), slog.String("session", session), slog.Int("bytes", len(raw)))

	o.clearOutputs(ctx, r)

	o.transition(r, StateGenerating, "", nil)
	if _, err := o.store.Put(ctx, session, domain.RoleRaw, raw); err != nil {
		runErr = o.fail(ctx, r, domain.StageGeneration, fmt.Errorf("store raw sketch: %w", err))
		return nil, runErr
	}
	if _, err := o.runStage(ctx, r, o.generation); err != nil {
		runErr = o.fail(ctx, r, o.generation.Name(), err)
		return nil, runErr
	}
	o.transition(r, StateGenerated, "", nil)

	o.transition(r, StateEnhancing, "", nil)
	out, err := o.runStage(ctx, r, o.enhancement)
	if err != nil {
		runErr = o.fail(ctx, r, o.enhancement.Name(), err)
		return nil, runErr
	}
	o.transition(r, StateFinal, "", nil)
	o.transition(r, StateDone, "", nil)

	result := &domain.PipelineResult{
		RunID:         r.id,
		Session:       session,
		FinalArtifact: out.Artifact,
		StageLog:      r.log,
	}

	metrics.PipelineRunsTotal.WithLabelValues(string(StateDone)).Inc()
	o.record(ctx, r, &ports.PipelineRun{
		Status:   string(StateDone),
		FinalURL: out.Artifact.URL,
	})

	o.logger.Info("design pipeline complete",
		slog.String("run_id", r.id),
		slog.String("session", session),
		slog.String("final", out.Artifact.URL),
		slog.Duration("duration", time.Since(r.start)))

	return result, nil
}

// admit checks the upload and the stages' capabilities.
func (o *Orchestrator) admit(raw []byte) error {
	if _, _, err := imaging.Decode(raw); err != nil {
		return domain.ErrValidation("uploaded sketch is not a decodable image").WithCause(err)
	}
	for _, stage := range []Stage{o.generation, o.enhancement} {
		rc, ok := stage.(ports.ReadyChecker)
		if !ok {
			continue
		}
		if err := rc.Ready(); err != nil {
			return domain.AsError(err).WithStage(stage.Name())
		}
	}
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, stage Stage) (*StageOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.stage."+stage.Name(),
		attribute.String("session", r.session))

	start := time.Now()
	out, err := stage.Process(ctx, &StageInput{RunID: r.id, Session: r.session})
	elapsed := time.Since(start)
	telemetry.EndSpan(span, err)

	if out != nil {
		for _, adv := range out.Advisory {
			r.log = append(r.log, adv)
			metrics.ObserveStage(adv.Stage, string(adv.Status), adv.Duration)
		}
	}

	entry := domain.StageEntry{Stage: stage.Name(), Duration: elapsed, Status: domain.StatusOK}
	if err != nil {
		entry.Status = domain.StatusFailed
		entry.Detail = err.Error()
	} else if out != nil {
		entry.Detail = out.Artifact.URL
	}
	r.log = append(r.log, entry)
	metrics.ObserveStage(stage.Name(), string(entry.Status), elapsed)

	return out, err
}

// fail moves r to the error state, cleans up intermediate artifacts and
// returns the stage failure.
func (o *Orchestrator) fail(ctx context.Context, r *run, stage string, cause error) error {
	stageErr := domain.StageFailure(stage, cause)
	o.transition(r, StateError, stage, stageErr)

	o.logger.Error("design pipeline failed",
		slog.String("run_id", r.id),
		slog.String("session", r.session),
		slog.String("stage", stage),
		slog.String("error", cause.Error()))

	// Best effort; the janitor evicts whatever is left.
	for _, role := range []domain.Role{domain.RoleRaw, domain.RoleGenerated} {
		if err := o.store.Delete(context.WithoutCancel(ctx), r.session, role); err != nil {
			o.logger.Warn("cleanup failed", slog.String("session", r.session), slog.String("role", string(role)), slog.String("error", err.Error()))
		}
	}

	metrics.PipelineRunsTotal.WithLabelValues(string(StateError)).Inc()
	o.record(ctx, r, &ports.PipelineRun{
		Status:      string(StateError),
		FailedStage: stage,
		Error:       stageErr.Error(),
	})
	return stageErr
}

// clearOutputs removes the previous run's outputs for the session.
func (o *Orchestrator) clearOutputs(ctx context.Context, r *run) {
	start := time.Now()
	var failed []string
	for _, role := range []domain.Role{domain.RoleGenerated, domain.RoleFinal} {
		if err := o.store.Delete(ctx, r.session, role); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", role, err))
		}
	}

	entry := domain.StageEntry{Stage: domain.StageCleanup, Status: domain.StatusOK, Duration: time.Since(start)}
	if len(failed) > 0 {
		entry.Status = domain.StatusAdvisoryFailed
		entry.Detail = fmt.Sprint(failed)
		o.logger.Warn("failed to clear previous outputs", slog.String("session", r.session), slog.Any("errors", failed))
	}
	r.log = append(r.log, entry)
}

func (o *Orchestrator) transition(r *run, to State, stage string, err error) {
	if !CanTransition(r.state, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.state, to))
	}
	t := Transition{
		RunID:   r.id,
		Session: r.session,
		From:    r.state,
		To:      to,
		Stage:   stage,
		Err:     err,
		At:      time.Now(),
	}
	r.state = to

	o.logger.Debug("pipeline transition",
		slog.String("run_id", r.id),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)))

	for _, obs := range o.observers {
		obs.OnTransition(t)
	}
}

func (o *Orchestrator) record(ctx context.Context, r *run, pr *ports.PipelineRun) {
	if o.ledger == nil {
		return
	}
	pr.ID = r.id
	pr.Session = r.session
	pr.Stages = r.log
	pr.Duration = time.Since(r.start)
	pr.CreatedAt = r.start

	if err := o.ledger.RecordPipelineRun(context.WithoutCancel(ctx), pr); err != nil {
		o.logger.Warn("failed to record pipeline run", slog.String("run_id", r.id), slog.String("error", err.Error()))
	}
}
