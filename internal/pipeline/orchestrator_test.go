package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"

	"github.com/tjfontaine/threadsketch/internal/artifact"
	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/imaging"
	"github.com/tjfontaine/threadsketch/internal/storage/memory"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 30, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// mockImages records calls and returns configured responses in order.
type mockImages struct {
	mu        sync.Mutex
	responses [][]byte
	errs      []error
	calls     []*ports.ImageRequest
}

func (m *mockImages) Name() string { return "mock-images" }

func (m *mockImages) Transform(ctx context.Context, req *ports.ImageRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.calls)
	m.calls = append(m.calls, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return nil, errors.New("unexpected call")
}

type mockText struct {
	text  string
	err   error
	calls int
}

func (m *mockText) Name() string { return "mock-text" }

func (m *mockText) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls++
	return m.text, m.err
}

type harness struct {
	store  *artifact.Store
	images *mockImages
	text   *mockText
	ledger *memory.Store
	seen   []Transition
	orch   *Orchestrator
}

func newHarness(t *testing.T, images *mockImages, text *mockText) *harness {
	t.Helper()
	store, err := artifact.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	canvas := Canvas{Size: 256, Background: imaging.White}

	h := &harness{store: store, images: images, text: text, ledger: memory.New()}

	var tg ports.TextGenerator
	if text != nil {
		tg = text
	}
	h.orch = NewOrchestrator(store,
		NewGenerationStage(images, store, canvas, logger),
		NewEnhancementStage(images, tg, store, canvas, logger),
		WithLogger(logger),
		WithLedger(h.ledger),
		WithObserver(ObserverFunc(func(tr Transition) { h.seen = append(h.seen, tr) })),
	)
	return h
}

func (h *harness) states() []State {
	var out []State
	for _, tr := range h.seen {
		out = append(out, tr.To)
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOrchestrator_Run_Success(t *testing.T) {
	images := &mockImages{responses: [][]byte{pngBytes(t, 256, 256), pngBytes(t, 512, 300)}}
	text := &mockText{text: `{"suggestions":["brighter palette"]}`}
	h := newHarness(t, images, text)
	ctx := context.Background()
	session := artifact.NewSession()

	result, err := h.orch.Run(ctx, session, pngBytes(t, 800, 400))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []State{StateGenerating, StateGenerated, StateEnhancing, StateFinal, StateDone}
	if !equalStates(h.states(), want) {
		t.Errorf("transitions = %v, want %v", h.states(), want)
	}

	if result.FinalArtifact.URL != "/uploads/"+session+"/final.png" {
		t.Errorf("final url = %q", result.FinalArtifact.URL)
	}

	// Only the final artifact survives.
	for _, role := range []domain.Role{domain.RoleRaw, domain.RoleGenerated} {
		if _, err := h.store.Get(ctx, session, role); !errors.Is(err, domain.ErrArtifactNotFound) {
			t.Errorf("%s artifact still present: %v", role, err)
		}
	}

	// Enhancement output of 512x300 is re-letterboxed to the canvas.
	final, err := h.store.Get(ctx, session, domain.RoleFinal)
	if err != nil {
		t.Fatal(err)
	}
	if w, hgt, _ := imaging.Dimensions(final); w != 256 || hgt != 256 {
		t.Errorf("final dimensions = %dx%d, want 256x256", w, hgt)
	}

	if len(images.calls) != 2 {
		t.Fatalf("expected 2 image calls, got %d", len(images.calls))
	}
	if images.calls[0].StylePreset != "photographic" || images.calls[0].Strength != 0.42 {
		t.Errorf("unexpected generation params: %+v", images.calls[0])
	}
	if images.calls[1].StylePreset != "enhance" || images.calls[1].Strength != 0.3 {
		t.Errorf("unexpected enhancement params: %+v", images.calls[1])
	}
	if w, hgt, _ := imaging.Dimensions(images.calls[0].Image); w != 256 || hgt != 256 {
		t.Errorf("init image not normalized: %dx%d", w, hgt)
	}

	if text.calls != 1 {
		t.Errorf("expected 1 suggestion call, got %d", text.calls)
	}

	stages := map[string]domain.StageStatus{}
	for _, e := range result.StageLog {
		stages[e.Stage] = e.Status
	}
	for _, s := range []string{domain.StageCleanup, domain.StageGeneration, domain.StageSuggestions, domain.StageEnhancement} {
		if stages[s] != domain.StatusOK {
			t.Errorf("stage %s status = %q, want ok", s, stages[s])
		}
	}

	run, err := h.ledger.GetPipelineRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("ledger lookup: %v", err)
	}
	if run.Status != "done" || run.FinalURL != result.FinalArtifact.URL {
		t.Errorf("unexpected ledger record: %+v", run)
	}
}

func TestOrchestrator_Run_GenerationFailure(t *testing.T) {
	images := &mockImages{errs: []error{errors.New("stability 500")}}
	h := newHarness(t, images, &mockText{text: "ok"})
	ctx := context.Background()
	session := artifact.NewSession()

	_, err := h.orch.Run(ctx, session, pngBytes(t, 100, 100))
	if err == nil {
		t.Fatal("expected error")
	}

	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindStageFailure || de.Stage != domain.StageGeneration {
		t.Fatalf("expected generation stage failure, got %v", err)
	}

	want := []State{StateGenerating, StateError}
	if !equalStates(h.states(), want) {
		t.Errorf("transitions = %v, want %v", h.states(), want)
	}
	if last := h.seen[len(h.seen)-1]; last.Stage != domain.StageGeneration || last.Err == nil {
		t.Errorf("error transition missing stage/cause: %+v", last)
	}

	if _, err := h.store.Get(ctx, session, domain.RoleFinal); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Error("final artifact must not exist after failure")
	}
	if len(images.calls) != 1 {
		t.Errorf("enhancement must not run, got %d image calls", len(images.calls))
	}
}

func TestOrchestrator_Run_EnhancementFailure(t *testing.T) {
	images := &mockImages{
		responses: [][]byte{pngBytes(t, 256, 256)},
		errs:      []error{nil, context.DeadlineExceeded},
	}
	h := newHarness(t, images, nil)
	ctx := context.Background()
	session := artifact.NewSession()

	_, err := h.orch.Run(ctx, session, pngBytes(t, 100, 100))

	var de *domain.Error
	if !errors.As(err, &de) || de.Stage != domain.StageEnhancement {
		t.Fatalf("expected enhancement stage failure, got %v", err)
	}
	if !domain.IsKind(err, domain.KindProviderTimeout) {
		t.Errorf("expected wrapped provider timeout, got %v", err)
	}
	if de.HTTPStatusCode() != 504 {
		t.Errorf("status = %d, want 504", de.HTTPStatusCode())
	}

	if _, err := h.store.Get(ctx, session, domain.RoleFinal); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Error("final artifact must not exist after failure")
	}

	runs, _ := h.ledger.ListRuns(ctx, ports.ListOptions{Session: session})
	if len(runs) != 1 || runs[0].Status != "error" {
		t.Errorf("expected one failed run in ledger, got %+v", runs)
	}
}

func TestOrchestrator_Run_MalformedProviderImage(t *testing.T) {
	images := &mockImages{responses: [][]byte{[]byte("not an image")}}
	h := newHarness(t, images, nil)

	_, err := h.orch.Run(context.Background(), artifact.NewSession(), pngBytes(t, 100, 100))

	var de *domain.Error
	if !errors.As(err, &de) || de.Stage != domain.StageGeneration {
		t.Fatalf("expected generation failure for malformed image, got %v", err)
	}
}

func TestOrchestrator_Run_UndecodableUpload(t *testing.T) {
	images := &mockImages{}
	h := newHarness(t, images, nil)
	ctx := context.Background()
	session := artifact.NewSession()

	if _, err := h.store.Put(ctx, session, domain.RoleFinal, []byte("earlier-final")); err != nil {
		t.Fatal(err)
	}

	_, err := h.orch.Run(ctx, session, []byte("GIF89a-but-not-really"))

	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if de.Stage != "" || de.HTTPStatusCode() != http.StatusBadRequest {
		t.Errorf("stage = %q, status = %d", de.Stage, de.HTTPStatusCode())
	}
	if len(images.calls) != 0 {
		t.Error("capability must not be called for undecodable input")
	}
	if len(h.seen) != 0 {
		t.Errorf("rejected upload must not start a run, saw %v", h.states())
	}
	if got, err := h.store.Get(ctx, session, domain.RoleFinal); err != nil || string(got) != "earlier-final" {
		t.Errorf("previous final should survive a rejected upload: %q, %v", got, err)
	}
}

type unconfiguredImages struct {
	mockImages
}

func (u *unconfiguredImages) Ready() error {
	return domain.ErrConfiguration("stability api key not configured")
}

func TestOrchestrator_Run_UnconfiguredCapability(t *testing.T) {
	store, err := artifact.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	images := &unconfiguredImages{}
	orch := NewOrchestrator(store,
		NewGenerationStage(images, store, DefaultCanvas, logger),
		NewEnhancementStage(images, nil, store, DefaultCanvas, logger),
		WithLogger(logger))

	ctx := context.Background()
	session := artifact.NewSession()
	if _, err := store.Put(ctx, session, domain.RoleFinal, []byte("earlier-final")); err != nil {
		t.Fatal(err)
	}

	_, err = orch.Run(ctx, session, pngBytes(t, 64, 64))

	if !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if status := domain.AsError(err).HTTPStatusCode(); status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if len(images.calls) != 0 {
		t.Error("unconfigured capability must not be called")
	}
	if got, err := store.Get(ctx, session, domain.RoleFinal); err != nil || string(got) != "earlier-final" {
		t.Errorf("previous final should survive: %q, %v", got, err)
	}
	if _, err := store.Get(ctx, session, domain.RoleRaw); err == nil {
		t.Error("raw sketch must not be stored")
	}
}

func TestOrchestrator_Run_SuggestionFailureIsAdvisory(t *testing.T) {
	images := &mockImages{responses: [][]byte{pngBytes(t, 256, 256), pngBytes(t, 256, 256)}}
	text := &mockText{err: errors.New("anthropic overloaded")}
	h := newHarness(t, images, text)

	result, err := h.orch.Run(context.Background(), artifact.NewSession(), pngBytes(t, 100, 100))
	if err != nil {
		t.Fatalf("advisory failure must not fail the run: %v", err)
	}

	var found bool
	for _, e := range result.StageLog {
		if e.Stage == domain.StageSuggestions {
			found = true
			if e.Status != domain.StatusAdvisoryFailed || e.Detail == "" {
				t.Errorf("unexpected suggestion entry: %+v", e)
			}
		}
	}
	if !found {
		t.Error("suggestion entry missing from stage log")
	}
}

func TestOrchestrator_Run_ClearsPreviousFinal(t *testing.T) {
	images := &mockImages{errs: []error{errors.New("boom")}}
	h := newHarness(t, images, nil)
	ctx := context.Background()
	session := artifact.NewSession()

	if _, err := h.store.Put(ctx, session, domain.RoleFinal, []byte("stale")); err != nil {
		t.Fatal(err)
	}

	h.orch.Run(ctx, session, pngBytes(t, 10, 10))

	if _, err := h.store.Get(ctx, session, domain.RoleFinal); !errors.Is(err, domain.ErrArtifactNotFound) {
		t.Error("stale final artifact should be cleared before a new run")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateReceived, StateGenerating, true},
		{StateGenerating, StateError, true},
		{StateEnhancing, StateError, true},
		{StateGenerated, StateError, false},
		{StateReceived, StateDone, false},
		{StateFinal, StateDone, true},
		{StateDone, StateGenerating, false},
		{StateError, StateGenerating, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
