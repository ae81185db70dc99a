package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
	"github.com/tjfontaine/threadsketch/internal/listing"
	"github.com/tjfontaine/threadsketch/internal/storage/memory"
)

type mockCommerce struct {
	mu sync.Mutex

	createErr error
	attachErr error
	themeErr  error
	block     chan struct{}

	products []*domain.Product
	images   []*ports.ImageUpload
	themes   []string
	calls    atomic.Int32
}

func (m *mockCommerce) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	m.calls.Add(1)
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append(m.products, p)
	if m.createErr != nil {
		return nil, m.createErr
	}
	out := *p
	out.ID = 8812345678901
	return &out, nil
}

func (m *mockCommerce) AttachImage(ctx context.Context, id int64, img *ports.ImageUpload) (*domain.ProductImage, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, img)
	if m.attachErr != nil {
		return nil, m.attachErr
	}
	return &domain.ProductImage{ID: 1, ProductID: id, Alt: img.Alt, Filename: img.Filename}, nil
}

func (m *mockCommerce) CreateTheme(ctx context.Context, name, src, role string) (*domain.Theme, error) {
	m.calls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.themes = append(m.themes, src)
	if m.themeErr != nil {
		return nil, m.themeErr
	}
	return &domain.Theme{ID: 77, Name: name, Role: role}, nil
}

func (m *mockCommerce) UpdateThemeRole(ctx context.Context, id int64, role string) (*domain.Theme, error) {
	m.calls.Add(1)
	return &domain.Theme{ID: id, Role: role}, nil
}

type mockArtifacts struct {
	final    []byte
	fallback []byte
	finalErr error
}

func (m *mockArtifacts) Get(ctx context.Context, session string, role domain.Role) ([]byte, error) {
	if m.finalErr != nil {
		return nil, m.finalErr
	}
	if m.final == nil {
		return nil, domain.ErrArtifactNotFound
	}
	return m.final, nil
}

func (m *mockArtifacts) Fallback(ctx context.Context) ([]byte, error) {
	if m.fallback == nil {
		return nil, domain.ErrArtifactNotFound
	}
	return m.fallback, nil
}

type fixedListings struct {
	calls atomic.Int32
}

func (f *fixedListings) Generate(ctx context.Context, lc listing.Context) domain.ListingMetadata {
	f.calls.Add(1)
	return domain.ListingMetadata{
		Title:       "Neon Koi Tee",
		Description: listing.DescriptionHTML("Bold koi."),
		Tags:        []string{"koi", "ThreadSketch", "custom"},
		Source:      domain.ListingSourceAI,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(c ports.Commerce, a Artifacts, opts ...Option) *Service {
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithClock(func() time.Time { return time.UnixMilli(1718000000000) }),
	}, opts...)
	return New(c, a, &fixedListings{}, opts...)
}

func TestPublish_Success(t *testing.T) {
	c := &mockCommerce{}
	ledger := memory.New()
	s := newTestService(c, &mockArtifacts{final: []byte("final-png")}, WithLedger(ledger))

	result, err := s.Publish(context.Background(), Request{Session: "sess-1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if result.Message != SuccessMessage || !result.WaitlistEnabled {
		t.Errorf("unexpected result header: %+v", result)
	}
	if result.ArtifactSource != domain.ArtifactSourceFinal {
		t.Errorf("ArtifactSource = %q, want final", result.ArtifactSource)
	}
	if result.UploadedImage == nil || result.ImageError != "" {
		t.Errorf("expected uploaded image, got %+v / %q", result.UploadedImage, result.ImageError)
	}
	if result.Theme.Attempted {
		t.Error("theme should not be attempted without an archive url")
	}

	if len(c.products) != 1 {
		t.Fatalf("CreateProduct calls = %d, want 1", len(c.products))
	}
	p := c.products[0]
	if p.Vendor != "ThreadSketch" || p.ProductType != "Custom Apparel" || p.Status != "active" {
		t.Errorf("unexpected product: %+v", p)
	}
	v := p.Variants[0]
	if v.Price != "29.99" || v.SKU != "TS-1718000000000" || v.InventoryManagement != "shopify" ||
		v.InventoryQuantity != 0 || v.InventoryPolicy != "deny" {
		t.Errorf("unexpected variant: %+v", v)
	}

	img := c.images[0]
	if string(img.Attachment) != "final-png" || img.Filename != ImageFilename || img.Alt != ImageAlt {
		t.Errorf("unexpected image upload: %+v", img)
	}

	run, err := ledger.GetPublishRun(context.Background(), result.RunID)
	if err != nil {
		t.Fatalf("ledger lookup: %v", err)
	}
	if run.Status != "published" || run.ProductID != 8812345678901 || run.ImageStatus != "ok" {
		t.Errorf("unexpected ledger record: %+v", run)
	}
}

func TestPublish_MissingCredentials(t *testing.T) {
	listings := &fixedListings{}
	s := New(nil, &mockArtifacts{}, listings, WithLogger(quietLogger()))

	_, err := s.Publish(context.Background(), Request{})

	if !domain.IsKind(err, domain.KindConfiguration) {
		t.Fatalf("Publish() error = %v, want configuration error", err)
	}
	if listings.calls.Load() != 0 {
		t.Error("no step may run before the credential check")
	}
}

func TestPublish_ProductFailurePropagates(t *testing.T) {
	c := &mockCommerce{createErr: errors.New("422 title can't be blank")}
	ledger := memory.New()
	s := newTestService(c, &mockArtifacts{final: []byte("png")}, WithLedger(ledger))

	result, err := s.Publish(context.Background(), Request{Session: "sess-1"})

	if err == nil || result != nil {
		t.Fatalf("expected error, got %+v", result)
	}
	if !domain.IsKind(err, domain.KindProvider) {
		t.Errorf("error kind = %v, want provider", err)
	}
	if len(c.images) != 0 {
		t.Error("image upload must not be attempted after product failure")
	}

	runs, _ := ledger.ListRuns(context.Background(), ports.ListOptions{Kind: ports.RunKindPublish})
	if len(runs) != 1 || runs[0].Status != "error" {
		t.Errorf("expected failed run in ledger, got %+v", runs)
	}
}

func TestPublish_ProductTimeout(t *testing.T) {
	c := &mockCommerce{createErr: context.DeadlineExceeded}
	s := newTestService(c, &mockArtifacts{})

	_, err := s.Publish(context.Background(), Request{})

	var de *domain.Error
	if !errors.As(err, &de) || de.HTTPStatusCode() != 504 {
		t.Errorf("expected 504 provider error, got %v", err)
	}
}

func TestPublish_ImageFailureIsAdvisory(t *testing.T) {
	c := &mockCommerce{attachErr: errors.New("image too large")}
	s := newTestService(c, &mockArtifacts{final: []byte("png")})

	result, err := s.Publish(context.Background(), Request{Session: "sess-1"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if result.UploadedImage != nil {
		t.Error("UploadedImage should be nil")
	}
	if result.ImageError != "image too large" {
		t.Errorf("ImageError = %q", result.ImageError)
	}
	if result.Product.ID == 0 {
		t.Error("product should still be returned")
	}
}

func TestPublish_ArtifactSelection(t *testing.T) {
	tests := []struct {
		name       string
		artifacts  *mockArtifacts
		session    string
		want       domain.ArtifactSource
		wantUpload bool
	}{
		{"final", &mockArtifacts{final: []byte("f"), fallback: []byte("b")}, "s1", domain.ArtifactSourceFinal, true},
		{"fallback when no final", &mockArtifacts{fallback: []byte("b")}, "s1", domain.ArtifactSourceFallback, true},
		{"fallback without session", &mockArtifacts{final: []byte("f"), fallback: []byte("b")}, "", domain.ArtifactSourceFallback, true},
		{"fallback on read error", &mockArtifacts{finalErr: errors.New("eio"), fallback: []byte("b")}, "s1", domain.ArtifactSourceFallback, true},
		{"none", &mockArtifacts{}, "s1", domain.ArtifactSourceNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCommerce{}
			result, err := newTestService(c, tt.artifacts).Publish(context.Background(), Request{Session: tt.session})
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if result.ArtifactSource != tt.want {
				t.Errorf("ArtifactSource = %q, want %q", result.ArtifactSource, tt.want)
			}
			if got := len(c.images) == 1; got != tt.wantUpload {
				t.Errorf("uploaded = %v, want %v", got, tt.wantUpload)
			}
			if !tt.wantUpload && result.UploadedImage != nil {
				t.Error("UploadedImage should be nil")
			}
		})
	}
}

func TestPublish_ThemeFailureIsolated(t *testing.T) {
	c := &mockCommerce{themeErr: errors.New("theme archive unreachable")}
	s := newTestService(c, &mockArtifacts{final: []byte("png")},
		WithSettings(Settings{
			Vendor:          "ThreadSketch",
			ProductType:     "Custom Apparel",
			Price:           "29.99",
			ThemeArchiveURL: "https://cdn.example.com/theme.zip",
			PublishTheme:    true,
		}))

	result, err := s.Publish(context.Background(), Request{Session: "sess-1"})
	if err != nil {
		t.Fatalf("theme failure must not fail publish: %v", err)
	}
	if !result.Theme.Attempted || result.Theme.Success {
		t.Errorf("unexpected theme outcome: %+v", result.Theme)
	}
	if result.Theme.Error == "" {
		t.Error("theme error should be reported")
	}
	if len(c.products) != 1 || result.UploadedImage == nil {
		t.Error("product and image steps should still run")
	}
}

func TestPublish_ThemeFromRequest(t *testing.T) {
	c := &mockCommerce{}
	s := newTestService(c, &mockArtifacts{})
	publish := true

	result, err := s.Publish(context.Background(), Request{
		ThemeArchiveURL: "https://cdn.example.com/req.zip",
		PublishTheme:    &publish,
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !result.Theme.Success || !result.Theme.Published {
		t.Errorf("unexpected theme outcome: %+v", result.Theme)
	}
	if len(c.themes) != 1 || c.themes[0] != "https://cdn.example.com/req.zip" {
		t.Errorf("CreateTheme src = %v", c.themes)
	}
}

func TestPublish_InvalidSession(t *testing.T) {
	c := &mockCommerce{}
	_, err := newTestService(c, &mockArtifacts{}).Publish(context.Background(), Request{Session: "../etc"})

	if !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Publish() error = %v, want validation", err)
	}
	if c.calls.Load() != 0 {
		t.Error("commerce must not be called for an invalid session")
	}
}

func TestPublish_ConcurrentSameSessionCollapsed(t *testing.T) {
	c := &mockCommerce{block: make(chan struct{})}
	s := newTestService(c, &mockArtifacts{final: []byte("png")})

	const n = 5
	var wg sync.WaitGroup
	results := make([]*domain.PublishResult, n)
	errs := make([]error, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Publish(context.Background(), Request{Session: "same"})
		}(i)
	}

	// Let the first run reach CreateProduct, then give the others time to
	// join it before releasing.
	deadline := time.Now().Add(2 * time.Second)
	for c.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(c.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Publish() error = %v", errs[i])
		}
	}
	if len(c.products) != 1 {
		t.Errorf("CreateProduct calls = %d, want 1", len(c.products))
	}
	for i := 1; i < n; i++ {
		if results[i].RunID != results[0].RunID {
			t.Error("collapsed callers should share one run")
		}
	}
}

func TestPublish_CollapsedCallerSurvivesFirstCancel(t *testing.T) {
	c := &mockCommerce{block: make(chan struct{})}
	s := newTestService(c, &mockArtifacts{final: []byte("png")})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Publish(firstCtx, Request{Session: "same"})
		firstErr <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	type outcome struct {
		result *domain.PublishResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		r, err := s.Publish(context.Background(), Request{Session: "same"})
		second <- outcome{r, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(c.block)
	select {
	case got := <-second:
		if got.err != nil {
			t.Fatalf("second caller error = %v", got.err)
		}
		if got.result.Product.ID != 8812345678901 {
			t.Errorf("product = %+v", got.result.Product)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}

	if len(c.products) != 1 {
		t.Errorf("CreateProduct calls = %d, want 1", len(c.products))
	}
}

func TestPublish_RunTimeoutBoundsSharedRun(t *testing.T) {
	c := &ctxCommerce{}
	s := newTestService(c, &mockArtifacts{final: []byte("png")}, WithRunTimeout(20*time.Millisecond))

	_, err := s.Publish(context.Background(), Request{Session: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

// ctxCommerce blocks CreateProduct until its context ends.
type ctxCommerce struct {
	mockCommerce
}

func (c *ctxCommerce) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
