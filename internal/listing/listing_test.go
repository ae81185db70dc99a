package listing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/metrics"
)

type mockText struct {
	text   string
	err    error
	prompt string
}

func (m *mockText) Name() string { return "mock" }

func (m *mockText) Generate(ctx context.Context, prompt string) (string, error) {
	m.prompt = prompt
	return m.text, m.err
}

func newTestGenerator(text *mockText) *Generator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if text == nil {
		return NewGenerator(nil, WithLogger(logger))
	}
	return NewGenerator(text, WithLogger(logger))
}

func assertFallback(t *testing.T, meta domain.ListingMetadata) {
	t.Helper()
	if meta.Source != domain.ListingSourceFallback {
		t.Errorf("Source = %q, want fallback", meta.Source)
	}
	if meta.Title != FallbackTitle {
		t.Errorf("Title = %q, want %q", meta.Title, FallbackTitle)
	}
	if !strings.HasPrefix(meta.Description, "<p>"+FallbackDescription+"</p>") {
		t.Errorf("Description = %q", meta.Description)
	}
	if !strings.Contains(meta.Description, "Join the Waitlist") {
		t.Error("fallback description missing waitlist form")
	}
	want := []string{"ThreadSketch", "custom", "coming-soon"}
	if strings.Join(meta.Tags, ",") != strings.Join(want, ",") {
		t.Errorf("Tags = %v, want %v", meta.Tags, want)
	}
}

func TestGenerate_EmbeddedObject(t *testing.T) {
	text := &mockText{text: `Sure! {"title":"Neon Koi Tee","description":"Bold koi.","tags":["koi","neon"]}`}
	g := newTestGenerator(text)

	meta := g.Generate(context.Background(), Context{})

	if meta.Source != domain.ListingSourceAI {
		t.Fatalf("Source = %q, want ai", meta.Source)
	}
	if meta.Title != "Neon Koi Tee" {
		t.Errorf("Title = %q", meta.Title)
	}
	if !strings.HasPrefix(meta.Description, "<p>Bold koi.</p>") {
		t.Errorf("Description = %q", meta.Description)
	}
	if !strings.HasSuffix(meta.Description, WaitlistForm) {
		t.Error("description missing waitlist form")
	}
	want := "koi,neon,ThreadSketch,custom"
	if got := strings.Join(meta.Tags, ","); got != want {
		t.Errorf("Tags = %q, want %q", got, want)
	}
	if !strings.Contains(text.prompt, "custom designed t-shirt") {
		t.Errorf("prompt should default to t-shirt: %q", text.prompt)
	}
}

func TestGenerate_GarmentHint(t *testing.T) {
	text := &mockText{text: `{"title":"Hoodie","description":"Warm."}`}
	g := newTestGenerator(text)

	meta := g.Generate(context.Background(), Context{GarmentType: "hoodie"})

	if !strings.Contains(text.prompt, "custom designed hoodie") {
		t.Errorf("prompt missing garment hint: %q", text.prompt)
	}
	if strings.Join(meta.Tags, ",") != "ThreadSketch,custom" {
		t.Errorf("Tags = %v, want brand and custom only", meta.Tags)
	}
}

func TestGenerate_FallbackCases(t *testing.T) {
	tests := []struct {
		name string
		text *mockText
	}{
		{"empty completion", &mockText{text: ""}},
		{"malformed json", &mockText{text: `{"title": "x", "description": `}},
		{"missing title", &mockText{text: `{"description":"only a description"}`}},
		{"blank description", &mockText{text: `{"title":"T","description":"   "}`}},
		{"non-string title", &mockText{text: `{"title":42,"description":"d"}`}},
		{"capability error", &mockText{err: errors.New("overloaded")}},
		{"timeout", &mockText{err: context.DeadlineExceeded}},
		{"no generator", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(tt.text)
			assertFallback(t, g.Generate(context.Background(), Context{}))
		})
	}
}

func TestGenerate_EscapesDescription(t *testing.T) {
	g := newTestGenerator(&mockText{text: `{"title":"T","description":"<script>alert(1)</script> & more"}`})

	meta := g.Generate(context.Background(), Context{})

	if strings.Contains(meta.Description, "<script>") {
		t.Errorf("description not escaped: %q", meta.Description)
	}
	if !strings.HasPrefix(meta.Description, "<p>&lt;script&gt;alert(1)&lt;/script&gt; &amp; more</p>") {
		t.Errorf("Description = %q", meta.Description)
	}
}

func TestGenerate_RecordsSource(t *testing.T) {
	before := testutil.ToFloat64(metrics.ListingSourceTotal.WithLabelValues("fallback"))

	newTestGenerator(nil).Generate(context.Background(), Context{})

	after := testutil.ToFloat64(metrics.ListingSourceTotal.WithLabelValues("fallback"))
	if after != before+1 {
		t.Errorf("fallback counter = %v, want %v", after, before+1)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"prose around", `Here: {"a":1} hope that helps`, `{"a":1}`, true},
		{"skips broken brace", `{oops {"a":{"b":2}}`, `{"a":{"b":2}}`, true},
		{"first wins", `{"a":1} {"b":2}`, `{"a":1}`, true},
		{"no object", `just words`, "", false},
		{"unterminated", `{"a":`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.text)
			if ok != tt.ok {
				t.Fatalf("Extract() ok = %v, want %v", ok, tt.ok)
			}
			if string(got) != tt.want {
				t.Errorf("Extract() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParse_Tags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"array", `{"title":"t","description":"d","tags":["a","b"]}`, []string{"a", "b"}},
		{"mixed types", `{"title":"t","description":"d","tags":["a",1,null,"b"]}`, []string{"a", "b"}},
		{"comma string", `{"title":"t","description":"d","tags":"a, b"}`, []string{"a", " b"}},
		{"absent", `{"title":"t","description":"d"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, ok := Parse(tt.text)
			if !ok {
				t.Fatal("Parse() ok = false")
			}
			if strings.Join(meta.Tags, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Tags = %q, want %q", meta.Tags, tt.want)
			}
		})
	}
}

func TestParse_TruncatesLongTitle(t *testing.T) {
	long := strings.Repeat("x", 300)
	meta, ok := Parse(`{"title":"` + long + `","description":"d"}`)
	if !ok {
		t.Fatal("Parse() ok = false")
	}
	if len(meta.Title) != maxTitleLength {
		t.Errorf("title length = %d, want %d", len(meta.Title), maxTitleLength)
	}
}

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		required []string
		want     string
	}{
		{"dedup and trim", []string{" Koi ", "koi", "", "Neon"}, []string{"ThreadSketch", "custom"}, "Koi,Neon,ThreadSketch,custom"},
		{"brand keeps exact form", []string{"koi", "threadsketch", "THREADSKETCH"}, []string{"ThreadSketch", "custom"}, "koi,ThreadSketch,custom"},
		{"required case variant", []string{"Custom", "neon"}, []string{"ThreadSketch", "custom"}, "neon,ThreadSketch,custom"},
		{"no required", []string{"a", "A", "b"}, nil, "a,b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTags(tt.tags, tt.required...)
			if strings.Join(got, ",") != tt.want {
				t.Errorf("NormalizeTags() = %v, want %s", got, tt.want)
			}
		})
	}
}
