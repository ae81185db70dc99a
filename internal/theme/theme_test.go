package theme

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
)

type mockCommerce struct {
	createErr error
	updateErr error
	themeID   int64

	created []string
	updated []int64
}

func (m *mockCommerce) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	return nil, errors.New("not used")
}

func (m *mockCommerce) AttachImage(ctx context.Context, id int64, img *ports.ImageUpload) (*domain.ProductImage, error) {
	return nil, errors.New("not used")
}

func (m *mockCommerce) CreateTheme(ctx context.Context, name, src, role string) (*domain.Theme, error) {
	m.created = append(m.created, name+"|"+src+"|"+role)
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &domain.Theme{ID: m.themeID, Name: name, Role: role}, nil
}

func (m *mockCommerce) UpdateThemeRole(ctx context.Context, id int64, role string) (*domain.Theme, error) {
	m.updated = append(m.updated, id)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &domain.Theme{ID: id, Name: "ThreadSketch Storefront", Role: role}, nil
}

func newTestInstaller(c *mockCommerce) *Installer {
	return NewInstaller(c, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInstall_Success(t *testing.T) {
	c := &mockCommerce{themeID: 42}
	result := newTestInstaller(c).Install(context.Background(), "https://cdn.example.com/theme.zip")

	if !result.Success || result.Theme == nil || result.Theme.ID != 42 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(c.created) != 1 || c.created[0] != "ThreadSketch Storefront|https://cdn.example.com/theme.zip|unpublished" {
		t.Errorf("CreateTheme calls = %v", c.created)
	}
}

func TestInstall_FailureIsReported(t *testing.T) {
	c := &mockCommerce{createErr: errors.New("422 src is invalid")}
	result := newTestInstaller(c).Install(context.Background(), "https://cdn.example.com/theme.zip")

	if result.Success {
		t.Fatal("expected Success false")
	}
	if !strings.Contains(result.Error, "src is invalid") {
		t.Errorf("Error = %q", result.Error)
	}
}

func TestInstall_NoArchive(t *testing.T) {
	c := &mockCommerce{}
	result := newTestInstaller(c).Install(context.Background(), "")

	if result.Success || result.Error == "" {
		t.Errorf("unexpected result: %+v", result)
	}
	if len(c.created) != 0 {
		t.Error("commerce must not be called without an archive")
	}
}

func TestInstallAndPublish(t *testing.T) {
	tests := []struct {
		name          string
		commerce      *mockCommerce
		publish       bool
		wantSuccess   bool
		wantPublished bool
		wantUpdates   int
	}{
		{"install only", &mockCommerce{themeID: 7}, false, true, false, 0},
		{"install and publish", &mockCommerce{themeID: 7}, true, true, true, 1},
		{"publish failure", &mockCommerce{themeID: 7, updateErr: errors.New("forbidden")}, true, true, false, 1},
		{"install failure skips publish", &mockCommerce{createErr: errors.New("boom")}, true, false, false, 0},
		{"zero id skips publish", &mockCommerce{themeID: 0}, true, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := newTestInstaller(tt.commerce).InstallAndPublish(context.Background(), "https://x/theme.zip", tt.publish)

			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", result.Success, tt.wantSuccess)
			}
			if result.Published != tt.wantPublished {
				t.Errorf("Published = %v, want %v", result.Published, tt.wantPublished)
			}
			if len(tt.commerce.updated) != tt.wantUpdates {
				t.Errorf("UpdateThemeRole calls = %d, want %d", len(tt.commerce.updated), tt.wantUpdates)
			}
			if tt.wantPublished && result.Theme.Role != RoleMain {
				t.Errorf("Role = %q, want main", result.Theme.Role)
			}
		})
	}
}

func TestPublish_Timeout(t *testing.T) {
	c := &mockCommerce{updateErr: context.DeadlineExceeded}
	_, err := newTestInstaller(c).Publish(context.Background(), 9)

	if !domain.IsKind(err, domain.KindProviderTimeout) {
		t.Errorf("Publish() error = %v, want provider timeout", err)
	}
}
