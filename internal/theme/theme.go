// Package theme installs a storefront theme archive on the commerce platform
// and optionally makes it the live theme.
package theme

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
	"github.com/tjfontaine/threadsketch/internal/core/ports"
)

// Theme roles.
const (
	RoleUnpublished = "unpublished"
	RoleMain        = "main"
)

const defaultName = "ThreadSketch Storefront"

// Installer creates and publishes themes.
type Installer struct {
	commerce ports.Commerce
	name     string
	logger   *slog.Logger
}

// NewInstaller creates an installer. name is the display name given to
// installed themes.
func NewInstaller(commerce ports.Commerce, name string, logger *slog.Logger) *Installer {
	if name == "" {
		name = defaultName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{commerce: commerce, name: name, logger: logger}
}

// Install uploads the theme archive at archiveURL as an unpublished theme.
// Failures are reported in the result, never returned.
func (i *Installer) Install(ctx context.Context, archiveURL string) domain.ThemeInstallResult {
	if archiveURL == "" {
		return domain.ThemeInstallResult{Error: "no theme archive url"}
	}

	theme, err := i.commerce.CreateTheme(ctx, i.name, archiveURL, RoleUnpublished)
	if err != nil {
		err = domain.ClassifyProviderError(err)
		i.logger.Warn("theme install failed", slog.String("src", archiveURL), slog.String("error", err.Error()))
		return domain.ThemeInstallResult{Error: err.Error()}
	}

	i.logger.Info("theme installed", slog.Int64("theme_id", theme.ID), slog.String("name", theme.Name))
	return domain.ThemeInstallResult{Success: true, Theme: theme}
}

// Publish makes themeID the storefront's main theme.
func (i *Installer) Publish(ctx context.Context, themeID int64) (*domain.Theme, error) {
	if themeID == 0 {
		return nil, fmt.Errorf("publish theme: missing theme id")
	}
	theme, err := i.commerce.UpdateThemeRole(ctx, themeID, RoleMain)
	if err != nil {
		return nil, fmt.Errorf("publish theme %d: %w", themeID, domain.ClassifyProviderError(err))
	}
	i.logger.Info("theme published", slog.Int64("theme_id", themeID))
	return theme, nil
}

// InstallAndPublish installs the archive and, when publish is set and the
// install produced a theme id, publishes it. A publish failure leaves
// Success true with Published false and Error set.
func (i *Installer) InstallAndPublish(ctx context.Context, archiveURL string, publish bool) domain.ThemeInstallResult {
	result := i.Install(ctx, archiveURL)
	if !publish || !result.Success || result.Theme == nil || result.Theme.ID == 0 {
		return result
	}

	theme, err := i.Publish(ctx, result.Theme.ID)
	if err != nil {
		i.logger.Warn("theme publish failed", slog.Int64("theme_id", result.Theme.ID), slog.String("error", err.Error()))
		result.Error = err.Error()
		return result
	}

	if theme != nil {
		result.Theme = theme
	}
	result.Published = true
	return result
}
