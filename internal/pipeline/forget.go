package pipeline

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"ocrbatch/internal/config"
	"ocrbatch/internal/logging"
	"ocrbatch/internal/manifest"
	"ocrbatch/internal/services"
)

// Forget removes names from the manifest under the manifest lock so the next
// run reprocesses them. It returns the names that were present. A missing
// manifest has nothing to forget and is left absent.
func Forget(cfg *config.Config, logger *slog.Logger, names ...string) ([]string, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "forget", "config is required", nil)
	}
	if _, err := os.Stat(cfg.Paths.ManifestPath); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	logger = logging.NewComponentLogger(logger, "pipeline")
	unlock, err := lockManifest(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m, err := manifest.Load(cfg.Paths.ManifestPath, logger)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "load manifest", "", err)
	}
	var removed []string
	for _, name := range names {
		if m.Forget(name) {
			removed = append(removed, name)
		}
	}
	if !m.Dirty() {
		return removed, nil
	}
	if err := m.Save(); err != nil {
		return removed, services.Wrap(services.ErrValidation, "pipeline", "save manifest", "", err)
	}
	logger.Info("manifest entries forgotten",
		logging.String(logging.FieldEventType, "manifest_forget"),
		logging.Int("removed", len(removed)),
		logging.Int("remaining", m.Len()),
	)
	return removed, nil
}
