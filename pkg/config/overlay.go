package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/usersync/pkg/observability"
)

// Overlay holds the settings operators tune without a restart. Zero
// values leave the environment setting in place.
type Overlay struct {
	LogLevel      string   `yaml:"log_level"`
	RequiredRoles []string `yaml:"required_roles"`
	SweepWorkers  int      `yaml:"sweep_workers"`
	SweepSchedule string   `yaml:"sweep_schedule"`
}

// LoadOverlay reads a YAML overlay file
func LoadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay Overlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if overlay.SweepWorkers < 0 {
		return nil, fmt.Errorf("sweep_workers must not be negative")
	}
	return &overlay, nil
}

// Apply merges the overlay into the configuration
func (c *Config) Apply(o *Overlay) {
	if o == nil {
		return
	}
	if o.LogLevel != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(o.LogLevel)
	}
	if len(o.RequiredRoles) > 0 {
		c.Sync.RequiredRoles = append([]string(nil), o.RequiredRoles...)
	}
	if o.SweepWorkers > 0 {
		c.Sync.Workers = o.SweepWorkers
	}
	if o.SweepSchedule != "" {
		c.Sync.Schedule = o.SweepSchedule
	}
}

// Watch calls onChange with the freshly parsed overlay each time the file
// at path is written or replaced, until ctx is done. The parent directory
// is watched so editors that rename over the file are picked up.
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Overlay)) error {
	if logger == nil {
		logger = observability.NopLogger()
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		log := logger.WithField("config_file", path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				overlay, err := LoadOverlay(path)
				if err != nil {
					log.WithError(err).Warn("ignoring invalid config file")
					continue
				}
				log.Info("config file reloaded")
				onChange(overlay)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}
