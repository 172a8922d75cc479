package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/platinummonkey/usersync/pkg/reconcile"
)

// FileSystemArchiver keeps sweep reports as JSON files under a root
// directory, laid out <root>/YYYY/MM/DD/<id>.json
type FileSystemArchiver struct {
	rootDir string
}

// NewFileSystemArchiver creates rootDir if needed
func NewFileSystemArchiver(rootDir string) (*FileSystemArchiver, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemArchiver{rootDir: rootDir}, nil
}

func (s *FileSystemArchiver) path(result *reconcile.SweepResult) string {
	return filepath.Join(s.rootDir, result.StartedAt.UTC().Format("2006/01/02"), result.ID+".json")
}

// ArchiveSweep implements reconcile.ReportArchiver
func (s *FileSystemArchiver) ArchiveSweep(ctx context.Context, result *reconcile.SweepResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result.ID == "" || strings.ContainsAny(result.ID, `/\`) {
		return fmt.Errorf("invalid sweep id %q", result.ID)
	}

	file := s.path(result)
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sweep report: %w", err)
	}

	// Write then rename so readers never see a partial report
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write sweep report: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("failed to write sweep report: %w", err)
	}
	return nil
}

// GetSweep reads the report with id. Reports are located by walking the
// date directories.
func (s *FileSystemArchiver) GetSweep(id string) (*reconcile.SweepResult, error) {
	var found string
	err := filepath.WalkDir(s.rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == id+".json" {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search reports: %w", err)
	}
	if found == "" {
		return nil, fmt.Errorf("%w: sweep %s", ErrObjectNotFound, id)
	}
	return readReport(found)
}

// ListSweeps returns every archived report, newest first
func (s *FileSystemArchiver) ListSweeps() ([]*reconcile.SweepResult, error) {
	var results []*reconcile.SweepResult
	err := filepath.WalkDir(s.rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(p) != ".json" {
			return nil
		}
		r, err := readReport(p)
		if err != nil {
			return err
		}
		results = append(results, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	return results, nil
}

func readReport(file string) (*reconcile.SweepResult, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var r reconcile.SweepResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", file, err)
	}
	return &r, nil
}
