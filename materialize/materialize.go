// Package materialize writes generated file maps to a project directory while
// keeping build configuration under the platform's control.
package materialize

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/scaffold"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Error records a single file that could not be written. Materialize collects
// these without stopping.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("materialize %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrIncomplete is returned when required files are still missing afterwards.
var ErrIncomplete = errors.New("required files missing after materialization")

// Report summarizes one materialization.
type Report struct {
	Written   []string
	Skipped   []string // protected or unsafe paths from the file map
	Removed   []string // protected files found on disk after writing
	Stale     []string // files of other stacks removed before writing
	Fallback  bool     // the basic fallback project was created
	FileError error    // per-file errors, combined
}

type Materializer struct {
	registry *scaffold.Registry
	logger   *zap.Logger
}

// New creates a materializer. registry supplies the other stacks' files that
// are removed when a project changes stack; nil skips that step.
func New(registry *scaffold.Registry, logger *zap.Logger) *Materializer {
	return &Materializer{registry: registry, logger: logger.Named("materialize")}
}

// Materialize writes files into dir. Protected paths from files are never
// written; afterwards every protected file is regenerated from the stack's
// canonical template. An empty map leaves a complete tree alone and otherwise
// creates the basic fallback project. Per-file failures are reported in the
// Report and only turn into an error if required files end up missing.
func (m *Materializer) Materialize(dir string, files map[string]string, sc scaffold.Scaffolder, project *types.Project) (*Report, error) {
	report := &Report{}
	log := m.logger.With(zap.String("dir", dir), zap.String("stack", sc.Stack().String()))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return report, fmt.Errorf("create project directory: %w", err)
	}
	m.removeForeign(dir, files, sc, report, log)

	if len(files) == 0 {
		if sc.HasRequiredFiles(dir) {
			log.Debug("no files to write, tree already complete")
			return report, nil
		}
		log.Info("no files to write, creating fallback project")
		report.Fallback = true
		if err := sc.CreateBasicFallback(dir, project); err != nil {
			report.FileError = multierr.Append(report.FileError, err)
			log.Warn("fallback project incomplete", zap.Error(err))
		}
		return report, m.verify(dir, sc, report)
	}

	protected := make(map[string]bool)
	for _, p := range sc.ProtectedFiles() {
		protected[p] = true
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		rel, ok := safeRelative(p)
		if !ok {
			log.Warn("skipping unsafe path", zap.String("path", p))
			report.Skipped = append(report.Skipped, p)
			continue
		}
		if protected[rel] {
			log.Warn("skipping protected file from generated output", zap.String("path", rel))
			report.Skipped = append(report.Skipped, rel)
			continue
		}
		if err := writeFile(dir, rel, files[p]); err != nil {
			log.Warn("failed to write file", zap.String("path", rel), zap.Error(err))
			report.FileError = multierr.Append(report.FileError, &Error{Path: rel, Err: err})
			continue
		}
		report.Written = append(report.Written, rel)
	}

	// A protected file may still exist if a generated directory or symlink
	// resolved onto it.
	for _, p := range sc.ProtectedFiles() {
		target := filepath.Join(dir, filepath.FromSlash(p))
		if _, err := os.Lstat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			log.Warn("failed to remove protected file", zap.String("path", p), zap.Error(err))
			report.FileError = multierr.Append(report.FileError, &Error{Path: p, Err: err})
			continue
		}
		report.Removed = append(report.Removed, p)
	}

	if err := sc.CreateConfigFiles(dir); err != nil {
		log.Warn("failed to create configuration files", zap.Error(err))
		report.FileError = multierr.Append(report.FileError, err)
	}

	if !sc.HasRequiredFiles(dir) {
		log.Info("generated output incomplete, filling in missing files")
		report.Fallback = true
		if err := sc.CreateBasicFallback(dir, project); err != nil {
			report.FileError = multierr.Append(report.FileError, err)
		}
	}

	log.Info("materialized project",
		zap.Int("written", len(report.Written)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("removed", len(report.Removed)))
	return report, m.verify(dir, sc, report)
}

// removeForeign deletes files that belong to other stacks unless the file
// map supplies them.
func (m *Materializer) removeForeign(dir string, files map[string]string, sc scaffold.Scaffolder, report *Report, log *zap.Logger) {
	if m.registry == nil {
		return
	}
	generated := make(map[string]bool, len(files))
	for p := range files {
		if rel, ok := safeRelative(p); ok {
			generated[rel] = true
		}
	}
	for _, p := range m.registry.ForeignFiles(sc.Stack()) {
		if generated[p] {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(p))
		if _, err := os.Lstat(target); err != nil {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			log.Warn("failed to remove file of another stack", zap.String("path", p), zap.Error(err))
			report.FileError = multierr.Append(report.FileError, &Error{Path: p, Err: err})
			continue
		}
		report.Stale = append(report.Stale, p)
	}
	if len(report.Stale) > 0 {
		log.Info("removed files of another stack", zap.Strings("paths", report.Stale))
	}
}

func (m *Materializer) verify(dir string, sc scaffold.Scaffolder, report *Report) error {
	if sc.HasRequiredFiles(dir) {
		return nil
	}
	if report.FileError != nil {
		return fmt.Errorf("%w: %v", ErrIncomplete, report.FileError)
	}
	return ErrIncomplete
}

// safeRelative cleans p and rejects absolute paths and paths leaving the
// project directory.
func safeRelative(p string) (string, bool) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", false
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

func writeFile(dir, rel, content string) error {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// Never follow a symlink planted at the target.
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	return os.WriteFile(target, []byte(content), 0o644)
}
