package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"video-splitter/metrics"
)

// Janitor removes produced and downloaded files older than the retention
// period.
type Janitor interface {
	Sweep(ctx context.Context) (int, error)
	Run(ctx context.Context, interval time.Duration)
}

type janitor struct {
	dirs      []string
	retention time.Duration
	now       func() time.Time
}

func (j *janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.retention)
	removed := 0
	var errs []error

	for _, root := range j.dirs {
		emptied := map[string]bool{}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err != nil {
					errs = append(errs, err)
					return nil
				}
				removed++
				emptied[filepath.Dir(path)] = true
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
		removeEmptyDirs(root, cutoff, emptied)
	}

	metrics.FilesRemovedTotal.Add(float64(removed))
	if removed > 0 {
		zerolog.Ctx(ctx).Info().Int("files", removed).Msg("removed expired files")
	}
	return removed, errors.Join(errs...)
}

// removeEmptyDirs drops empty per-video directories that this sweep emptied or
// that nothing has touched since cutoff. A fresh empty directory belongs to a
// split that has not written its first clip yet.
func removeEmptyDirs(root string, cutoff time.Time, emptied map[string]bool) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if !emptied[dir] {
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		if children, err := os.ReadDir(dir); err == nil && len(children) == 0 {
			_ = os.Remove(dir)
		}
	}
}

func (j *janitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("file cleanup failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func NewJanitor(retention time.Duration, dirs ...string) Janitor {
	return &janitor{dirs: dirs, retention: retention, now: time.Now}
}
