package youtube

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	apperrors "github.com/bsrbot/bsr/pkg/errors"
	"go.uber.org/zap"
)

// cleanupTriggerRatio is the usage fraction at which auto-cleanup kicks in.
const cleanupTriggerRatio = 0.9

type storedFile struct {
	path    string
	size    int64
	modTime time.Time
}

// enforceStorageBudget checks disk usage under the storage root before a
// download. Above 90% of the budget it deletes expired files oldest-first
// (when auto-cleanup is enabled); if usage still exceeds the hard maximum the
// download is refused.
func (p *Pipeline) enforceStorageBudget(ctx context.Context) error {
	maxBytes := p.cfg.MaxStorageMB << 20
	if maxBytes <= 0 {
		return nil
	}

	files, usage, err := scanStorage(p.cfg.StorageRoot)
	if err != nil {
		return err
	}

	if float64(usage) > float64(maxBytes)*cleanupTriggerRatio && p.cfg.AutoCleanup {
		usage = p.cleanupExpired(ctx, files, usage, maxBytes)
	}

	if usage > maxBytes {
		p.logger.Warn("storage budget exceeded, refusing download",
			zap.Int64("usage_bytes", usage), zap.Int64("max_bytes", maxBytes))
		return apperrors.New(apperrors.CodeStorageExceeded, "video storage budget exceeded").
			WithContext("usage_bytes", usage).
			WithContext("max_bytes", maxBytes)
	}
	return nil
}

// cleanupExpired deletes retention-expired files oldest first until usage
// drops under budget or candidates run out. Returns the remaining usage.
func (p *Pipeline) cleanupExpired(ctx context.Context, files []storedFile, usage, maxBytes int64) int64 {
	cutoff := time.Now().AddDate(0, 0, -p.cfg.RetentionDays)

	candidates := make([]storedFile, 0, len(files))
	for _, f := range files {
		if f.modTime.Before(cutoff) {
			candidates = append(candidates, f)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	for _, f := range candidates {
		if ctx.Err() != nil {
			break
		}
		if float64(usage) <= float64(maxBytes)*cleanupTriggerRatio {
			break
		}
		if err := os.Remove(f.path); err != nil {
			p.logger.Warn("storage cleanup failed to remove file",
				zap.String("path", f.path), zap.Error(err))
			continue
		}
		usage -= f.size
		p.logger.Info("storage cleanup removed expired file",
			zap.String("path", f.path), zap.Int64("size", f.size))
		removeDirIfEmpty(filepath.Dir(f.path))
	}
	return usage
}

// scanStorage walks the storage root collecting every regular file and the
// total usage. A missing root counts as empty.
func scanStorage(root string) ([]storedFile, int64, error) {
	var files []storedFile
	var usage int64

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
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
		files = append(files, storedFile{path: path, size: info.Size(), modTime: info.ModTime()})
		usage += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, 0, apperrors.NewInternalErrorWithCause("failed to scan video storage", err)
	}
	return files, usage, nil
}

func removeDirIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}
