// internal/archive/cleanup.go
package archive

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/yokitheyo/segscribe/internal/storage"
)

// FinishedFunc reports whether a task no longer needs its uploads.
type FinishedFunc func(ctx context.Context, taskID string) bool

// CleanOldUploads removes the upload directories of finished tasks that
// have not been touched for retention. Directories of tasks still
// accepting uploads or processing are left alone regardless of age.
func CleanOldUploads(ctx context.Context, disk *storage.Disk, retention time.Duration, finished FinishedFunc, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(disk.Root())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		logger.Error("upload cleanup error", "error", err)
		return 0, err
	}

	cutoff := time.Now().Add(-retention)
	cleaned := 0

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		taskID := e.Name()
		if !finished(ctx, taskID) {
			continue
		}
		if err := disk.RemoveTask(taskID); err != nil {
			logger.Warn("failed to remove uploads", "task_id", taskID, "error", err)
		} else {
			cleaned++
		}
	}

	if cleaned > 0 {
		logger.Info("cleaned up old uploads", "count", cleaned)
	}
	return cleaned, nil
}

// Run sweeps once immediately and then every interval until ctx ends.
func Run(ctx context.Context, interval time.Duration, disk *storage.Disk, retention time.Duration, finished FinishedFunc, logger *slog.Logger) {
	_, _ = CleanOldUploads(ctx, disk, retention, finished, logger)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = CleanOldUploads(ctx, disk, retention, finished, logger)
		}
	}
}
