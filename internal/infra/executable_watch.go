package infra

import (
	"context"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// WatchExecutable closes the returned channel when the running binary is
// replaced on disk, so the supervisor can restart the process with the new
// build. The channel is never closed when the binary cannot be stat'ed.
func WatchExecutable(ctx context.Context, interval time.Duration) <-chan struct{} {
	changed := make(chan struct{})
	logger := log.WithField("object", "ExecutableWatch")

	exe, err := os.Executable()
	if err != nil {
		logger.WithError(err).Warn("cant resolve executable path")
		return changed
	}
	stat, err := os.Stat(exe)
	if err != nil {
		logger.WithError(err).Warn("cant stat executable")
		return changed
	}
	original := stat.ModTime()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stat, err := os.Stat(exe)
				if err != nil {
					logger.WithError(err).Debug("cant stat executable")
					continue
				}
				if !original.Equal(stat.ModTime()) {
					logger.WithField("path", exe).Info("executable changed")
					close(changed)
					return
				}
			}
		}
	}()
	return changed
}
