package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// BackgroundScheduler arranges for the queue to be delivered later by a
// separate runner, typically `stockroom sync` started by cron or a system
// timer.
type BackgroundScheduler interface {
	ArmBackgroundRetry(ctx context.Context) error
}

// ArmFileName is the marker file written into the data directory.
const ArmFileName = "sync.armed"

// ArmFile records a pending background retry as a marker file. The
// background runner checks Armed and calls Disarm once the queue is
// delivered.
type ArmFile struct {
	path string
	now  func() time.Time
}

// NewArmFile returns an ArmFile inside dir.
func NewArmFile(dir string) *ArmFile {
	return &ArmFile{path: filepath.Join(dir, ArmFileName), now: time.Now}
}

// Path returns the marker file location.
func (a *ArmFile) Path() string { return a.path }

// ArmBackgroundRetry writes the marker with the current time.
func (a *ArmFile) ArmBackgroundRetry(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("arm background retry: %w", err)
	}
	stamp := strconv.FormatInt(a.now().UnixMilli(), 10)
	if err := os.WriteFile(a.path, []byte(stamp+"\n"), 0o644); err != nil {
		return fmt.Errorf("arm background retry: %w", err)
	}
	return nil
}

// Armed reports whether a retry is pending and since when.
func (a *ArmFile) Armed() (bool, time.Time) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return false, time.Time{}
	}
	ms, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return true, time.Time{}
	}
	return true, time.UnixMilli(ms)
}

// Disarm removes the marker. Removing a missing marker is not an error.
func (a *ArmFile) Disarm() error {
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("disarm background retry: %w", err)
	}
	return nil
}
