// Package logging builds the slog handler chain: console or session file,
// Graylog, the OTel bridge, and the session context attributes. The zerolog
// side serves the infrastructure managers.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const stampLayout = "20060102_150405"

// LogFilePath names the log of a run started at sessionStart:
// <logsDir>/<name>.<yyyymmdd_hhmmss>.log.
func LogFilePath(logsDir, name string, sessionStart time.Time) string {
	return filepath.Join(logsDir, name+"."+sessionStart.Format(stampLayout)+".log")
}

// OpenLogFile creates the directory of path and opens the file for appending.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// PruneLogs deletes all but the newest keep logs written by LogFilePath for
// name. keep <= 0 disables pruning. It returns the removed paths.
func PruneLogs(logsDir, name string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list logs: %w", err)
	}

	// The stamp sorts chronologically, so names sort oldest first.
	var logs []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, name+".") || !strings.HasSuffix(n, ".log") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(n, name+"."), ".log")
		if _, err := time.Parse(stampLayout, stamp); err != nil {
			continue
		}
		logs = append(logs, n)
	}
	if len(logs) <= keep {
		return nil, nil
	}
	slices.Sort(logs)

	var removed []string
	var errs []error
	for _, n := range logs[:len(logs)-keep] {
		p := filepath.Join(logsDir, n)
		if err := os.Remove(p); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}
