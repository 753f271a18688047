package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"
)

const timestampLayout = "20060102_150405"

var timestampRe = regexp.MustCompile(`_(\d{8}_\d{6})\.json$`)

// WriteTimestamped writes v as indented JSON to
// <dir>/<base>_<yyyymmdd>_<hhmmss>.json and returns the path.
func WriteTimestamped(dir, base string, v any, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal output: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", base, at.Format(timestampLayout)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return path, nil
}

// ReadFile unmarshals a JSON output file into v.
func ReadFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// fileTime extracts the timestamp embedded in an output filename, falling
// back to the file's modification time when the name doesn't carry one.
func fileTime(path string) time.Time {
	if m := timestampRe.FindStringSubmatch(filepath.Base(path)); m != nil {
		if ts, err := time.ParseInLocation(timestampLayout, m[1], time.Local); err == nil {
			return ts
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

// LatestFiles returns up to n files matching the glob pattern, most recent
// first, ordered by the filename timestamp.
func LatestFiles(pattern string, n int) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Slice(matches, func(i, j int) bool {
		return fileTime(matches[i]).After(fileTime(matches[j]))
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}
