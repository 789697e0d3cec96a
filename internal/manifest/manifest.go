// Package manifest maintains the index of run reports stored in the archive bucket.
// The index lets a reader list past runs without listing the bucket.
package manifest

import (
	"sort"
	"strings"
	"time"
)

// CurrentVersion is the only index format Load accepts.
const CurrentVersion = 1

// Manifest maps report object keys to a summary of each run.
type Manifest struct {
	Version int              `json:"version"`
	Reports map[string]Entry `json:"reports"`
}

// Entry summarizes one archived report.
type Entry struct {
	GeneratedAt time.Time `json:"generatedAt"` // UTC
	Action      string    `json:"action"`
	DryRun      bool      `json:"dryRun"`
	Count       int       `json:"count"` // projects in the report
}

// New creates an empty manifest at the current version.
func New() *Manifest {
	return &Manifest{
		Version: CurrentVersion,
		Reports: make(map[string]Entry),
	}
}

// Key returns the object key of the manifest under prefix.
func Key(prefix string) string {
	if prefix == "" {
		return ".manifest.json"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return prefix + ".manifest.json"
}

// Add records a report, replacing any entry with the same key.
func (m *Manifest) Add(key string, e Entry) {
	if m.Reports == nil {
		m.Reports = make(map[string]Entry)
	}
	m.Reports[key] = e
}

// CountByAction returns how many reports were archived for each action.
func (m *Manifest) CountByAction() map[string]int {
	counts := make(map[string]int)
	for _, e := range m.Reports {
		counts[e.Action]++
	}
	return counts
}

// Latest returns the key and entry of the most recent report.
// ok is false when the manifest is empty.
func (m *Manifest) Latest() (key string, e Entry, ok bool) {
	keys := make([]string, 0, len(m.Reports))
	for k := range m.Reports {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return "", Entry{}, false
	}

	// Ties on GeneratedAt fall back to key order so the result is stable.
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := m.Reports[keys[i]].GeneratedAt, m.Reports[keys[j]].GeneratedAt
		if ti.Equal(tj) {
			return keys[i] > keys[j]
		}
		return ti.After(tj)
	})
	return keys[0], m.Reports[keys[0]], true
}
