// Package quarantine persists rejected payloads under
// <vault>/artifacts/quarantine so nothing an adapter hands the kernel is
// silently lost. The directory is append-only from the core; TTL cleanup is
// the only deletion path.
package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/untoldecay/kira/internal/markdown"
	"github.com/untoldecay/kira/internal/timeutil"
	"github.com/untoldecay/kira/internal/types"
)

// Record is one quarantined payload with its rejection context.
type Record struct {
	Timestamp string         `json:"timestamp"`
	Kind      string         `json:"kind"`
	Reason    string         `json:"reason"`
	Errors    []string       `json:"errors"`
	Payload   map[string]any `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	FilePath  string         `json:"-"`
}

// Store writes and lists quarantine records for one vault.
type Store struct {
	dir string
}

// New creates a store rooted at <vault>/artifacts/quarantine.
func New(vaultPath string) *Store {
	return &Store{dir: filepath.Join(vaultPath, "artifacts", "quarantine")}
}

var unsafeID = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Quarantine persists the rejected payload and returns the record path.
// File name: <kind>_<YYYYmmdd_HHMMSS_us>_<safe_id>.json.
func (s *Store) Quarantine(kind string, payload map[string]any, errs []string, reason string) (string, error) {
	now := time.Now().UTC()
	rec := Record{
		Timestamp: timeutil.FormatUTC(now),
		Kind:      kind,
		Reason:    reason,
		Errors:    errs,
		Payload:   payload,
	}

	safeID := "unknown"
	if id := types.StringField(payload, "id"); id != "" {
		safeID = unsafeID.ReplaceAllString(id, "-")
	} else if title := types.StringField(payload, "title"); title != "" {
		safeID = unsafeID.ReplaceAllString(title, "-")
		if len(safeID) > 40 {
			safeID = safeID[:40]
		}
	}

	name := fmt.Sprintf("%s_%s_%s.json",
		kind, now.Format("20060102_150405.000000"), safeID)
	// Format uses a dot for sub-seconds; the on-disk convention is _.
	name = strings.Replace(name, ".", "_", 1)
	path := filepath.Join(s.dir, name)

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshaling quarantine record: %v", types.ErrIO, err)
	}
	if err := markdown.WriteFileAtomic(path, raw, 0o644); err != nil {
		return "", err
	}

	log.Warn().
		Str("kind", kind).
		Str("reason", reason).
		Strs("errors", errs).
		Str("path", path).
		Msg("payload quarantined")
	return path, nil
}

// List returns records, newest first, optionally filtered by kind and
// capped at limit (0 = unlimited).
func (s *Store) List(kind string, limit int) ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading quarantine dir: %v", types.ErrIO, err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if kind != "" && !strings.HasPrefix(entry.Name(), kind+"_") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("skipping unreadable quarantine record")
			continue
		}
		rec.FilePath = path
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp > records[j].Timestamp
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Cleanup deletes records older than ttlDays and returns the count removed.
func (s *Store) Cleanup(ttlDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ttlDays)

	records, err := s.List("", 0)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, rec := range records {
		ts, err := timeutil.ParseISO(rec.Timestamp)
		if err != nil || !ts.Before(cutoff) {
			continue
		}
		if err := os.Remove(rec.FilePath); err == nil {
			deleted++
		}
	}
	return deleted, nil
}
