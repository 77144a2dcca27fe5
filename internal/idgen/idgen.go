// Package idgen produces stable entity IDs of the form
// <kind>-YYYYMMDD-HHmm-<slug> and resolves collisions with numeric
// suffixes.
package idgen

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/kira/internal/types"
)

const (
	maxSlugLen = 50
	maxIDLen   = 100
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
	idPattern = regexp.MustCompile(`^[a-z]+-\d{8}-\d{4}-[a-z0-9][a-z0-9-]*$`)
	multiDash = regexp.MustCompile(`-{2,}`)
)

// Slugify lowercases the title, collapses non-alphanumerics to single
// hyphens, trims, and caps at 50 chars. Empty results get a random
// 8-char suffix so every entity still receives a usable slug.
func Slugify(title string) string {
	slug := strings.ToLower(title)
	slug = nonAlnum.ReplaceAllString(slug, "-")
	slug = multiDash.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRight(slug, "-")
	}
	if slug == "" {
		slug = randomSuffix(8)
	}
	return slug
}

// Generate builds an entity ID from kind, title, and the creation instant
// expressed in the vault's timezone.
func Generate(kind types.Kind, title string, ts time.Time, tz *time.Location) string {
	if tz == nil {
		tz = time.UTC
	}
	local := ts.In(tz)
	id := fmt.Sprintf("%s-%s-%s", kind, local.Format("20060102-1504"), Slugify(title))
	if len(id) > maxIDLen {
		id = id[:maxIDLen]
		id = strings.TrimRight(id, "-")
	}
	return id
}

// ValidateID checks the <kind>-YYYYMMDD-HHmm-<slug> shape and the kind prefix.
func ValidateID(id string) error {
	if len(id) == 0 || len(id) > maxIDLen {
		return fmt.Errorf("%w: id must be 1-%d chars, got %d", types.ErrValidation, maxIDLen, len(id))
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: malformed entity id %q", types.ErrValidation, id)
	}
	if !types.ValidKind(types.KindFromID(id)) {
		return fmt.Errorf("%w: unknown kind in id %q", types.ErrValidation, id)
	}
	return nil
}

// randomSuffix returns n hex chars from a fresh UUID.
func randomSuffix(n int) string {
	s := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// CollisionDetector tracks used IDs and derives unique alternatives by
// appending -2, -3, ... (falling back to a random suffix after 100 tries).
type CollisionDetector struct {
	mu   sync.Mutex
	used map[string]bool
}

// NewCollisionDetector creates an empty detector.
func NewCollisionDetector() *CollisionDetector {
	return &CollisionDetector{used: make(map[string]bool)}
}

// Reserve marks an ID as used without transformation (e.g. when hydrating
// from an existing vault).
func (d *CollisionDetector) Reserve(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used[id] = true
}

// Resolve returns id unchanged when free, otherwise the first available
// suffixed variant. The returned ID is reserved atomically.
func (d *CollisionDetector) Resolve(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.used[id] {
		d.used[id] = true
		return id
	}
	for n := 2; n <= 100; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if !d.used[candidate] {
			d.used[candidate] = true
			return candidate
		}
	}
	candidate := fmt.Sprintf("%s-%s", id, randomSuffix(6))
	d.used[candidate] = true
	return candidate
}
