package idgen

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/kira/internal/types"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fix bug", "fix-bug"},
		{"Hello, World!", "hello-world"},
		{"  spaces  everywhere  ", "spaces-everywhere"},
		{"UPPER_case--mixed", "upper-case-mixed"},
		{"émoji ✨ stripped", "moji-stripped"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugifyEmptyGetsRandomSuffix(t *testing.T) {
	a := Slugify("!!!")
	b := Slugify("!!!")
	if len(a) != 8 || len(b) != 8 {
		t.Fatalf("expected 8-char random slugs, got %q and %q", a, b)
	}
	if a == b {
		t.Errorf("random slugs should differ: %q", a)
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	slug := Slugify(strings.Repeat("word ", 30))
	if len(slug) > 50 {
		t.Errorf("slug exceeds 50 chars: %d", len(slug))
	}
	if strings.HasSuffix(slug, "-") {
		t.Errorf("truncated slug has trailing hyphen: %q", slug)
	}
}

func TestGenerate(t *testing.T) {
	ts := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	id := Generate(types.KindTask, "Fix bug", ts, time.UTC)
	if id != "task-20250115-1430-fix-bug" {
		t.Errorf("unexpected id: %q", id)
	}
	if err := ValidateID(id); err != nil {
		t.Errorf("generated id fails validation: %v", err)
	}
}

func TestGenerateUsesLocalTime(t *testing.T) {
	brussels, err := time.LoadLocation("Europe/Brussels")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 23:30 UTC on Jan 15 is 00:30 local on Jan 16.
	ts := time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC)
	id := Generate(types.KindNote, "late note", ts, brussels)
	if !strings.HasPrefix(id, "note-20250116-0030-") {
		t.Errorf("expected local-time prefix, got %q", id)
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{
		"task-20250115-1430-fix-bug",
		"note-20250101-0000-a",
		"meeting-20251231-2359-standup-notes-2",
	}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"task",
		"task-2025-fix",
		"Task-20250115-1430-fix",
		"widget-20250115-1430-fix", // unknown kind
		"task-20250115-1430-",
		strings.Repeat("task-20250115-1430-x", 10),
	}
	for _, id := range invalid {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) = nil, want error", id)
		}
	}
}

func TestCollisionDetector(t *testing.T) {
	d := NewCollisionDetector()
	base := "task-20250115-1430-fix-bug"

	if got := d.Resolve(base); got != base {
		t.Errorf("first resolve changed id: %q", got)
	}
	if got := d.Resolve(base); got != base+"-2" {
		t.Errorf("second resolve = %q, want %q", got, base+"-2")
	}
	if got := d.Resolve(base); got != base+"-3" {
		t.Errorf("third resolve = %q, want %q", got, base+"-3")
	}
}

func TestCollisionDetectorFallsBackToRandom(t *testing.T) {
	d := NewCollisionDetector()
	base := "task-20250115-1430-x"
	d.Reserve(base)
	for n := 2; n <= 100; n++ {
		d.Reserve(base + "-" + strconv.Itoa(n))
	}
	got := d.Resolve(base)
	if !strings.HasPrefix(got, base+"-") {
		t.Fatalf("unexpected fallback id: %q", got)
	}
	suffix := strings.TrimPrefix(got, base+"-")
	if len(suffix) != 6 {
		t.Errorf("expected 6-char random suffix, got %q", suffix)
	}
}
