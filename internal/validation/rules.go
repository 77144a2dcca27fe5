package validation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/untoldecay/kira/internal/idgen"
	"github.com/untoldecay/kira/internal/timeutil"
	"github.com/untoldecay/kira/internal/types"
)

// Result is the outcome of validating one entity's metadata.
type Result struct {
	Valid  bool
	Errors []string
}

func (r *Result) addf(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

const maxTitleLen = 200

var estimatePattern = regexp.MustCompile(`^\d+(\.\d+)?[hmd]$`)

// linkFields are the front-matter arrays whose elements must be well-formed
// entity IDs.
var linkFields = []string{
	"relates_to", "depends_on", "blocks", "child_of", "part_of",
	"references", "mentions", "links_to", "follows", "precedes",
}

// Validate runs schema checks then business rules for the kind. The
// metadata mapping is never mutated.
func (r *Registry) Validate(kind types.Kind, metadata map[string]any) *Result {
	res := &Result{Valid: true}

	schema := r.Schema(kind)
	if schema == nil {
		res.addf("unknown kind %q", kind)
		return res
	}

	// Strict required-field check.
	for _, key := range schema.Required {
		v, ok := metadata[key]
		if !ok || v == nil {
			res.addf("missing required field %q", key)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			res.addf("required field %q is empty", key)
		}
	}

	// Enum membership.
	for key, allowed := range schema.Enums {
		v, ok := metadata[key]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			res.addf("field %q must be a string", key)
			continue
		}
		if !contains(allowed, s) {
			res.addf("field %q has invalid value %q (allowed: %v)", key, s, allowed)
		}
	}

	validateCommon(res, metadata)

	switch kind {
	case types.KindTask:
		validateTask(res, metadata)
	case types.KindNote:
		validateNote(res, metadata)
	case types.KindEvent:
		validateEvent(res, metadata)
	}

	return res
}

func validateCommon(res *Result, m map[string]any) {
	// Empty titles are caught by the required-field check.
	if title := types.StringField(m, types.MetaTitle); len(title) > maxTitleLen {
		res.addf("title exceeds %d chars (%d)", maxTitleLen, len(title))
	}

	for _, field := range linkFields {
		if _, ok := m[field]; !ok {
			continue
		}
		ids := types.StringsField(m, field)
		if ids == nil {
			res.addf("link field %q must be a list of entity ids", field)
			continue
		}
		for _, id := range ids {
			if err := idgen.ValidateID(id); err != nil {
				res.addf("link field %q contains malformed id %q", field, id)
			}
		}
	}
}

func validateTask(res *Result, m map[string]any) {
	status := types.StringField(m, "status")

	if status == "blocked" && types.StringField(m, "blocked_reason") == "" {
		res.addf("blocked task requires blocked_reason")
	}
	if status == "done" && types.StringField(m, "done_ts") == "" {
		res.addf("done task requires done_ts")
	}

	if est := types.StringField(m, "estimate"); est != "" && !estimatePattern.MatchString(est) {
		res.addf("estimate %q does not match ^\\d+(\\.\\d+)?[hmd]$", est)
	}

	if due := types.StringField(m, "due_date"); due != "" {
		ts, err := parseLooseDate(due)
		if err != nil {
			res.addf("due_date %q is not a valid date", due)
		} else {
			days := time.Until(ts).Hours() / 24
			if days < -365 || days > 3650 {
				res.addf("due_date %q outside allowed range [-365, +3650] days", due)
			}
		}
	}
}

func validateNote(res *Result, m map[string]any) {
	// A note must carry category or tags; an empty tags list still counts
	// as having the key.
	_, hasCategory := m["category"]
	_, hasTags := m["tags"]
	if !hasCategory && !hasTags {
		res.addf("note requires category or tags")
	}
}

func validateEvent(res *Result, m map[string]any) {
	start := types.StringField(m, "start_time")
	end := types.StringField(m, "end_time")
	if start == "" {
		return // required-field check already reported it
	}
	startTS, err := timeutil.ParseISO(start)
	if err != nil {
		res.addf("start_time %q is not a valid timestamp", start)
		return
	}
	if end != "" {
		endTS, err := timeutil.ParseISO(end)
		if err != nil {
			res.addf("end_time %q is not a valid timestamp", end)
			return
		}
		if !endTS.After(startTS) {
			res.addf("end_time must be after start_time")
		}
	}
}

// parseLooseDate accepts full timestamps and bare dates.
func parseLooseDate(s string) (time.Time, error) {
	if ts, err := timeutil.ParseISO(s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", s)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
