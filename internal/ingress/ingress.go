// Package ingress canonicalizes raw payloads from external sources before
// they become events. Invalid input is rejected with a structured warning
// and never published.
package ingress

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/untoldecay/kira/internal/types"
)

// Result reports the outcome of normalizing one payload.
type Result struct {
	Valid      bool           `json:"valid"`
	Source     string         `json:"source"`
	Normalized map[string]any `json:"normalized,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// Normalizer validates and canonicalizes per-source payloads.
type Normalizer struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log}
}

// ValidateAndNormalize routes a payload through its source-specific
// canonicalizer.
func (n *Normalizer) ValidateAndNormalize(source string, payload map[string]any) *Result {
	res := &Result{Source: source}
	if payload == nil {
		return n.reject(res, "payload must be a mapping")
	}

	switch source {
	case "telegram":
		n.normalizeTelegram(res, payload)
	case "gcal":
		n.normalizeGCal(res, payload)
	case "cli":
		n.normalizeCLI(res, payload)
	case "generic":
		n.normalizeGeneric(res, payload)
	default:
		return n.reject(res, fmt.Sprintf("unknown source %q", source))
	}

	if !res.Valid {
		n.log.Warn().
			Str("source", source).
			Strs("errors", res.Errors).
			Msg("ingress payload rejected")
	}
	return res
}

func (n *Normalizer) reject(res *Result, msg string) *Result {
	res.Errors = append(res.Errors, msg)
	n.log.Warn().
		Str("source", res.Source).
		Strs("errors", res.Errors).
		Msg("ingress payload rejected")
	return res
}

func (n *Normalizer) normalizeTelegram(res *Result, payload map[string]any) {
	text := types.StringField(payload, "text")
	if text == "" {
		res.Errors = append(res.Errors, "telegram message needs text")
	}
	msgID := stringify(payload["message_id"])
	if msgID == "" {
		res.Errors = append(res.Errors, "telegram message needs message_id")
	}
	if len(res.Errors) > 0 {
		return
	}

	res.Valid = true
	res.Normalized = map[string]any{
		"source":      "telegram",
		"type":        "message",
		"external_id": "tg-" + msgID,
		"text":        text,
		"message_id":  msgID,
	}
	for _, k := range []string{"date", "user_id", "username", "first_name"} {
		if v, ok := payload[k]; ok {
			res.Normalized[k] = v
		}
	}
}

func (n *Normalizer) normalizeGCal(res *Result, payload map[string]any) {
	id := stringify(payload["id"])
	if id == "" {
		res.Errors = append(res.Errors, "gcal event needs id")
	}
	title := types.StringField(payload, "summary")
	if title == "" {
		res.Errors = append(res.Errors, "gcal event needs summary")
	}
	start := gcalTime(payload["start"])
	if start == "" {
		res.Errors = append(res.Errors, "gcal event needs start")
	}
	if len(res.Errors) > 0 {
		return
	}

	normalized := map[string]any{
		"source":      "gcal",
		"type":        "event.received",
		"external_id": "gcal-" + id,
		"title":       title,
		"start_time":  start,
	}
	if end := gcalTime(payload["end"]); end != "" {
		normalized["end_time"] = end
	}
	for _, k := range []string{"description", "location"} {
		if v := types.StringField(payload, k); v != "" {
			normalized[k] = v
		}
	}
	if attendees := gcalAttendees(payload["attendees"]); len(attendees) > 0 {
		normalized["attendees"] = attendees
	}

	res.Valid = true
	res.Normalized = normalized
}

func (n *Normalizer) normalizeCLI(res *Result, payload map[string]any) {
	command := types.StringField(payload, "command")
	if command == "" {
		res.Errors = append(res.Errors, "cli payload needs command")
		return
	}

	normalized := types.CloneMetadata(payload)
	normalized["source"] = "cli"
	normalized["type"] = "cli." + command

	res.Valid = true
	res.Normalized = normalized
}

func (n *Normalizer) normalizeGeneric(res *Result, payload map[string]any) {
	if types.StringField(payload, "type") == "" {
		res.Errors = append(res.Errors, "generic payload needs type")
		return
	}
	normalized := types.CloneMetadata(payload)
	normalized["source"] = "generic"

	res.Valid = true
	res.Normalized = normalized
}

// gcalTime unwraps Google's {dateTime}|{date} container.
func gcalTime(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if dt := types.StringField(m, "dateTime"); dt != "" {
		return dt
	}
	return types.StringField(m, "date")
}

func gcalAttendees(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if email := types.StringField(m, "email"); email != "" {
				out = append(out, email)
			}
		}
	}
	return out
}

// stringify renders IDs that may arrive as JSON numbers or strings.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
