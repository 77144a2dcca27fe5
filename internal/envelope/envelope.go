// Package envelope builds and validates the canonical event container. The
// event ID is a content hash over (source, external_id, normalized
// payload), so the same logical event always hashes to the same ID no
// matter how often or in what shape it is re-delivered.
package envelope

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/untoldecay/kira/internal/timeutil"
	"github.com/untoldecay/kira/internal/types"
)

// volatileFields are stripped before hashing: they change across
// redeliveries of the same logical event.
var volatileFields = map[string]bool{
	"received_at":  true,
	"processed_at": true,
	"retry_count":  true,
	"trace_id":     true,
}

// Option sets optional envelope fields.
type Option func(*types.Envelope)

// WithSeq attaches a sequence number.
func WithSeq(seq int64) Option {
	return func(e *types.Envelope) { e.Seq = &seq }
}

// WithCorrelationID threads a correlation ID through the envelope.
func WithCorrelationID(id string) Option {
	return func(e *types.Envelope) { e.CorrelationID = id }
}

// WithMetadata attaches free-form metadata (not part of the event ID).
func WithMetadata(m map[string]any) Option {
	return func(e *types.Envelope) { e.Metadata = m }
}

// New creates an envelope stamped with the current UTC instant.
func New(source, eventType string, payload map[string]any, externalID string, opts ...Option) (*types.Envelope, error) {
	normalized, err := NormalizePayload(payload)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", source, externalID, normalized)

	env := &types.Envelope{
		EventID: fmt.Sprintf("%x", h.Sum(nil)),
		EventTS: timeutil.NowUTCISO(),
		Source:  source,
		Type:    eventType,
		Payload: payload,
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// NormalizePayload strips volatile fields and renders the rest as
// sorted-key JSON. encoding/json already orders map keys, which makes the
// output canonical.
func NormalizePayload(payload map[string]any) (string, error) {
	stripped := make(map[string]any, len(payload))
	for k, v := range payload {
		if volatileFields[k] {
			continue
		}
		stripped[k] = v
	}
	raw, err := json.Marshal(stripped)
	if err != nil {
		return "", fmt.Errorf("%w: normalizing payload: %v", types.ErrIO, err)
	}
	return string(raw), nil
}

// Validate checks the envelope invariants: UTC ISO-8601 timestamp, mapping
// payload, integer seq when present.
func Validate(env *types.Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", types.ErrValidation)
	}
	if env.EventID == "" {
		return fmt.Errorf("%w: missing event_id", types.ErrValidation)
	}
	if env.Type == "" {
		return fmt.Errorf("%w: missing event type", types.ErrValidation)
	}
	if !timeutil.IsUTCISO(env.EventTS) {
		return fmt.Errorf("%w: event_ts %q is not UTC ISO-8601", types.ErrValidation, env.EventTS)
	}
	if env.Payload == nil {
		return fmt.Errorf("%w: payload must be a mapping", types.ErrValidation)
	}
	return nil
}
