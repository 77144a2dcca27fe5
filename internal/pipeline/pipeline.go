// Package pipeline wires the inbound data flow: ingress normalization,
// envelope hashing, the dedupe seen-set, bus publication, and the grace
// buffer in front of the vault.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/untoldecay/kira/internal/envelope"
	"github.com/untoldecay/kira/internal/eventbus"
	"github.com/untoldecay/kira/internal/gracebuffer"
	"github.com/untoldecay/kira/internal/ingress"
	"github.com/untoldecay/kira/internal/storage/sqlite"
	"github.com/untoldecay/kira/internal/types"
)

// Pipeline pushes raw source payloads through to the event bus exactly once
// per logical event.
type Pipeline struct {
	normalizer *ingress.Normalizer
	store      *sqlite.Store
	bus        *eventbus.Bus
	buffer     *gracebuffer.Buffer
	log        zerolog.Logger
}

func New(store *sqlite.Store, bus *eventbus.Bus, buffer *gracebuffer.Buffer, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: ingress.New(log),
		store:      store,
		bus:        bus,
		buffer:     buffer,
		log:        log,
	}
}

// IngestResult reports what happened to one inbound payload.
type IngestResult struct {
	Accepted  bool     `json:"accepted"`
	Duplicate bool     `json:"duplicate"`
	EventID   string   `json:"event_id,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Delivered int      `json:"delivered"`
	Errors    []string `json:"errors,omitempty"`
}

// Ingest normalizes, hashes, deduplicates, and publishes one payload.
// Invalid payloads are rejected before any side effect; duplicate
// deliveries are marked seen and dropped without a publish.
func (p *Pipeline) Ingest(ctx context.Context, source string, payload map[string]any) (*IngestResult, error) {
	norm := p.normalizer.ValidateAndNormalize(source, payload)
	if !norm.Valid {
		return &IngestResult{Errors: norm.Errors}, nil
	}

	eventType := types.StringField(norm.Normalized, "type")
	externalID := types.StringField(norm.Normalized, "external_id")
	env, err := envelope.New(source, eventType, norm.Normalized, externalID)
	if err != nil {
		return nil, err
	}
	if err := envelope.Validate(env); err != nil {
		return nil, err
	}

	firstTime, err := p.store.MarkSeen(ctx, env.EventID, source, externalID, nil)
	if err != nil {
		return nil, err
	}
	if !firstTime {
		p.log.Debug().Str("event_id", env.EventID).Msg("duplicate event dropped")
		return &IngestResult{Duplicate: true, EventID: env.EventID, EventType: eventType}, nil
	}

	headers := map[string]string{
		"event_id": env.EventID,
		"event_ts": env.EventTS,
		"source":   env.Source,
	}
	p.bus.Publish(ctx, "inbox.normalized", env.Payload,
		eventbus.WithCorrelationID(env.CorrelationID),
		eventbus.WithHeaders(headers))

	if !types.IsCoreEvent(eventType) {
		p.log.Debug().Str("event", eventType).Msg("event name outside the core registry")
	}
	delivered := p.bus.Publish(ctx, eventType, env.Payload,
		eventbus.WithCorrelationID(env.CorrelationID),
		eventbus.WithHeaders(headers))

	if p.buffer != nil {
		p.buffer.AddEvent(env)
	}

	return &IngestResult{
		Accepted:  true,
		EventID:   env.EventID,
		EventType: eventType,
		Delivered: delivered,
	}, nil
}

// Drain flushes ready buffered events into state through the reducers.
func (p *Pipeline) Drain(state gracebuffer.State) (gracebuffer.State, []*types.Envelope, error) {
	if p.buffer == nil {
		return state, nil, fmt.Errorf("%w: pipeline has no buffer", types.ErrFatal)
	}
	return p.buffer.Drain(state)
}

// FlushAll drains everything regardless of age.
func (p *Pipeline) FlushAll(state gracebuffer.State) (gracebuffer.State, []*types.Envelope, error) {
	if p.buffer == nil {
		return state, nil, fmt.Errorf("%w: pipeline has no buffer", types.ErrFatal)
	}
	return p.buffer.FlushAll(state)
}
