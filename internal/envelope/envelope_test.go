package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/kira/internal/types"
)

func TestEventIDDeterministic(t *testing.T) {
	payload := map[string]any{"text": "buy milk", "chat_id": float64(42)}

	a, err := New("telegram", "message.received", payload, "msg-1")
	require.NoError(t, err)
	b, err := New("telegram", "message.received", payload, "msg-1")
	require.NoError(t, err)

	assert.Equal(t, a.EventID, b.EventID)
	assert.Len(t, a.EventID, 64)
}

func TestEventIDIgnoresKeyOrder(t *testing.T) {
	// Maps with the same entries hash identically regardless of insertion
	// order, since normalization sorts keys.
	a, err := New("telegram", "message.received",
		map[string]any{"a": 1, "b": 2, "c": 3}, "m")
	require.NoError(t, err)
	b, err := New("telegram", "message.received",
		map[string]any{"c": 3, "a": 1, "b": 2}, "m")
	require.NoError(t, err)
	assert.Equal(t, a.EventID, b.EventID)
}

func TestEventIDIgnoresVolatileFields(t *testing.T) {
	base := map[string]any{"text": "hello"}
	noisy := map[string]any{
		"text":         "hello",
		"received_at":  "2025-01-01T10:00:00+00:00",
		"processed_at": "2025-01-01T10:00:05+00:00",
		"retry_count":  3,
		"trace_id":     "abc-123",
	}

	a, err := New("telegram", "message.received", base, "msg-2")
	require.NoError(t, err)
	b, err := New("telegram", "message.received", noisy, "msg-2")
	require.NoError(t, err)
	assert.Equal(t, a.EventID, b.EventID)
}

func TestEventIDVariesWithIdentity(t *testing.T) {
	payload := map[string]any{"text": "x"}

	base, err := New("telegram", "message.received", payload, "msg-1")
	require.NoError(t, err)

	otherSource, err := New("gcal", "message.received", payload, "msg-1")
	require.NoError(t, err)
	assert.NotEqual(t, base.EventID, otherSource.EventID)

	otherExternal, err := New("telegram", "message.received", payload, "msg-2")
	require.NoError(t, err)
	assert.NotEqual(t, base.EventID, otherExternal.EventID)

	otherPayload, err := New("telegram", "message.received",
		map[string]any{"text": "y"}, "msg-1")
	require.NoError(t, err)
	assert.NotEqual(t, base.EventID, otherPayload.EventID)
}

func TestNewOptions(t *testing.T) {
	env, err := New("cli", "task.create", map[string]any{"title": "t"}, "",
		WithSeq(7),
		WithCorrelationID("corr-1"),
		WithMetadata(map[string]any{"via": "test"}))
	require.NoError(t, err)

	require.NotNil(t, env.Seq)
	assert.Equal(t, int64(7), *env.Seq)
	assert.Equal(t, int64(7), env.SeqOrZero())
	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, "test", env.Metadata["via"])
}

func TestValidate(t *testing.T) {
	good, err := New("cli", "task.create", map[string]any{"title": "t"}, "")
	require.NoError(t, err)
	assert.NoError(t, Validate(good))

	tests := []struct {
		name   string
		mutate func(*types.Envelope)
	}{
		{"missing event_id", func(e *types.Envelope) { e.EventID = "" }},
		{"missing type", func(e *types.Envelope) { e.Type = "" }},
		{"non-UTC timestamp", func(e *types.Envelope) { e.EventTS = "2025-01-01T10:00:00+02:00" }},
		{"naive timestamp", func(e *types.Envelope) { e.EventTS = "2025-01-01T10:00:00" }},
		{"nil payload", func(e *types.Envelope) { e.Payload = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := New("cli", "task.create", map[string]any{"title": "t"}, "")
			require.NoError(t, err)
			tt.mutate(env)
			err = Validate(env)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
	assert.ErrorIs(t, Validate(nil), types.ErrValidation)
}

func TestNormalizePayloadStable(t *testing.T) {
	out, err := NormalizePayload(map[string]any{"b": 2, "a": 1, "trace_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, out)
}
