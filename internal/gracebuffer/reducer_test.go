package gracebuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/kira/internal/types"
)

func TestRegistryResolution(t *testing.T) {
	exact := NewEntityReducer()
	wild := NewEntityReducer()
	reg := NewRegistry()
	reg.Register("task.created", exact)
	reg.Register("task.*", wild)

	assert.Same(t, Reducer(exact), reg.Resolve("task.created"), "exact beats wildcard")
	assert.Same(t, Reducer(wild), reg.Resolve("task.updated"))
	assert.Nil(t, reg.Resolve("note.created"))
	assert.Nil(t, reg.Resolve("task"), "wildcard needs a dotted suffix")

	assert.Equal(t, []string{"task.*", "task.created"}, reg.Types())
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	broad := NewEntityReducer()
	narrow := NewEntityReducer()
	reg := NewRegistry()
	reg.Register("task.*", broad)
	reg.Register("task.sub.*", narrow)

	assert.Same(t, Reducer(narrow), reg.Resolve("task.sub.created"))
	assert.Same(t, Reducer(broad), reg.Resolve("task.created"))
}

func TestEntityKeyExtraction(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		typ     string
		want    string
	}{
		{"entity_id wins", map[string]any{"entity_id": "task-1", "id": "task-2"}, "task.created", "task-1"},
		{"id fallback", map[string]any{"id": "task-2"}, "task.created", "task-2"},
		{"task_id fallback", map[string]any{"task_id": "task-3"}, "task.created", "task-3"},
		{"note_id fallback", map[string]any{"note_id": "note-4"}, "note.created", "note-4"},
		{"type fallback", map[string]any{"text": "x"}, "message.received", "message.received"},
		{"non-string key ignored", map[string]any{"id": 42}, "task.created", "task.created"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := env("e", "2025-01-01T10:00:00+00:00", tt.typ, tt.payload)
			assert.Equal(t, tt.want, EntityKey(e))
		})
	}
}

func TestEntityReducerIdempotent(t *testing.T) {
	r := NewEntityReducer()
	e := env("e1", "2025-01-01T10:00:00+00:00", "task.created",
		map[string]any{"id": "task-001", "title": "T", "status": "todo"})

	once, err := r.Apply(State{}, e)
	require.NoError(t, err)
	twice, err := r.Apply(once, e)
	require.NoError(t, err)

	assert.Equal(t, once["task-001"].Fields, twice["task-001"].Fields)
}

func TestEntityReducerCommutative(t *testing.T) {
	r := NewEntityReducer()
	a := env("e-a", "2025-01-01T10:00:00+00:00", "task.updated",
		map[string]any{"id": "task-001", "status": "doing"})
	b := env("e-b", "2025-01-01T10:01:00+00:00", "task.updated",
		map[string]any{"id": "task-001", "priority": "high"})

	ab, err := r.Apply(State{}, a)
	require.NoError(t, err)
	ab, err = r.Apply(ab, b)
	require.NoError(t, err)

	ba, err := r.Apply(State{}, b)
	require.NoError(t, err)
	ba, err = r.Apply(ba, a)
	require.NoError(t, err)

	assert.Equal(t, ab["task-001"].Fields, ba["task-001"].Fields)
}

func TestEntityReducerFieldLevelLastWriterWins(t *testing.T) {
	r := NewEntityReducer()
	late := env("e-late", "2025-01-01T10:05:00+00:00", "task.updated",
		map[string]any{"id": "task-001", "status": "done"})
	early := env("e-early", "2025-01-01T10:01:00+00:00", "task.created",
		map[string]any{"id": "task-001", "title": "T", "status": "todo"})

	// Later-stamped update applied first; the earlier create must fill in
	// title without rolling status back.
	state, err := r.Apply(State{}, late)
	require.NoError(t, err)
	state, err = r.Apply(state, early)
	require.NoError(t, err)

	es := state["task-001"]
	assert.Equal(t, "T", es.Fields["title"])
	assert.Equal(t, "done", es.Fields["status"])
}

func TestEntityReducerEqualTimestampTieBreak(t *testing.T) {
	r := NewEntityReducer()
	ts := "2025-01-01T10:00:00+00:00"
	a := env("aaa", ts, "task.updated", map[string]any{"id": "task-001", "status": "doing"})
	b := env("bbb", ts, "task.updated", map[string]any{"id": "task-001", "status": "review"})

	ab, err := r.Apply(State{}, a)
	require.NoError(t, err)
	ab, err = r.Apply(ab, b)
	require.NoError(t, err)

	ba, err := r.Apply(State{}, b)
	require.NoError(t, err)
	ba, err = r.Apply(ba, a)
	require.NoError(t, err)

	// Equal timestamps resolve by event ID, the same way in both orders.
	assert.Equal(t, "review", ab["task-001"].Fields["status"])
	assert.Equal(t, ab["task-001"].Fields, ba["task-001"].Fields)
}

func TestEntityReducerRejectsNilPayload(t *testing.T) {
	r := NewEntityReducer()
	_, err := r.Apply(State{}, &types.Envelope{EventID: "e", Type: "task.created"})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestStateCloneIsolation(t *testing.T) {
	r := NewEntityReducer()
	base, err := r.Apply(State{}, env("e1", "2025-01-01T10:00:00+00:00", "task.created",
		map[string]any{"id": "task-001", "title": "T"}))
	require.NoError(t, err)

	next, err := r.Apply(base, env("e2", "2025-01-01T10:01:00+00:00", "task.updated",
		map[string]any{"id": "task-001", "title": "T2"}))
	require.NoError(t, err)

	assert.Equal(t, "T", base["task-001"].Fields["title"], "input state untouched")
	assert.Equal(t, "T2", next["task-001"].Fields["title"])
}
