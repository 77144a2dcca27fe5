package gracebuffer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/untoldecay/kira/internal/types"
)

// State is the accumulated view the reducers fold events into, keyed by
// entity key.
type State map[string]*EntityState

// EntityState is the materialized field set for one entity, with the write
// stamp that last set each field. Stamps order as "<event_ts>|<event_id>",
// which makes field-level last-writer-wins deterministic even for equal
// timestamps.
type EntityState struct {
	Fields map[string]any
	writes map[string]string
}

// Clone deep-copies the state so reducers can stay referentially safe.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, es := range s {
		ns := &EntityState{
			Fields: make(map[string]any, len(es.Fields)),
			writes: make(map[string]string, len(es.writes)),
		}
		for fk, fv := range es.Fields {
			ns.Fields[fk] = fv
		}
		for fk, fv := range es.writes {
			ns.writes[fk] = fv
		}
		out[k] = ns
	}
	return out
}

// Reducer folds an envelope into state. Implementations must be
// deterministic, idempotent, and commutative for independent events.
type Reducer interface {
	Apply(state State, env *types.Envelope) (State, error)
	// CanApply reports whether the event's dependencies are already met in
	// state, allowing release before the grace period expires. The buffer
	// only consults it for the earliest pending event of a bucket.
	CanApply(state State, env *types.Envelope) bool
}

// Registry resolves reducers by event type: exact match first, then the
// longest wildcard prefix ("task.*" matches "task.created").
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Reducer
	wildcard map[string]Reducer
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Reducer),
		wildcard: make(map[string]Reducer),
	}
}

// Register binds a reducer to an event type or a "prefix.*" pattern.
func (r *Registry) Register(pattern string, red Reducer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		r.wildcard[prefix] = red
		return
	}
	r.exact[pattern] = red
}

// Resolve returns the reducer for an event type, or nil.
func (r *Registry) Resolve(eventType string) Reducer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if red, ok := r.exact[eventType]; ok {
		return red
	}
	var best string
	var found Reducer
	for prefix, red := range r.wildcard {
		if strings.HasPrefix(eventType, prefix+".") && len(prefix) > len(best) {
			best, found = prefix, red
		}
	}
	return found
}

// Types lists all registered patterns, for diagnostics.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exact)+len(r.wildcard))
	for t := range r.exact {
		out = append(out, t)
	}
	for p := range r.wildcard {
		out = append(out, p+".*")
	}
	sort.Strings(out)
	return out
}

// entityKeyFields are probed in order to pick the bucket key; the winning
// field is not copied into entity state.
var entityKeyFields = []string{"entity_id", "id", "task_id", "note_id"}

// EntityKey extracts the bucket key for an envelope: the first present key
// field, else the event type.
func EntityKey(env *types.Envelope) string {
	for _, f := range entityKeyFields {
		if v, ok := env.Payload[f].(string); ok && v != "" {
			return v
		}
	}
	return env.Type
}

// EntityReducer materializes entities from create and update events with
// field-level last-writer-wins. The first-arriving event creates the entity
// regardless of its type, so a late "created" merges into fields already set
// by earlier "updated" events instead of clobbering them.
type EntityReducer struct{}

func NewEntityReducer() *EntityReducer { return &EntityReducer{} }

func (r *EntityReducer) Apply(state State, env *types.Envelope) (State, error) {
	if env == nil || env.Payload == nil {
		return state, fmt.Errorf("%w: entity reducer needs a payload", types.ErrValidation)
	}
	next := state.Clone()
	key := EntityKey(env)
	es, ok := next[key]
	if !ok {
		es = &EntityState{Fields: map[string]any{}, writes: map[string]string{}}
		next[key] = es
	}

	stamp := env.EventTS + "|" + env.EventID
	for k, v := range env.Payload {
		if isKeyField(k) {
			continue
		}
		if prev, seen := es.writes[k]; seen && prev >= stamp {
			continue
		}
		es.Fields[k] = v
		es.writes[k] = stamp
	}
	return next, nil
}

// CanApply releases an event early when its target entity is already
// materialized, or when the event itself is a create. The buffer guarantees
// there is no earlier pending event for the same key before asking.
func (r *EntityReducer) CanApply(state State, env *types.Envelope) bool {
	if _, ok := state[EntityKey(env)]; ok {
		return true
	}
	return strings.HasSuffix(env.Type, ".created")
}

func isKeyField(k string) bool {
	for _, f := range entityKeyFields {
		if k == f {
			return true
		}
	}
	return false
}
