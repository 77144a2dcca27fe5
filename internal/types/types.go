// Package types defines the core data model shared by the vault kernel:
// entities, links, event envelopes, scheduler jobs, and the sync contract.
package types

import (
	"strings"
	"time"
)

// Kind identifies an entity class. The set is closed for now.
type Kind string

const (
	KindTask    Kind = "task"
	KindNote    Kind = "note"
	KindEvent   Kind = "event"
	KindProject Kind = "project"
	KindContact Kind = "contact"
	KindMeeting Kind = "meeting"
)

// AllKinds lists every supported entity kind.
var AllKinds = []Kind{KindTask, KindNote, KindEvent, KindProject, KindContact, KindMeeting}

// ValidKind reports whether k is one of the supported kinds.
func ValidKind(k Kind) bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// FolderFor maps a kind to its vault folder. The mapping is fixed: an
// entity's path is a pure function of its ID.
func FolderFor(k Kind) string {
	switch k {
	case KindTask:
		return "tasks"
	case KindNote:
		return "notes"
	case KindEvent:
		return "events"
	case KindProject:
		return "projects"
	case KindContact:
		return "contacts"
	case KindMeeting:
		return "meetings"
	default:
		// Fallback bucket for listing only; writes reject unknown kinds.
		return "processed"
	}
}

// KindFromID derives the kind from an entity ID prefix ("task-..." -> task).
func KindFromID(id string) Kind {
	if i := strings.Index(id, "-"); i > 0 {
		return Kind(id[:i])
	}
	return Kind(id)
}

// Entity is a typed Markdown file with YAML front-matter stored in the vault.
type Entity struct {
	ID       string
	Kind     Kind
	Metadata map[string]any
	Content  string
	Path     string
}

// Metadata keys stamped by the host API on every entity.
const (
	MetaCreated = "created"
	MetaUpdated = "updated"
	MetaTitle   = "title"
	MetaSync    = "x-kira"
)

// Title returns the entity title, or "" if unset.
func (e *Entity) Title() string {
	return StringField(e.Metadata, MetaTitle)
}

// StringField returns metadata[key] as a string when it is one.
func StringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// StringsField returns metadata[key] as a string slice, coercing []any
// elements. YAML decoding produces []any for block lists.
func StringsField(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CloneMetadata returns a shallow copy of m (nil-safe).
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// LinkType classifies a directed edge between two entities.
type LinkType string

const (
	LinkRelatesTo  LinkType = "relates_to"
	LinkDependsOn  LinkType = "depends_on"
	LinkBlocks     LinkType = "blocks"
	LinkChildOf    LinkType = "child_of"
	LinkPartOf     LinkType = "part_of"
	LinkReferences LinkType = "references"
	LinkMentions   LinkType = "mentions"
	LinkLinksTo    LinkType = "links_to"
	LinkTaggedWith LinkType = "tagged_with"
	LinkFollows    LinkType = "follows"
	LinkPrecedes   LinkType = "precedes"
)

// Bidirectional reports whether the link type materializes an inverse
// backlink edge on the target.
func (t LinkType) Bidirectional() bool {
	return t == LinkRelatesTo || t == LinkReferences
}

// Link is a directed edge between two entities.
type Link struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Type     LinkType `json:"link_type"`
	Context  string   `json:"context,omitempty"`
}

// Envelope is the canonical event container on the wire between components.
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventTS       string         `json:"event_ts"`
	Source        string         `json:"source"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	Seq           *int64         `json:"seq,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// SeqOrZero returns the sequence number, or 0 when absent. Used when sorting
// replay order by (event_ts, seq, event_id).
func (e *Envelope) SeqOrZero() int64 {
	if e.Seq == nil {
		return 0
	}
	return *e.Seq
}

// coreEvents is the canonical event-name registry. Adapters and plugins
// may publish under namespaces they own; such names are accepted but
// flagged in diagnostics.
var coreEvents = map[string]bool{
	"entity.created":     true,
	"entity.updated":     true,
	"entity.deleted":     true,
	"task.created":       true,
	"task.due_soon":      true,
	"task.enter_doing":   true,
	"task.enter_review":  true,
	"task.enter_done":    true,
	"task.enter_blocked": true,
	"event.received":     true,
	"meeting.finished":   true,
	"inbox.normalized":   true,
	"plugin.activated":   true,
	"plugin.failed":      true,
}

// IsCoreEvent reports whether name belongs to the canonical registry.
func IsCoreEvent(name string) bool {
	return coreEvents[name]
}

// SyncSource identifies the origin of the last write to an entity.
type SyncSource string

const (
	SyncSourceKira     SyncSource = "kira"
	SyncSourceGCal     SyncSource = "gcal"
	SyncSourceTelegram SyncSource = "telegram"
	SyncSourceOther    SyncSource = "other"
)

// SyncContract is the x-kira block recording provenance and version of the
// last write. It travels inside entity front-matter.
type SyncContract struct {
	Source      SyncSource `json:"source" yaml:"source"`
	Version     int        `json:"version" yaml:"version"`
	RemoteID    string     `json:"remote_id,omitempty" yaml:"remote_id,omitempty"`
	LastWriteTS string     `json:"last_write_ts" yaml:"last_write_ts"`
	ETag        string     `json:"etag,omitempty" yaml:"etag,omitempty"`
}

// DedupeRecord is a row in the seen_events table.
type DedupeRecord struct {
	EventID     string
	FirstSeenTS time.Time
	LastSeenTS  time.Time
	SeenCount   int
	Source      string
	ExternalID  string
	Metadata    map[string]any
}

// LedgerEntry maps a remote ID to the last-observed remote version and etag.
type LedgerEntry struct {
	RemoteID    string
	VersionSeen int
	ETagSeen    string
	LastSyncTS  time.Time
	EntityID    string
}

// JobStatus is the lifecycle state of a scheduled job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)
