// Package kira provides a minimal public API for embedding the vault
// runtime in other Go programs.
//
// Most integrations should go through the CLI or the plugin JSON-RPC
// interface. This package exports only the essential types and functions
// for programs that want to drive the host API directly.
package kira

import (
	"github.com/untoldecay/kira/internal/eventbus"
	"github.com/untoldecay/kira/internal/types"
	"github.com/untoldecay/kira/internal/vault"
)

// Vault is the single-writer host API over a Markdown vault.
type Vault = vault.Vault

// Option configures a Vault on Open or Init.
type Option = vault.Option

// EntityLinks holds one entity's outgoing and incoming edges.
type EntityLinks = vault.EntityLinks

// Open opens an existing vault rooted at path.
func Open(path string, opts ...Option) (*Vault, error) {
	return vault.Open(path, opts...)
}

// Init creates the vault layout at path and opens it.
func Init(path string, opts ...Option) (*Vault, error) {
	return vault.Init(path, opts...)
}

// WithBus attaches an event bus so host operations emit events.
func WithBus(bus *eventbus.Bus) Option {
	return vault.WithBus(bus)
}

// NewBus creates an in-process event bus.
func NewBus() *eventbus.Bus {
	return eventbus.New()
}

// Core types from internal/types
type (
	Entity   = types.Entity
	Kind     = types.Kind
	Link     = types.Link
	LinkType = types.LinkType
	Envelope = types.Envelope
)

// Entity kinds
const (
	KindTask    = types.KindTask
	KindNote    = types.KindNote
	KindEvent   = types.KindEvent
	KindProject = types.KindProject
	KindContact = types.KindContact
	KindMeeting = types.KindMeeting
)

// Error taxonomy sentinels, matchable with errors.Is.
var (
	ErrNotFound       = types.ErrNotFound
	ErrAlreadyExists  = types.ErrAlreadyExists
	ErrValidation     = types.ErrValidation
	ErrFolderContract = types.ErrFolderContract
	ErrLockTimeout    = types.ErrLockTimeout
	ErrPermission     = types.ErrPermission
	ErrIO             = types.ErrIO
)

// ValidKind reports whether k names a supported entity kind.
func ValidKind(k Kind) bool {
	return types.ValidKind(k)
}

// FolderFor maps a kind to its vault folder.
func FolderFor(k Kind) string {
	return types.FolderFor(k)
}
