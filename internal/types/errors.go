package types

import "errors"

// Error taxonomy for the vault kernel. Callers match with errors.Is; the CLI
// maps these to exit codes (validation=2, io=5, config=6).
var (
	// ErrNotFound means the entity or record is absent.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means an ID collision on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation means the entity failed schema or business rules.
	// The offending payload is quarantined before this surfaces.
	ErrValidation = errors.New("validation failed")

	// ErrFolderContract means a required front-matter or location rule broke.
	ErrFolderContract = errors.New("folder contract violation")

	// ErrLockTimeout means the per-entity lock was not acquired in time.
	// The operation is safe to retry.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrIO wraps filesystem, serialization, or SQLite failures. Writes are
	// all-or-nothing: the on-disk state remains the prior version.
	ErrIO = errors.New("io error")

	// ErrPermission means a plugin exceeded its granted policy.
	ErrPermission = errors.New("permission denied")

	// ErrFatal marks a broken invariant (e.g. corrupted lock directory).
	ErrFatal = errors.New("fatal")
)
