// Package vault is the single writer for entity files. Every mutation runs
// under a per-entity advisory lock and flows through the Host API, which
// validates, serializes atomically, keeps the link graph current, and emits
// entity events. No other package may open an entity file for write.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/untoldecay/kira/internal/eventbus"
	"github.com/untoldecay/kira/internal/idgen"
	"github.com/untoldecay/kira/internal/linkgraph"
	"github.com/untoldecay/kira/internal/markdown"
	"github.com/untoldecay/kira/internal/quarantine"
	"github.com/untoldecay/kira/internal/types"
	"github.com/untoldecay/kira/internal/validation"
)

const (
	DefaultLockTimeout = 10 * time.Second

	lockRetryInterval = 50 * time.Millisecond
)

// entityFolders are the directories that hold entity files, including the
// listing-only fallback bucket.
var entityFolders = []string{
	"tasks", "notes", "events", "projects", "contacts", "meetings", "processed",
}

// Vault owns one vault directory.
type Vault struct {
	root        string
	schemas     *validation.Registry
	graph       *linkgraph.Graph
	quarantine  *quarantine.Store
	bus         *eventbus.Bus
	collisions  *idgen.CollisionDetector
	tz          *time.Location
	lockTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// Option configures a Vault.
type Option func(*Vault)

func WithBus(bus *eventbus.Bus) Option {
	return func(v *Vault) { v.bus = bus }
}

func WithTimezone(tz *time.Location) Option {
	return func(v *Vault) { v.tz = tz }
}

func WithLockTimeout(d time.Duration) Option {
	return func(v *Vault) { v.lockTimeout = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(v *Vault) { v.log = log }
}

// Open loads an existing vault: schemas (vault overrides on top of the
// embedded defaults), then the link graph from every entity on disk.
func Open(root string, opts ...Option) (*Vault, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: vault %s: %v", types.ErrNotFound, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: vault %s is not a directory", types.ErrIO, root)
	}

	schemas, err := validation.LoadDir(filepath.Join(root, ".kira", "schemas"))
	if err != nil {
		return nil, err
	}

	v := &Vault{
		root:        root,
		schemas:     schemas,
		graph:       linkgraph.New(),
		quarantine:  quarantine.New(root),
		bus:         eventbus.New(),
		collisions:  idgen.NewCollisionDetector(),
		tz:          time.Local,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if err := v.loadGraph(); err != nil {
		return nil, err
	}
	return v, nil
}

// Init materializes the vault layout and the default schemas, then opens
// the vault. Existing files are never clobbered.
func Init(root string, opts ...Option) (*Vault, error) {
	dirs := []string{
		filepath.Join(root, ".kira", "locks"),
		filepath.Join(root, "inbox"),
		filepath.Join(root, "artifacts", "quarantine"),
		filepath.Join(root, "artifacts", "agent_states"),
	}
	for _, folder := range entityFolders {
		dirs = append(dirs, filepath.Join(root, folder))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", types.ErrIO, dir, err)
		}
	}
	if err := validation.WriteDefaults(filepath.Join(root, ".kira", "schemas")); err != nil {
		return nil, err
	}
	return Open(root, opts...)
}

// Root returns the vault directory.
func (v *Vault) Root() string { return v.root }

// Bus exposes the event bus so adapters and plugins can subscribe.
func (v *Vault) Bus() *eventbus.Bus { return v.bus }

// Graph exposes the link graph for read-only queries.
func (v *Vault) Graph() *linkgraph.Graph { return v.graph }

// Quarantine exposes the quarantine store for listing and cleanup.
func (v *Vault) Quarantine() *quarantine.Store { return v.quarantine }

// EntityPath maps an ID to its on-disk location.
func (v *Vault) EntityPath(id string) string {
	folder := types.FolderFor(types.KindFromID(id))
	return filepath.Join(v.root, folder, id+".md")
}

// loadGraph walks the entity folders and indexes every parseable file.
// Unparseable files are logged and skipped rather than failing the open.
func (v *Vault) loadGraph() error {
	for _, folder := range entityFolders {
		dir := filepath.Join(v.root, folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("%w: reading %s: %v", types.ErrIO, dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), ".md")
			doc, err := markdown.ReadDocument(filepath.Join(dir, entry.Name()))
			if err != nil {
				v.log.Warn().Str("file", entry.Name()).Err(err).Msg("skipping unparseable entity")
				continue
			}
			v.graph.AddEntity(id, doc.Frontmatter, doc.Content)
			v.collisions.Reserve(id)
		}
	}
	return nil
}

// withEntityLock runs fn while holding the per-entity advisory lock,
// blocking up to the configured timeout.
func (v *Vault) withEntityLock(ctx context.Context, id string, fn func() error) error {
	lockDir := filepath.Join(v.root, ".kira", "locks")
	if err := os.MkdirAll(lockDir, 0o750); err != nil {
		return fmt.Errorf("%w: creating lock dir: %v", types.ErrIO, err)
	}

	fl := flock.New(filepath.Join(lockDir, id+".lock"))
	lockCtx, cancel := context.WithTimeout(ctx, v.lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: entity %s after %s", types.ErrLockTimeout, id, v.lockTimeout)
		}
		return fmt.Errorf("%w: locking entity %s: %v", types.ErrIO, id, err)
	}
	if !locked {
		return fmt.Errorf("%w: entity %s after %s", types.ErrLockTimeout, id, v.lockTimeout)
	}
	defer fl.Unlock()

	return fn()
}
