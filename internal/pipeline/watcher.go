package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/untoldecay/kira/internal/types"
)

const watchDebounce = 500 * time.Millisecond

// InboxWatcher feeds JSON files dropped into <vault>/inbox/ through the
// pipeline. A drop file holds {"source": "...", "payload": {...}}; handled
// files move to <vault>/processed/ with their original name.
type InboxWatcher struct {
	vaultRoot string
	pipeline  *Pipeline
	log       zerolog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
}

// dropFile is the on-disk shape of an inbox drop.
type dropFile struct {
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

func NewInboxWatcher(vaultRoot string, p *Pipeline, log zerolog.Logger) *InboxWatcher {
	return &InboxWatcher{vaultRoot: vaultRoot, pipeline: p, log: log}
}

// Start begins watching the inbox. Files already present are processed
// immediately; later drops are debounced to let writers finish.
func (w *InboxWatcher) Start(ctx context.Context) error {
	inbox := filepath.Join(w.vaultRoot, "inbox")
	if err := os.MkdirAll(inbox, 0o750); err != nil {
		return fmt.Errorf("%w: creating inbox: %v", types.ErrIO, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: starting inbox watcher: %v", types.ErrIO, err)
	}
	if err := watcher.Add(inbox); err != nil {
		watcher.Close()
		return fmt.Errorf("%w: watching %s: %v", types.ErrIO, inbox, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	w.Sweep(ctx)

	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 &&
					strings.HasSuffix(event.Name, ".json") {
					w.trigger(ctx)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn().Err(err).Msg("inbox watcher error")
			}
		}
	}()
	return nil
}

// Stop halts the watcher. Idempotent.
func (w *InboxWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		close(w.done)
		w.done = nil
	}
	if w.watcher != nil {
		w.watcher.Close()
		w.watcher = nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// trigger debounces a sweep.
func (w *InboxWatcher) trigger(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() { w.Sweep(ctx) })
}

// Sweep processes every drop file currently in the inbox, oldest first.
func (w *InboxWatcher) Sweep(ctx context.Context) {
	inbox := filepath.Join(w.vaultRoot, "inbox")
	entries, err := os.ReadDir(inbox)
	if err != nil {
		w.log.Warn().Err(err).Msg("reading inbox")
		return
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	// ReadDir already sorts by filename; timestamped drop names keep this
	// oldest-first.
	for _, name := range names {
		w.handleDrop(ctx, filepath.Join(inbox, name))
	}
}

func (w *InboxWatcher) handleDrop(ctx context.Context, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn().Str("file", path).Err(err).Msg("reading inbox drop")
		return
	}

	var drop dropFile
	if err := json.Unmarshal(raw, &drop); err != nil || drop.Source == "" {
		w.log.Warn().Str("file", path).Msg("malformed inbox drop, leaving in place")
		return
	}

	res, err := w.pipeline.Ingest(ctx, drop.Source, drop.Payload)
	if err != nil {
		w.log.Error().Str("file", path).Err(err).Msg("inbox ingest failed")
		return
	}

	logEvent := w.log.Info().Str("file", filepath.Base(path)).Str("source", drop.Source)
	switch {
	case res.Duplicate:
		logEvent.Str("event_id", res.EventID).Msg("inbox drop was a duplicate")
	case res.Accepted:
		logEvent.Str("event_id", res.EventID).Int("delivered", res.Delivered).Msg("inbox drop ingested")
	default:
		logEvent.Strs("errors", res.Errors).Msg("inbox drop rejected")
	}

	// Rejected and duplicate drops move out of the inbox too, so the
	// directory never wedges on bad input.
	target := filepath.Join(w.vaultRoot, "processed", filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		w.log.Warn().Str("file", path).Err(err).Msg("moving processed drop")
	}
}
