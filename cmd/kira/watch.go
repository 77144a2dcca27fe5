package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/untoldecay/kira/internal/config"
	"github.com/untoldecay/kira/internal/gracebuffer"
	"github.com/untoldecay/kira/internal/logging"
	"github.com/untoldecay/kira/internal/pipeline"
	"github.com/untoldecay/kira/internal/scheduler"
	"github.com/untoldecay/kira/internal/timeutil"
	"github.com/untoldecay/kira/internal/types"
	"github.com/untoldecay/kira/internal/vault"
)

const (
	drainInterval   = time.Second
	dueSoonInterval = 5 * time.Minute
	dueSoonHorizon  = 24 * time.Hour
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the vault in reactive mode",
	Long: `Watch the vault's inbox for adapter drops and run the scheduler.
Dropped JSON files are normalized, deduplicated, published on the bus, and
buffered for ordered replay. Runs until interrupted; logs as JSON to
artifacts/kira.log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		root, err := vaultRoot()
		if err != nil {
			return err
		}
		closer := logging.SetupDaemon(root, verbose)
		defer closer.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runWatch(ctx, root)
	},
}

func runWatch(ctx context.Context, root string) error {
	v, err := openVault()
	if err != nil {
		return err
	}
	store, err := openStore(ctx, root)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := gracebuffer.NewRegistry()
	for _, stream := range []string{"task.*", "note.*", "event.*", "meeting.*", "message.*"} {
		registry.Register(stream, gracebuffer.NewEntityReducer())
	}
	buffer := gracebuffer.New(registry,
		gracebuffer.WithGracePeriod(config.GracePeriod()),
		gracebuffer.WithMaxBufferSize(config.MaxBufferSize()))

	p := pipeline.New(store, v.Bus(), buffer, log.Logger)
	watcher := pipeline.NewInboxWatcher(root, p, log.Logger)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	tz, err := config.Timezone()
	if err != nil {
		return err
	}
	sched := scheduler.New(
		scheduler.WithTimezone(tz),
		scheduler.WithTickInterval(config.SchedulerTick()),
		scheduler.WithLogger(log.Logger))

	var stateMu sync.Mutex
	state := gracebuffer.State{}

	drain := func(flush bool) error {
		stateMu.Lock()
		defer stateMu.Unlock()
		var processed []*types.Envelope
		var drainErr error
		if flush {
			state, processed, drainErr = buffer.FlushAll(state)
		} else {
			state, processed, drainErr = buffer.Drain(state)
		}
		if drainErr != nil {
			return drainErr
		}
		if len(processed) > 0 {
			log.Info().Int("events", len(processed)).Msg("drained buffered events")
			persistState(root, state)
		}
		return nil
	}

	if err := sched.ScheduleInterval("buffer.drain", drainInterval, func(context.Context) error {
		return drain(false)
	}); err != nil {
		return err
	}

	dueNotified := make(map[string]bool)
	if err := sched.ScheduleInterval("task.due_soon", dueSoonInterval, func(jobCtx context.Context) error {
		return dueSoonScan(jobCtx, v, dueNotified)
	}); err != nil {
		return err
	}

	finishedNotified := make(map[string]bool)
	if err := sched.ScheduleInterval("meeting.finished", dueSoonInterval, func(jobCtx context.Context) error {
		return meetingFinishedScan(jobCtx, v, finishedNotified)
	}); err != nil {
		return err
	}

	// Nightly maintenance, vault-local time.
	if err := sched.ScheduleCron("dedupe.cleanup", "0 3 * * *", func(jobCtx context.Context) error {
		n, err := store.CleanupOldEvents(jobCtx, config.DedupeTTLDays())
		if n > 0 {
			log.Info().Int("removed", n).Msg("pruned seen events")
		}
		return err
	}); err != nil {
		return err
	}
	if err := sched.ScheduleCron("quarantine.cleanup", "30 3 * * *", func(context.Context) error {
		n, err := v.Quarantine().Cleanup(config.DedupeTTLDays())
		if n > 0 {
			log.Info().Int("removed", n).Msg("pruned quarantine records")
		}
		return err
	}); err != nil {
		return err
	}

	sched.Start(ctx)
	log.Info().Str("vault", root).Msg("watching inbox")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := sched.Stop(5 * time.Second); err != nil {
		log.Warn().Err(err).Msg("scheduler stop")
	}
	if err := drain(true); err != nil {
		log.Warn().Err(err).Msg("final buffer flush")
	}
	return nil
}

// persistState snapshots the reducer state so a restart resumes with the
// same materialized view.
func persistState(root string, state gracebuffer.State) {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("marshaling buffer state")
		return
	}
	path := filepath.Join(root, "artifacts", "agent_states", "buffer_state.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Warn().Err(err).Msg("persisting buffer state")
	}
}

// dueSoonScan publishes task.due_soon once per task when its due_date
// falls inside the horizon. Done and already-notified tasks are skipped.
func dueSoonScan(ctx context.Context, v *vault.Vault, notified map[string]bool) error {
	tasks, err := v.ListEntities(types.KindTask, 0, 0)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, task := range tasks {
		due := types.StringField(task.Metadata, "due_date")
		if due == "" || notified[task.ID] {
			continue
		}
		if status := types.StringField(task.Metadata, "status"); status == "done" {
			continue
		}
		ts, err := timeutil.ParseISO(due)
		if err != nil {
			log.Warn().Str("task", task.ID).Str("due_date", due).Msg("unparseable due_date timestamp")
			continue
		}
		if ts.Before(now) || ts.Sub(now) > dueSoonHorizon {
			continue
		}
		notified[task.ID] = true
		v.Bus().Publish(ctx, "task.due_soon", map[string]any{
			"task_id":  task.ID,
			"title":    task.Title(),
			"due_date": due,
		})
	}
	return nil
}

// meetingFinishedScan publishes meeting.finished once per meeting after
// its end_time passes.
func meetingFinishedScan(ctx context.Context, v *vault.Vault, notified map[string]bool) error {
	meetings, err := v.ListEntities(types.KindMeeting, 0, 0)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, meeting := range meetings {
		end := types.StringField(meeting.Metadata, "end_time")
		if end == "" || notified[meeting.ID] {
			continue
		}
		ts, err := timeutil.ParseISO(end)
		if err != nil {
			log.Warn().Str("meeting", meeting.ID).Str("end_time", end).Msg("unparseable end_time timestamp")
			continue
		}
		if ts.After(now) {
			continue
		}
		notified[meeting.ID] = true
		v.Bus().Publish(ctx, "meeting.finished", map[string]any{
			"meeting_id": meeting.ID,
			"title":      meeting.Title(),
			"end_time":   end,
		})
	}
	return nil
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
