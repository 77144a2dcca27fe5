package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/kira/internal/eventbus"
	"github.com/untoldecay/kira/internal/types"
)

func testVault(t *testing.T, opts ...Option) *Vault {
	t.Helper()
	clock := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)
	base := []Option{
		WithTimezone(time.UTC),
		WithClock(func() time.Time { return clock }),
	}
	v, err := Init(t.TempDir(), append(base, opts...)...)
	require.NoError(t, err)
	return v
}

func TestCreateAndRead(t *testing.T) {
	bus := eventbus.New()
	var created []string
	bus.Subscribe("entity.created", func(ctx context.Context, evt eventbus.Event) error {
		created = append(created, evt.Payload["entity_id"].(string))
		return nil
	})

	v := testVault(t, WithBus(bus))
	ctx := context.Background()

	e, err := v.CreateEntity(ctx, types.KindTask, map[string]any{
		"title":  "Fix bug",
		"status": "todo",
	}, "Steps to reproduce.")
	require.NoError(t, err)

	assert.Equal(t, "task-20250115-1430-fix-bug", e.ID)
	assert.Equal(t, v.Root()+"/tasks/task-20250115-1430-fix-bug.md", e.Path)
	assert.FileExists(t, e.Path)

	got, err := v.ReadEntity(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", got.Title())
	assert.Equal(t, "Steps to reproduce.", got.Content)
	assert.Equal(t, "2025-01-15T14:30:00+00:00", types.StringField(got.Metadata, types.MetaCreated))

	assert.Equal(t, []string{e.ID}, created, "exactly one entity.created")
}

func TestCreateStampsSyncContract(t *testing.T) {
	v := testVault(t)
	e, err := v.CreateEntity(context.Background(), types.KindTask, map[string]any{
		"title": "Sync me", "status": "todo",
	}, "")
	require.NoError(t, err)

	sync, ok := e.Metadata[types.MetaSync].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "kira", sync["source"])
	assert.Equal(t, 1, sync["version"])
}

func TestCreateDuplicateID(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	e, err := v.CreateEntity(ctx, types.KindTask, map[string]any{
		"title": "Once", "status": "todo",
	}, "")
	require.NoError(t, err)

	_, err = v.CreateEntity(ctx, types.KindTask, map[string]any{
		"id": e.ID, "title": "Twice", "status": "todo",
	}, "")
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestCreateCollisionGetsSuffix(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	a, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "Same", "status": "todo"}, "")
	require.NoError(t, err)
	b, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "Same", "status": "todo"}, "")
	require.NoError(t, err)

	assert.Equal(t, "task-20250115-1430-same", a.ID)
	assert.Equal(t, "task-20250115-1430-same-2", b.ID)
}

func TestCreateInvalidQuarantines(t *testing.T) {
	v := testVault(t)

	_, err := v.CreateEntity(context.Background(), types.KindTask, map[string]any{
		"title": "Bad status", "status": "someday",
	}, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	records, err := v.Quarantine().List("task", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "create rejected by validation", records[0].Reason)
}

func TestCreateRejectsMismatchedKindID(t *testing.T) {
	v := testVault(t)
	_, err := v.CreateEntity(context.Background(), types.KindNote, map[string]any{
		"id": "task-20250115-1430-wrong", "title": "N", "category": "misc",
	}, "")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestReadNotFound(t *testing.T) {
	v := testVault(t)
	_, err := v.ReadEntity("task-20250115-1430-missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateEntity(t *testing.T) {
	bus := eventbus.New()
	var changed []string
	var transitions []string
	bus.Subscribe("entity.updated", func(ctx context.Context, evt eventbus.Event) error {
		changed = evt.Payload["changed"].([]string)
		return nil
	})
	bus.Subscribe("task.enter_doing", func(ctx context.Context, evt eventbus.Event) error {
		transitions = append(transitions, "doing")
		return nil
	})

	v := testVault(t, WithBus(bus))
	ctx := context.Background()

	e, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "Work", "status": "todo"}, "")
	require.NoError(t, err)

	updated, err := v.UpdateEntity(ctx, e.ID, map[string]any{"status": "doing"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "doing", types.StringField(updated.Metadata, "status"))
	assert.Equal(t, []string{"status", "updated"}, changed)
	assert.Equal(t, []string{"doing"}, transitions)

	sync, _ := updated.Metadata[types.MetaSync].(map[string]any)
	assert.Equal(t, 2, sync["version"], "local write advances the version")
}

func TestUpdateInvalidRejectedWithoutWrite(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	e, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "Keep", "status": "todo"}, "")
	require.NoError(t, err)

	_, err = v.UpdateEntity(ctx, e.ID, map[string]any{"status": "blocked"}, nil)
	assert.ErrorIs(t, err, types.ErrValidation, "blocked needs blocked_reason")

	got, err := v.ReadEntity(e.ID)
	require.NoError(t, err)
	assert.Equal(t, "todo", types.StringField(got.Metadata, "status"), "rejected update left file untouched")
}

func TestDeleteRemovesAdjacentLinks(t *testing.T) {
	bus := eventbus.New()
	var deleted int
	bus.Subscribe("entity.deleted", func(ctx context.Context, evt eventbus.Event) error {
		deleted++
		return nil
	})

	v := testVault(t, WithBus(bus))
	ctx := context.Background()

	target, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "Target", "status": "todo"}, "")
	require.NoError(t, err)
	source, err := v.CreateEntity(ctx, types.KindTask, map[string]any{
		"title": "Source", "status": "todo", "depends_on": []any{target.ID},
	}, "")
	require.NoError(t, err)

	require.NoError(t, v.DeleteEntity(ctx, target.ID))
	assert.Equal(t, 1, deleted)
	_, err = v.ReadEntity(target.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// No edge with the deleted entity on either end survives.
	links, err := v.GetEntityLinks(source.ID)
	require.NoError(t, err)
	for _, l := range links.Outgoing {
		assert.NotEqual(t, target.ID, l.TargetID)
	}
	for _, l := range links.Incoming {
		assert.NotEqual(t, target.ID, l.SourceID)
	}
}

func TestDeleteNotFound(t *testing.T) {
	v := testVault(t)
	err := v.DeleteEntity(context.Background(), "task-20250115-1430-ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListEntities(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	titles := []string{"Alpha", "Beta", "Gamma"}
	for _, title := range titles {
		_, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": title, "status": "todo"}, "")
		require.NoError(t, err)
	}
	_, err := v.CreateEntity(ctx, types.KindNote, map[string]any{"title": "A note", "category": "misc"}, "")
	require.NoError(t, err)

	tasks, err := v.ListEntities(types.KindTask, 0, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	all, err := v.ListEntities("", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	page, err := v.ListEntities(types.KindTask, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].ID < page[1].ID)
}

func TestUpsertEntity(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	e, err := v.UpsertEntity(ctx, types.KindTask, map[string]any{"title": "First", "status": "todo"}, "body")
	require.NoError(t, err)

	again, err := v.UpsertEntity(ctx, types.KindTask, map[string]any{
		"id": e.ID, "title": "First", "status": "doing",
	}, "body v2")
	require.NoError(t, err)

	assert.Equal(t, e.ID, again.ID)
	assert.Equal(t, "doing", types.StringField(again.Metadata, "status"))
	assert.Equal(t, "body v2", again.Content)

	tasks, err := v.ListEntities(types.KindTask, 0, 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1, "upsert on existing id does not create a second file")
}

func TestGetEntityLinks(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	a, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "A", "status": "todo"}, "")
	require.NoError(t, err)
	b, err := v.CreateEntity(ctx, types.KindTask, map[string]any{
		"title": "B", "status": "todo", "depends_on": []any{a.ID},
	}, "")
	require.NoError(t, err)

	links, err := v.GetEntityLinks(b.ID)
	require.NoError(t, err)
	require.Len(t, links.Outgoing, 1)
	assert.Equal(t, a.ID, links.Outgoing[0].TargetID)
	assert.Equal(t, types.LinkDependsOn, links.Outgoing[0].Type)

	back, err := v.GetEntityLinks(a.ID)
	require.NoError(t, err)
	require.Len(t, back.Incoming, 1)
	assert.Equal(t, b.ID, back.Incoming[0].SourceID)

	_, err = v.GetEntityLinks("task-20250115-1430-nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestLockTimeout(t *testing.T) {
	v := testVault(t, WithLockTimeout(200*time.Millisecond))
	ctx := context.Background()

	e, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "Held", "status": "todo"}, "")
	require.NoError(t, err)

	// Hold the entity lock from a second handle on the same vault dir.
	other, err := Open(v.Root(), WithLockTimeout(time.Second))
	require.NoError(t, err)

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = other.withEntityLock(ctx, e.ID, func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err = v.withEntityLock(ctx, e.ID, func() error { return nil })
	assert.ErrorIs(t, err, types.ErrLockTimeout)
	close(release)
}

func TestOpenRebuildsGraph(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	a, err := v.CreateEntity(ctx, types.KindTask, map[string]any{"title": "A", "status": "todo"}, "")
	require.NoError(t, err)
	b, err := v.CreateEntity(ctx, types.KindTask, map[string]any{
		"title": "B", "status": "todo", "depends_on": []any{a.ID},
	}, "")
	require.NoError(t, err)

	reopened, err := Open(v.Root(), WithTimezone(time.UTC))
	require.NoError(t, err)

	links, err := reopened.GetEntityLinks(b.ID)
	require.NoError(t, err)
	require.Len(t, links.Outgoing, 1)
	assert.Equal(t, a.ID, links.Outgoing[0].TargetID)
}

func TestOpenMissingVault(t *testing.T) {
	_, err := Open("/nonexistent/vault/path")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
