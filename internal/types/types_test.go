package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCoreEvent(t *testing.T) {
	for _, name := range []string{
		"entity.created", "entity.updated", "entity.deleted",
		"task.created", "task.due_soon", "task.enter_doing",
		"task.enter_review", "task.enter_done", "task.enter_blocked",
		"event.received", "meeting.finished", "inbox.normalized",
		"plugin.activated", "plugin.failed",
	} {
		assert.True(t, IsCoreEvent(name), name)
	}

	// Adapter-owned namespaces are legal but outside the registry.
	assert.False(t, IsCoreEvent("message"))
	assert.False(t, IsCoreEvent("message.received"))
	assert.False(t, IsCoreEvent("sync.tick"))
	assert.False(t, IsCoreEvent("task.exploded"))
}
