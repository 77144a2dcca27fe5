package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/kira/internal/types"
)

func TestContractRoundTrip(t *testing.T) {
	c := &types.SyncContract{
		Source:      types.SyncSourceGCal,
		Version:     3,
		RemoteID:    "abc123",
		LastWriteTS: "2025-01-15T14:30:00+00:00",
		ETag:        "e-3",
	}
	meta := map[string]any{types.MetaSync: ContractToMetadata(c)}

	got, err := ContractFromMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestContractFromMetadataAbsent(t *testing.T) {
	got, err := ContractFromMetadata(map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestContractFromMetadataMalformed(t *testing.T) {
	_, err := ContractFromMetadata(map[string]any{types.MetaSync: "not a map"})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = ContractFromMetadata(map[string]any{types.MetaSync: map[string]any{
		"source": "kira", "version": "three",
	}})
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = ContractFromMetadata(map[string]any{types.MetaSync: map[string]any{
		"source": "kira", "version": 0,
	}})
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestContractFromMetadataYAMLNumbers(t *testing.T) {
	// Front-matter parsed through YAML may deliver the version as int or,
	// after a JSON round-trip, float64.
	for _, v := range []any{2, int64(2), float64(2)} {
		got, err := ContractFromMetadata(map[string]any{types.MetaSync: map[string]any{
			"source": "kira", "version": v, "last_write_ts": "2025-01-01T10:00:00+00:00",
		}})
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
	}
}

func TestStampLocalWrite(t *testing.T) {
	meta := map[string]any{"title": "Fix bug"}

	require.NoError(t, StampLocalWrite(meta))
	c, err := ContractFromMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, types.SyncSourceKira, c.Source)
	assert.Equal(t, 1, c.Version)
	assert.NotEmpty(t, c.LastWriteTS)

	require.NoError(t, StampLocalWrite(meta))
	c, err = ContractFromMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Version)
}

func TestStampLocalWriteKeepsRemoteBinding(t *testing.T) {
	meta := map[string]any{}
	require.NoError(t, StampRemoteImport(meta, types.SyncSourceGCal, "remote-1", "e1",
		"2025-01-01T09:00:00+00:00"))

	require.NoError(t, StampLocalWrite(meta))
	c, err := ContractFromMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, types.SyncSourceKira, c.Source)
	assert.Equal(t, 2, c.Version)
	assert.Equal(t, "remote-1", c.RemoteID)
	assert.Equal(t, "e1", c.ETag)
}

func TestStampRemoteImport(t *testing.T) {
	meta := map[string]any{"title": "Standup"}

	require.NoError(t, StampRemoteImport(meta, types.SyncSourceGCal, "cal-9", "etag-a",
		"2025-01-01T09:00:00+00:00"))
	c, err := ContractFromMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, types.SyncSourceGCal, c.Source)
	assert.Equal(t, 1, c.Version)
	assert.Equal(t, "cal-9", c.RemoteID)
	assert.Equal(t, "etag-a", c.ETag)
	assert.Equal(t, "2025-01-01T09:00:00+00:00", c.LastWriteTS)

	require.NoError(t, StampRemoteImport(meta, types.SyncSourceGCal, "cal-9", "etag-b", ""))
	c, err = ContractFromMetadata(meta)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Version)
	assert.Equal(t, "etag-b", c.ETag)
	assert.NotEmpty(t, c.LastWriteTS)
}

func TestResolveConflictLatestWins(t *testing.T) {
	local := &types.SyncContract{
		Source:      types.SyncSourceKira,
		Version:     3,
		LastWriteTS: "2025-01-15T14:30:00+00:00",
	}

	res, err := ResolveConflict(local, "2025-01-15T15:00:00+00:00")
	require.NoError(t, err)
	assert.Equal(t, TakeRemote, res)

	res, err = ResolveConflict(local, "2025-01-15T14:00:00+00:00")
	require.NoError(t, err)
	assert.Equal(t, KeepLocal, res)

	res, err = ResolveConflict(local, "2025-01-15T14:30:00+00:00")
	require.NoError(t, err)
	assert.Equal(t, Tie, res)

	// Zone-shifted spellings of the same instant still tie.
	res, err = ResolveConflict(local, "2025-01-15T14:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, Tie, res)
}

func TestResolveConflictBadTimestamps(t *testing.T) {
	local := &types.SyncContract{LastWriteTS: "garbage"}
	_, err := ResolveConflict(local, "2025-01-15T14:30:00+00:00")
	assert.ErrorIs(t, err, types.ErrValidation)

	local.LastWriteTS = "2025-01-15T14:30:00+00:00"
	_, err = ResolveConflict(local, "garbage")
	assert.ErrorIs(t, err, types.ErrValidation)
}
