// Package syncer maintains the sync contract carried in every entity's
// "x-kira" metadata block and decides what to do when local and remote
// copies diverge.
package syncer

import (
	"fmt"

	"github.com/untoldecay/kira/internal/timeutil"
	"github.com/untoldecay/kira/internal/types"
)

// ContractFromMetadata extracts the x-kira block, or nil when absent.
func ContractFromMetadata(meta map[string]any) (*types.SyncContract, error) {
	raw, ok := meta[types.MetaSync]
	if !ok {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: x-kira must be a mapping", types.ErrValidation)
	}

	c := &types.SyncContract{
		Source:      types.SyncSource(types.StringField(m, "source")),
		RemoteID:    types.StringField(m, "remote_id"),
		LastWriteTS: types.StringField(m, "last_write_ts"),
		ETag:        types.StringField(m, "etag"),
	}
	switch v := m["version"].(type) {
	case int:
		c.Version = v
	case int64:
		c.Version = int(v)
	case float64:
		c.Version = int(v)
	default:
		return nil, fmt.Errorf("%w: x-kira version must be an integer", types.ErrValidation)
	}
	if c.Version < 1 {
		return nil, fmt.Errorf("%w: x-kira version must be >= 1, got %d", types.ErrValidation, c.Version)
	}
	return c, nil
}

// ContractToMetadata renders the contract as the x-kira mapping. Optional
// fields are omitted when empty so serialized front-matter stays minimal.
func ContractToMetadata(c *types.SyncContract) map[string]any {
	m := map[string]any{
		"source":        string(c.Source),
		"version":       c.Version,
		"last_write_ts": c.LastWriteTS,
	}
	if c.RemoteID != "" {
		m["remote_id"] = c.RemoteID
	}
	if c.ETag != "" {
		m["etag"] = c.ETag
	}
	return m
}

// StampLocalWrite marks a Kira-originated write on the entity metadata:
// source becomes "kira", the version advances, and last_write_ts refreshes.
// The remote binding (remote_id, etag) survives so future syncs can still
// address the remote copy.
func StampLocalWrite(meta map[string]any) error {
	prev, err := ContractFromMetadata(meta)
	if err != nil {
		return err
	}
	c := &types.SyncContract{
		Source:      types.SyncSourceKira,
		Version:     1,
		LastWriteTS: timeutil.NowUTCISO(),
	}
	if prev != nil {
		c.Version = prev.Version + 1
		c.RemoteID = prev.RemoteID
		c.ETag = prev.ETag
	}
	meta[types.MetaSync] = ContractToMetadata(c)
	return nil
}

// StampRemoteImport marks a remote-originated import. An empty remoteTS
// falls back to the import instant.
func StampRemoteImport(meta map[string]any, source types.SyncSource, remoteID, etag, remoteTS string) error {
	prev, err := ContractFromMetadata(meta)
	if err != nil {
		return err
	}
	if remoteTS == "" {
		remoteTS = timeutil.NowUTCISO()
	}
	c := &types.SyncContract{
		Source:      source,
		Version:     1,
		RemoteID:    remoteID,
		ETag:        etag,
		LastWriteTS: remoteTS,
	}
	if prev != nil {
		c.Version = prev.Version + 1
	}
	meta[types.MetaSync] = ContractToMetadata(c)
	return nil
}

// Resolution is the outcome of comparing a diverged local and remote copy.
type Resolution string

const (
	KeepLocal  Resolution = "local"
	TakeRemote Resolution = "remote"
	Tie        Resolution = "tie"
)

// ResolveConflict applies latest-wins on last_write_ts. Equal instants are
// a tie; callers default to keeping local on ties.
func ResolveConflict(local *types.SyncContract, remoteWriteTS string) (Resolution, error) {
	lt, err := timeutil.ParseISO(local.LastWriteTS)
	if err != nil {
		return "", fmt.Errorf("%w: local last_write_ts: %v", types.ErrValidation, err)
	}
	rt, err := timeutil.ParseISO(remoteWriteTS)
	if err != nil {
		return "", fmt.Errorf("%w: remote last_write_ts: %v", types.ErrValidation, err)
	}
	switch {
	case rt.After(lt):
		return TakeRemote, nil
	case lt.After(rt):
		return KeepLocal, nil
	default:
		return Tie, nil
	}
}
