package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/untoldecay/kira/internal/idgen"
	"github.com/untoldecay/kira/internal/markdown"
	"github.com/untoldecay/kira/internal/syncer"
	"github.com/untoldecay/kira/internal/timeutil"
	"github.com/untoldecay/kira/internal/types"
)

// EntityLinks is the adjacency view returned by GetEntityLinks.
type EntityLinks struct {
	Outgoing []types.Link `json:"outgoing"`
	Incoming []types.Link `json:"incoming"`
}

// CreateEntity creates a new entity file. The ID is generated from the kind,
// title, and clock unless data carries one; validation failures are
// quarantined and rejected.
func (v *Vault) CreateEntity(ctx context.Context, kind types.Kind, data map[string]any, content string) (*types.Entity, error) {
	if !types.ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", types.ErrValidation, kind)
	}

	meta := types.CloneMetadata(data)
	id := types.StringField(meta, "id")
	if id == "" {
		id = v.collisions.Resolve(idgen.Generate(kind, types.StringField(meta, types.MetaTitle), v.now(), v.tz))
	} else {
		if err := idgen.ValidateID(id); err != nil {
			return nil, err
		}
		if types.KindFromID(id) != kind {
			return nil, fmt.Errorf("%w: id %q does not match kind %q", types.ErrValidation, id, kind)
		}
		v.collisions.Reserve(id)
	}
	meta["id"] = id
	meta["kind"] = string(kind)

	now := timeutil.FormatUTC(v.now())
	if types.StringField(meta, types.MetaCreated) == "" {
		meta[types.MetaCreated] = now
	}
	if types.StringField(meta, types.MetaUpdated) == "" {
		meta[types.MetaUpdated] = now
	}
	if err := syncer.StampLocalWrite(meta); err != nil {
		return nil, err
	}

	var entity *types.Entity
	err := v.withEntityLock(ctx, id, func() error {
		path := v.EntityPath(id)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: entity %s", types.ErrAlreadyExists, id)
		}

		if err := v.validateOrQuarantine(kind, meta, "create rejected by validation"); err != nil {
			return err
		}
		if err := v.checkFolderContract(kind, meta); err != nil {
			return err
		}

		if err := markdown.WriteDocument(path, &markdown.Document{Frontmatter: meta, Content: content}); err != nil {
			return err
		}
		v.graph.AddEntity(id, meta, content)
		entity = &types.Entity{ID: id, Kind: kind, Metadata: meta, Content: content, Path: path}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.emitEntityEvent(ctx, "entity.created", entity, nil)
	if kind == types.KindTask {
		v.bus.Publish(ctx, "task.created", map[string]any{"entity_id": entity.ID})
	}
	return entity, nil
}

// ReadEntity loads an entity by ID.
func (v *Vault) ReadEntity(id string) (*types.Entity, error) {
	if err := idgen.ValidateID(id); err != nil {
		return nil, err
	}
	path := v.EntityPath(id)
	doc, err := markdown.ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return &types.Entity{
		ID:       id,
		Kind:     types.KindFromID(id),
		Metadata: doc.Frontmatter,
		Content:  doc.Content,
		Path:     path,
	}, nil
}

// UpdateEntity merges a partial metadata mapping into an existing entity.
// A nil content pointer keeps the current body. The updated stamp always
// refreshes; status transitions on tasks emit their lifecycle events.
func (v *Vault) UpdateEntity(ctx context.Context, id string, updates map[string]any, content *string) (*types.Entity, error) {
	if err := idgen.ValidateID(id); err != nil {
		return nil, err
	}
	kind := types.KindFromID(id)

	var entity *types.Entity
	var changed []string
	var prevStatus string

	err := v.withEntityLock(ctx, id, func() error {
		path := v.EntityPath(id)
		doc, err := markdown.ReadDocument(path)
		if err != nil {
			return err
		}
		prevStatus = types.StringField(doc.Frontmatter, "status")

		meta := types.CloneMetadata(doc.Frontmatter)
		for k, val := range updates {
			if k == "id" || k == "kind" {
				continue
			}
			if val == nil {
				delete(meta, k)
			} else {
				meta[k] = val
			}
			changed = append(changed, k)
		}
		meta[types.MetaUpdated] = timeutil.FormatUTC(v.now())
		changed = append(changed, types.MetaUpdated)
		if err := syncer.StampLocalWrite(meta); err != nil {
			return err
		}

		if err := v.validateOrQuarantine(kind, meta, "update rejected by validation"); err != nil {
			return err
		}

		body := doc.Content
		if content != nil {
			body = *content
		}
		if err := markdown.WriteDocument(path, &markdown.Document{Frontmatter: meta, Content: body}); err != nil {
			return err
		}
		v.graph.UpdateEntityLinks(id, meta, body)
		entity = &types.Entity{ID: id, Kind: kind, Metadata: meta, Content: body, Path: path}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(changed)
	v.emitEntityEvent(ctx, "entity.updated", entity, map[string]any{"changed": changed})

	if kind == types.KindTask {
		if status := types.StringField(entity.Metadata, "status"); status != prevStatus {
			v.emitStatusTransition(ctx, id, status)
		}
	}
	return entity, nil
}

// DeleteEntity removes the entity file and every adjacent link graph edge.
func (v *Vault) DeleteEntity(ctx context.Context, id string) error {
	if err := idgen.ValidateID(id); err != nil {
		return err
	}

	var removed []types.Link
	var path string
	err := v.withEntityLock(ctx, id, func() error {
		path = v.EntityPath(id)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: entity %s", types.ErrNotFound, id)
		}
		removed = v.graph.RemoveEntity(id)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("%w: removing %s: %v", types.ErrIO, path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	v.bus.Publish(ctx, "entity.deleted", map[string]any{
		"entity_id":     id,
		"kind":          string(types.KindFromID(id)),
		"path":          path,
		"removed_links": len(removed),
	})
	return nil
}

// ListEntities returns entities sorted by ID. An empty kind lists every
// folder including the processed/ fallback bucket; limit 0 means no limit.
func (v *Vault) ListEntities(kind types.Kind, limit, offset int) ([]*types.Entity, error) {
	folders := entityFolders
	if kind != "" {
		folders = []string{types.FolderFor(kind)}
	}

	var out []*types.Entity
	for _, folder := range folders {
		dir := filepath.Join(v.root, folder)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: reading %s: %v", types.ErrIO, dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), ".md")
			path := filepath.Join(dir, entry.Name())
			doc, err := markdown.ReadDocument(path)
			if err != nil {
				v.log.Warn().Str("file", entry.Name()).Err(err).Msg("skipping unparseable entity")
				continue
			}
			out = append(out, &types.Entity{
				ID:       id,
				Kind:     types.KindFromID(id),
				Metadata: doc.Frontmatter,
				Content:  doc.Content,
				Path:     path,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// UpsertEntity creates the entity, or updates it when data carries an ID
// that already exists on disk.
func (v *Vault) UpsertEntity(ctx context.Context, kind types.Kind, data map[string]any, content string) (*types.Entity, error) {
	id := types.StringField(data, "id")
	if id != "" {
		if _, err := os.Stat(v.EntityPath(id)); err == nil {
			updates := types.CloneMetadata(data)
			delete(updates, "id")
			return v.UpdateEntity(ctx, id, updates, &content)
		}
	}
	return v.CreateEntity(ctx, kind, data, content)
}

// GetEntityLinks returns the outgoing and incoming edges for an entity.
func (v *Vault) GetEntityLinks(id string) (*EntityLinks, error) {
	if err := idgen.ValidateID(id); err != nil {
		return nil, err
	}
	if _, err := os.Stat(v.EntityPath(id)); err != nil {
		return nil, fmt.Errorf("%w: entity %s", types.ErrNotFound, id)
	}
	return &EntityLinks{
		Outgoing: v.graph.GetOutgoing(id, ""),
		Incoming: v.graph.GetIncoming(id, ""),
	}, nil
}

// validateOrQuarantine runs schema plus business-rule validation; failures
// are captured in quarantine before the mutation is rejected.
func (v *Vault) validateOrQuarantine(kind types.Kind, meta map[string]any, reason string) error {
	res := v.schemas.Validate(kind, meta)
	if res.Valid {
		return nil
	}
	if _, qerr := v.quarantine.Quarantine(string(kind), meta, res.Errors, reason); qerr != nil {
		v.log.Error().Err(qerr).Msg("quarantine write failed")
	}
	return fmt.Errorf("%w: %s", types.ErrValidation, strings.Join(res.Errors, "; "))
}

// checkFolderContract rejects writes whose schema pins a different folder
// than the kind's fixed mapping. The processed/ bucket is list-only.
func (v *Vault) checkFolderContract(kind types.Kind, meta map[string]any) error {
	schema := v.schemas.Schema(kind)
	if schema == nil {
		return fmt.Errorf("%w: no schema for kind %q", types.ErrValidation, kind)
	}
	if schema.Folder != "" && schema.Folder != types.FolderFor(kind) {
		return fmt.Errorf("%w: kind %q writes to %s, schema demands %s",
			types.ErrFolderContract, kind, types.FolderFor(kind), schema.Folder)
	}
	for _, req := range schema.Required {
		if _, ok := meta[req]; !ok {
			return fmt.Errorf("%w: missing required front-matter %q", types.ErrFolderContract, req)
		}
	}
	return nil
}

func (v *Vault) emitEntityEvent(ctx context.Context, name string, e *types.Entity, extra map[string]any) {
	payload := map[string]any{
		"entity_id": e.ID,
		"kind":      string(e.Kind),
		"path":      e.Path,
		"metadata":  e.Metadata,
	}
	for k, val := range extra {
		payload[k] = val
	}
	v.bus.Publish(ctx, name, payload)
}

// emitStatusTransition maps a task status change onto its lifecycle event.
func (v *Vault) emitStatusTransition(ctx context.Context, id, status string) {
	var name string
	switch status {
	case "doing":
		name = "task.enter_doing"
	case "review":
		name = "task.enter_review"
	case "done":
		name = "task.enter_done"
	case "blocked":
		name = "task.enter_blocked"
	default:
		return
	}
	v.bus.Publish(ctx, name, map[string]any{"entity_id": id})
}

// Orphans lists entities with no outgoing or incoming edges.
func (v *Vault) Orphans() []string {
	return v.graph.FindOrphans()
}

// BrokenLinks lists edges whose target is not on disk.
func (v *Vault) BrokenLinks() ([]types.Link, error) {
	known := make(map[string]bool)
	entities, err := v.ListEntities("", 0, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		known[e.ID] = true
	}
	return v.graph.FindBroken(known), nil
}
