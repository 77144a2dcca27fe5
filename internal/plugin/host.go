package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/untoldecay/kira/internal/policy"
	"github.com/untoldecay/kira/internal/types"
	"github.com/untoldecay/kira/internal/vault"
)

// Host dispatches a plugin's vault.* RPC calls to the Host API after
// checking the plugin's permissions.
type Host struct {
	vault  *vault.Vault
	policy *policy.Policy
	log    zerolog.Logger
}

func NewHost(v *vault.Vault, pol *policy.Policy, log zerolog.Logger) *Host {
	return &Host{vault: v, policy: pol, log: log}
}

// methodPermissions maps each RPC method to the permission it requires.
var methodPermissions = map[string]policy.Permission{
	"vault.create":    policy.PermVaultWrite,
	"vault.read":      policy.PermVaultRead,
	"vault.update":    policy.PermVaultWrite,
	"vault.delete":    policy.PermVaultWrite,
	"vault.list":      policy.PermVaultRead,
	"vault.upsert":    policy.PermVaultWrite,
	"vault.get_links": policy.PermVaultRead,
	"vault.search":    policy.PermVaultRead,
}

// Dispatch handles one request. It never panics the channel: every failure
// becomes a JSON-RPC error object.
func (h *Host) Dispatch(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, codeInvalidRequest, "jsonrpc must be 2.0")
	}

	perm, ok := methodPermissions[req.Method]
	if !ok {
		return errorResponse(req.ID, codeMethodNotFound, "unknown method "+req.Method)
	}
	if err := policy.CheckPermission(perm, h.policy); err != nil {
		h.log.Warn().Str("method", req.Method).Err(err).Msg("plugin call denied")
		return errorResponse(req.ID, codePermission, err.Error())
	}

	result, err := h.call(ctx, req.Method, req.Params)
	if err != nil {
		return errorResponse(req.ID, domainCode(err), err.Error())
	}
	return successResponse(req.ID, result)
}

func domainCode(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return codeNotFound
	case errors.Is(err, types.ErrPermission):
		return codePermission
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrFolderContract):
		return codeInvalidParams
	default:
		return codeServerError
	}
}

type createParams struct {
	Kind    string         `json:"kind"`
	Data    map[string]any `json:"data"`
	Content string         `json:"content,omitempty"`
}

type idParams struct {
	ID string `json:"id"`
}

type updateParams struct {
	ID      string         `json:"id"`
	Updates map[string]any `json:"updates"`
	Content *string        `json:"content,omitempty"`
}

type listParams struct {
	Kind   string `json:"kind,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

type searchParams struct {
	Query string `json:"query"`
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (h *Host) call(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	switch method {
	case "vault.create":
		var p createParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return h.vault.CreateEntity(ctx, types.Kind(p.Kind), p.Data, p.Content)

	case "vault.read":
		var p idParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return h.vault.ReadEntity(p.ID)

	case "vault.update":
		var p updateParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return h.vault.UpdateEntity(ctx, p.ID, p.Updates, p.Content)

	case "vault.delete":
		var p idParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": p.ID}, h.vault.DeleteEntity(ctx, p.ID)

	case "vault.list":
		var p listParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return h.vault.ListEntities(types.Kind(p.Kind), p.Limit, p.Offset)

	case "vault.upsert":
		var p createParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return h.vault.UpsertEntity(ctx, types.Kind(p.Kind), p.Data, p.Content)

	case "vault.get_links":
		var p idParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return h.vault.GetEntityLinks(p.ID)

	case "vault.search":
		var p searchParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return h.search(p)
	}
	return nil, types.ErrNotFound
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return types.ErrValidation
	}
	return nil
}

// search is a case-insensitive substring scan over titles and bodies.
func (h *Host) search(p searchParams) ([]*types.Entity, error) {
	entities, err := h.vault.ListEntities(types.Kind(p.Kind), 0, 0)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(p.Query)
	var out []*types.Entity
	for _, e := range entities {
		if query == "" ||
			strings.Contains(strings.ToLower(e.Title()), query) ||
			strings.Contains(strings.ToLower(e.Content), query) {
			out = append(out, e)
			if p.Limit > 0 && len(out) >= p.Limit {
				break
			}
		}
	}
	return out, nil
}
