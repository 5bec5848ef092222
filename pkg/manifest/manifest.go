// Package manifest loads declarative policy manifests.
//
// A manifest is the YAML form of the policy graph that the admin console
// builds interactively: system settings, permissions, permission groups,
// roles, and accounts with their cross-references. Loading a manifest produces
// a fully wired policy.Registry ready for validation and compilation.
//
// Example manifest:
//
//	settings:
//	  - key: site_name
//	    value: Acme Admin
//	permissions:
//	  - id: read_logs
//	    name: logs.read
//	    type: system
//	    resource: log
//	    action: select
//	groups:
//	  - id: dev
//	    name: developers
//	    permissions: [read_logs]
//	roles:
//	  - id: developer
//	    name: Developer
//	    rank: 80
//	    groups:
//	      - group: dev
//	accounts:
//	  - id: u1
//	    roles: [developer]
//	    overrides:
//	      - permission: logs.read
//	        grant: true
package manifest

import (
	"fmt"
	"os"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/argus-admin/argus/policy"
)

// Manifest is the top-level document shape.
type Manifest struct {
	Settings    []Setting    `json:"settings,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	Groups      []Group      `json:"groups,omitempty"`
	Roles       []Role       `json:"roles,omitempty"`
	Accounts    []Account    `json:"accounts,omitempty"`
}

// Setting is a flat key/value configuration record.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Permission declares either variant of the permission tagged union; Type
// selects which fields apply.
type Permission struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"` // "system" or "data"
	Resource    string         `json:"resource,omitempty"`
	Action      string         `json:"action"`
	Scope       string         `json:"scope,omitempty"`
	Schema      string         `json:"schema,omitempty"`
	Table       string         `json:"table,omitempty"`
	Column      string         `json:"column,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
	Conditions  map[string]any `json:"conditions,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Group declares a permission group and its member permission ids.
type Group struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
}

// Role declares a ranked role, its direct permission ids, and its group
// assignments.
type Role struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Rank        int            `json:"rank"`
	ValidFrom   *time.Time     `json:"valid_from,omitempty"`
	ValidUntil  *time.Time     `json:"valid_until,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Permissions []string       `json:"permissions,omitempty"`
	Groups      []RoleGroupRef `json:"groups,omitempty"`
}

// RoleGroupRef is one role→group assignment with its per-assignment validity
// window and metadata.
type RoleGroupRef struct {
	Group      string         `json:"group"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidUntil *time.Time     `json:"valid_until,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Account declares an account bound to an external identity, its roles, and
// its permission overrides.
type Account struct {
	ID        string         `json:"id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Roles     []string       `json:"roles,omitempty"`
	Overrides []Override     `json:"overrides,omitempty"`
}

// Override references a permission by natural name, not logical id: the name
// is resolved against the persisted permission table when the emitted
// statement executes, so it may name a permission outside this manifest.
type Override struct {
	Permission string         `json:"permission"`
	Grant      bool           `json:"grant"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidUntil *time.Time     `json:"valid_until,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Load reads and parses a manifest file and builds the policy registry.
func Load(path string) (*policy.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses manifest bytes and builds the policy registry. Entity
// construction errors (invalid enums, duplicate ids, out-of-range rank)
// propagate from the policy package with their sentinel classifications
// intact.
func Parse(data []byte) (*policy.Registry, error) {
	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return m.Build()
}

// Build constructs a registry from the manifest.
func (m *Manifest) Build() (*policy.Registry, error) {
	reg := policy.NewRegistry()

	for _, s := range m.Settings {
		if _, err := policy.NewSystemSetting(reg, s.Key, s.Value); err != nil {
			return nil, err
		}
	}

	for _, p := range m.Permissions {
		if err := buildPermission(reg, p); err != nil {
			return nil, err
		}
	}

	for _, g := range m.Groups {
		group, err := policy.NewPermissionGroup(reg, policy.GroupConfig{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Metadata:    policy.Metadata(g.Metadata),
		})
		if err != nil {
			return nil, err
		}
		for _, pid := range g.Permissions {
			group.AddPermissionID(pid)
		}
	}

	for _, r := range m.Roles {
		role, err := policy.NewRole(reg, policy.RoleConfig{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Rank:        r.Rank,
			ValidFrom:   r.ValidFrom,
			ValidUntil:  r.ValidUntil,
			Metadata:    policy.Metadata(r.Metadata),
		})
		if err != nil {
			return nil, err
		}
		for _, pid := range r.Permissions {
			role.AddPermissionID(pid)
		}
		for _, g := range r.Groups {
			group, err := reg.GetPermissionGroup(g.Group)
			if err != nil {
				// Keep the unresolved reference; it surfaces through
				// Validate or as a compile diagnostic, matching the
				// API-built graph behavior.
				role.AddPermissionGroupID(g.Group)
				continue
			}
			role.AddPermissionGroup(policy.GroupGrant{
				Group:      group,
				ValidFrom:  g.ValidFrom,
				ValidUntil: g.ValidUntil,
				Metadata:   policy.Metadata(g.Metadata),
			})
		}
	}

	for _, a := range m.Accounts {
		account, err := policy.NewAccount(reg, policy.AccountConfig{
			ID:       a.ID,
			Metadata: policy.Metadata(a.Metadata),
		})
		if err != nil {
			return nil, err
		}
		for _, rid := range a.Roles {
			account.AssignRoleID(rid)
		}
		for _, o := range a.Overrides {
			opts := policy.OverrideOptions{
				ValidFrom:  o.ValidFrom,
				ValidUntil: o.ValidUntil,
				Metadata:   policy.Metadata(o.Metadata),
			}
			if o.Grant {
				account.GrantPermissionName(o.Permission, opts)
			} else {
				account.DenyPermissionName(o.Permission, opts)
			}
		}
	}

	return reg, nil
}

func buildPermission(reg *policy.Registry, p Permission) error {
	switch p.Type {
	case string(policy.PermissionSystem):
		_, err := policy.NewSystemPermission(reg, policy.SystemPermissionConfig{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Resource:    policy.SystemResource(p.Resource),
			Action:      policy.Action(p.Action),
			Metadata:    policy.Metadata(p.Metadata),
		})
		return err
	case string(policy.PermissionData):
		_, err := policy.NewDataPermission(reg, policy.DataPermissionConfig{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Scope:       policy.DataScope(p.Scope),
			Action:      policy.Action(p.Action),
			SchemaName:  p.Schema,
			TableName:   p.Table,
			ColumnName:  p.Column,
			Constraints: policy.Metadata(p.Constraints),
			Conditions:  policy.Metadata(p.Conditions),
			Metadata:    policy.Metadata(p.Metadata),
		})
		return err
	default:
		return fmt.Errorf("%w: permission %q: unknown type %q", policy.ErrInvalidConfiguration, p.ID, p.Type)
	}
}
