package policy

import (
	"fmt"
	"time"
)

// Rank bounds for roles. Higher rank denotes higher precedence in the
// authorization hierarchy; conflict resolution between ranks is a runtime
// concern, the compiler only persists the value.
const (
	minRank = 0
	maxRank = 100
)

// RoleDefinition is a named, ranked bundle of direct permission references and
// permission-group references, with an optional validity window of its own.
type RoleDefinition struct {
	id          string
	name        string
	description string
	rank        int
	validFrom   *time.Time
	validUntil  *time.Time
	metadata    Metadata

	permissionIDs []string
	groupGrants   []groupGrant
}

// groupGrant records a role→group assignment. ValidFrom/ValidUntil/Metadata
// are stored on the assignment but not yet persisted by emission: the junction
// insert writes only (role_id, group_id, assigned_at). The fields are kept so
// emission can start writing them once the destination schema grows the
// columns.
type groupGrant struct {
	groupID    string
	validFrom  *time.Time
	validUntil *time.Time
	metadata   Metadata
}

// RoleConfig is the input to NewRole.
type RoleConfig struct {
	ID          string
	Name        string
	Description string
	Rank        int
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Metadata    Metadata
}

// GroupGrant is the input to AddPermissionGroup. The validity window and
// metadata apply to the role→group relationship, not to the group itself.
type GroupGrant struct {
	Group      *PermissionGroupDefinition
	ValidFrom  *time.Time
	ValidUntil *time.Time
	Metadata   Metadata
}

// NewRole validates cfg, constructs the role, and registers it into reg.
func NewRole(reg *Registry, cfg RoleConfig) (*RoleDefinition, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidConfiguration)
	}
	if cfg.Name == "" || len(cfg.Name) > maxNameLen {
		return nil, fmt.Errorf("%w: role %q: name must be 1-%d characters", ErrInvalidConfiguration, cfg.ID, maxNameLen)
	}
	if len(cfg.Description) > maxDescriptionLen {
		return nil, fmt.Errorf("%w: role %q: description exceeds %d characters", ErrInvalidConfiguration, cfg.ID, maxDescriptionLen)
	}
	if cfg.Rank < minRank || cfg.Rank > maxRank {
		return nil, fmt.Errorf("%w: role %q: rank %d outside [%d,%d]", ErrInvalidConfiguration, cfg.ID, cfg.Rank, minRank, maxRank)
	}

	r := &RoleDefinition{
		id:          cfg.ID,
		name:        cfg.Name,
		description: cfg.Description,
		rank:        cfg.Rank,
		validFrom:   cfg.ValidFrom,
		validUntil:  cfg.ValidUntil,
		metadata:    cfg.Metadata,
	}
	if err := reg.AddRole(r); err != nil {
		return nil, err
	}
	return r, nil
}

// ID returns the logical id.
func (r *RoleDefinition) ID() string { return r.id }

// Name returns the natural key.
func (r *RoleDefinition) Name() string { return r.name }

// Rank returns the role's precedence rank.
func (r *RoleDefinition) Rank() int { return r.rank }

// AddPermission appends a direct permission grant.
func (r *RoleDefinition) AddPermission(p *PermissionDefinition) {
	r.permissionIDs = append(r.permissionIDs, p.ID())
}

// AddPermissions appends each permission in order.
func (r *RoleDefinition) AddPermissions(ps []*PermissionDefinition) {
	for _, p := range ps {
		r.AddPermission(p)
	}
}

// AddPermissionID appends a raw logical-id reference, unchecked until
// validation or compilation.
func (r *RoleDefinition) AddPermissionID(id string) {
	r.permissionIDs = append(r.permissionIDs, id)
}

// AddPermissionGroup appends a permission-group assignment.
func (r *RoleDefinition) AddPermissionGroup(g GroupGrant) {
	r.groupGrants = append(r.groupGrants, groupGrant{
		groupID:    g.Group.ID(),
		validFrom:  g.ValidFrom,
		validUntil: g.ValidUntil,
		metadata:   g.Metadata,
	})
}

// AddPermissionGroupID appends a bare group assignment by logical id.
func (r *RoleDefinition) AddPermissionGroupID(id string) {
	r.groupGrants = append(r.groupGrants, groupGrant{groupID: id})
}

// PermissionIDs returns the directly granted permission logical ids in
// insertion order.
func (r *RoleDefinition) PermissionIDs() []string {
	out := make([]string, len(r.permissionIDs))
	copy(out, r.permissionIDs)
	return out
}

// PermissionGroupIDs returns the assigned group logical ids in insertion order.
func (r *RoleDefinition) PermissionGroupIDs() []string {
	out := make([]string, len(r.groupGrants))
	for i, g := range r.groupGrants {
		out[i] = g.groupID
	}
	return out
}

// NaturalKeyLookup returns a subquery resolving the role's persisted row id by
// name.
func (r *RoleDefinition) NaturalKeyLookup() string {
	return subquery(tableRoles, "name", r.name)
}

// Emit serializes the role row as a single INSERT.
func (r *RoleDefinition) Emit() (string, error) {
	metadata, err := jsonOrNull(r.metadata)
	if err != nil {
		return "", fmt.Errorf("role %q: %w", r.id, err)
	}
	stmt := insertStmt{
		table: tableRoles,
		columns: []string{
			"name", "description", "rank", "valid_from", "valid_until",
			"metadata", "created_at",
		},
		values: []string{
			quote(r.name),
			quoteOrNull(r.description),
			fmt.Sprintf("%d", r.rank),
			timeOrNull(r.validFrom),
			timeOrNull(r.validUntil),
			metadata,
			"NOW()",
		},
	}
	return stmt.SQL(), nil
}
