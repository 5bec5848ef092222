package policy

import "fmt"

// PermissionGroupDefinition is a named, reusable bundle of permission
// references assignable to roles as a unit. The group's own row carries no
// permission references; only the junction table does, which is why groups can
// be emitted before any permission rows exist in the database.
type PermissionGroupDefinition struct {
	id            string
	name          string
	description   string
	metadata      Metadata
	permissionIDs []string
}

// GroupConfig is the input to NewPermissionGroup.
type GroupConfig struct {
	ID          string
	Name        string
	Description string
	Metadata    Metadata
}

// NewPermissionGroup validates cfg, constructs the group, and registers it
// into reg.
func NewPermissionGroup(reg *Registry, cfg GroupConfig) (*PermissionGroupDefinition, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: permission group id is required", ErrInvalidConfiguration)
	}
	if cfg.Name == "" || len(cfg.Name) > maxNameLen {
		return nil, fmt.Errorf("%w: permission group %q: name must be 1-%d characters", ErrInvalidConfiguration, cfg.ID, maxNameLen)
	}
	if len(cfg.Description) > maxDescriptionLen {
		return nil, fmt.Errorf("%w: permission group %q: description exceeds %d characters", ErrInvalidConfiguration, cfg.ID, maxDescriptionLen)
	}

	g := &PermissionGroupDefinition{
		id:          cfg.ID,
		name:        cfg.Name,
		description: cfg.Description,
		metadata:    cfg.Metadata,
	}
	if err := reg.AddPermissionGroup(g); err != nil {
		return nil, err
	}
	return g, nil
}

// ID returns the logical id.
func (g *PermissionGroupDefinition) ID() string { return g.id }

// Name returns the natural key.
func (g *PermissionGroupDefinition) Name() string { return g.name }

// AddPermission appends a permission reference. Adding the same permission
// twice produces two list entries and, downstream, two junction-insert
// attempts; the junction insert is conflict-safe so this is tolerated.
func (g *PermissionGroupDefinition) AddPermission(p *PermissionDefinition) {
	g.permissionIDs = append(g.permissionIDs, p.ID())
}

// AddPermissions appends each permission in order.
func (g *PermissionGroupDefinition) AddPermissions(ps []*PermissionDefinition) {
	for _, p := range ps {
		g.AddPermission(p)
	}
}

// AddPermissionID appends a raw logical-id reference. The id is not checked
// here: an unresolvable reference surfaces as a diagnostic during compilation
// or as a hard failure under Validate.
func (g *PermissionGroupDefinition) AddPermissionID(id string) {
	g.permissionIDs = append(g.permissionIDs, id)
}

// PermissionIDs returns the referenced permission logical ids in insertion
// order.
func (g *PermissionGroupDefinition) PermissionIDs() []string {
	out := make([]string, len(g.permissionIDs))
	copy(out, g.permissionIDs)
	return out
}

// NaturalKeyLookup returns a subquery resolving the group's persisted row id
// by name.
func (g *PermissionGroupDefinition) NaturalKeyLookup() string {
	return subquery(tableGroups, "name", g.name)
}

// Emit serializes the group's own row as a single INSERT.
func (g *PermissionGroupDefinition) Emit() (string, error) {
	metadata, err := jsonOrNull(g.metadata)
	if err != nil {
		return "", fmt.Errorf("permission group %q: %w", g.id, err)
	}
	stmt := insertStmt{
		table:   tableGroups,
		columns: []string{"name", "description", "metadata", "created_at"},
		values: []string{
			quote(g.name),
			quoteOrNull(g.description),
			metadata,
			"NOW()",
		},
	}
	return stmt.SQL(), nil
}
