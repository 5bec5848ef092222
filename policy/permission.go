package policy

import "fmt"

// Action is the operation a permission grants. The wildcard means "all
// actions" and is interpreted only by the runtime enforcement procedure; the
// compiler treats it as an opaque value.
type Action string

const (
	ActionSelect Action = "select"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionAll    Action = "*"
)

func (a Action) valid() bool {
	switch a {
	case ActionSelect, ActionInsert, ActionUpdate, ActionDelete, ActionAll:
		return true
	}
	return false
}

// SystemResource is an administrative resource of the console itself, the
// target of a system permission.
type SystemResource string

const (
	ResourceAccount       SystemResource = "account"
	ResourceRole          SystemResource = "role"
	ResourcePermission    SystemResource = "permission"
	ResourceLog           SystemResource = "log"
	ResourceTable         SystemResource = "table"
	ResourceAuthUser      SystemResource = "auth_user"
	ResourceSystemSetting SystemResource = "system_setting"
)

func (r SystemResource) valid() bool {
	switch r {
	case ResourceAccount, ResourceRole, ResourcePermission, ResourceLog,
		ResourceTable, ResourceAuthUser, ResourceSystemSetting:
		return true
	}
	return false
}

// DataScope is the granularity of a data permission.
type DataScope string

const (
	ScopeTable   DataScope = "table"
	ScopeColumn  DataScope = "column"
	ScopeStorage DataScope = "storage"
)

func (s DataScope) valid() bool {
	switch s {
	case ScopeTable, ScopeColumn, ScopeStorage:
		return true
	}
	return false
}

// PermissionType discriminates the permission tagged union.
type PermissionType string

const (
	PermissionSystem PermissionType = "system"
	PermissionData   PermissionType = "data"
)

// Metadata is an opaque key/value bag serialized as a jsonb literal. The
// compiler never interprets its contents.
type Metadata map[string]any

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
)

// PermissionDefinition is an immutable, validated description of a single
// grant: either a system permission (resource + action over the console
// itself) or a data permission (table/column/storage scope with qualifiers,
// wildcards, and opaque conditions/constraints).
//
// The logical id is used only for in-memory graph wiring and is never
// persisted; the name is the natural key that generated SQL resolves against.
type PermissionDefinition struct {
	id          string
	name        string
	description string
	permType    PermissionType

	// system variant
	resource SystemResource

	// data variant
	scope      DataScope
	schemaName string
	tableName  string
	columnName string

	action      Action
	constraints Metadata
	conditions  Metadata
	metadata    Metadata
}

// SystemPermissionConfig is the input to NewSystemPermission.
type SystemPermissionConfig struct {
	ID          string
	Name        string
	Description string
	Resource    SystemResource
	Action      Action
	Metadata    Metadata
}

// DataPermissionConfig is the input to NewDataPermission. SchemaName,
// TableName and ColumnName may each be the wildcard "*" meaning "all" at that
// level; the compiler does not expand wildcards.
type DataPermissionConfig struct {
	ID          string
	Name        string
	Description string
	Scope       DataScope
	Action      Action
	SchemaName  string
	TableName   string
	ColumnName  string
	Constraints Metadata
	Conditions  Metadata
	Metadata    Metadata
}

// NewSystemPermission validates cfg, constructs the permission, and registers
// it into reg. Registration is part of construction: a permission that fails
// validation or collides on logical id is never created.
func NewSystemPermission(reg *Registry, cfg SystemPermissionConfig) (*PermissionDefinition, error) {
	if err := validateCommon(cfg.ID, cfg.Name, cfg.Description); err != nil {
		return nil, err
	}
	if !cfg.Resource.valid() {
		return nil, fmt.Errorf("%w: permission %q: unknown system_resource %q", ErrInvalidConfiguration, cfg.ID, cfg.Resource)
	}
	if !cfg.Action.valid() {
		return nil, fmt.Errorf("%w: permission %q: unknown action %q", ErrInvalidConfiguration, cfg.ID, cfg.Action)
	}

	p := &PermissionDefinition{
		id:          cfg.ID,
		name:        cfg.Name,
		description: cfg.Description,
		permType:    PermissionSystem,
		resource:    cfg.Resource,
		action:      cfg.Action,
		metadata:    cfg.Metadata,
	}
	if err := reg.AddPermission(p); err != nil {
		return nil, err
	}
	return p, nil
}

// NewDataPermission validates cfg, constructs the permission, and registers it
// into reg. Storage-scoped permissions must carry non-empty bucket_name and
// path_pattern entries in Metadata.
func NewDataPermission(reg *Registry, cfg DataPermissionConfig) (*PermissionDefinition, error) {
	if err := validateCommon(cfg.ID, cfg.Name, cfg.Description); err != nil {
		return nil, err
	}
	if !cfg.Scope.valid() {
		return nil, fmt.Errorf("%w: permission %q: unknown scope %q", ErrInvalidConfiguration, cfg.ID, cfg.Scope)
	}
	if !cfg.Action.valid() {
		return nil, fmt.Errorf("%w: permission %q: unknown action %q", ErrInvalidConfiguration, cfg.ID, cfg.Action)
	}
	if cfg.Scope == ScopeStorage {
		if s, _ := cfg.Metadata["bucket_name"].(string); s == "" {
			return nil, fmt.Errorf("%w: permission %q: storage scope requires metadata.bucket_name", ErrInvalidConfiguration, cfg.ID)
		}
		if s, _ := cfg.Metadata["path_pattern"].(string); s == "" {
			return nil, fmt.Errorf("%w: permission %q: storage scope requires metadata.path_pattern", ErrInvalidConfiguration, cfg.ID)
		}
	}

	p := &PermissionDefinition{
		id:          cfg.ID,
		name:        cfg.Name,
		description: cfg.Description,
		permType:    PermissionData,
		scope:       cfg.Scope,
		schemaName:  cfg.SchemaName,
		tableName:   cfg.TableName,
		columnName:  cfg.ColumnName,
		action:      cfg.Action,
		constraints: cfg.Constraints,
		conditions:  cfg.Conditions,
		metadata:    cfg.Metadata,
	}
	if err := reg.AddPermission(p); err != nil {
		return nil, err
	}
	return p, nil
}

func validateCommon(id, name, description string) error {
	if id == "" {
		return fmt.Errorf("%w: permission id is required", ErrInvalidConfiguration)
	}
	if name == "" || len(name) > maxNameLen {
		return fmt.Errorf("%w: permission %q: name must be 1-%d characters", ErrInvalidConfiguration, id, maxNameLen)
	}
	if len(description) > maxDescriptionLen {
		return fmt.Errorf("%w: permission %q: description exceeds %d characters", ErrInvalidConfiguration, id, maxDescriptionLen)
	}
	return nil
}

// ID returns the logical id used for graph wiring.
func (p *PermissionDefinition) ID() string { return p.id }

// Name returns the natural key used by persisted lookups.
func (p *PermissionDefinition) Name() string { return p.name }

// Type returns the variant discriminator.
func (p *PermissionDefinition) Type() PermissionType { return p.permType }

// NaturalKeyLookup returns a subquery that resolves this permission's
// persisted row id by name. Embedding this expression is how later statements
// reference the permission without the compiler ever holding a database id.
func (p *PermissionDefinition) NaturalKeyLookup() string {
	return subquery(tablePermissions, "name", p.name)
}

// Emit serializes the permission as a single INSERT. Absent optional fields
// render as NULL; metadata, constraints and conditions render as jsonb
// literals.
func (p *PermissionDefinition) Emit() (string, error) {
	constraints, err := jsonOrNull(p.constraints)
	if err != nil {
		return "", fmt.Errorf("permission %q: %w", p.id, err)
	}
	conditions, err := jsonOrNull(p.conditions)
	if err != nil {
		return "", fmt.Errorf("permission %q: %w", p.id, err)
	}
	metadata, err := jsonOrNull(p.metadata)
	if err != nil {
		return "", fmt.Errorf("permission %q: %w", p.id, err)
	}

	var resource, scope string
	if p.permType == PermissionSystem {
		resource = string(p.resource)
	} else {
		scope = string(p.scope)
	}

	stmt := insertStmt{
		table: tablePermissions,
		columns: []string{
			"name", "description", "permission_type", "system_resource", "action",
			"scope", "schema_name", "table_name", "column_name",
			"constraints", "conditions", "metadata", "created_at",
		},
		values: []string{
			quote(p.name),
			quoteOrNull(p.description),
			quote(string(p.permType)),
			quoteOrNull(resource),
			quote(string(p.action)),
			quoteOrNull(scope),
			quoteOrNull(p.schemaName),
			quoteOrNull(p.tableName),
			quoteOrNull(p.columnName),
			constraints,
			conditions,
			metadata,
			"NOW()",
		},
	}
	return stmt.SQL(), nil
}
