package policy

import (
	"fmt"
	"time"
)

// AccountDefinition is the policy-facing representation of an externally
// authenticated identity. Its logical id doubles as the external identity
// reference that the persisted account row links to.
//
// Overrides reference permissions by natural name, not logical id: they are
// resolved at execution time against the persisted permission table, which
// decouples an override from the in-memory graph. Retraction of a grant is
// modeled by adding a deny override, never by removing state.
type AccountDefinition struct {
	id       string
	metadata Metadata

	roleIDs   []string
	overrides []permissionOverride
}

// permissionOverride is one explicit grant or deny of a named permission.
type permissionOverride struct {
	permissionName string
	isGrant        bool
	validFrom      *time.Time
	validUntil     *time.Time
	metadata       Metadata
}

// AccountConfig is the input to NewAccount. ID is the externally issued user
// identifier.
type AccountConfig struct {
	ID       string
	Metadata Metadata
}

// OverrideOptions carries the optional validity window and metadata of a
// single override entry.
type OverrideOptions struct {
	ValidFrom  *time.Time
	ValidUntil *time.Time
	Metadata   Metadata
}

// NewAccount validates cfg, constructs the account, and registers it into reg.
func NewAccount(reg *Registry, cfg AccountConfig) (*AccountDefinition, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidConfiguration)
	}
	a := &AccountDefinition{
		id:       cfg.ID,
		metadata: cfg.Metadata,
	}
	if err := reg.AddAccount(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ID returns the logical id, which is also the external identity reference.
func (a *AccountDefinition) ID() string { return a.id }

// AssignRole appends a role reference.
func (a *AccountDefinition) AssignRole(r *RoleDefinition) {
	a.roleIDs = append(a.roleIDs, r.ID())
}

// AssignRoleID appends a raw role logical-id reference, unchecked until
// validation or compilation.
func (a *AccountDefinition) AssignRoleID(id string) {
	a.roleIDs = append(a.roleIDs, id)
}

// RoleIDs returns the assigned role logical ids in insertion order.
func (a *AccountDefinition) RoleIDs() []string {
	out := make([]string, len(a.roleIDs))
	copy(out, a.roleIDs)
	return out
}

// GrantPermission appends an explicit grant override for p, capturing its
// natural name.
func (a *AccountDefinition) GrantPermission(p *PermissionDefinition, opts OverrideOptions) {
	a.GrantPermissionName(p.Name(), opts)
}

// DenyPermission appends an explicit deny override for p, capturing its
// natural name.
func (a *AccountDefinition) DenyPermission(p *PermissionDefinition, opts OverrideOptions) {
	a.DenyPermissionName(p.Name(), opts)
}

// GrantPermissionName appends a grant override by permission name. The name
// need not correspond to any permission in this registry; it is resolved
// against the persisted store when the emitted statement executes.
func (a *AccountDefinition) GrantPermissionName(name string, opts OverrideOptions) {
	a.appendOverride(name, true, opts)
}

// DenyPermissionName appends a deny override by permission name.
func (a *AccountDefinition) DenyPermissionName(name string, opts OverrideOptions) {
	a.appendOverride(name, false, opts)
}

func (a *AccountDefinition) appendOverride(name string, isGrant bool, opts OverrideOptions) {
	a.overrides = append(a.overrides, permissionOverride{
		permissionName: name,
		isGrant:        isGrant,
		validFrom:      opts.ValidFrom,
		validUntil:     opts.ValidUntil,
		metadata:       opts.Metadata,
	})
}

// NaturalKeyLookup returns a subquery resolving the account's persisted row id
// by its external identity reference.
func (a *AccountDefinition) NaturalKeyLookup() string {
	return subquery(tableAccounts, "auth_user_id", a.id)
}

// Emit produces two statements: an UPDATE flagging the externally linked
// identity as policy-managed, and the INSERT of the account row itself.
func (a *AccountDefinition) Emit() ([]string, error) {
	metadata, err := jsonOrNull(a.metadata)
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", a.id, err)
	}

	flag := fmt.Sprintf(
		"UPDATE %s SET managed_by_policy = TRUE, updated_at = NOW() WHERE id = %s;",
		tableAuthUsers, quote(a.id),
	)

	row := insertStmt{
		table:   tableAccounts,
		columns: []string{"auth_user_id", "metadata", "created_at"},
		values:  []string{quote(a.id), metadata, "NOW()"},
	}

	return []string{flag, row.SQL()}, nil
}

// emitOverride serializes one override entry. The permission reference is a
// subquery selecting by the stored name.
func (a *AccountDefinition) emitOverride(o permissionOverride) (string, error) {
	metadata, err := jsonOrNull(o.metadata)
	if err != nil {
		return "", fmt.Errorf("account %q override %q: %w", a.id, o.permissionName, err)
	}
	stmt := insertStmt{
		table: tableAccountPerms,
		columns: []string{
			"account_id", "permission_id", "is_grant",
			"valid_from", "valid_until", "metadata", "created_at",
		},
		values: []string{
			a.NaturalKeyLookup(),
			subquery(tablePermissions, "name", o.permissionName),
			boolLiteral(o.isGrant),
			timeOrNull(o.validFrom),
			timeOrNull(o.validUntil),
			metadata,
			"NOW()",
		},
	}
	return stmt.SQL(), nil
}
