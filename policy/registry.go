// Package policy implements the authorization policy compiler for the admin
// console: an in-memory builder that lets callers declare permissions,
// permission groups, roles, accounts and system settings as a connected graph,
// validates that graph for referential integrity, and emits an ordered SQL
// script that materializes it into a relational schema.
//
// # Building a graph
//
// A Registry owns every entity for one compilation session. Factories take the
// registry as an explicit dependency and register the entity as part of
// construction:
//
//	reg := policy.NewRegistry()
//	readLogs, _ := policy.NewSystemPermission(reg, policy.SystemPermissionConfig{
//		ID: "read_logs", Name: "logs.read",
//		Resource: policy.ResourceLog, Action: policy.ActionSelect,
//	})
//	dev, _ := policy.NewPermissionGroup(reg, policy.GroupConfig{ID: "dev", Name: "developers"})
//	dev.AddPermission(readLogs)
//
// Entities are immutable after construction except for monotonic appends:
// adding permissions to groups and roles, assigning roles to accounts, and
// recording overrides. There are no delete operations; a grant is retracted by
// adding a deny override.
//
// # Compilation
//
// GenerateSQL walks the graph in dependency order: entity rows first, junction
// and override rows last, so that every natural-key subquery in a later phase
// resolves a row created by an earlier phase. The compiler never sees a
// database-generated id.
//
// Reference failures during junction emission are recovered per item: the
// relationship is skipped and recorded as a Diagnostic on the result, and
// compilation continues. Callers wanting fail-fast semantics run Validate
// before compiling.
//
// # Execution
//
// The emitted statements are plain text; applying them to a database is the
// job of pkg/applier. The runtime procedure that answers "does identity X have
// permission Y" reads the tables this package populates, but its algorithm
// lives in the database, not here.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Registry owns the policy graph for a single compilation session. It enforces
// per-kind logical-id uniqueness at registration time, resolves
// cross-references, and orchestrates emission. Entities never outlive their
// registry and are never shared across registries.
//
// The zero value is not usable; call NewRegistry.
type Registry struct {
	permissions map[string]*PermissionDefinition
	groups      map[string]*PermissionGroupDefinition
	roles       map[string]*RoleDefinition
	accounts    map[string]*AccountDefinition
	settings    map[string]*SystemSettingDefinition

	// Registration order per kind. Emission order within a phase follows
	// registration order, keeping output deterministic.
	permissionIDs []string
	groupIDs      []string
	roleIDs       []string
	accountIDs    []string
	settingKeys   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		permissions: make(map[string]*PermissionDefinition),
		groups:      make(map[string]*PermissionGroupDefinition),
		roles:       make(map[string]*RoleDefinition),
		accounts:    make(map[string]*AccountDefinition),
		settings:    make(map[string]*SystemSettingDefinition),
	}
}

// AddPermission registers p under its logical id. Fails if the id is taken.
func (r *Registry) AddPermission(p *PermissionDefinition) error {
	if _, ok := r.permissions[p.ID()]; ok {
		return fmt.Errorf("%w: permission %q", ErrDuplicateIdentifier, p.ID())
	}
	r.permissions[p.ID()] = p
	r.permissionIDs = append(r.permissionIDs, p.ID())
	return nil
}

// AddPermissionGroup registers g under its logical id. Fails if the id is taken.
func (r *Registry) AddPermissionGroup(g *PermissionGroupDefinition) error {
	if _, ok := r.groups[g.ID()]; ok {
		return fmt.Errorf("%w: permission group %q", ErrDuplicateIdentifier, g.ID())
	}
	r.groups[g.ID()] = g
	r.groupIDs = append(r.groupIDs, g.ID())
	return nil
}

// AddRole registers ro under its logical id. Fails if the id is taken.
func (r *Registry) AddRole(ro *RoleDefinition) error {
	if _, ok := r.roles[ro.ID()]; ok {
		return fmt.Errorf("%w: role %q", ErrDuplicateIdentifier, ro.ID())
	}
	r.roles[ro.ID()] = ro
	r.roleIDs = append(r.roleIDs, ro.ID())
	return nil
}

// AddAccount registers a under its logical id. Fails if the id is taken.
func (r *Registry) AddAccount(a *AccountDefinition) error {
	if _, ok := r.accounts[a.ID()]; ok {
		return fmt.Errorf("%w: account %q", ErrDuplicateIdentifier, a.ID())
	}
	r.accounts[a.ID()] = a
	r.accountIDs = append(r.accountIDs, a.ID())
	return nil
}

// AddSystemSetting registers s under its key. Fails if the key is taken.
func (r *Registry) AddSystemSetting(s *SystemSettingDefinition) error {
	if _, ok := r.settings[s.Key()]; ok {
		return fmt.Errorf("%w: system setting %q", ErrDuplicateIdentifier, s.Key())
	}
	r.settings[s.Key()] = s
	r.settingKeys = append(r.settingKeys, s.Key())
	return nil
}

// GetPermission resolves a permission by logical id.
func (r *Registry) GetPermission(id string) (*PermissionDefinition, error) {
	p, ok := r.permissions[id]
	if !ok {
		return nil, fmt.Errorf("%w: permission %q", ErrNotFound, id)
	}
	return p, nil
}

// GetPermissionGroup resolves a permission group by logical id.
func (r *Registry) GetPermissionGroup(id string) (*PermissionGroupDefinition, error) {
	g, ok := r.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: permission group %q", ErrNotFound, id)
	}
	return g, nil
}

// GetRole resolves a role by logical id.
func (r *Registry) GetRole(id string) (*RoleDefinition, error) {
	ro, ok := r.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, id)
	}
	return ro, nil
}

// GetAccount resolves an account by logical id.
func (r *Registry) GetAccount(id string) (*AccountDefinition, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %q", ErrNotFound, id)
	}
	return a, nil
}

// Counts summarizes registry contents per entity kind.
type Counts struct {
	Permissions int
	Groups      int
	Roles       int
	Accounts    int
	Settings    int
}

// Counts returns the number of registered entities per kind.
func (r *Registry) Counts() Counts {
	return Counts{
		Permissions: len(r.permissionIDs),
		Groups:      len(r.groupIDs),
		Roles:       len(r.roleIDs),
		Accounts:    len(r.accountIDs),
		Settings:    len(r.settingKeys),
	}
}

// Validate is the strict pre-flight pass over the whole graph. It checks that
// every permission and group referenced by a role exists, and that every role
// referenced by an account exists, failing fast on the first broken reference.
// The error names both the referencing entity and the missing id.
//
// Validate is optional and orthogonal to compilation: callers may skip it and
// accept the per-item recovery behavior of GenerateSQL instead.
func (r *Registry) Validate() error {
	for _, id := range r.roleIDs {
		role := r.roles[id]
		for _, pid := range role.PermissionIDs() {
			if _, ok := r.permissions[pid]; !ok {
				return fmt.Errorf("%w: role %q references unknown permission %q", ErrBrokenReference, id, pid)
			}
		}
		for _, gid := range role.PermissionGroupIDs() {
			if _, ok := r.groups[gid]; !ok {
				return fmt.Errorf("%w: role %q references unknown permission group %q", ErrBrokenReference, id, gid)
			}
		}
	}
	for _, id := range r.accountIDs {
		account := r.accounts[id]
		for _, rid := range account.RoleIDs() {
			if _, ok := r.roles[rid]; !ok {
				return fmt.Errorf("%w: account %q references unknown role %q", ErrBrokenReference, id, rid)
			}
		}
	}
	return nil
}

// Diagnostic records one relationship that compilation skipped because its
// reference could not be resolved. Diagnostics are the explicit return-value
// form of "warn and continue": one missing reference never aborts the whole
// compilation.
type Diagnostic struct {
	Phase   string // junction phase that hit the failure
	Source  string // logical id of the owning entity
	Ref     string // the unresolvable logical id
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Phase, d.Message)
}

// CompileResult is the output of GenerateSQL: the ordered statement list plus
// the diagnostics accumulated along the way.
type CompileResult struct {
	Statements  []string
	Diagnostics []Diagnostic
}

// StatementCount returns the number of executable statements, excluding phase
// marker comments.
func (c *CompileResult) StatementCount() int {
	n := 0
	for _, s := range c.Statements {
		if !isComment(s) {
			n++
		}
	}
	return n
}

// Script joins the statements into a single SQL script with a header comment
// carrying a checksum of the body, so re-runs can detect content drift.
func (c *CompileResult) Script() string {
	body := strings.Join(c.Statements, "\n")
	var b strings.Builder
	b.WriteString("-- generated by argus\n")
	b.WriteString("-- checksum: " + c.Checksum() + "\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String()
}

// Checksum returns a SHA256 hash of the joined statement list.
func (c *CompileResult) Checksum() string {
	h := sha256.Sum256([]byte(strings.Join(c.Statements, "\n")))
	return hex.EncodeToString(h[:])
}

// GenerateSQL compiles the graph into an ordered statement list. Phases run
// strictly in order, each fully emitted before the next begins:
//
//  1. System settings
//  2. Permissions
//  3. Permission groups
//  4. Roles
//  5. Accounts (two statements each: identity flag + account row)
//  6. Group→permission junctions
//  7. Role→permission junctions
//  8. Role→group junctions
//  9. Account→role junctions
//  10. Account permission overrides
//
// Every statement in a junction phase references rows from earlier phases by
// natural-key subquery, which is what makes the ordering the core contract.
//
// Unresolvable references inside junction phases are skipped and recorded as
// diagnostics. Any other failure aborts and is wrapped in ErrCompilation.
func (r *Registry) GenerateSQL() (res *CompileResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = fmt.Errorf("%w: %v", ErrCompilation, p)
		}
	}()

	var stmts []string
	var diags []Diagnostic

	emit := func(stmt string, emitErr error, what string) error {
		if emitErr != nil {
			return fmt.Errorf("%w: emitting %s: %v", ErrCompilation, what, emitErr)
		}
		stmts = append(stmts, stmt)
		return nil
	}

	// Phase 1: system settings.
	stmts = append(stmts, phaseMarker("system settings"))
	for _, key := range r.settingKeys {
		s, emitErr := r.settings[key].Emit()
		if err := emit(s, emitErr, fmt.Sprintf("system setting %q", key)); err != nil {
			return nil, err
		}
	}

	// Phase 2: permissions.
	stmts = append(stmts, phaseMarker("permissions"))
	for _, id := range r.permissionIDs {
		s, emitErr := r.permissions[id].Emit()
		if err := emit(s, emitErr, fmt.Sprintf("permission %q", id)); err != nil {
			return nil, err
		}
	}

	// Phase 3: permission groups.
	stmts = append(stmts, phaseMarker("permission groups"))
	for _, id := range r.groupIDs {
		s, emitErr := r.groups[id].Emit()
		if err := emit(s, emitErr, fmt.Sprintf("permission group %q", id)); err != nil {
			return nil, err
		}
	}

	// Phase 4: roles.
	stmts = append(stmts, phaseMarker("roles"))
	for _, id := range r.roleIDs {
		s, emitErr := r.roles[id].Emit()
		if err := emit(s, emitErr, fmt.Sprintf("role %q", id)); err != nil {
			return nil, err
		}
	}

	// Phase 5: accounts.
	stmts = append(stmts, phaseMarker("accounts"))
	for _, id := range r.accountIDs {
		pair, emitErr := r.accounts[id].Emit()
		if emitErr != nil {
			return nil, fmt.Errorf("%w: emitting account %q: %v", ErrCompilation, id, emitErr)
		}
		stmts = append(stmts, pair...)
	}

	// Phase 6: group → permission junctions.
	stmts = append(stmts, phaseMarker("permission group permissions"))
	for _, gid := range r.groupIDs {
		group := r.groups[gid]
		for _, pid := range group.PermissionIDs() {
			perm, ok := r.permissions[pid]
			if !ok {
				diags = append(diags, Diagnostic{
					Phase:   tableGroupPerms,
					Source:  gid,
					Ref:     pid,
					Message: fmt.Sprintf("permission group %q references unknown permission %q, skipping", gid, pid),
				})
				continue
			}
			stmts = append(stmts, junctionInsert(tableGroupPerms, "group_id", "permission_id",
				group.NaturalKeyLookup(), perm.NaturalKeyLookup()))
		}
	}

	// Phase 7: role → permission junctions.
	stmts = append(stmts, phaseMarker("role permissions"))
	for _, rid := range r.roleIDs {
		role := r.roles[rid]
		for _, pid := range role.PermissionIDs() {
			perm, ok := r.permissions[pid]
			if !ok {
				diags = append(diags, Diagnostic{
					Phase:   tableRolePerms,
					Source:  rid,
					Ref:     pid,
					Message: fmt.Sprintf("role %q references unknown permission %q, skipping", rid, pid),
				})
				continue
			}
			stmts = append(stmts, junctionInsert(tableRolePerms, "role_id", "permission_id",
				role.NaturalKeyLookup(), perm.NaturalKeyLookup()))
		}
	}

	// Phase 8: role → permission group junctions. Only the bare
	// (role_id, group_id, assigned_at) triple is emitted; per-assignment
	// validity and metadata stay in memory for now.
	stmts = append(stmts, phaseMarker("role permission groups"))
	for _, rid := range r.roleIDs {
		role := r.roles[rid]
		for _, gid := range role.PermissionGroupIDs() {
			group, ok := r.groups[gid]
			if !ok {
				diags = append(diags, Diagnostic{
					Phase:   tableRoleGroups,
					Source:  rid,
					Ref:     gid,
					Message: fmt.Sprintf("role %q references unknown permission group %q, skipping", rid, gid),
				})
				continue
			}
			stmts = append(stmts, junctionInsert(tableRoleGroups, "role_id", "group_id",
				role.NaturalKeyLookup(), group.NaturalKeyLookup()))
		}
	}

	// Phase 9: account → role junctions.
	stmts = append(stmts, phaseMarker("account roles"))
	for _, aid := range r.accountIDs {
		account := r.accounts[aid]
		for _, rid := range account.RoleIDs() {
			role, ok := r.roles[rid]
			if !ok {
				diags = append(diags, Diagnostic{
					Phase:   tableAccountRoles,
					Source:  aid,
					Ref:     rid,
					Message: fmt.Sprintf("account %q references unknown role %q, skipping", aid, rid),
				})
				continue
			}
			stmts = append(stmts, junctionInsert(tableAccountRoles, "account_id", "role_id",
				account.NaturalKeyLookup(), role.NaturalKeyLookup()))
		}
	}

	// Phase 10: account permission overrides. Overrides resolve by stored
	// permission name, never by logical id, so they carry no registry lookup
	// to fail; a name missing from the persisted store fails at execution
	// time, not here.
	stmts = append(stmts, phaseMarker("account permission overrides"))
	for _, aid := range r.accountIDs {
		account := r.accounts[aid]
		for _, o := range account.overrides {
			s, emitErr := account.emitOverride(o)
			if err := emit(s, emitErr, fmt.Sprintf("account %q override", aid)); err != nil {
				return nil, err
			}
		}
	}

	// Blank entries would render as stray empty lines in the script.
	filtered := stmts[:0]
	for _, s := range stmts {
		if strings.TrimSpace(s) == "" {
			continue
		}
		filtered = append(filtered, s)
	}

	return &CompileResult{Statements: filtered, Diagnostics: diags}, nil
}

// junctionInsert renders a conflict-safe junction INSERT linking two
// natural-key subqueries with an assignment timestamp.
func junctionInsert(table, leftCol, rightCol, leftRef, rightRef string) string {
	stmt := insertStmt{
		table:        table,
		columns:      []string{leftCol, rightCol, "assigned_at"},
		values:       []string{leftRef, rightRef, "NOW()"},
		conflictSafe: true,
	}
	return stmt.SQL()
}
