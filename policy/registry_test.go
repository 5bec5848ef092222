package policy_test

import (
	"strings"
	"testing"

	"github.com/argus-admin/argus/policy"
)

func mustSystemPermission(t *testing.T, reg *policy.Registry, id, name string, res policy.SystemResource, action policy.Action) *policy.PermissionDefinition {
	t.Helper()
	p, err := policy.NewSystemPermission(reg, policy.SystemPermissionConfig{
		ID: id, Name: name, Resource: res, Action: action,
	})
	if err != nil {
		t.Fatalf("creating permission %q: %v", id, err)
	}
	return p
}

func TestRegistry_DuplicateIdentifier(t *testing.T) {
	reg := policy.NewRegistry()
	mustSystemPermission(t, reg, "p1", "logs.read", policy.ResourceLog, policy.ActionSelect)

	_, err := policy.NewSystemPermission(reg, policy.SystemPermissionConfig{
		ID: "p1", Name: "logs.read.again", Resource: policy.ResourceLog, Action: policy.ActionSelect,
	})
	if err == nil {
		t.Fatal("expected duplicate identifier error")
	}
	if !policy.IsDuplicateIdentifierErr(err) {
		t.Errorf("expected IsDuplicateIdentifierErr, got: %v", err)
	}
	if !strings.Contains(err.Error(), "p1") {
		t.Errorf("error should name the colliding id, got: %v", err)
	}

	// A different id succeeds.
	if _, err := policy.NewSystemPermission(reg, policy.SystemPermissionConfig{
		ID: "p2", Name: "logs.read.again", Resource: policy.ResourceLog, Action: policy.ActionSelect,
	}); err != nil {
		t.Fatalf("unexpected error for distinct id: %v", err)
	}

	// Uniqueness is per entity kind: a role may reuse a permission's id.
	if _, err := policy.NewRole(reg, policy.RoleConfig{ID: "p1", Name: "reader", Rank: 10}); err != nil {
		t.Fatalf("unexpected error reusing id across kinds: %v", err)
	}
}

func TestRegistry_Lookups(t *testing.T) {
	reg := policy.NewRegistry()
	p := mustSystemPermission(t, reg, "p1", "logs.read", policy.ResourceLog, policy.ActionSelect)

	got, err := reg.GetPermission("p1")
	if err != nil {
		t.Fatalf("GetPermission: %v", err)
	}
	if got != p {
		t.Error("GetPermission returned a different entity")
	}

	_, err = reg.GetRole("nope")
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !policy.IsNotFoundErr(err) {
		t.Errorf("expected IsNotFoundErr, got: %v", err)
	}
	if !strings.Contains(err.Error(), "role") || !strings.Contains(err.Error(), "nope") {
		t.Errorf("error should name kind and id, got: %v", err)
	}
}

func TestRegistry_ValidateFailFast(t *testing.T) {
	reg := policy.NewRegistry()
	mustSystemPermission(t, reg, "read_logs", "logs.read", policy.ResourceLog, policy.ActionSelect)

	role, err := policy.NewRole(reg, policy.RoleConfig{ID: "developer", Name: "Developer", Rank: 80})
	if err != nil {
		t.Fatalf("creating role: %v", err)
	}
	role.AddPermissionID("read_logs")
	role.AddPermissionID("missing_perm")

	err = reg.Validate()
	if err == nil {
		t.Fatal("expected validation error for broken reference")
	}
	if !policy.IsBrokenReferenceErr(err) {
		t.Errorf("expected IsBrokenReferenceErr, got: %v", err)
	}
	if !strings.Contains(err.Error(), "developer") {
		t.Errorf("error should name the offending role, got: %v", err)
	}
	if !strings.Contains(err.Error(), "missing_perm") {
		t.Errorf("error should name the missing reference, got: %v", err)
	}
}

func TestRegistry_ValidateAccountRoles(t *testing.T) {
	reg := policy.NewRegistry()
	account, err := policy.NewAccount(reg, policy.AccountConfig{ID: "u1"})
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}
	account.AssignRoleID("ghost_role")

	err = reg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "u1") || !strings.Contains(err.Error(), "ghost_role") {
		t.Errorf("error should name account and missing role, got: %v", err)
	}
}

func TestGenerateSQL_FaultTolerance(t *testing.T) {
	reg := policy.NewRegistry()
	mustSystemPermission(t, reg, "read_logs", "logs.read", policy.ResourceLog, policy.ActionSelect)

	role, err := policy.NewRole(reg, policy.RoleConfig{ID: "developer", Name: "Developer", Rank: 80})
	if err != nil {
		t.Fatalf("creating role: %v", err)
	}
	role.AddPermissionID("read_logs")
	role.AddPermissionID("missing_perm")

	res, err := reg.GenerateSQL()
	if err != nil {
		t.Fatalf("GenerateSQL should tolerate missing references, got: %v", err)
	}

	var junctions []string
	for _, s := range res.Statements {
		if strings.Contains(s, "INSERT INTO role_permissions") {
			junctions = append(junctions, s)
		}
	}
	if len(junctions) != 1 {
		t.Fatalf("expected 1 junction insert for the resolvable reference, got %d", len(junctions))
	}
	if !strings.Contains(junctions[0], "'logs.read'") {
		t.Errorf("junction should reference the existing permission:\n%s", junctions[0])
	}

	if len(res.Diagnostics) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d: %v", len(res.Diagnostics), res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.Source != "developer" || d.Ref != "missing_perm" {
		t.Errorf("diagnostic should identify source and missing ref, got %+v", d)
	}
}

func TestGenerateSQL_OrderingInvariant(t *testing.T) {
	reg := buildExampleGraph(t)

	res, err := reg.GenerateSQL()
	if err != nil {
		t.Fatalf("GenerateSQL: %v", err)
	}

	lastEntityInsert := -1
	firstJunction := len(res.Statements)
	for i, s := range res.Statements {
		switch {
		case strings.HasPrefix(s, "INSERT INTO permissions ") ||
			strings.HasPrefix(s, "INSERT INTO permission_groups ") ||
			strings.HasPrefix(s, "INSERT INTO roles ") ||
			strings.HasPrefix(s, "INSERT INTO accounts "):
			if i > lastEntityInsert {
				lastEntityInsert = i
			}
		case strings.HasPrefix(s, "INSERT INTO permission_group_permissions") ||
			strings.HasPrefix(s, "INSERT INTO role_permissions") ||
			strings.HasPrefix(s, "INSERT INTO role_permission_groups") ||
			strings.HasPrefix(s, "INSERT INTO account_roles") ||
			strings.HasPrefix(s, "INSERT INTO account_permissions"):
			if i < firstJunction {
				firstJunction = i
			}
		}
	}

	if lastEntityInsert == -1 {
		t.Fatal("no entity inserts found")
	}
	if firstJunction == len(res.Statements) {
		t.Fatal("no junction inserts found")
	}
	if lastEntityInsert >= firstJunction {
		t.Errorf("entity insert at %d appears after junction at %d", lastEntityInsert, firstJunction)
	}
}

// buildExampleGraph constructs the reference scenario: two system permissions
// bundled in a group, a ranked role carrying the group, and one account
// holding the role.
func buildExampleGraph(t *testing.T) *policy.Registry {
	t.Helper()
	reg := policy.NewRegistry()

	readLogs := mustSystemPermission(t, reg, "read_logs", "logs.read", policy.ResourceLog, policy.ActionSelect)
	manageTables := mustSystemPermission(t, reg, "manage_tables", "tables.manage", policy.ResourceTable, policy.ActionAll)

	dev, err := policy.NewPermissionGroup(reg, policy.GroupConfig{ID: "dev", Name: "developers"})
	if err != nil {
		t.Fatalf("creating group: %v", err)
	}
	dev.AddPermissions([]*policy.PermissionDefinition{readLogs, manageTables})

	developer, err := policy.NewRole(reg, policy.RoleConfig{ID: "developer", Name: "Developer", Rank: 80})
	if err != nil {
		t.Fatalf("creating role: %v", err)
	}
	developer.AddPermissionGroup(policy.GroupGrant{Group: dev})

	account, err := policy.NewAccount(reg, policy.AccountConfig{ID: "u1"})
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}
	account.AssignRole(developer)

	return reg
}

func TestGenerateSQL_ExampleScenario(t *testing.T) {
	reg := buildExampleGraph(t)

	if err := reg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	res, err := reg.GenerateSQL()
	if err != nil {
		t.Fatalf("GenerateSQL: %v", err)
	}

	counts := map[string]int{}
	var order []string
	for _, s := range res.Statements {
		if strings.HasPrefix(strings.TrimSpace(s), "--") {
			continue
		}
		switch {
		case strings.HasPrefix(s, "INSERT INTO permissions "):
			counts["permission"]++
			order = append(order, "permission")
		case strings.HasPrefix(s, "INSERT INTO permission_groups "):
			counts["group"]++
			order = append(order, "group")
		case strings.HasPrefix(s, "INSERT INTO roles "):
			counts["role"]++
			order = append(order, "role")
		case strings.HasPrefix(s, "UPDATE auth_users "):
			counts["flag"]++
			order = append(order, "flag")
		case strings.HasPrefix(s, "INSERT INTO accounts "):
			counts["account"]++
			order = append(order, "account")
		case strings.HasPrefix(s, "INSERT INTO permission_group_permissions"):
			counts["group_perm"]++
			order = append(order, "group_perm")
		case strings.HasPrefix(s, "INSERT INTO role_permission_groups"):
			counts["role_group"]++
			order = append(order, "role_group")
		case strings.HasPrefix(s, "INSERT INTO account_roles"):
			counts["account_role"]++
			order = append(order, "account_role")
		case strings.HasPrefix(s, "INSERT INTO account_permissions"):
			counts["override"]++
		default:
			t.Errorf("unexpected statement: %s", s)
		}
	}

	want := map[string]int{
		"permission": 2, "group": 1, "role": 1, "flag": 1, "account": 1,
		"group_perm": 2, "role_group": 1, "account_role": 1,
	}
	for kind, n := range want {
		if counts[kind] != n {
			t.Errorf("expected %d %s statements, got %d", n, kind, counts[kind])
		}
	}
	if counts["override"] != 0 {
		t.Errorf("expected no override statements, got %d", counts["override"])
	}
	if got := res.StatementCount(); got != 10 {
		t.Errorf("expected 10 executable statements, got %d", got)
	}

	wantOrder := []string{
		"permission", "permission", "group", "role", "flag", "account",
		"group_perm", "group_perm", "role_group", "account_role",
	}
	if strings.Join(order, ",") != strings.Join(wantOrder, ",") {
		t.Errorf("statement order mismatch:\n got %v\nwant %v", order, wantOrder)
	}

	if len(res.Diagnostics) != 0 {
		t.Errorf("expected no diagnostics, got %v", res.Diagnostics)
	}
}

func TestGenerateSQL_GrantThenDeny(t *testing.T) {
	reg := policy.NewRegistry()
	readLogs := mustSystemPermission(t, reg, "read_logs", "logs.read", policy.ResourceLog, policy.ActionSelect)

	account, err := policy.NewAccount(reg, policy.AccountConfig{ID: "u1"})
	if err != nil {
		t.Fatalf("creating account: %v", err)
	}
	account.GrantPermission(readLogs, policy.OverrideOptions{})
	account.DenyPermission(readLogs, policy.OverrideOptions{})

	res, err := reg.GenerateSQL()
	if err != nil {
		t.Fatalf("GenerateSQL: %v", err)
	}

	var overrides []string
	for _, s := range res.Statements {
		if strings.HasPrefix(s, "INSERT INTO account_permissions") {
			overrides = append(overrides, s)
		}
	}
	if len(overrides) != 2 {
		t.Fatalf("expected 2 override inserts (no deduplication), got %d", len(overrides))
	}
	if !strings.Contains(overrides[0], "TRUE") {
		t.Errorf("first override should be a grant:\n%s", overrides[0])
	}
	if !strings.Contains(overrides[1], "FALSE") {
		t.Errorf("second override should be a deny:\n%s", overrides[1])
	}
	// Both resolve the same permission name via subquery.
	for _, o := range overrides {
		if !strings.Contains(o, "(SELECT id FROM permissions WHERE name = 'logs.read')") {
			t.Errorf("override should resolve permission by name:\n%s", o)
		}
	}
}

func TestGenerateSQL_SettingsFirst(t *testing.T) {
	reg := policy.NewRegistry()
	if _, err := policy.NewSystemSetting(reg, "site_name", "Acme Admin"); err != nil {
		t.Fatalf("creating setting: %v", err)
	}
	mustSystemPermission(t, reg, "p1", "logs.read", policy.ResourceLog, policy.ActionSelect)

	res, err := reg.GenerateSQL()
	if err != nil {
		t.Fatalf("GenerateSQL: %v", err)
	}

	settingIdx, permIdx := -1, -1
	for i, s := range res.Statements {
		if strings.HasPrefix(s, "INSERT INTO configuration") {
			settingIdx = i
		}
		if strings.HasPrefix(s, "INSERT INTO permissions ") {
			permIdx = i
		}
	}
	if settingIdx == -1 || permIdx == -1 {
		t.Fatalf("missing statements: setting=%d perm=%d", settingIdx, permIdx)
	}
	if settingIdx > permIdx {
		t.Error("settings must be emitted before permissions")
	}
}

func TestCompileResult_Script(t *testing.T) {
	reg := buildExampleGraph(t)
	res, err := reg.GenerateSQL()
	if err != nil {
		t.Fatalf("GenerateSQL: %v", err)
	}

	script := res.Script()
	if !strings.Contains(script, "-- checksum: "+res.Checksum()) {
		t.Error("script header should carry the checksum")
	}
	for _, s := range res.Statements {
		if !strings.Contains(script, s) {
			t.Errorf("script missing statement: %s", s)
		}
	}

	// No blank entries survive filtering.
	for _, s := range res.Statements {
		if strings.TrimSpace(s) == "" {
			t.Error("blank statement survived filtering")
		}
	}
}

func TestGenerateSQL_DuplicateGroupMemberTolerated(t *testing.T) {
	reg := policy.NewRegistry()
	p := mustSystemPermission(t, reg, "p1", "logs.read", policy.ResourceLog, policy.ActionSelect)

	g, err := policy.NewPermissionGroup(reg, policy.GroupConfig{ID: "g1", Name: "readers"})
	if err != nil {
		t.Fatalf("creating group: %v", err)
	}
	g.AddPermission(p)
	g.AddPermission(p)

	res, err := reg.GenerateSQL()
	if err != nil {
		t.Fatalf("GenerateSQL: %v", err)
	}

	n := 0
	for _, s := range res.Statements {
		if strings.HasPrefix(s, "INSERT INTO permission_group_permissions") {
			n++
			if !strings.Contains(s, "ON CONFLICT DO NOTHING") {
				t.Errorf("junction insert must be conflict-safe:\n%s", s)
			}
		}
	}
	if n != 2 {
		t.Errorf("duplicate membership should produce two junction inserts, got %d", n)
	}
}
