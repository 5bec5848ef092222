package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Destination table names. Every cross-entity reference in emitted SQL is a
// natural-key subquery against one of these, never a database-generated id.
const (
	tablePermissions  = "permissions"
	tableGroups       = "permission_groups"
	tableRoles        = "roles"
	tableAccounts     = "accounts"
	tableSettings     = "configuration"
	tableAuthUsers    = "auth_users"
	tableGroupPerms   = "permission_group_permissions"
	tableRolePerms    = "role_permissions"
	tableRoleGroups   = "role_permission_groups"
	tableAccountRoles = "account_roles"
	tableAccountPerms = "account_permissions"
)

// escapeSQL doubles embedded single quotes. Statements are assembled as text
// rather than parameterized, so this must be applied to every interpolated
// string value without exception. It is applied exactly once per serialization.
func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// quote renders s as a SQL string literal.
func quote(s string) string {
	return "'" + escapeSQL(s) + "'"
}

// quoteOrNull renders s as a literal, or NULL when empty.
func quoteOrNull(s string) string {
	if s == "" {
		return "NULL"
	}
	return quote(s)
}

// timeOrNull renders t as a UTC RFC 3339 literal, or NULL when absent.
func timeOrNull(t *time.Time) string {
	if t == nil {
		return "NULL"
	}
	return quote(t.UTC().Format(time.RFC3339))
}

// boolLiteral renders b as a SQL boolean.
func boolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// jsonOrNull renders m as a quoted jsonb literal, or NULL when m is nil.
// Marshal failures propagate so GenerateSQL can wrap them as compilation
// errors rather than emitting a corrupt literal.
func jsonOrNull(m Metadata) (string, error) {
	if m == nil {
		return "NULL", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling json payload: %w", err)
	}
	return quote(string(raw)) + "::jsonb", nil
}

// subquery builds the natural-key lookup expression used to resolve a row's
// identity at execution time: (SELECT id FROM permissions WHERE name = '…').
func subquery(table, keyColumn, value string) string {
	return fmt.Sprintf("(SELECT id FROM %s WHERE %s = %s)", table, keyColumn, quote(value))
}

// insertStmt is a minimal typed INSERT. Values are pre-rendered SQL
// expressions (literals or subqueries), not raw strings.
type insertStmt struct {
	table        string
	columns      []string
	values       []string
	conflictSafe bool // append ON CONFLICT DO NOTHING
}

// SQL renders the statement, terminated with a semicolon.
func (s insertStmt) SQL() string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(s.table)
	b.WriteString(" (")
	b.WriteString(strings.Join(s.columns, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(s.values, ", "))
	b.WriteString(")")
	if s.conflictSafe {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	b.WriteString(";")
	return b.String()
}

// phaseMarker renders a section comment separating compilation phases.
func phaseMarker(title string) string {
	return "-- phase: " + title
}

// isComment reports whether a statement line is a phase marker rather than an
// executable statement.
func isComment(stmt string) bool {
	return strings.HasPrefix(strings.TrimSpace(stmt), "--")
}
