package policy

import "fmt"

// SystemSettingDefinition is a flat key/value configuration record. Settings
// have no relationships and are emitted first.
type SystemSettingDefinition struct {
	key   string
	value string
}

// NewSystemSetting constructs a setting and registers it into reg.
func NewSystemSetting(reg *Registry, key, value string) (*SystemSettingDefinition, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: system setting key is required", ErrInvalidConfiguration)
	}
	s := &SystemSettingDefinition{key: key, value: value}
	if err := reg.AddSystemSetting(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Key returns the setting key.
func (s *SystemSettingDefinition) Key() string { return s.key }

// Value returns the setting value.
func (s *SystemSettingDefinition) Value() string { return s.value }

// Emit serializes the setting as a single INSERT.
func (s *SystemSettingDefinition) Emit() (string, error) {
	stmt := insertStmt{
		table:   tableSettings,
		columns: []string{"key", "value", "created_at"},
		values:  []string{quote(s.key), quote(s.value), "NOW()"},
	}
	return stmt.SQL(), nil
}
