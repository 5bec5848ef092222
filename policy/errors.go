package policy

import "errors"

// Sentinel errors for the policy compiler. Construction and registration
// failures are fatal and immediate; reference failures during junction
// emission are not errors at all - they are returned as Diagnostics on the
// compile result. See Registry.GenerateSQL.
//
// Use the Is*Err helper functions to classify errors at call sites.
var (
	// ErrDuplicateIdentifier is returned when a second entity of the same kind
	// is registered under an already-used logical id. The registry never
	// silently overwrites.
	ErrDuplicateIdentifier = errors.New("policy: duplicate identifier")

	// ErrInvalidConfiguration is returned when a factory's input fails schema
	// validation: a value outside a closed enum, a missing conditionally
	// required field, or an out-of-range rank.
	ErrInvalidConfiguration = errors.New("policy: invalid configuration")

	// ErrNotFound is returned by direct registry lookups when no entity of the
	// requested kind exists under the given logical id.
	ErrNotFound = errors.New("policy: not found")

	// ErrBrokenReference is returned by the strict Validate pass on the first
	// cross-entity reference that cannot be resolved. The message names both
	// the referencing entity and the missing id.
	ErrBrokenReference = errors.New("policy: broken reference")

	// ErrCompilation wraps any unexpected failure inside GenerateSQL. Per-item
	// reference failures never produce this; structural failures inside an
	// entity's own emission do.
	ErrCompilation = errors.New("policy: compilation failed")
)

// IsDuplicateIdentifierErr returns true if err is or wraps ErrDuplicateIdentifier.
func IsDuplicateIdentifierErr(err error) bool {
	return errors.Is(err, ErrDuplicateIdentifier)
}

// IsInvalidConfigurationErr returns true if err is or wraps ErrInvalidConfiguration.
func IsInvalidConfigurationErr(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

// IsNotFoundErr returns true if err is or wraps ErrNotFound.
func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBrokenReferenceErr returns true if err is or wraps ErrBrokenReference.
func IsBrokenReferenceErr(err error) bool {
	return errors.Is(err, ErrBrokenReference)
}

// IsCompilationErr returns true if err is or wraps ErrCompilation.
func IsCompilationErr(err error) bool {
	return errors.Is(err, ErrCompilation)
}
