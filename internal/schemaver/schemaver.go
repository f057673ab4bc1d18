// Package schemaver gates IL programs on their declared schema
// version before they reach the backend. The wire format
// (internal/il's JSON encoding) is versioned independently of this
// module's own release cadence, so a program produced by an older or
// newer IL builder can be rejected with a clear diagnostic instead of
// failing deep inside opcode dispatch.
package schemaver

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Supported is the range of il.Program.SchemaVersion values this
// backend accepts. It tracks the IL's major version: a new major
// version is assumed to change the opcode set or payload shapes in a
// way this emitter has not been updated for.
const Supported = "^1.0.0"

// Check parses version and verifies it satisfies Supported. An empty
// version is rejected outright rather than treated as a wildcard:
// every IL producer is expected to stamp a version.
func Check(version string) error {
	if version == "" {
		return fmt.Errorf("schemaver: program carries no schema_version")
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("schemaver: %q is not a valid schema version: %w", version, err)
	}

	constraint, err := semver.NewConstraint(Supported)
	if err != nil {
		// Supported is a compile-time constant; a parse failure here is
		// a programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("schemaver: invalid built-in constraint %q: %v", Supported, err))
	}

	if !constraint.Check(v) {
		return fmt.Errorf("schemaver: program schema version %s does not satisfy %s", version, Supported)
	}

	return nil
}
