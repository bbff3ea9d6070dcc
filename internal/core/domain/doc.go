// Package domain defines the core business entities for docdispatch.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: The unit of work flowing through the pipeline
//   - IntakeEvent: Raw input handed over by a channel adapter
//   - Status: The bounded processing state machine
//   - Rule/Verdict: Declarative classification rules and their outcome
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
