// Package driving defines the interfaces through which the outside world
// drives the core.
//
// These are the "driving" or "primary" ports in hexagonal architecture.
// The CLI depends on these interfaces; core services implement them.
//
//   - IntakeQueue: the intake boundary channel adapters submit to
//   - Pipeline: the operational surface (run once, run continuous,
//     status, configuration check)
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or service package
package driving
