// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Ledger: the authoritative Document state store; sole writer of
//     status and history, owner of the dedup and transition guards
//   - ExtractionGateway: type detection plus capability-typed extraction
//   - Extractor: one adapter per detected file type behind the gateway
//
// # Optional Interfaces
//
//   - Notifier: outbound completion notifications. Failures here are
//     logged and never roll back a ledger transition.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, channel, or extraction package
package driven
