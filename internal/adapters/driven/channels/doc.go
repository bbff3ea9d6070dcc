// Package channels groups the intake channel adapters. Each subpackage
// implements the Channel port for one source: filesystem (fsnotify
// watch directories), manual (operator upload directory), email (Gmail
// attachments) and remote (Dropbox folders).
//
// Adapters own everything source-specific — credentials, staging,
// tracking what was already emitted — and surface documents purely as
// IntakeEvents. Dedup across channels happens downstream on the content
// fingerprint, so an adapter re-emitting a file it has seen before is
// harmless.
package channels
