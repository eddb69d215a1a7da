// Package store provides SQLite-backed durable storage for flows.
//
// A flow is saved as the canonical JSON of its document, compressed with
// zstd. Every save that changes the content bumps the flow's revision and
// appends a row to flow_history, so earlier revisions can be read back.
//
// # Critical Patterns
//
// Content Identity
//   - content_hash is ir.FlowHash of the document
//   - Saving an unchanged document is a no-op; the revision stays put
//
// Logical Time
//   - History ordering uses seq INTEGER, never timestamps
//   - seq is global across flows, so history is totally ordered
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
