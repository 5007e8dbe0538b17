// Package ledger implements the tamper-evident audit chain at the core
// of the compliance platform.
//
// Every record embeds the SHA-256 content hash of its predecessor; the
// first record in a tenant's chain links to the empty sentinel. Appends
// are serialised per tenant so the link computation is race-free, and a
// verification walk (VerifyRecords) can prove or disprove the integrity
// of the whole chain after the fact.
//
// Two implementations of the Store contract are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger
