// Package orchestrator implements lease-coordinated consumption from an
// at-least-once queue. A Supervisor polls the queue through a narrow
// QueueClient, admits deliveries into an in-memory lease Tracker,
// dispatches them to a fixed Pool of worker slots, and settles each
// handler Outcome by deleting, releasing, or dead-lettering the message.
// A background Extender keeps visibility deadlines ahead of slow
// handlers and reports leases that expire anyway.
//
// # Message lifecycle
//
//  1. Receive: supervisor polls only while idle slots exist, requesting
//     at most that many messages.
//  2. Register: a Lease is created with deadline now+visibility; a
//     duplicate in-flight message id is rejected, original untouched.
//  3. Dispatch: the lease is bound to a worker slot; the handler runs
//     under a per-message timeout with panic capture.
//  4. Settle:
//     - success: delete from the queue, release the lease
//     - retryable/timeout: release (optionally shortening visibility
//     for faster redelivery); past the retry ceiling the message is
//     dead-lettered and deleted
//     - fatal: dead-lettered and deleted, or released and flagged for
//     operators when no dead-letter queue is configured
//  5. Extend: the Extender renews deadlines for running handlers until
//     the maximum lease lifetime, then lets the lease lapse.
//  6. Lease loss: an expired or service-reclaimed lease is terminal;
//     late outcomes for it are discarded.
//
// # Invariants
//
// At most one active lease per message id inside the process; deadlines
// never decrease while a lease is active or extending; a lease leaves
// the tracker no later than the delete call for its message; release is
// idempotent.
//
// # Delivery semantics
//
// The underlying queue is at-least-once and this package preserves
// exactly that: a crash between handler completion and delete, or a
// lease expiring mid-handler, results in redelivery, never loss.
// Handlers should be idempotent.
package orchestrator
