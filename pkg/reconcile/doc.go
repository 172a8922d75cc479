// Package reconcile keeps local user records and identity provider users
// consistent.
//
// # Components
//
//   - Engine: forward sync. Runs on the request path and guarantees a
//     local record exists and matches the token claims.
//   - Pusher: reverse sync. Replaces the tracked identity provider
//     attributes with the local profile.
//   - BulkReconciler: pushes every local user on a bounded worker pool,
//     counting failures instead of aborting.
//   - Provisioner: ensures baseline realm roles exist before assignment.
//   - Service: administrative create, update, delete and role operations
//     that span both systems.
//
// # Consistency
//
// No operation is transactional across the store and the identity
// provider. A push or reconciliation can succeed on one side and fail on
// the other; the records converge on the next request or sweep.
//
// First-time creation relies on the store's insert-if-absent. A
// duplicate-key rejection is retried by re-reading, bounded by
// Config.MaxAttempts.
package reconcile
