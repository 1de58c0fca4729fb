// Package refresh manages opaque refresh tokens: issuance, atomic rotation
// with replay protection, bulk revocation and expiry sweeps.
//
// # Rotation tiers
//
// Rotation runs in two tiers with different failure handling. The store
// transaction (delete the old row, insert its successor) is authoritative and
// fails closed. The cache write that blacklists the old value runs after
// commit and is best-effort: a failure is logged and the rotation still
// succeeds, since the deleted row already prevents reuse.
//
// Concurrent rotations of the same token race on the delete; exactly one
// finds the row and the rest observe [ErrNotFound].
package refresh
