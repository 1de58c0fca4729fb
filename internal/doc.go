// Package internal holds module-private helpers: refresh-token generation
// and validation, and the SHA-256 digests used for cache keys and log fields.
//
// Sub-packages: audit (event dispatch), flows (engine orchestration),
// rate (failed-login throttle) and retry (paced revocation retries).
package internal
