// Package password hashes new passwords with Argon2id and verifies both
// Argon2id and legacy bcrypt hashes.
//
// New hashes use the PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsUpgrade] is true for bcrypt hashes ($2a$, $2b$, $2y$) and for
// Argon2id hashes made with weaker parameters than the current config, so
// callers can rehash after a successful sign-in. Plaintext never leaves the
// call that received it.
package password
