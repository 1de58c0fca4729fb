// Package blacklist invalidates access and refresh tokens at three
// granularities: a single token, every token of a user+device issued up to a
// cutoff, and every token of a user issued up to a cutoff.
//
// Entries live in Redis with a TTL bounded by what they invalidate and are
// mirrored into a durable key/expiry table. Reads fail open: a cache error
// falls back to the durable table, and a fallback error reports "not
// blacklisted". Writes of user and device cutoffs fail closed.
package blacklist
