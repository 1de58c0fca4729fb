// Package device derives stable device identifiers from connection metadata
// and enforces the per-user active device quota.
//
// A device id is a pure function of the user agent and client address. When a
// new device would exceed the quota, the least recently used active devices are
// evicted: their refresh tokens are revoked, outstanding access tokens for the
// device are blacklisted, and the device is deactivated. Eviction failures are
// reported through a hook and never fail the registration that triggered them.
package device
