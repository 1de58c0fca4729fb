// Package store defines the credential-store contracts the authentication
// core consumes, together with the rows it reads and writes.
//
// Implementations live in sub-packages: [postgres] for production and
// [memory] for tests and demos. Every method must be safe for concurrent use.
// Refresh-token rotation goes through [Store.WithinRefreshTx] so the delete of
// the old token and the insert of its successor commit together.
package store
