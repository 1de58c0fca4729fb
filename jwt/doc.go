// Package jwt mints and verifies the short-lived signed access tokens that carry
// a caller's tenant, device and resolved grants.
//
// Tokens are three-part compact JWS values. Claims are a snapshot taken at mint
// time and are the sole source of authorization truth for the token's life.
package jwt
