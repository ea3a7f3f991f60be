// Package storage provides the persistence contracts for the authorization
// server: registered clients, issued access tokens (with a secondary unique
// index on refresh tokens), and pending authorization codes.
//
// Implementations must uphold two properties the protocol layer relies on:
//
//   - Token inserts are atomic with respect to uniqueness. Two concurrent
//     inserts can never both succeed with an equal access_token or
//     refresh_token value; the loser observes ErrDuplicateToken and the
//     issuer regenerates.
//   - Reads never interpret expiry. Expiration is evaluated lazily by the
//     verifier so that the store needs no background sweeper.
//
// The in-memory implementation in storage/memory is suitable for development,
// testing, and single-instance deployments.
package storage
