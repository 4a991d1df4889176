// Package jwks fetches and memoizes the signing keys an issuer publishes at
// {issuer}/.well-known/jwks.json.
//
// Key sets are cached per issuer for the lifetime of the [Cache]. A key set
// is fetched at most once: concurrent lookups for an issuer whose key set
// is not yet known share a single outbound request, and a successful
// result is never refreshed. A failed fetch is not cached, so the next
// lookup retries.
//
// Key rotation at the issuer is picked up only by a new process.
package jwks
