// Package offline implements a cache-first HTTP shell over versioned, named
// caches.
//
// A Shell has three lifecycle steps:
//
//	Install   pre-caches a fixed manifest of root-relative asset paths
//	          fetched from the origin. Assets that fail are logged and skipped.
//	Fetch     serves a GET from the named cache when present; otherwise asks
//	          the origin and stores 200 responses before returning them. When
//	          both fail the cached root document is served instead.
//	Activate  deletes every cache whose name differs from the shell's, so at
//	          most one cache generation survives a version bump.
//
// Fetch is exposed as an http.RoundTripper (the Shell itself, or a copy bound
// to another origin via Transport) and as an http.Handler via Handler.
//
// Cache entries are keyed by the exact request URL. Nothing expires within a
// generation; bumping the cache name is the only eviction.
package offline
