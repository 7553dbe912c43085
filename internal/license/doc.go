// Package license holds the pure licensing domain logic: key generation,
// the license-type expiry table and the static product catalog.
//
// Nothing here performs I/O besides reading crypto/rand; persistence,
// delivery and logging live in their own packages and are orchestrated by
// the services layer.
package license
