// Package store persists the single active mail relay configuration.
//
// Three implementations are provided: MemoryStore for tests and ephemeral
// deployments, BoltStore for a local bbolt database file, and KeyringStore,
// a decorator that moves the relay password into the OS keyring.
package store
