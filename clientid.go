package mq

import "github.com/google/uuid"

// ClientIdProvider generates client identifiers for new connections.
// Implementations must be safe for concurrent use: multiple connections in
// the same pool may request an ID at the same time.
type ClientIdProvider interface {
	// Generate returns a client identifier derived from prefix.
	Generate(prefix string) string
}

// uuidClientIdProvider is the default ClientIdProvider: it appends a UUIDv4
// to prefix, making collisions between concurrently-created connections
// astronomically unlikely without requiring any coordination between them
// (SPEC_FULL §4.9, §9).
type uuidClientIdProvider struct{}

// Generate implements ClientIdProvider.
func (uuidClientIdProvider) Generate(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// DefaultClientIdProvider is the package-wide default ClientIdProvider.
var DefaultClientIdProvider ClientIdProvider = uuidClientIdProvider{}
