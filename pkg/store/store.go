// Package store provides the persistence backends for session snapshots:
// an in-memory map for tests and ephemeral deployments, a SQLite database
// for single-node durability, and Redis for shared-store deployments with
// cross-instance pub/sub.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no snapshot exists for a session id.
var ErrNotFound = errors.New("store: session not found")

// DefaultTTL bounds how long a shared-store snapshot outlives its last write.
const DefaultTTL = 24 * time.Hour

// Store persists opaque session snapshots keyed by session id. Snapshots are
// the session's serialized JSON; the store never inspects them.
type Store interface {
	// Save writes one snapshot, replacing any previous value.
	Save(ctx context.Context, id string, snapshot []byte) error

	// SaveBatch writes all snapshots atomically: either every session is
	// persisted or none is. Callers retry individually on failure.
	SaveBatch(ctx context.Context, snapshots map[string][]byte) error

	// Load returns the snapshot for id, or ErrNotFound.
	Load(ctx context.Context, id string) ([]byte, error)

	// Delete removes the snapshot for id. Deleting a missing id is not an
	// error.
	Delete(ctx context.Context, id string) error

	// ListIDs returns every persisted session id.
	ListIDs(ctx context.Context) ([]string, error)

	// ReserveID atomically reserves a session id, reporting false when the
	// id is already taken. Backends without cross-instance state reserve
	// locally.
	ReserveID(ctx context.Context, id string) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// PubSub is the cross-instance fabric implemented by the shared backend:
// broadcast relay channels plus the instance heartbeat registry.
type PubSub interface {
	// Publish sends payload on channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe delivers messages for channel until cancel is called.
	Subscribe(ctx context.Context, channel string) (msgs <-chan Message, cancel func(), err error)

	// Heartbeat refreshes this instance's registry entry with the given TTL.
	Heartbeat(ctx context.Context, instanceID string, payload []byte, ttl time.Duration) error

	// Instances lists instance ids with a live heartbeat.
	Instances(ctx context.Context) ([]string, error)
}
