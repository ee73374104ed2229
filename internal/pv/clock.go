package pv

import (
	"time"

	"github.com/google/uuid"
)

// Clock stamps created_at on albums and media items.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC, the zone shards store.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator mints shard-local ids for new rows and blob ids for new
// uploads. Ids only need to be unique within one shard or one account.
type IDGenerator interface {
	New() string
}

// UUIDGenerator mints version 7 UUIDs. They sort by creation time, which
// keeps primary-key inserts on SQL shards append-mostly.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}
