package testutil

import (
	"fmt"
	"sync"
	"time"

	"pv-go/internal/pv"
)

// Epoch is the time FixedClock starts at: 2024-01-15 10:30:00 UTC.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

var (
	_ pv.Clock       = (*StubClock)(nil)
	_ pv.IDGenerator = (*StubIDGenerator)(nil)
)

// StubClock is a pv.Clock that only moves when told to. Shards and the app
// may share one across goroutines.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock at Epoch.
func FixedClock() *StubClock { return NewStubClock(Epoch) }

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// StubIDGenerator mints "<prefix>-001", "<prefix>-002", ... Test shards use
// the shard id as prefix, so local ids read like "shard-a-001"; test accounts
// use "<account>-blob". Accounts upload in parallel, so New locks.
type StubIDGenerator struct {
	prefix string

	mu   sync.Mutex
	next int
}

func NewStubIDGenerator(prefix string) *StubIDGenerator {
	return &StubIDGenerator{prefix: prefix, next: 1}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%03d", g.prefix, g.next)
	g.next++
	return id
}
