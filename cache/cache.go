package cache

import (
	"sync/atomic"
	"time"

	"github.com/use-agent/powerwatch/models"
)

// Latest is the single-slot LatestData cache. Readers never block and
// always observe either the previous or the new snapshot; Store replaces the
// slot in one atomic write. The zero value is an empty cache.
type Latest struct {
	slot atomic.Pointer[models.Snapshot]
}

// Load returns the latest snapshot, or nil before the first Store.
// The returned snapshot must not be modified.
func (c *Latest) Load() *models.Snapshot {
	return c.slot.Load()
}

// Store publishes snap. The cache takes ownership; callers must not modify
// snap afterwards. A nil snap is ignored so the slot never goes back to empty.
func (c *Latest) Store(snap *models.Snapshot) {
	if snap == nil {
		return
	}
	c.slot.Store(snap)
}

// Get returns the latest snapshot if it is no older than maxAge at now.
func (c *Latest) Get(maxAge time.Duration, now time.Time) (*models.Snapshot, bool) {
	snap := c.slot.Load()
	if snap == nil || snap.Age(now) > maxAge {
		return nil, false
	}
	return snap, true
}
