package triggers

import (
	"sync"
	"time"

	"github.com/gregolima/zeca/pkg/models"
)

// ruleCache is a time-bounded snapshot of all trigger rules. Refresh is
// lazy and idempotent: two evaluations observing a stale cache may both
// re-fetch, which is a harmless redundant read.
type ruleCache struct {
	mu        sync.Mutex
	items     []*models.Trigger
	fetchedAt time.Time
}

// get returns the cached snapshot and whether it is still fresh.
func (c *ruleCache) get(now time.Time, ttl time.Duration) ([]*models.Trigger, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchedAt.IsZero() || now.Sub(c.fetchedAt) >= ttl {
		return c.items, false
	}
	return c.items, true
}

func (c *ruleCache) set(items []*models.Trigger, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = items
	c.fetchedAt = now
}

// invalidate forces the next evaluation to re-fetch, so a just-fired rule's
// updated counters become visible immediately.
func (c *ruleCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fetchedAt = time.Time{}
}
