package triggers

import (
	"fmt"
	"sync"
	"time"

	"github.com/gregolima/zeca/pkg/models"
)

// cooldownTable holds rule-level and per-(rule,sender) last-fired stamps.
// Process-local by design: cooldowns are a soft rate limit, reset on
// restart, not a correctness guarantee.
type cooldownTable struct {
	mu     sync.Mutex
	byRule map[int64]time.Time
	byUser map[string]time.Time
}

func newCooldownTable() *cooldownTable {
	return &cooldownTable{
		byRule: make(map[int64]time.Time),
		byUser: make(map[string]time.Time),
	}
}

func userKey(ruleID int64, senderID string) string {
	return fmt.Sprintf("%d:%s", ruleID, senderID)
}

// blocked reports whether either cooldown window of the rule has not yet
// elapsed for this sender.
func (c *cooldownTable) blocked(t *models.Trigger, senderID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.CooldownSeconds > 0 {
		if last, ok := c.byRule[t.ID]; ok {
			if now.Sub(last) < time.Duration(t.CooldownSeconds)*time.Second {
				return true
			}
		}
	}
	if t.CooldownPerUserSeconds > 0 {
		if last, ok := c.byUser[userKey(t.ID, senderID)]; ok {
			if now.Sub(last) < time.Duration(t.CooldownPerUserSeconds)*time.Second {
				return true
			}
		}
	}
	return false
}

// record stamps both cooldown maps after a successful fire.
func (c *cooldownTable) record(ruleID int64, senderID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.byRule[ruleID] = now
	c.byUser[userKey(ruleID, senderID)] = now
}
