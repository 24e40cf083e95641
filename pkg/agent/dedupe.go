package agent

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dotsetgreg/personarelay/pkg/bus"
)

const defaultDedupeWindow = 10 * time.Minute

// dedupeCache remembers recently handled platform messages so a redelivered
// update is answered once.
type dedupeCache struct {
	seen *cache.Cache
}

func newDedupeCache(window time.Duration) *dedupeCache {
	if window <= 0 {
		window = defaultDedupeWindow
	}
	return &dedupeCache{seen: cache.New(window, window*2)}
}

func dedupeKey(msg bus.InboundMessage) string {
	if msg.MessageID == "" {
		return ""
	}
	return msg.Channel + ":" + msg.BusinessConnectionID + ":" + msg.ChatID + ":" + msg.MessageID
}

// firstSeen records msg and reports whether it had not been seen before.
// Events without a platform message ID are never treated as duplicates.
func (d *dedupeCache) firstSeen(msg bus.InboundMessage) bool {
	key := dedupeKey(msg)
	if key == "" {
		return true
	}
	return d.seen.Add(key, struct{}{}, cache.DefaultExpiration) == nil
}
