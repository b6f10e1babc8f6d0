package usecase

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupeSize is how many recent events the trigger engine remembers
const DefaultDedupeSize = 100

// EventDeduper is a bounded set of recently seen event keys.
// Keys are only ever added, never read back, so eviction is oldest-first.
type EventDeduper struct {
	cache *lru.Cache[string, struct{}]
}

// NewEventDeduper creates a deduper holding at most size keys
func NewEventDeduper(size int) *EventDeduper {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		// only fails for non-positive sizes
		panic(err)
	}
	return &EventDeduper{cache: cache}
}

// Seen records key and reports whether it was already present
func (d *EventDeduper) Seen(key string) bool {
	found, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return found
}

// Len returns the number of remembered keys
func (d *EventDeduper) Len() int {
	return d.cache.Len()
}
