package ingestion

import (
	"container/list"
	"fmt"

	"RangeLedger/internal/event"
)

// RecentKeys is the hot tier of duplicate suppression: an LRU of recently
// applied (kind, transaction id) keys. The cold tier is the event log's
// unique constraint, which makes the database insert a no-op regardless of
// what this cache says. Not thread-safe — each polling loop owns its keys,
// and a key is only ever written by its kind's loop.
type RecentKeys struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type recentEntry struct {
	key string
}

func NewRecentKeys(capacity int) *RecentKeys {
	return &RecentKeys{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func dedupKey(kind event.Kind, txID string) string {
	return fmt.Sprintf("%s:%s", kind, txID)
}

// Contains checks whether the key was recently applied (promotes on hit).
func (rk *RecentKeys) Contains(kind event.Kind, txID string) bool {
	elem, exists := rk.cache[dedupKey(kind, txID)]
	if exists {
		rk.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add records an applied key, evicting the oldest entry when full.
func (rk *RecentKeys) Add(kind event.Kind, txID string) {
	key := dedupKey(kind, txID)
	if elem, exists := rk.cache[key]; exists {
		rk.lruList.MoveToFront(elem)
		return
	}

	elem := rk.lruList.PushFront(&recentEntry{key: key})
	rk.cache[key] = elem

	if rk.lruList.Len() > rk.capacity {
		oldest := rk.lruList.Back()
		if oldest != nil {
			rk.lruList.Remove(oldest)
			delete(rk.cache, oldest.Value.(*recentEntry).key)
		}
	}
}

// Size returns the current number of cached keys.
func (rk *RecentKeys) Size() int {
	return rk.lruList.Len()
}
