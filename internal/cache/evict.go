package cache

import "sort"

// evictOldest drops the entries with the oldest write timestamps until at most
// max remain. Reads do not refresh an entry's position. Caller holds c.mu.
func (c *Cache) evictOldest(max int) []string {
	excess := len(c.entries) - max
	if excess <= 0 {
		return nil
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := c.entries[keys[i]], c.entries[keys[j]]
		if a.Timestamp.Equal(b.Timestamp) {
			return keys[i] < keys[j]
		}

		return a.Timestamp.Before(b.Timestamp)
	})

	evicted := keys[:excess]
	for _, k := range evicted {
		delete(c.entries, k)
	}

	return evicted
}
