package paging

// pageCache records every distinct URL a cursor has visited, retaining the
// raw response payload only when retention is enabled. Without retention a
// visit is still recorded (with a nil payload) so repeat visits are
// recognized at no memory cost.
type pageCache struct {
	retain  bool
	visited map[string][]byte
}

func newPageCache(retain bool) *pageCache {
	return &pageCache{
		retain:  retain,
		visited: make(map[string][]byte),
	}
}

// record commits a URL to the cache at most once; later visits to the same
// URL never overwrite the first stored payload.
func (c *pageCache) record(url string, payload []byte) {
	if _, ok := c.visited[url]; ok {
		return
	}
	if c.retain {
		c.visited[url] = payload
	} else {
		c.visited[url] = nil
	}
}

// get returns the retained payload for url, if any.
func (c *pageCache) get(url string) ([]byte, bool) {
	payload, ok := c.visited[url]
	if !ok || payload == nil {
		return nil, false
	}
	return payload, true
}

// size is the number of distinct URLs visited.
func (c *pageCache) size() int {
	return len(c.visited)
}
