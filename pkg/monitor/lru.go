// +build linux

package monitor

import "container/list"

// watchLRU is a small least-recently-used eviction cache mapping watched
// paths to their inotify watch descriptors: a map for lookup and a
// doubly-linked list for recency order.
type watchLRU struct {
	capacity int
	onEvict  func(path string, wd int32)

	byPath map[string]*list.Element
	order  *list.List
}

type watchLRUEntry struct {
	path string
	wd   int32
}

func newWatchLRU(capacity int, onEvict func(path string, wd int32)) *watchLRU {
	return &watchLRU{
		capacity: capacity,
		onEvict:  onEvict,
		byPath:   make(map[string]*list.Element),
		order:    list.New(),
	}
}

// add records path/wd as most-recently-used, evicting the least-recently-used
// entry if the cache is now over capacity.
func (c *watchLRU) add(path string, wd int32) {
	if element, ok := c.byPath[path]; ok {
		c.order.MoveToFront(element)
		element.Value.(*watchLRUEntry).wd = wd
		return
	}
	entry := &watchLRUEntry{path: path, wd: wd}
	c.byPath[path] = c.order.PushFront(entry)

	for c.capacity > 0 && c.order.Len() > c.capacity {
		back := c.order.Back()
		evicted := back.Value.(*watchLRUEntry)
		c.order.Remove(back)
		delete(c.byPath, evicted.path)
		if c.onEvict != nil {
			c.onEvict(evicted.path, evicted.wd)
		}
	}
}

// remove evicts path, if present, without invoking onEvict.
func (c *watchLRU) remove(path string) {
	if element, ok := c.byPath[path]; ok {
		c.order.Remove(element)
		delete(c.byPath, path)
	}
}

// pathForWatch performs the reverse lookup used when an inotify event
// arrives bearing only a watch descriptor.
func (c *watchLRU) pathForWatch(wd int32) (string, bool) {
	for element := c.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*watchLRUEntry)
		if entry.wd == wd {
			return entry.path, true
		}
	}
	return "", false
}

func (c *watchLRU) len() int {
	return c.order.Len()
}
