package narrate

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jamborta/readaloud/internal/speech"
)

// DefaultClipCacheSize is the number of synthesized clips kept in memory.
const DefaultClipCacheSize = 50

// clipCache is a fixed-size LRU of synthesized audio.
type clipCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

type clipEntry struct {
	key  string
	data []byte
}

func newClipCache(size int) *clipCache {
	if size <= 0 {
		size = DefaultClipCacheSize
	}
	return &clipCache{size: size, order: list.New(), items: make(map[string]*list.Element)}
}

func (c *clipCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*clipEntry).data, true
}

func (c *clipCache) Put(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*clipEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&clipEntry{key: key, data: data})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*clipEntry).key)
	}
}

// lookupCache remembers whether pre-generated audio exists for a chunk.
// Both hits and misses are cached until Invalidate.
type lookupCache struct {
	store speech.ChunkStore

	mu      sync.Mutex
	entries map[speech.ChunkRef]string
	epoch   uint64
	group   singleflight.Group
}

func newLookupCache(store speech.ChunkStore) *lookupCache {
	return &lookupCache{store: store, entries: make(map[speech.ChunkRef]string)}
}

// URL returns the stored audio URL for ref, or speech.ErrNotFound.
func (l *lookupCache) URL(ctx context.Context, ref speech.ChunkRef) (string, error) {
	if l.store == nil {
		return "", speech.ErrNotFound
	}
	l.mu.Lock()
	u, ok := l.entries[ref]
	epoch := l.epoch
	l.mu.Unlock()
	if ok {
		if u == "" {
			return "", speech.ErrNotFound
		}
		return u, nil
	}

	v, err, _ := l.group.Do(ref.String(), func() (any, error) {
		u, err := l.store.ChunkAudio(ctx, ref)
		if err != nil && !errors.Is(err, speech.ErrNotFound) {
			return "", err
		}
		l.mu.Lock()
		if l.epoch == epoch {
			l.entries[ref] = u
		}
		l.mu.Unlock()
		return u, nil
	})
	if err != nil {
		return "", err
	}
	if v.(string) == "" {
		return "", speech.ErrNotFound
	}
	return v.(string), nil
}

// Invalidate forgets every cached lookup.
func (l *lookupCache) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[speech.ChunkRef]string)
	l.epoch++
}
