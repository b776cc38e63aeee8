package pdfdoc

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity is how many rendered pages are kept.
const DefaultCacheCapacity = 10

type pageKey struct {
	url      string
	page     int
	zoom     float64
	rotation int
}

func (k pageKey) String() string {
	return fmt.Sprintf("%s|%d|%g|%d", k.url, k.page, k.zoom, k.rotation)
}

type cacheEntry struct {
	key  pageKey
	page *Page
}

// CachedRenderer keeps the most recently rendered pages of any document
// and merges identical requests that are in flight at the same time, so a
// burst of zoom or rotation changes renders each distinct page once.
type CachedRenderer struct {
	next     Renderer
	capacity int

	mu     sync.Mutex
	order  *list.List
	items  map[pageKey]*list.Element
	counts map[string]int

	flight singleflight.Group
}

func NewCachedRenderer(next Renderer, capacity int) *CachedRenderer {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &CachedRenderer{
		next:     next,
		capacity: capacity,
		order:    list.New(),
		items:    map[pageKey]*list.Element{},
		counts:   map[string]int{},
	}
}

func (c *CachedRenderer) PageCount(ctx context.Context, url string) (int, error) {
	c.mu.Lock()
	n, ok := c.counts[url]
	c.mu.Unlock()
	if ok {
		return n, nil
	}
	v, err, _ := c.flight.Do("count|"+url, func() (any, error) {
		return c.next.PageCount(ctx, url)
	})
	if err != nil {
		return 0, err
	}
	n = v.(int)
	c.mu.Lock()
	c.counts[url] = n
	c.mu.Unlock()
	return n, nil
}

func (c *CachedRenderer) RenderPage(ctx context.Context, url string, page int, opts RenderOptions) (*Page, error) {
	opts = opts.Normalize()
	key := pageKey{url: url, page: page, zoom: opts.Zoom, rotation: opts.Rotation}
	if p, ok := c.get(key); ok {
		return p, nil
	}
	v, err, _ := c.flight.Do(key.String(), func() (any, error) {
		if p, ok := c.get(key); ok {
			return p, nil
		}
		p, err := c.next.RenderPage(ctx, url, page, opts)
		if err != nil {
			return nil, err
		}
		c.put(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil
}

func (c *CachedRenderer) get(key pageKey) (*Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).page, true
}

func (c *CachedRenderer) put(key pageKey, p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).page = p
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, page: p})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len reports how many pages are cached.
func (c *CachedRenderer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
