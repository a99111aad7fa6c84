package sync

import (
	"context"

	"github.com/daniddm/padel-canaveral/internal/shopify"
	"go.uber.org/zap"
)

// product statuses scanned when building the cache; a default listing call
// may exclude drafts and archived products.
var allStatuses = []string{"active", "draft", "archived"}

// HandleCache maps product handles to remote IDs. It is populated lazily by
// one full paginated scan across every status, then kept consistent by the
// reconciler on every create and delete. It is never partially refreshed.
type HandleCache struct {
	api    StoreClient
	log    *zap.Logger
	loaded bool
	ids    map[string]int64
}

// NewHandleCache creates an empty cache over the given client.
func NewHandleCache(api StoreClient, log *zap.Logger) *HandleCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &HandleCache{api: api, log: log, ids: make(map[string]int64)}
}

// Resolve returns the remote ID for a handle, scanning the store on first
// use.
func (c *HandleCache) Resolve(ctx context.Context, handle string) (int64, bool, error) {
	if handle == "" {
		return 0, false, nil
	}
	if err := c.load(ctx); err != nil {
		return 0, false, err
	}
	id, ok := c.ids[handle]
	return id, ok, nil
}

// Set records a handle after a create.
func (c *HandleCache) Set(handle string, id int64) {
	c.ids[handle] = id
}

// Invalidate drops a handle after a delete.
func (c *HandleCache) Invalidate(handle string) {
	delete(c.ids, handle)
}

// Len reports the number of cached handles.
func (c *HandleCache) Len() int {
	return len(c.ids)
}

func (c *HandleCache) load(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	c.log.Info("loading existing product cache")

	for _, status := range allStatuses {
		var sinceID int64
		for {
			page, err := c.api.ListProductsPage(ctx, shopify.ListOptions{
				SinceID: sinceID,
				Fields:  "id,handle",
				Status:  status,
			})
			if err != nil {
				return err
			}
			if len(page) == 0 {
				break
			}
			for _, p := range page {
				if p.Handle == "" || p.ID == 0 {
					continue
				}
				// First mapping wins; later duplicates are data bugs.
				if _, ok := c.ids[p.Handle]; !ok {
					c.ids[p.Handle] = p.ID
				}
			}
			sinceID = page[len(page)-1].ID
			if len(page) < shopify.PageSize {
				break
			}
		}
	}

	c.loaded = true
	c.log.Info("product cache loaded", zap.Int("products", len(c.ids)))
	return nil
}
