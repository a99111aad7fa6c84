package sync

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/daniddm/padel-canaveral/internal/shopify"
)

// Prune deletes products this tool created (identified by the scraper tag)
// that no longer appear in any batch of the run. Archived products, products
// carrying an ignore tag and draft-locked products are never pruned. Returns
// the number of deletions.
func (r *Reconciler) Prune(ctx context.Context) (int, error) {
	log := r.log

	var candidates []shopify.Product
	for _, status := range allStatuses {
		var sinceID int64
		for {
			page, err := r.api.ListProductsPage(ctx, shopify.ListOptions{
				SinceID: sinceID,
				Fields:  "id,handle,tags,status",
				Status:  status,
			})
			if err != nil {
				return 0, err
			}
			if len(page) == 0 {
				break
			}
			for _, p := range page {
				if hasTag(p.Tags, r.opts.ScraperTag) {
					candidates = append(candidates, p)
				}
			}
			sinceID = page[len(page)-1].ID
			if len(page) < shopify.PageSize {
				break
			}
		}
	}

	pruned := 0
	for _, p := range candidates {
		if r.processed[p.Handle] {
			continue
		}
		if strings.EqualFold(p.Status, "archived") {
			log.Debug("prune skipping archived product", zap.String("handle", p.Handle))
			continue
		}
		if r.classifier.HasIgnoreTag(p.Tags) {
			log.Debug("prune skipping ignored product", zap.String("handle", p.Handle))
			continue
		}
		if strings.EqualFold(p.Status, "draft") || hasTag(p.Tags, r.opts.KeepDraftTag) {
			log.Debug("prune skipping draft-locked product", zap.String("handle", p.Handle))
			continue
		}

		log.Info("pruning product absent from batches",
			zap.Int64("product_id", p.ID),
			zap.String("handle", p.Handle))
		if r.opts.DryRun {
			pruned++
			continue
		}
		if err := r.api.DeleteProduct(ctx, p.ID); err != nil {
			if ctx.Err() != nil {
				return pruned, ctx.Err()
			}
			log.Error("prune delete failed",
				zap.String("handle", p.Handle),
				zap.Error(err))
			continue
		}
		r.cache.Invalidate(p.Handle)
		pruned++
	}

	r.summary.Pruned += pruned
	return pruned, nil
}
