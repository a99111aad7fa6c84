package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daniddm/padel-canaveral/internal/batch"
	"github.com/daniddm/padel-canaveral/internal/shopify"
)

// Options configures a Reconciler.
type Options struct {
	// ScraperTag marks every product this tool creates; pruning only ever
	// touches products carrying it.
	ScraperTag string
	// KeepDraftTag freezes a product in draft status.
	KeepDraftTag string
	// IgnoreTags make a product completely untouchable.
	IgnoreTags []string
	// LocationName selects the stock location for inventory writes; empty
	// picks the store's first location.
	LocationName string
	// PlaceholderKeywords identify placeholder images by URL substring.
	PlaceholderKeywords []string

	DryRun     bool
	SkipImages bool
}

// Reconciler drives one sync run: it takes local groups one at a time,
// resolves their remote identity, classifies the difference and applies the
// resulting action. It is not safe for concurrent use.
type Reconciler struct {
	api        StoreClient
	log        *zap.Logger
	opts       Options
	classifier *Classifier
	cache      *HandleCache

	locationID int64

	processed    map[string]bool
	failedImages []FailedImage
	summary      Summary
}

// NewReconciler creates a reconciler for one run. Every log line carries the
// run ID so interleaved runs stay distinguishable in aggregated logs.
func NewReconciler(api StoreClient, log *zap.Logger, opts Options) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("run_id", uuid.NewString()))
	return &Reconciler{
		api:        api,
		log:        log,
		opts:       opts,
		classifier: NewClassifier(opts.IgnoreTags, opts.PlaceholderKeywords, opts.SkipImages),
		cache:      NewHandleCache(api, log),
		processed:  make(map[string]bool),
	}
}

// Sync reconciles every group in order. Failures on one group are logged and
// counted as skipped; only context cancellation aborts the run.
func (r *Reconciler) Sync(ctx context.Context, groups []batch.Group) error {
	for i := range groups {
		group := &groups[i]
		if err := r.syncGroup(ctx, group); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("group failed",
				zap.String("handle", group.Handle),
				zap.Error(err))
			r.summary.Skipped++
		}
	}
	return ctx.Err()
}

// Summary returns the running tally.
func (r *Reconciler) Summary() Summary { return r.summary }

// FailedImages returns the images that could not be attached this run.
func (r *Reconciler) FailedImages() []FailedImage { return r.failedImages }

// Processed returns the set of remote handles this run touched or confirmed;
// pruning spares them.
func (r *Reconciler) Processed() map[string]bool { return r.processed }

func (r *Reconciler) syncGroup(ctx context.Context, group *batch.Group) error {
	handle := group.Handle
	log := r.log.With(zap.String("handle", handle))

	id, found, err := r.resolveIdentity(ctx, group, log)
	if err != nil {
		return err
	}
	// The effective handle may differ when a rename collided; resolveIdentity
	// already recorded it as processed in that case.
	r.processed[handle] = true

	var remote *shopify.Product
	if found {
		remote, err = r.api.GetProduct(ctx, id)
		if err != nil {
			if !shopify.IsNotFound(err) {
				return err
			}
			// Stale cache entry.
			r.cache.Invalidate(handle)
			remote = nil
		}
	}

	// Draft status and the keep-draft tag both lock a product in draft; the
	// local batch can never publish it. Ignored and archived products are
	// frozen entirely, so the lock is only enforced outside those states.
	ignored := remote != nil && r.classifier.HasIgnoreTag(remote.Tags)
	archived := remote != nil && strings.EqualFold(remote.Status, "archived")
	draftLocked := remote != nil &&
		(strings.EqualFold(remote.Status, "draft") || hasTag(remote.Tags, r.opts.KeepDraftTag))

	if draftLocked && !ignored && !archived {
		if err := r.enforceDraftLock(ctx, remote, log); err != nil {
			return err
		}
	}

	decision := r.classifier.Classify(group, remote)
	switch decision.Action {
	case ActionCreate:
		return r.executeCreate(ctx, group, log)
	case ActionRecreate:
		return r.executeRecreate(ctx, group, remote, draftLocked, log)
	case ActionUpdate:
		return r.executeUpdate(ctx, group, remote, decision.Diff, log)
	default:
		log.Debug("no changes", zap.String("action", decision.Action.String()))
		r.summary.Skipped++
		return nil
	}
}

// enforceDraftLock pushes a draft-locked product that went live back to draft
// and makes the keep-draft tag visible on it, so the lock survives manual tag
// or status edits. Callers gate on the ignore and archived protections.
func (r *Reconciler) enforceDraftLock(ctx context.Context, remote *shopify.Product, log *zap.Logger) error {
	upd := shopify.ProductUpdate{ID: remote.ID}
	if !strings.EqualFold(remote.Status, "draft") {
		draft := "draft"
		upd.Status = &draft
	}
	if r.opts.KeepDraftTag != "" && !hasTag(remote.Tags, r.opts.KeepDraftTag) {
		tags := appendTag(remote.Tags, r.opts.KeepDraftTag)
		upd.Tags = &tags
	}
	if upd.Status == nil && upd.Tags == nil {
		return nil
	}

	if r.opts.DryRun {
		log.Info("would enforce draft lock", zap.Int64("product_id", remote.ID))
		return nil
	}
	if err := r.api.UpdateProduct(ctx, upd); err != nil {
		return fmt.Errorf("enforce draft lock: %w", err)
	}
	if upd.Status != nil {
		remote.Status = *upd.Status
	}
	if upd.Tags != nil {
		remote.Tags = *upd.Tags
	}
	log.Info("enforced draft lock", zap.Int64("product_id", remote.ID))
	return nil
}

// resolveIdentity finds the remote product for a group. The secondary key
// (barcode, then SKU) wins over the handle: a match under a different handle
// means the product was renamed locally, so the remote handle is updated and a
// redirect created. The handle cache resolves the rest.
func (r *Reconciler) resolveIdentity(ctx context.Context, group *batch.Group, log *zap.Logger) (int64, bool, error) {
	barcode, sku := secondaryKey(group.Rows)

	ref, err := r.api.FindProductByBarcodeOrSKU(ctx, barcode, sku)
	if err != nil {
		return 0, false, fmt.Errorf("secondary key lookup: %w", err)
	}
	if ref != nil {
		if ref.Handle != group.Handle {
			return r.renameHandle(ctx, group, ref, log)
		}
		r.cache.Set(ref.Handle, ref.ID)
		return ref.ID, true, nil
	}

	id, ok, err := r.cache.Resolve(ctx, group.Handle)
	if err != nil {
		return 0, false, err
	}
	return id, ok, nil
}

// renameHandle moves a remote product to the group's handle and leaves a 301
// behind. When the new handle is already taken the rename is abandoned and the
// product keeps its old handle.
func (r *Reconciler) renameHandle(ctx context.Context, group *batch.Group, ref *shopify.ProductRef, log *zap.Logger) (int64, bool, error) {
	oldHandle, newHandle := ref.Handle, group.Handle
	log.Info("handle changed, renaming remote product",
		zap.String("old_handle", oldHandle))

	if r.opts.DryRun {
		return ref.ID, true, nil
	}

	err := r.api.UpdateProduct(ctx, shopify.ProductUpdate{ID: ref.ID, Handle: &newHandle})
	if err != nil {
		if !shopify.IsHandleTaken(err) {
			return 0, false, fmt.Errorf("handle rename: %w", err)
		}
		log.Warn("new handle already taken, keeping old handle",
			zap.String("old_handle", oldHandle))
		r.processed[oldHandle] = true
		r.cache.Set(oldHandle, ref.ID)
		return ref.ID, true, nil
	}

	if err := r.api.CreateRedirect(ctx, "/products/"+oldHandle, "/products/"+newHandle); err != nil {
		// The rename itself succeeded; a missing redirect is not fatal.
		log.Warn("redirect creation failed",
			zap.String("old_handle", oldHandle),
			zap.Error(err))
	}
	r.cache.Invalidate(oldHandle)
	r.cache.Set(newHandle, ref.ID)
	return ref.ID, true, nil
}

func (r *Reconciler) executeCreate(ctx context.Context, group *batch.Group, log *zap.Logger) error {
	log.Info("creating product", zap.Int("variants", len(group.Rows)))
	if r.opts.DryRun {
		r.summary.Created++
		return nil
	}

	spec := r.buildProductSpec(group, localStatus(group))
	created, err := r.api.CreateProduct(ctx, spec)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	r.cache.Set(created.Handle, created.ID)

	if err := r.setInventoryLevels(ctx, group, created); err != nil {
		return err
	}
	r.attachImage(ctx, group, created.ID, 0, log)
	r.summary.Created++
	return nil
}

// executeRecreate replaces a product whose variant structure changed, keeping
// the batch status unless the product is draft-locked and keeping the remote
// description when the batch carries none.
func (r *Reconciler) executeRecreate(ctx context.Context, group *batch.Group, remote *shopify.Product, draftLocked bool, log *zap.Logger) error {
	log.Info("variant structure changed, recreating product",
		zap.Int64("product_id", remote.ID),
		zap.Int("remote_variants", len(remote.Variants)),
		zap.Int("local_variants", len(group.Rows)))
	if r.opts.DryRun {
		r.summary.Recreated++
		return nil
	}

	if err := r.api.DeleteProduct(ctx, remote.ID); err != nil {
		return fmt.Errorf("delete before recreate: %w", err)
	}
	r.cache.Invalidate(remote.Handle)

	status := localStatus(group)
	if draftLocked {
		status = "draft"
	}
	spec := r.buildProductSpec(group, status)
	if IsDescriptionEmpty(spec.BodyHTML) && !IsDescriptionEmpty(remote.BodyHTML) {
		spec.BodyHTML = remote.BodyHTML
	}
	if draftLocked {
		spec.Tags = appendTag(spec.Tags, r.opts.KeepDraftTag)
	}

	created, err := r.api.CreateProduct(ctx, spec)
	if err != nil {
		return fmt.Errorf("recreate product: %w", err)
	}
	r.cache.Set(created.Handle, created.ID)

	if err := r.setInventoryLevels(ctx, group, created); err != nil {
		return err
	}
	r.attachImage(ctx, group, created.ID, 0, log)
	r.summary.Recreated++
	return nil
}

func (r *Reconciler) executeUpdate(ctx context.Context, group *batch.Group, remote *shopify.Product, diff *Diff, log *zap.Logger) error {
	log.Info("updating product",
		zap.Int64("product_id", remote.ID),
		zap.Bool("price", diff.PriceChanged),
		zap.Bool("stock", diff.StockChanged),
		zap.Bool("image", diff.ImageChanged))
	if r.opts.DryRun {
		r.countUpdate(diff)
		return nil
	}

	for _, vc := range diff.Variants {
		upd := shopify.VariantUpdate{
			ID:             vc.VariantID,
			Price:          vc.Price,
			CompareAtPrice: vc.CompareAtPrice,
			SKU:            vc.SKU,
			Barcode:        vc.Barcode,
		}
		if err := r.api.UpdateVariant(ctx, upd); err != nil {
			return fmt.Errorf("update variant %d: %w", vc.VariantID, err)
		}
	}

	if len(diff.Inventory) > 0 {
		locationID, err := r.location(ctx)
		if err != nil {
			return err
		}
		for _, ic := range diff.Inventory {
			if err := r.api.SetInventoryLevel(ctx, locationID, ic.InventoryItemID, ic.Available); err != nil {
				return fmt.Errorf("set inventory for item %d: %w", ic.InventoryItemID, err)
			}
		}
	}

	if diff.Image != nil {
		r.attachImage(ctx, group, remote.ID, diff.Image.RemovePlaceholderID, log)
	}

	upd := shopify.ProductUpdate{ID: remote.ID, Title: diff.Title, BodyHTML: diff.Description}
	if upd.Title != nil || upd.BodyHTML != nil {
		if err := r.api.UpdateProduct(ctx, upd); err != nil {
			return fmt.Errorf("update product %d: %w", remote.ID, err)
		}
	}

	r.countUpdate(diff)
	return nil
}

func (r *Reconciler) countUpdate(diff *Diff) {
	r.summary.Updated++
	if diff.PriceChanged {
		r.summary.UpdatedPrice++
	}
	if diff.StockChanged {
		r.summary.UpdatedStock++
	}
	if diff.ImageChanged {
		r.summary.UpdatedImage++
	}
}

// attachImage uploads the group's image and, if a placeholder was displaced,
// removes it afterwards. Image failures never fail the group; they are logged
// and collected for the end-of-run report.
func (r *Reconciler) attachImage(ctx context.Context, group *batch.Group, productID, removeImageID int64, log *zap.Logger) {
	if r.opts.SkipImages {
		return
	}
	src := group.ImageURL()
	if src == "" {
		return
	}

	alt := group.Rows[0].ImageAlt
	if alt == "" {
		alt = group.Title()
	}
	if err := r.api.AddProductImage(ctx, productID, src, alt); err != nil {
		log.Warn("image upload failed", zap.String("url", src), zap.Error(err))
		r.failedImages = append(r.failedImages, FailedImage{
			Handle: group.Handle,
			URL:    src,
			Reason: err.Error(),
		})
		return
	}

	if removeImageID != 0 {
		if err := r.api.DeleteProductImage(ctx, productID, removeImageID); err != nil {
			log.Warn("placeholder image removal failed",
				zap.Int64("image_id", removeImageID),
				zap.Error(err))
		}
	}
}

// setInventoryLevels writes stock for every variant of a freshly created
// product, pairing created variants with local rows by option value.
func (r *Reconciler) setInventoryLevels(ctx context.Context, group *batch.Group, created *shopify.Product) error {
	locationID, err := r.location(ctx)
	if err != nil {
		return err
	}
	for _, v := range created.Variants {
		row := findRow(group.Rows, v.Option1)
		if row == nil || v.InventoryItemID == 0 {
			continue
		}
		if err := r.api.SetInventoryLevel(ctx, locationID, v.InventoryItemID, row.InventoryQty); err != nil {
			return fmt.Errorf("set inventory for item %d: %w", v.InventoryItemID, err)
		}
	}
	return nil
}

// location resolves the stock location once per run: by configured name, else
// the first active location, else the first.
func (r *Reconciler) location(ctx context.Context) (int64, error) {
	if r.locationID != 0 {
		return r.locationID, nil
	}

	locations, err := r.api.ListLocations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list locations: %w", err)
	}
	if len(locations) == 0 {
		return 0, fmt.Errorf("store has no stock locations")
	}

	chosen := locations[0]
	if r.opts.LocationName != "" {
		for _, loc := range locations {
			if strings.EqualFold(loc.Name, r.opts.LocationName) {
				chosen = loc
				break
			}
		}
	} else {
		for _, loc := range locations {
			if loc.Active {
				chosen = loc
				break
			}
		}
	}

	r.locationID = chosen.ID
	r.log.Info("using stock location",
		zap.Int64("location_id", chosen.ID),
		zap.String("name", chosen.Name))
	return r.locationID, nil
}

// buildProductSpec renders a full creation payload from a group. The scraper
// tag is always added so pruning can find the product later; tags are deduped
// and sorted for stable payloads.
func (r *Reconciler) buildProductSpec(group *batch.Group, status string) shopify.ProductSpec {
	first := group.Rows[0]

	tags := shopify.SplitTags(first.Tags)
	tags = append(tags, r.opts.ScraperTag)
	tags = dedupeTags(tags)

	variants := make([]shopify.VariantSpec, 0, len(group.Rows))
	for _, row := range group.Rows {
		option := row.OptionValue
		if option == "" {
			option = "Default Title"
		}
		variants = append(variants, shopify.VariantSpec{
			Option1:             option,
			Price:               localPrice(row.Price),
			CompareAtPrice:      row.CompareAtPrice,
			SKU:                 row.SKU,
			Barcode:             row.Barcode,
			InventoryManagement: "shopify",
			InventoryPolicy:     "deny",
			InventoryQuantity:   row.InventoryQty,
			RequiresShipping:    true,
		})
	}

	return shopify.ProductSpec{
		Title:    group.Title(),
		BodyHTML: group.Description(),
		Vendor:   first.Vendor,
		Type:     first.Type,
		Tags:     shopify.JoinTags(tags),
		Handle:   group.Handle,
		Status:   status,
		Options:  []shopify.OptionSpec{{Name: group.OptionName()}},
		Variants: variants,
	}
}

// localStatus maps the batch status column to a creation status. Only an
// explicit "active" publishes; anything else creates a draft.
func localStatus(group *batch.Group) string {
	if strings.EqualFold(group.Rows[0].Status, "active") {
		return "active"
	}
	return "draft"
}

// secondaryKey returns the first non-empty barcode and SKU across the group's
// rows.
func secondaryKey(rows []batch.Row) (barcode, sku string) {
	for _, row := range rows {
		if barcode == "" && row.Barcode != "" {
			barcode = row.Barcode
		}
		if sku == "" && row.SKU != "" {
			sku = row.SKU
		}
	}
	return barcode, sku
}

func hasTag(tagsRaw, tag string) bool {
	if tag == "" {
		return false
	}
	for _, t := range shopify.SplitTags(tagsRaw) {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func appendTag(tagsRaw, tag string) string {
	if tag == "" || hasTag(tagsRaw, tag) {
		return tagsRaw
	}
	return shopify.JoinTags(append(shopify.SplitTags(tagsRaw), tag))
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := tags[:0]
	for _, t := range tags {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(t))
	}
	sort.Strings(out)
	return out
}
