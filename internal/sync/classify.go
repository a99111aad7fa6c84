package sync

import (
	"math"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/daniddm/padel-canaveral/internal/batch"
	"github.com/daniddm/padel-canaveral/internal/shopify"
)

// Action is the reconciliation action chosen for one local group. Exactly one
// applies per group.
type Action int

const (
	ActionSkip Action = iota
	ActionCreate
	ActionRecreate
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRecreate:
		return "recreate"
	case ActionUpdate:
		return "update"
	default:
		return "skip"
	}
}

// priceTolerance is the smallest price difference that counts as a change.
const priceTolerance = 0.01

// VariantChange carries the diffed fields of one remote variant; nil fields
// are untouched.
type VariantChange struct {
	VariantID      int64
	Price          *string
	CompareAtPrice *string
	SKU            *string
	Barcode        *string
}

// InventoryChange sets the available quantity of one inventory item.
type InventoryChange struct {
	InventoryItemID int64
	Available       int
}

// ImageChange attaches a new primary image, optionally removing a placeholder
// image once the real one has landed.
type ImageChange struct {
	URL                 string
	Alt                 string
	RemovePlaceholderID int64
}

// Diff is the field-level difference backing an update decision.
type Diff struct {
	Variants  []VariantChange
	Inventory []InventoryChange
	Title     *string
	// Description only ever fills an empty remote description.
	Description *string
	Image       *ImageChange

	// Update sub-kind flags for the run summary.
	PriceChanged bool
	StockChanged bool
	ImageChanged bool
	OtherChanged bool
}

// Empty reports whether the diff contains no change at all.
func (d *Diff) Empty() bool {
	return len(d.Variants) == 0 && len(d.Inventory) == 0 &&
		d.Title == nil && d.Description == nil && d.Image == nil
}

// Decision is the classifier's verdict for one group.
type Decision struct {
	Action Action
	Diff   *Diff
}

// Classifier decides which reconciliation action applies to a local group
// given the remote snapshot. It is a pure decision function; it performs no
// remote calls.
type Classifier struct {
	ignoreTags   map[string]bool
	placeholders []string
	skipImages   bool
}

// NewClassifier creates a classifier with the given protection and image
// policies. Ignore tags match case-insensitively; placeholder keywords are
// substring-matched against normalized image URLs.
func NewClassifier(ignoreTags, placeholderKeywords []string, skipImages bool) *Classifier {
	ignore := make(map[string]bool, len(ignoreTags))
	for _, t := range ignoreTags {
		ignore[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Classifier{
		ignoreTags:   ignore,
		placeholders: placeholderKeywords,
		skipImages:   skipImages,
	}
}

// HasIgnoreTag reports whether any of the product's tags is in the configured
// ignore set.
func (c *Classifier) HasIgnoreTag(tagsRaw string) bool {
	for _, t := range shopify.SplitTags(tagsRaw) {
		if c.ignoreTags[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// Classify returns the single action that applies to the group. A nil remote
// means the product does not exist yet.
func (c *Classifier) Classify(group *batch.Group, remote *shopify.Product) Decision {
	if remote == nil {
		return Decision{Action: ActionCreate}
	}
	if c.HasIgnoreTag(remote.Tags) {
		return Decision{Action: ActionSkip}
	}
	if strings.EqualFold(remote.Status, "archived") {
		return Decision{Action: ActionSkip}
	}
	if variantStructureChanged(remote.Variants, group.Rows) {
		return Decision{Action: ActionRecreate}
	}

	diff := c.buildDiff(group, remote)
	if diff.Empty() {
		return Decision{Action: ActionSkip}
	}
	return Decision{Action: ActionUpdate, Diff: diff}
}

// variantStructureChanged reports a structural difference: variant count or
// the case-insensitive set of option values. SKU and barcode differences are
// not structural.
func variantStructureChanged(remote []shopify.Variant, local []batch.Row) bool {
	if len(remote) != len(local) {
		return true
	}

	remoteOptions := make([]string, len(remote))
	for i, v := range remote {
		remoteOptions[i] = optionKey(v.Option1)
	}
	localOptions := make([]string, len(local))
	for i, row := range local {
		localOptions[i] = optionKey(row.OptionValue)
	}
	sort.Strings(remoteOptions)
	sort.Strings(localOptions)

	for i := range remoteOptions {
		if remoteOptions[i] != localOptions[i] {
			return true
		}
	}
	return false
}

func (c *Classifier) buildDiff(group *batch.Group, remote *shopify.Product) *Diff {
	diff := &Diff{}

	for _, rv := range remote.Variants {
		row := findRow(group.Rows, rv.Option1)
		if row == nil {
			continue
		}

		change := VariantChange{VariantID: rv.ID}
		changed := false

		if priceDiffers(rv.Price, row.Price) {
			change.Price = strPtr(localPrice(row.Price))
			diff.PriceChanged = true
			changed = true
		}
		if priceDiffers(derefStr(rv.CompareAtPrice), row.CompareAtPrice) {
			change.CompareAtPrice = strPtr(row.CompareAtPrice)
			diff.PriceChanged = true
			changed = true
		}
		if rv.SKU != row.SKU {
			change.SKU = strPtr(row.SKU)
			diff.OtherChanged = true
			changed = true
		}
		if rv.Barcode != row.Barcode {
			change.Barcode = strPtr(row.Barcode)
			diff.OtherChanged = true
			changed = true
		}
		if changed {
			diff.Variants = append(diff.Variants, change)
		}

		if rv.InventoryQuantity != row.InventoryQty && rv.InventoryItemID != 0 {
			diff.Inventory = append(diff.Inventory, InventoryChange{
				InventoryItemID: rv.InventoryItemID,
				Available:       row.InventoryQty,
			})
			diff.StockChanged = true
		}
	}

	if remote.Title != group.Title() {
		diff.Title = strPtr(group.Title())
		diff.OtherChanged = true
	}
	if IsDescriptionEmpty(remote.BodyHTML) && !IsDescriptionEmpty(group.Description()) {
		diff.Description = strPtr(group.Description())
		diff.OtherChanged = true
	}

	if !c.skipImages {
		if change := c.imageChange(group, remote); change != nil {
			diff.Image = change
			diff.ImageChanged = true
		}
	}

	return diff
}

// imageChange decides whether the local image must be attached. Two image
// references are equivalent if their query-stripped, case-folded URLs match
// or their filename components match; an equivalent image already in the
// gallery means no change. An empty gallery always takes the image; a gallery
// whose primary image looks like a placeholder takes the image and proposes
// removing the placeholder.
func (c *Classifier) imageChange(group *batch.Group, remote *shopify.Product) *ImageChange {
	src := group.ImageURL()
	if src == "" {
		return nil
	}

	localName := imageFilename(src)
	for _, img := range remote.Images {
		if normalizeImageURL(src) == normalizeImageURL(img.Src) || localName == imageFilename(img.Src) {
			return nil
		}
	}

	if len(remote.Images) == 0 {
		return &ImageChange{URL: src, Alt: group.Title()}
	}

	primary := remote.Images[0]
	for _, img := range remote.Images {
		if img.Position == 1 {
			primary = img
			break
		}
	}
	if c.isPlaceholder(primary.Src) {
		return &ImageChange{URL: src, Alt: group.Title(), RemovePlaceholderID: primary.ID}
	}
	return nil
}

func (c *Classifier) isPlaceholder(src string) bool {
	normalized := normalizeImageURL(src)
	for _, keyword := range c.placeholders {
		if keyword != "" && strings.Contains(normalized, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// findRow pairs a remote variant with its local row by case-insensitive
// option value, so tallies written as "M" and "m" never look like changes.
func findRow(rows []batch.Row, option1 string) *batch.Row {
	key := optionKey(option1)
	for i := range rows {
		if optionKey(rows[i].OptionValue) == key {
			return &rows[i]
		}
	}
	return nil
}

func optionKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// priceDiffers compares two decimal price strings with the configured
// tolerance; differences of exactly the tolerance count as changes.
func priceDiffers(a, b string) bool {
	return math.Abs(parsePrice(a)-parsePrice(b)) >= priceTolerance-1e-9
}

func parsePrice(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return f
}

// localPrice renders a local price for the API, defaulting empty to "0.00".
func localPrice(value string) string {
	if value == "" {
		return "0.00"
	}
	return value
}

// normalizeImageURL strips the query string and case-folds.
func normalizeImageURL(u string) string {
	base, _, _ := strings.Cut(u, "?")
	return strings.ToLower(strings.TrimSpace(base))
}

// imageFilename extracts the lowercase filename component of an image URL.
func imageFilename(u string) string {
	if parsed, err := url.Parse(u); err == nil {
		return strings.ToLower(path.Base(parsed.Path))
	}
	normalized := normalizeImageURL(u)
	if i := strings.LastIndexByte(normalized, '/'); i >= 0 {
		return normalized[i+1:]
	}
	return normalized
}

func strPtr(s string) *string { return &s }

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
