package shopify

import (
	"encoding/json"
	"strings"
)

// Product is the store's view of a product as returned by the Admin REST API.
type Product struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	BodyHTML string    `json:"body_html"`
	Vendor   string    `json:"vendor"`
	Type     string    `json:"product_type"`
	Status   string    `json:"status"`
	Tags     string    `json:"tags"`
	Handle   string    `json:"handle"`
	Variants []Variant `json:"variants"`
	Images   []Image   `json:"images"`
}

// Variant is a single product variant.
type Variant struct {
	ID                int64   `json:"id"`
	ProductID         int64   `json:"product_id"`
	Option1           string  `json:"option1"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compare_at_price"`
	SKU               string  `json:"sku"`
	Barcode           string  `json:"barcode"`
	InventoryQuantity int     `json:"inventory_quantity"`
	InventoryItemID   int64   `json:"inventory_item_id"`
	Position          int     `json:"position"`
}

// Image is a product gallery image.
type Image struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Src       string `json:"src"`
	Alt       string `json:"alt,omitempty"`
	Position  int    `json:"position"`
}

// Location is a stock location.
type Location struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// ProductRef is the minimal identity returned by a secondary-key lookup.
type ProductRef struct {
	ID     int64
	Handle string
}

// ProductSpec is a full product creation payload.
type ProductSpec struct {
	Title    string        `json:"title"`
	BodyHTML string        `json:"body_html"`
	Vendor   string        `json:"vendor,omitempty"`
	Type     string        `json:"product_type,omitempty"`
	Tags     string        `json:"tags,omitempty"`
	Handle   string        `json:"handle"`
	Status   string        `json:"status"`
	Options  []OptionSpec  `json:"options,omitempty"`
	Variants []VariantSpec `json:"variants"`
}

// OptionSpec names a variant axis.
type OptionSpec struct {
	Name string `json:"name"`
}

// VariantSpec is one variant within a creation payload.
type VariantSpec struct {
	Option1             string `json:"option1"`
	Price               string `json:"price"`
	CompareAtPrice      string `json:"compare_at_price,omitempty"`
	SKU                 string `json:"sku,omitempty"`
	Barcode             string `json:"barcode,omitempty"`
	InventoryManagement string `json:"inventory_management,omitempty"`
	InventoryPolicy     string `json:"inventory_policy,omitempty"`
	InventoryQuantity   int    `json:"inventory_quantity"`
	RequiresShipping    bool   `json:"requires_shipping,omitempty"`
}

// ProductUpdate is a partial product update; nil fields are left untouched.
type ProductUpdate struct {
	ID       int64   `json:"id"`
	Title    *string `json:"title,omitempty"`
	BodyHTML *string `json:"body_html,omitempty"`
	Handle   *string `json:"handle,omitempty"`
	Tags     *string `json:"tags,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// VariantUpdate is a partial variant update; nil fields are left untouched.
// A set-but-empty compare-at price is serialized as JSON null, which is how
// the Admin API clears the field.
type VariantUpdate struct {
	ID             int64
	Price          *string
	CompareAtPrice *string
	SKU            *string
	Barcode        *string
}

func (u VariantUpdate) MarshalJSON() ([]byte, error) {
	payload := map[string]any{"id": u.ID}
	if u.Price != nil {
		payload["price"] = *u.Price
	}
	if u.CompareAtPrice != nil {
		if *u.CompareAtPrice == "" {
			payload["compare_at_price"] = nil
		} else {
			payload["compare_at_price"] = *u.CompareAtPrice
		}
	}
	if u.SKU != nil {
		payload["sku"] = *u.SKU
	}
	if u.Barcode != nil {
		payload["barcode"] = *u.Barcode
	}
	return json.Marshal(payload)
}

// ListOptions controls a single product listing page.
type ListOptions struct {
	SinceID int64
	Limit   int
	Fields  string
	Status  string
}

// PageSize is the maximum product listing page size the Admin API allows.
const PageSize = 250

// SplitTags splits Shopify's comma-separated tag string into trimmed,
// non-empty tags.
func SplitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(t); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

// JoinTags renders a tag list back into Shopify's comma-separated form.
func JoinTags(tags []string) string {
	return strings.Join(tags, ", ")
}
