package sync

import (
	"context"

	"github.com/daniddm/padel-canaveral/internal/shopify"
)

// StoreClient is the slice of the Shopify Admin API the sync engine consumes.
// *shopify.Client satisfies it; tests substitute fakes.
type StoreClient interface {
	ListProductsPage(ctx context.Context, opts shopify.ListOptions) ([]shopify.Product, error)
	GetProduct(ctx context.Context, id int64) (*shopify.Product, error)
	CreateProduct(ctx context.Context, spec shopify.ProductSpec) (*shopify.Product, error)
	UpdateProduct(ctx context.Context, upd shopify.ProductUpdate) error
	DeleteProduct(ctx context.Context, id int64) error
	UpdateVariant(ctx context.Context, upd shopify.VariantUpdate) error
	SetInventoryLevel(ctx context.Context, locationID, inventoryItemID int64, available int) error
	ListLocations(ctx context.Context) ([]shopify.Location, error)
	AddProductImage(ctx context.Context, productID int64, src, alt string) error
	DeleteProductImage(ctx context.Context, productID, imageID int64) error
	CreateRedirect(ctx context.Context, fromPath, toPath string) error
	FindProductByBarcodeOrSKU(ctx context.Context, barcode, sku string) (*shopify.ProductRef, error)
}

var _ StoreClient = (*shopify.Client)(nil)
