package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Options{
		ShopDomain:         server.URL,
		AccessToken:        "test-token",
		RetryBackoffBase:   time.Millisecond,
		RetryAfterFallback: time.Millisecond,
		ImageSettleDelay:   0,
		ImageRetryStep:     time.Millisecond,
	})
}

func TestListProductsPagePassesCursor(t *testing.T) {
	var gotQuery atomic.Value
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Shopify-Access-Token"))
		gotQuery.Store(r.URL.Query())
		fmt.Fprint(w, `{"products":[{"id":7,"handle":"pala-x"}]}`)
	}))

	products, err := client.ListProductsPage(context.Background(), ListOptions{
		SinceID: 42,
		Fields:  "id,handle",
		Status:  "draft",
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, int64(7), products[0].ID)
	assert.Equal(t, "pala-x", products[0].Handle)

	query := gotQuery.Load().(url.Values)
	assert.Equal(t, "42", query["since_id"][0])
	assert.Equal(t, "250", query["limit"][0])
	assert.Equal(t, "id,handle", query["fields"][0])
	assert.Equal(t, "draft", query["status"][0])
}

func TestDoRequestRetriesRateLimit(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0.001")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"products":[]}`)
	}))

	_, err := client.ListProductsPage(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoRequestRetriesServerError(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"products":[]}`)
	}))

	_, err := client.ListProductsPage(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoRequestClientErrorIsTerminal(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":"Not Found"}`)
	}))

	_, err := client.GetProduct(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "4xx must not be retried")
}

func TestDoRequestExhaustsRetries(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.ListProductsPage(context.Background(), ListOptions{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestCreateProductRoundTrip(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)

		var payload struct {
			Product ProductSpec `json:"product"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "pala-x", payload.Product.Handle)
		require.Len(t, payload.Product.Variants, 1)
		assert.Equal(t, "199.00", payload.Product.Variants[0].Price)

		fmt.Fprint(w, `{"product":{"id":55,"handle":"pala-x","variants":[{"id":1,"inventory_item_id":9}]}}`)
	}))

	created, err := client.CreateProduct(context.Background(), ProductSpec{
		Title:    "Pala X",
		Handle:   "pala-x",
		Status:   "active",
		Variants: []VariantSpec{{Option1: "M", Price: "199.00"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(55), created.ID)
	require.Len(t, created.Variants, 1)
	assert.Equal(t, int64(9), created.Variants[0].InventoryItemID)
}

func TestUpdateVariantSendsOnlySetFields(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Variant map[string]any `json:"variant"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Contains(t, payload.Variant, "price")
		assert.NotContains(t, payload.Variant, "sku")
		assert.NotContains(t, payload.Variant, "barcode")
		fmt.Fprint(w, `{"variant":{"id":1}}`)
	}))

	price := "199.00"
	err := client.UpdateVariant(context.Background(), VariantUpdate{ID: 1, Price: &price})
	require.NoError(t, err)
}

func TestUpdateVariantClearsCompareAtPriceWithNull(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Variant map[string]any `json:"variant"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Contains(t, payload.Variant, "compare_at_price")
		assert.Nil(t, payload.Variant["compare_at_price"])
		fmt.Fprint(w, `{"variant":{"id":1}}`)
	}))

	empty := ""
	err := client.UpdateVariant(context.Background(), VariantUpdate{ID: 1, CompareAtPrice: &empty})
	require.NoError(t, err)
}

func TestFindProductByBarcodeOrSKU(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "barcode:843", payload.Variables["q"])

		fmt.Fprint(w, `{"data":{"productVariants":{"edges":[
			{"node":{"id":"gid://shopify/ProductVariant/1","product":{"id":"gid://shopify/Product/42","handle":"pala-x"}}}
		]}}}`)
	}))

	ref, err := client.FindProductByBarcodeOrSKU(context.Background(), "843", "SKU-1")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, int64(42), ref.ID)
	assert.Equal(t, "pala-x", ref.Handle)
}

func TestFindProductByBarcodeOrSKUNoKeys(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a secondary key")
	}))

	ref, err := client.FindProductByBarcodeOrSKU(context.Background(), "", "")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestFindProductByBarcodeOrSKUNoMatch(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"productVariants":{"edges":[]}}}`)
	}))

	ref, err := client.FindProductByBarcodeOrSKU(context.Background(), "", "SKU-X")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestAddProductImageInvalidImageIsTerminal(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"errors":{"image":["Invalid image source URL"]}}`)
	}))

	err := client.AddProductImage(context.Background(), 42, "https://cdn.example.com/rota.jpg", "alt")
	require.Error(t, err)
	assert.True(t, IsInvalidImage(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAddProductImageRetriesTransientFailure(t *testing.T) {
	var calls int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"image":{"id":1}}`)
	}))

	err := client.AddProductImage(context.Background(), 42, "https://cdn.example.com/pala.jpg", "alt")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

func TestCreateRedirectPayload(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Redirect map[string]string `json:"redirect"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "/products/pala-x-old", payload.Redirect["path"])
		assert.Equal(t, "/products/pala-x", payload.Redirect["target"])
		fmt.Fprint(w, `{"redirect":{"id":1}}`)
	}))

	err := client.CreateRedirect(context.Background(), "/products/pala-x-old", "/products/pala-x")
	require.NoError(t, err)
}
