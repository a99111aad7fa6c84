package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string

	RequestTimeout time.Duration
	// RateDelay is the minimum interval between any two API calls.
	RateDelay  time.Duration
	MaxRetries int
	// RetryBackoffBase scales the exponential backoff for transient
	// failures. Defaults to 2s.
	RetryBackoffBase time.Duration
	// RetryAfterFallback is used when a 429 carries no Retry-After header.
	RetryAfterFallback time.Duration

	ImageMaxRetries  int
	ImageSettleDelay time.Duration
	ImageRetryStep   time.Duration

	Logger *zap.Logger
}

// Client wraps authenticated calls to the Shopify Admin API, applying a
// fixed-interval throttle and retry-on-transient-failure to every call.
type Client struct {
	httpClient *http.Client
	baseURL    string
	graphqlURL string
	token      string
	limiter    *rate.Limiter

	maxRetries         int
	backoffBase        time.Duration
	retryAfterFallback time.Duration

	imageMaxRetries  int
	imageSettleDelay time.Duration
	imageRetryStep   time.Duration

	log *zap.Logger
}

// NewClient creates a new Admin API client.
func NewClient(opts Options) *Client {
	if opts.APIVersion == "" {
		opts.APIVersion = "2024-07"
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoffBase == 0 {
		opts.RetryBackoffBase = 2 * time.Second
	}
	if opts.RetryAfterFallback == 0 {
		opts.RetryAfterFallback = 5 * time.Second
	}
	if opts.ImageMaxRetries == 0 {
		opts.ImageMaxRetries = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.RateDelay > 0 {
		limit = rate.Every(opts.RateDelay)
	}

	// A domain with an explicit scheme is used as-is; this lets local mock
	// servers stand in for the real store.
	origin := "https://" + opts.ShopDomain
	if strings.Contains(opts.ShopDomain, "://") {
		origin = strings.TrimSuffix(opts.ShopDomain, "/")
	}
	base := fmt.Sprintf("%s/admin/api/%s", origin, opts.APIVersion)
	return &Client{
		httpClient:         &http.Client{Timeout: opts.RequestTimeout},
		baseURL:            base,
		graphqlURL:         base + "/graphql.json",
		token:              opts.AccessToken,
		limiter:            rate.NewLimiter(limit, 1),
		maxRetries:         opts.MaxRetries,
		backoffBase:        opts.RetryBackoffBase,
		retryAfterFallback: opts.RetryAfterFallback,
		imageMaxRetries:    opts.ImageMaxRetries,
		imageSettleDelay:   opts.ImageSettleDelay,
		imageRetryStep:     opts.ImageRetryStep,
		log:                opts.Logger,
	}
}

// ListProductsPage fetches one page of the product listing. Pagination uses
// since_id cursors; a page shorter than opts.Limit (default 250) is the last.
func (c *Client) ListProductsPage(ctx context.Context, opts ListOptions) ([]Product, error) {
	params := url.Values{}
	limit := opts.Limit
	if limit <= 0 {
		limit = PageSize
	}
	params.Set("limit", strconv.Itoa(limit))
	if opts.SinceID > 0 {
		params.Set("since_id", strconv.FormatInt(opts.SinceID, 10))
	}
	if opts.Fields != "" {
		params.Set("fields", opts.Fields)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "products.json", params, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Products []Product `json:"products"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse products response: %w", err)
	}
	return response.Products, nil
}

// GetProduct fetches a full product snapshot by ID.
func (c *Client) GetProduct(ctx context.Context, id int64) (*Product, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("products/%d.json", id), nil, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Product Product `json:"product"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse product response: %w", err)
	}
	return &response.Product, nil
}

// CreateProduct creates a product and returns the store's view of it.
func (c *Client) CreateProduct(ctx context.Context, spec ProductSpec) (*Product, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "products.json", nil, map[string]any{"product": spec})
	if err != nil {
		return nil, err
	}

	var response struct {
		Product Product `json:"product"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse created product: %w", err)
	}
	return &response.Product, nil
}

// UpdateProduct applies a partial product update.
func (c *Client) UpdateProduct(ctx context.Context, upd ProductUpdate) error {
	path := fmt.Sprintf("products/%d.json", upd.ID)
	_, err := c.doRequest(ctx, http.MethodPut, path, nil, map[string]any{"product": upd})
	return err
}

// DeleteProduct deletes a product.
func (c *Client) DeleteProduct(ctx context.Context, id int64) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("products/%d.json", id), nil, nil)
	return err
}

// UpdateVariant applies a partial variant update.
func (c *Client) UpdateVariant(ctx context.Context, upd VariantUpdate) error {
	path := fmt.Sprintf("variants/%d.json", upd.ID)
	_, err := c.doRequest(ctx, http.MethodPut, path, nil, map[string]any{"variant": upd})
	return err
}

// SetInventoryLevel sets the available quantity of an inventory item at a
// location.
func (c *Client) SetInventoryLevel(ctx context.Context, locationID, inventoryItemID int64, available int) error {
	payload := map[string]any{
		"location_id":       locationID,
		"inventory_item_id": inventoryItemID,
		"available":         available,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "inventory_levels/set.json", nil, payload)
	return err
}

// ListLocations lists the store's stock locations.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "locations.json", nil, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Locations []Location `json:"locations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse locations response: %w", err)
	}
	return response.Locations, nil
}

// AddProductImage attaches an image by URL. Newly created products need time
// before they accept images, so this uses a settle delay and a longer,
// linearly growing retry schedule than regular requests. A 422 means Shopify
// rejected the image itself and is not retried.
func (c *Client) AddProductImage(ctx context.Context, productID int64, src, alt string) error {
	image := map[string]any{
		"src":      src,
		"position": 1,
	}
	if alt != "" {
		image["alt"] = alt
	}
	path := fmt.Sprintf("products/%d/images.json", productID)

	if err := sleepCtx(ctx, c.imageSettleDelay); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.imageMaxRetries; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt) * c.imageRetryStep
			c.log.Info("waiting before image retry",
				zap.Int64("product_id", productID),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt))
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}

		_, err := c.doRequest(ctx, http.MethodPost, path, nil, map[string]any{"image": image})
		if err == nil {
			return nil
		}
		if IsInvalidImage(err) {
			return err
		}
		lastErr = err
		c.log.Warn("image upload failed",
			zap.Int64("product_id", productID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return fmt.Errorf("image upload exhausted %d attempts: %w", c.imageMaxRetries, lastErr)
}

// DeleteProductImage removes an image from a product's gallery.
func (c *Client) DeleteProductImage(ctx context.Context, productID, imageID int64) error {
	path := fmt.Sprintf("products/%d/images/%d.json", productID, imageID)
	_, err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	return err
}

// CreateRedirect creates a 301 redirect so links to a renamed handle keep
// working.
func (c *Client) CreateRedirect(ctx context.Context, fromPath, toPath string) error {
	payload := map[string]any{
		"redirect": map[string]string{
			"path":   fromPath,
			"target": toPath,
		},
	}
	_, err := c.doRequest(ctx, http.MethodPost, "redirects.json", nil, payload)
	return err
}

// FindProductByBarcodeOrSKU looks up a product through its variants by
// barcode first, then SKU. Returns nil when neither key is set or nothing
// matches.
func (c *Client) FindProductByBarcodeOrSKU(ctx context.Context, barcode, sku string) (*ProductRef, error) {
	var query string
	switch {
	case barcode != "":
		query = "barcode:" + barcode
	case sku != "":
		query = "sku:" + sku
	default:
		return nil, nil
	}

	const gql = `
      query ($q: String!) {
        productVariants(first: 1, query: $q) {
          edges {
            node {
              id
              product { id handle }
            }
          }
        }
      }`

	data, err := c.graphql(ctx, gql, map[string]any{"q": query})
	if err != nil {
		return nil, err
	}

	var response struct {
		ProductVariants struct {
			Edges []struct {
				Node struct {
					Product struct {
						ID     string `json:"id"`
						Handle string `json:"handle"`
					} `json:"product"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"productVariants"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse variant lookup: %w", err)
	}
	if len(response.ProductVariants.Edges) == 0 {
		return nil, nil
	}

	product := response.ProductVariants.Edges[0].Node.Product
	id, err := parseGID(product.ID)
	if err != nil {
		return nil, err
	}
	return &ProductRef{ID: id, Handle: product.Handle}, nil
}

// SearchProducts runs a GraphQL product search (e.g. "handle:foo" or
// "title:bar") and returns up to first matches.
func (c *Client) SearchProducts(ctx context.Context, query string, first int) ([]ProductSummary, error) {
	const gql = `
      query ($q: String!, $first: Int!) {
        products(first: $first, query: $q) {
          edges {
            node {
              id
              title
              handle
              tags
              status
            }
          }
        }
      }`

	data, err := c.graphql(ctx, gql, map[string]any{"q": query, "first": first})
	if err != nil {
		return nil, err
	}

	var response struct {
		Products struct {
			Edges []struct {
				Node struct {
					ID     string   `json:"id"`
					Title  string   `json:"title"`
					Handle string   `json:"handle"`
					Tags   []string `json:"tags"`
					Status string   `json:"status"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"products"`
	}
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse product search: %w", err)
	}

	summaries := make([]ProductSummary, 0, len(response.Products.Edges))
	for _, edge := range response.Products.Edges {
		id, err := parseGID(edge.Node.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, ProductSummary{
			ID:     id,
			Title:  edge.Node.Title,
			Handle: edge.Node.Handle,
			Tags:   edge.Node.Tags,
			Status: strings.ToLower(edge.Node.Status),
		})
	}
	return summaries, nil
}

// ProductSummary is the condensed product returned by GraphQL searches.
type ProductSummary struct {
	ID     int64
	Title  string
	Handle string
	Tags   []string
	Status string
}

// doRequest performs one authenticated REST call with throttling and retries.
// 429 waits the server-suggested delay; 5xx and network failures back off
// exponentially; other 4xx fail immediately.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body any) ([]byte, error) {
	fullURL := c.baseURL + "/" + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s payload: %w", method, path, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			wait := retryBackoff(attempt, c.backoffBase)
			c.log.Warn("request failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(err))
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if err := sleepCtx(ctx, retryBackoff(attempt, c.backoffBase)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp, c.retryAfterFallback)
			lastErr = &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(respBody)}
			c.log.Info("rate limited, waiting",
				zap.String("path", path),
				zap.Duration("retry_after", wait))
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(respBody)}
			wait := retryBackoff(attempt, c.backoffBase)
			c.log.Warn("server error, retrying",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Duration("wait", wait))
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}

		case resp.StatusCode >= http.StatusBadRequest:
			return nil, &APIError{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(respBody)}

		default:
			return respBody, nil
		}
	}

	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.maxRetries, lastErr)
}

// graphql executes one GraphQL call with the same throttle and retry rules as
// REST requests, and unwraps the data envelope.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if err := sleepCtx(ctx, retryBackoff(attempt, c.backoffBase)); err != nil {
				return nil, err
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if err := sleepCtx(ctx, retryBackoff(attempt, c.backoffBase)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp, c.retryAfterFallback)
			lastErr = &APIError{StatusCode: resp.StatusCode, Method: http.MethodPost, Path: "graphql.json", Body: string(respBody)}
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = &APIError{StatusCode: resp.StatusCode, Method: http.MethodPost, Path: "graphql.json", Body: string(respBody)}
			if err := sleepCtx(ctx, retryBackoff(attempt, c.backoffBase)); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= http.StatusBadRequest:
			return nil, &APIError{StatusCode: resp.StatusCode, Method: http.MethodPost, Path: "graphql.json", Body: string(respBody)}
		}

		var envelope struct {
			Data   json.RawMessage `json:"data"`
			Errors json.RawMessage `json:"errors"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			return nil, fmt.Errorf("graphql response is not JSON: %w", err)
		}
		if len(envelope.Errors) > 0 && string(envelope.Errors) != "null" {
			return nil, fmt.Errorf("graphql error: %s", envelope.Errors)
		}
		if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
			return nil, fmt.Errorf("graphql response has no data field")
		}
		return envelope.Data, nil
	}

	return nil, fmt.Errorf("graphql failed after %d attempts: %w", c.maxRetries, lastErr)
}

// parseGID extracts the numeric ID from a GraphQL global ID such as
// "gid://shopify/Product/12345".
func parseGID(gid string) (int64, error) {
	idx := strings.LastIndexByte(gid, '/')
	id, err := strconv.ParseInt(gid[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected global id %q: %w", gid, err)
	}
	return id, nil
}

// sleepCtx sleeps for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
