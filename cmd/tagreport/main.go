package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/daniddm/padel-canaveral/internal/config"
	"github.com/daniddm/padel-canaveral/internal/logging"
	"github.com/daniddm/padel-canaveral/internal/shopify"
)

// tagreport is a read-only audit tool: it lists every product carrying the
// scraper tag, prints the tag frequency table and flags handles that resolve
// to more than one product ID.
func main() {
	os.Exit(run())
}

func run() int {
	var (
		tag   = flag.String("tag", "", "scraper tag to audit (default from config)")
		limit = flag.Int("limit", 20, "number of top tags to print")
		query = flag.String("query", "", "ad-hoc product search (e.g. \"handle:pala-x\" or \"title:Nox*\")")
	)
	flag.Parse()

	log, err := logging.New(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		return 1
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration error", zap.Error(err))
		return 1
	}
	if *tag == "" {
		*tag = cfg.ScraperTag
	}

	client := shopify.NewClient(shopify.Options{
		ShopDomain:     cfg.ShopDomain,
		AccessToken:    cfg.AccessToken,
		APIVersion:     cfg.APIVersion,
		RequestTimeout: cfg.RequestTimeout,
		RateDelay:      cfg.RateDelay,
		MaxRetries:     cfg.MaxRetries,
		Logger:         log,
	})

	ctx := context.Background()

	if *query != "" {
		return runSearch(ctx, client, log, *query)
	}

	products, err := scrapedProducts(ctx, client, *tag)
	if err != nil {
		log.Error("product scan failed", zap.Error(err))
		return 1
	}
	log.Info("scan complete",
		zap.String("tag", *tag),
		zap.Int("products", len(products)))

	printTagFrequency(products, *limit)
	printDuplicateHandles(products)
	return 0
}

// runSearch prints the products matching an ad-hoc Shopify search query.
func runSearch(ctx context.Context, client *shopify.Client, log *zap.Logger, query string) int {
	matches, err := client.SearchProducts(ctx, query, 50)
	if err != nil {
		log.Error("search failed", zap.String("query", query), zap.Error(err))
		return 1
	}
	fmt.Printf("%d matches for %q:\n", len(matches), query)
	for _, m := range matches {
		fmt.Printf("  %-12d %-8s %-40s %s\n", m.ID, m.Status, m.Handle, m.Title)
	}
	return 0
}

// scrapedProducts pages through every status and keeps the products carrying
// the audited tag.
func scrapedProducts(ctx context.Context, client *shopify.Client, tag string) ([]shopify.Product, error) {
	var out []shopify.Product
	for _, status := range []string{"active", "draft", "archived"} {
		var sinceID int64
		for {
			page, err := client.ListProductsPage(ctx, shopify.ListOptions{
				SinceID: sinceID,
				Fields:  "id,handle,title,tags,status",
				Status:  status,
			})
			if err != nil {
				return nil, err
			}
			if len(page) == 0 {
				break
			}
			for _, p := range page {
				if hasTag(p.Tags, tag) {
					out = append(out, p)
				}
			}
			sinceID = page[len(page)-1].ID
			if len(page) < shopify.PageSize {
				break
			}
		}
	}
	return out, nil
}

func hasTag(tagsRaw, tag string) bool {
	for _, t := range shopify.SplitTags(tagsRaw) {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func printTagFrequency(products []shopify.Product, limit int) {
	counts := make(map[string]int)
	for _, p := range products {
		for _, t := range shopify.SplitTags(p.Tags) {
			counts[strings.ToLower(t)]++
		}
	}

	type tagCount struct {
		tag   string
		count int
	}
	sorted := make([]tagCount, 0, len(counts))
	for t, n := range counts {
		sorted = append(sorted, tagCount{t, n})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].tag < sorted[j].tag
	})

	fmt.Printf("\nTop tags (%d distinct):\n", len(sorted))
	for i, tc := range sorted {
		if i >= limit {
			break
		}
		fmt.Printf("  %5d  %s\n", tc.count, tc.tag)
	}
}

// printDuplicateHandles flags handles that resolve to more than one product
// ID. These break handle-based identity and need manual cleanup.
func printDuplicateHandles(products []shopify.Product) {
	byHandle := make(map[string][]int64)
	for _, p := range products {
		byHandle[p.Handle] = append(byHandle[p.Handle], p.ID)
	}

	var duplicated []string
	for handle, ids := range byHandle {
		if len(ids) > 1 {
			duplicated = append(duplicated, handle)
		}
	}
	sort.Strings(duplicated)

	if len(duplicated) == 0 {
		fmt.Println("\nNo duplicate handles found.")
		return
	}
	fmt.Printf("\nDuplicate handles (%d):\n", len(duplicated))
	for _, handle := range duplicated {
		fmt.Printf("  %s -> ids %v\n", handle, byHandle[handle])
	}
}
