package batch

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Column names used by the scraper's CSV output. The files carry ~50 fixed
// Shopify import columns; these are the ones the sync pipeline reads.
const (
	colTitle          = "Title"
	colHandle         = "URL handle"
	colDescription    = "Description"
	colVendor         = "Vendor"
	colCategory       = "Product category"
	colType           = "Type"
	colTags           = "Tags"
	colStatus         = "Status"
	colSKU            = "SKU"
	colBarcode        = "Barcode"
	colOptionName     = "Option1 name"
	colOptionValue    = "Option1 value"
	colPrice          = "Price"
	colCompareAtPrice = "Compare-at price"
	colInventoryQty   = "Inventory quantity"
	colImageURL       = "Product image URL"
	colImageAlt       = "Image alt text"
)

// Row is one normalized CSV row: product-level fields plus one variant.
type Row struct {
	Handle      string
	Title       string
	Description string
	Vendor      string
	Category    string
	Type        string
	Tags        string
	Status      string

	SKU         string
	Barcode     string
	OptionName  string
	OptionValue string

	// Price and CompareAtPrice are normalized decimal strings, "" when the
	// source value was unusable.
	Price          string
	CompareAtPrice string
	InventoryQty   int

	ImageURL string
	ImageAlt string
}

// Group is every row of a batch sharing one handle. The first row supplies
// product-level fields; every row supplies one variant.
type Group struct {
	Handle string
	Rows   []Row
}

// Title returns the group's product title.
func (g *Group) Title() string { return g.Rows[0].Title }

// Description returns the group's product description HTML.
func (g *Group) Description() string { return g.Rows[0].Description }

// ImageURL returns the group's primary image URL.
func (g *Group) ImageURL() string { return g.Rows[0].ImageURL }

// OptionName returns the variant axis name, defaulting to Shopify's "Title".
func (g *Group) OptionName() string {
	if name := strings.TrimSpace(g.Rows[0].OptionName); name != "" {
		return name
	}
	return "Title"
}

// Loader reads per-category CSV batch files.
type Loader struct {
	log *zap.Logger
}

// NewLoader creates a batch loader.
func NewLoader(log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{log: log}
}

// ReadFile loads one CSV file and groups its rows by handle, preserving the
// order handles first appear. Rows without a handle are dropped with a
// warning. A UTF-8 byte-order mark is tolerated.
func (l *Loader) ReadFile(path string) ([]Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	decoder := transform.NewReader(f, unicode.UTF8BOM.NewDecoder())
	reader := csv.NewReader(decoder)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	index := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		index[strings.TrimSpace(name)] = i
	}
	field := func(record []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	byHandle := make(map[string]int)
	var groups []Group

	for n, record := range records[1:] {
		handle := strings.TrimSpace(field(record, colHandle))
		if handle == "" {
			l.log.Warn("dropping row without handle",
				zap.String("file", filepath.Base(path)),
				zap.Int("line", n+2))
			continue
		}

		row := Row{
			Handle:         handle,
			Title:          strings.TrimSpace(field(record, colTitle)),
			Description:    field(record, colDescription),
			Vendor:         strings.TrimSpace(field(record, colVendor)),
			Category:       strings.TrimSpace(field(record, colCategory)),
			Type:           strings.TrimSpace(field(record, colType)),
			Tags:           field(record, colTags),
			Status:         strings.TrimSpace(field(record, colStatus)),
			SKU:            strings.TrimSpace(field(record, colSKU)),
			Barcode:        NormalizeBarcode(field(record, colBarcode)),
			OptionName:     strings.TrimSpace(field(record, colOptionName)),
			OptionValue:    strings.TrimSpace(field(record, colOptionValue)),
			Price:          CleanPrice(field(record, colPrice)),
			CompareAtPrice: CleanPrice(field(record, colCompareAtPrice)),
			InventoryQty:   ParseInventoryQuantity(field(record, colInventoryQty)),
			ImageURL:       strings.TrimSpace(field(record, colImageURL)),
			ImageAlt:       strings.TrimSpace(field(record, colImageAlt)),
		}

		if i, ok := byHandle[handle]; ok {
			groups[i].Rows = append(groups[i].Rows, row)
		} else {
			byHandle[handle] = len(groups)
			groups = append(groups, Group{Handle: handle, Rows: []Row{row}})
		}
	}

	l.warnDuplicateVariants(path, groups)
	return groups, nil
}

// warnDuplicateVariants flags groups whose option values collide after
// case-insensitive normalization; duplicates indicate malformed source data.
func (l *Loader) warnDuplicateVariants(path string, groups []Group) {
	for _, g := range groups {
		seen := make(map[string]bool, len(g.Rows))
		for _, row := range g.Rows {
			key := strings.ToLower(strings.TrimSpace(row.OptionValue))
			if seen[key] {
				l.log.Warn("duplicate variant option value in batch",
					zap.String("file", filepath.Base(path)),
					zap.String("handle", g.Handle),
					zap.String("option", row.OptionValue))
			}
			seen[key] = true
		}
	}
}

// ListFiles returns the CSV files of a batch directory in name order.
func ListFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// DiscoverLatestDir picks the most recently modified extraction directory
// under base. Used when no source directory flag is given.
func DiscoverLatestDir(base string) (string, error) {
	entries, err := filepath.Glob(filepath.Join(base, "Extracción_*"))
	if err != nil {
		return "", err
	}

	var latest string
	var latestMod int64
	for _, entry := range entries {
		info, err := os.Stat(entry)
		if err != nil || !info.IsDir() {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest, latestMod = entry, mod
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no extraction directory found under %s", base)
	}
	return latest, nil
}
