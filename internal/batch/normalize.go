package batch

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	nonPriceChars   = regexp.MustCompile(`[^0-9.]`)
	nonBarcodeChars = regexp.MustCompile(`[^0-9A-Za-z_-]`)
	nonDigitChars   = regexp.MustCompile(`[^0-9-]`)
)

// CleanPrice normalizes a scraped price string ("24,99 €", "1.299,00 EUR")
// into a plain decimal string, or "" when no usable number remains.
func CleanPrice(value string) string {
	if value == "" {
		return ""
	}
	cleaned := strings.NewReplacer("€", "", "EUR", "", "euros", "", " ", "", ",", ".").Replace(value)
	cleaned = nonPriceChars.ReplaceAllString(cleaned, "")
	if cleaned == "" {
		return ""
	}
	// Thousands separators leave extra dots; keep only the last as decimal.
	if strings.Count(cleaned, ".") > 1 {
		parts := strings.Split(cleaned, ".")
		cleaned = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
	}
	return cleaned
}

// NormalizeBarcode cleans a scraped barcode: spreadsheet quote prefix,
// embedded spaces and any character outside [0-9A-Za-z_-] are dropped.
func NormalizeBarcode(value string) string {
	s := strings.TrimSpace(value)
	s = strings.TrimPrefix(s, "'")
	s = strings.ReplaceAll(s, " ", "")
	return nonBarcodeChars.ReplaceAllString(s, "")
}

// ParseInventoryQuantity extracts a non-negative quantity from a scraped
// value; anything unparseable counts as zero stock.
func ParseInventoryQuantity(value string) int {
	if value == "" {
		return 0
	}
	cleaned := nonDigitChars.ReplaceAllString(value, "")
	if cleaned == "" || cleaned == "-" {
		return 0
	}
	qty, err := strconv.Atoi(cleaned)
	if err != nil || qty < 0 {
		return 0
	}
	return qty
}
