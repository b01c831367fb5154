package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-tracker/internal/models"
)

// ProductParser maps a parsed product page to a product record. Parse never
// fails: lookups that find nothing leave the field at its default.
type ProductParser interface {
	Store() string
	Parse(doc *goquery.Document) *models.Product
}

// SearchParser extracts candidates from a retailer's search result page.
type SearchParser interface {
	Source() string
	ParseSearch(doc *goquery.Document, baseURL string) []models.SearchResult
}

func firstText(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		text := collapseSpace(doc.Find(selector).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selector string, attrs ...string) string {
	sel := doc.Find(selector).First()
	for _, attr := range attrs {
		if val, exists := sel.Attr(attr); exists && strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func firstPrice(doc *goquery.Document, selectors ...string) float64 {
	for _, selector := range selectors {
		if price := ExtractPriceFromSelection(doc.Find(selector)); price > 0 {
			return price
		}
	}
	return 0
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if content := firstAttr(doc, selector, "content"); content != "" {
			return content
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}

	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return ref
	}

	return baseURL.ResolveReference(refURL).String()
}
