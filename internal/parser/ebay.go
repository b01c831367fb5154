package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-tracker/internal/models"
)

type EbayParser struct {
	titleSelectors []string
	priceSelectors []string
}

func NewEbayParser() *EbayParser {
	return &EbayParser{
		titleSelectors: []string{
			"h1.x-item-title__mainTitle",
			"#itemTitle",
			"h1",
		},
		priceSelectors: []string{
			".x-price-primary",
			"#prcIsum",
			"#mm-saleDscPrc",
			"[itemprop=price]",
		},
	}
}

func (p *EbayParser) Store() string {
	return "eBay"
}

func (p *EbayParser) Parse(doc *goquery.Document) *models.Product {
	product := models.NewProduct("", p.Store())

	product.Name = strings.TrimPrefix(firstText(doc, p.titleSelectors...), "Details about ")
	product.Price = firstPrice(doc, p.priceSelectors...)
	product.Description = metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)
	product.ImageURL = models.StringPtr(p.extractImage(doc))

	return product
}

func (p *EbayParser) extractImage(doc *goquery.Document) string {
	if img := firstAttr(doc, ".ux-image-carousel-item img", "data-zoom-src", "src"); img != "" {
		return img
	}
	if img := firstAttr(doc, "#icImg", "src"); img != "" {
		return img
	}
	return metaContent(doc, `meta[property="og:image"]`)
}

// EbaySearchParser extracts listings from an eBay search page.
type EbaySearchParser struct{}

func NewEbaySearchParser() *EbaySearchParser {
	return &EbaySearchParser{}
}

func (p *EbaySearchParser) Source() string {
	return "ebay"
}

func (p *EbaySearchParser) ParseSearch(doc *goquery.Document, baseURL string) []models.SearchResult {
	var results []models.SearchResult

	doc.Find(".s-item").Each(func(i int, item *goquery.Selection) {
		title := collapseSpace(item.Find(".s-item__title").First().Text())
		href, _ := item.Find("a.s-item__link").First().Attr("href")
		// eBay renders a hidden "Shop on eBay" template card first.
		if title == "" || href == "" || strings.EqualFold(title, "Shop on eBay") {
			return
		}

		results = append(results, models.SearchResult{
			Title:   title,
			Price:   ExtractPriceFromSelection(item.Find(".s-item__price")),
			Rating:  collapseSpace(item.Find(".x-star-rating .clipped").First().Text()),
			Reviews: collapseSpace(item.Find(".s-item__reviews-count span").First().Text()),
			URL:     resolveURL(baseURL, href),
			Source:  p.Source(),
		})
	})

	return results
}
