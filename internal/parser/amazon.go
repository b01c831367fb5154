package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-tracker/internal/models"
)

type AmazonParser struct {
	titleSelectors       []string
	priceSelectors       []string
	descriptionSelectors []string
}

func NewAmazonParser() *AmazonParser {
	return &AmazonParser{
		titleSelectors: []string{
			"#productTitle",
			"#title",
		},
		priceSelectors: []string{
			".a-price .a-offscreen",
			"#corePrice_feature_div .a-offscreen",
			"#priceblock_ourprice",
			"#priceblock_dealprice",
			".a-price-whole",
			".a-price-range",
		},
		descriptionSelectors: []string{
			"#productDescription",
			"#feature-bullets",
		},
	}
}

func (p *AmazonParser) Store() string {
	return "Amazon"
}

func (p *AmazonParser) Parse(doc *goquery.Document) *models.Product {
	product := models.NewProduct("", p.Store())

	product.Name = firstText(doc, p.titleSelectors...)
	product.Price = firstPrice(doc, p.priceSelectors...)
	product.Description = firstText(doc, p.descriptionSelectors...)
	product.ImageURL = models.StringPtr(p.extractImage(doc))

	return product
}

func (p *AmazonParser) extractImage(doc *goquery.Document) string {
	if img := firstAttr(doc, "#landingImage", "data-old-hires", "src"); img != "" {
		return img
	}

	if img := firstAttr(doc, "#imgBlkFront", "src"); img != "" {
		return img
	}

	var image string
	doc.Find("#altImages ul li img").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if src, exists := s.Attr("src"); exists && src != "" {
			image = strings.Replace(src, "_AC_US40_", "_AC_SL1500_", 1)
			return false
		}
		return true
	})

	return image
}

// AmazonSearchParser extracts result cards from an Amazon search page.
type AmazonSearchParser struct{}

func NewAmazonSearchParser() *AmazonSearchParser {
	return &AmazonSearchParser{}
}

func (p *AmazonSearchParser) Source() string {
	return "amazon"
}

func (p *AmazonSearchParser) ParseSearch(doc *goquery.Document, baseURL string) []models.SearchResult {
	var results []models.SearchResult

	doc.Find(".s-result-item").Each(func(i int, item *goquery.Selection) {
		title := collapseSpace(item.Find("h2 span").First().Text())
		href, _ := item.Find("a").First().Attr("href")
		if title == "" || href == "" {
			return
		}

		price := ExtractPriceFromSelection(item.Find(".a-price .a-offscreen"))
		if price == 0 {
			price = ExtractPriceFromSelection(item.Find(".a-price-whole"))
		}

		results = append(results, models.SearchResult{
			Title:   title,
			Price:   price,
			Rating:  collapseSpace(item.Find(".a-icon-star-small .a-icon-alt").First().Text()),
			Reviews: collapseSpace(item.Find(".a-size-base").First().Text()),
			URL:     resolveURL(baseURL, href),
			Source:  p.Source(),
		})
	})

	return results
}
