package parser

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-tracker/internal/models"
)

// GenericParser is the low-precision fallback for sites without a dedicated
// parser. Its price is the first number anywhere in the page body.
type GenericParser struct{}

func NewGenericParser() *GenericParser {
	return &GenericParser{}
}

func (p *GenericParser) Store() string {
	return models.UnknownStore
}

func (p *GenericParser) Parse(doc *goquery.Document) *models.Product {
	product := models.NewProduct("", p.Store())

	product.Name = firstText(doc, "h1")
	if product.Name == "" {
		product.Name = metaContent(doc, `meta[property="og:title"]`)
	}
	if product.Name == "" {
		product.Name = firstText(doc, "title")
	}

	product.Description = metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)
	product.ImageURL = models.StringPtr(metaContent(doc, `meta[property="og:image"]`))
	product.Price = ExtractPrice(doc.Find("body").Text())

	return product
}
