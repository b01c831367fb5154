package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/price-tracker/internal/models"
)

type route struct {
	match  string
	parser ProductParser
}

// Dispatcher selects exactly one parser per URL. Retailers are matched by
// substring on the lowercased host, so subdomains and look-alike domains
// (e.g. myamazon-deals.com) route to the retailer parser as well.
type Dispatcher struct {
	routes   []route
	fallback ProductParser
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		routes: []route{
			{match: "amazon", parser: NewAmazonParser()},
			{match: "ebay", parser: NewEbayParser()},
		},
		fallback: NewGenericParser(),
	}
}

// ParserFor returns the first retailer parser whose marker appears in the
// URL host, or the generic parser.
func (d *Dispatcher) ParserFor(rawURL string) ProductParser {
	host := hostOf(rawURL)
	if host == "" {
		return d.fallback
	}

	for _, r := range d.routes {
		if strings.Contains(host, r.match) {
			return r.parser
		}
	}

	return d.fallback
}

// Extract parses html with the parser selected for rawURL. It always returns
// a normalized record; unreadable markup yields a record of defaults.
func (d *Dispatcher) Extract(rawURL, html string) *models.Product {
	p := d.ParserFor(rawURL)

	var product *models.Product
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		product = models.NewProduct(rawURL, p.Store())
	} else {
		product = p.Parse(doc)
	}

	product.URL = rawURL
	product.Normalize()

	return product
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SearchParserFor returns the result-page parser for a search site name.
func SearchParserFor(site string) (SearchParser, bool) {
	switch strings.ToLower(site) {
	case "amazon":
		return NewAmazonSearchParser(), true
	case "ebay":
		return NewEbaySearchParser(), true
	default:
		return nil, false
	}
}
