package models

import (
	"time"
)

const (
	UnknownProductName = "Unknown Product"
	UnknownStore       = "Unknown"
	DefaultCurrency    = "USD"
)

// Product is the normalized record produced by extraction and persisted by the store.
// A zero Price means the price could not be extracted, not that the item is free.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	ImageURL    *string   `json:"image_url"`
	Store       string    `json:"store"`
	URL         string    `json:"url"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// SearchResult is a candidate found on a retailer search page.
type SearchResult struct {
	Title   string  `json:"title"`
	Price   float64 `json:"price"`
	Rating  string  `json:"rating,omitempty"`
	Reviews string  `json:"reviews,omitempty"`
	URL     string  `json:"url"`
	Source  string  `json:"source"`
}

type ScrapeResult struct {
	Product *Product `json:"product,omitempty"`
	Error   *Error   `json:"error,omitempty"`
	Success bool     `json:"success"`
}

type Error struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	URL     string    `json:"url,omitempty"`
}

func NewProduct(url, store string) *Product {
	return &Product{
		URL:      url,
		Store:    store,
		Currency: DefaultCurrency,
	}
}

// StringPtr returns nil for an empty string so absent images serialize as null.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Normalize fills the documented defaults for fields extraction could not find.
func (p *Product) Normalize() {
	if p.Name == "" {
		p.Name = UnknownProductName
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	if p.Store == "" {
		p.Store = UnknownStore
	}
	if p.Price < 0 {
		p.Price = 0
	}
	if p.ImageURL != nil && *p.ImageURL == "" {
		p.ImageURL = nil
	}
}

// MissingFields returns the required fields that are empty. The name sentinel
// counts as missing because it carries no identity for the product.
func (p *Product) MissingFields() []string {
	var missing []string

	if p.URL == "" {
		missing = append(missing, "url")
	}

	if p.Name == "" || p.Name == UnknownProductName {
		missing = append(missing, "name")
	}

	if p.Currency == "" {
		missing = append(missing, "currency")
	}

	if p.Store == "" {
		missing = append(missing, "store")
	}

	return missing
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *Product) Clone() *Product {
	c := *p
	if p.ImageURL != nil {
		img := *p.ImageURL
		c.ImageURL = &img
	}
	return &c
}
