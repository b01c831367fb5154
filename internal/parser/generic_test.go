package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenericParser_Parse(t *testing.T) {
	html := `<!DOCTYPE html>
<html>
<head>
	<title>Widget | Example Shop</title>
	<meta name="description" content="A great widget">
	<meta property="og:image" content="https://example.com/widget.png">
</head>
<body>
	<h1>Widget</h1>
	<p>Made with care.</p>
</body>
</html>`

	product := NewGenericParser().Parse(parseDoc(t, html))

	assert.Equal(t, "Widget", product.Name)
	assert.Equal(t, "A great widget", product.Description)
	assert.Equal(t, "Unknown", product.Store)
	assert.Equal(t, "USD", product.Currency)
	assert.Zero(t, product.Price)
	require.NotNil(t, product.ImageURL)
	assert.Equal(t, "https://example.com/widget.png", *product.ImageURL)
}

func TestGenericParser_PriceFromBodyText(t *testing.T) {
	html := `<html><body><h1>Desk Lamp</h1><div class="cost">Only $1,299.99 today</div></body></html>`

	product := NewGenericParser().Parse(parseDoc(t, html))

	assert.Equal(t, "Desk Lamp", product.Name)
	assert.Equal(t, 1299.99, product.Price)
	assert.Nil(t, product.ImageURL)
}

func TestGenericParser_NameFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		expected string
	}{
		{
			name:     "og title when no heading",
			html:     `<html><head><meta property="og:title" content="Garden Hose"><title>Shop</title></head><body></body></html>`,
			expected: "Garden Hose",
		},
		{
			name:     "document title last",
			html:     `<html><head><title> Camping Chair </title></head><body></body></html>`,
			expected: "Camping Chair",
		},
		{
			name:     "nothing found",
			html:     `<html><body><p>hello</p></body></html>`,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product := NewGenericParser().Parse(parseDoc(t, tt.html))
			assert.Equal(t, tt.expected, product.Name)
		})
	}
}
