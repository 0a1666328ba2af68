package orders

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Item is a book line on an order, either from the catalog or typed in by hand.
type Item interface {
	Category() string
	Title() string
	UnitPrice() decimal.Decimal
}

type CatalogItem struct {
	Label string
	Price decimal.Decimal
}

func (c CatalogItem) Category() string           { return c.Label }
func (c CatalogItem) Title() string              { return c.Label }
func (c CatalogItem) UnitPrice() decimal.Decimal { return c.Price }

type FreeFormItem struct {
	Name  string
	Price decimal.Decimal
}

func (f FreeFormItem) Category() string           { return CategoryOther }
func (f FreeFormItem) Title() string              { return f.Name }
func (f FreeFormItem) UnitPrice() decimal.Decimal { return f.Price }

// CategoryOther marks a free-form item.
const CategoryOther = "Other"

// Catalog maps a label to its fixed price.
type Catalog struct {
	items []CatalogItem
}

// DefaultCatalog is the process-wide book list.
var DefaultCatalog = NewCatalog(
	CatalogItem{Label: "Practical Go", Price: decimal.NewFromInt(450)},
	CatalogItem{Label: "Designing Data Systems", Price: decimal.NewFromInt(620)},
)

func NewCatalog(items ...CatalogItem) *Catalog {
	return &Catalog{items: append([]CatalogItem(nil), items...)}
}

func (c *Catalog) Lookup(label string) (CatalogItem, bool) {
	for _, it := range c.items {
		if it.Label == label {
			return it, true
		}
	}
	return CatalogItem{}, false
}

// Labels lists catalog labels in display order, the free-form sentinel last.
func (c *Catalog) Labels() []string {
	out := make([]string, 0, len(c.items)+1)
	for _, it := range c.items {
		out = append(out, it.Label)
	}
	return append(out, CategoryOther)
}

func (c *Catalog) Items() []CatalogItem {
	return append([]CatalogItem(nil), c.items...)
}

// Resolve turns a submitted category/title/price into an Item. Catalog
// prices always win over whatever the caller sent.
func (c *Catalog) Resolve(category, title string, price decimal.Decimal) (Item, error) {
	if category == CategoryOther {
		title = strings.TrimSpace(title)
		if title == "" {
			return nil, &ValidationError{Field: "title", Reason: "free-form title must not be empty"}
		}
		if !price.IsPositive() {
			return nil, &ValidationError{Field: "price", Reason: "free-form price must be greater than 0"}
		}
		return FreeFormItem{Name: title, Price: price}, nil
	}
	it, ok := c.Lookup(category)
	if !ok {
		return nil, &ValidationError{Field: "category", Reason: "unknown book category " + category}
	}
	return it, nil
}
