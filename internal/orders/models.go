package orders

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 200

// Placeholder is written into category/title columns of rows that predate
// those columns.
const Placeholder = "unspecified"

type Order struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Quantity     int             `json:"quantity"`
	BookCategory string          `json:"book_category"`
	BookTitle    string          `json:"book_title"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Note         string          `json:"note"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Amount is derived on every read and never stored.
func (o Order) Amount() decimal.Decimal {
	return o.UnitPrice.Mul(decimal.NewFromInt(int64(o.Quantity)))
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		Amount decimal.Decimal `json:"amount"`
	}{plain(o), o.Amount()})
}

// NewOrder is a validated row ready to be written by a Store.
type NewOrder struct {
	Name      string
	Quantity  int
	Item      Item
	Note      string
	CreatedAt time.Time
}

// OrderInput is what a purchaser submits through the form.
type OrderInput struct {
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Category string          `json:"category"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Note     string          `json:"note"`
}

type QuantityUpdate struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

// Batch is applied in one transaction: every update first, then every delete.
type Batch struct {
	Updates []QuantityUpdate `json:"updates"`
	Deletes []int64          `json:"deletes"`
}

func (b Batch) Empty() bool { return len(b.Updates) == 0 && len(b.Deletes) == 0 }

// MaxQuantity is the largest quantity the qty INTEGER column can hold.
const MaxQuantity = math.MaxInt32

func checkMaxQuantity(q int) error {
	if q > MaxQuantity {
		return &ValidationError{Field: "quantity", Reason: "quantity is too large"}
	}
	return nil
}

// ClampQuantity floors q at 1.
func ClampQuantity(q int) int {
	if q < 1 {
		return 1
	}
	return q
}
