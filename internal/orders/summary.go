package orders

import (
	"sort"

	"github.com/shopspring/decimal"
)

type TitleTotal struct {
	Title    string          `json:"title"`
	Quantity int             `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

type Summary struct {
	Titles []TitleTotal    `json:"titles"`
	Total  decimal.Decimal `json:"total"`
}

// Summarize groups orders by book title, sorted by title, and sums the grand
// total. Amounts keep full precision; round with DisplayAmount when showing.
func Summarize(orders []Order) Summary {
	byTitle := make(map[string]*TitleTotal)
	total := decimal.Zero
	for _, o := range orders {
		amt := o.Amount()
		tt, ok := byTitle[o.BookTitle]
		if !ok {
			tt = &TitleTotal{Title: o.BookTitle, Amount: decimal.Zero}
			byTitle[o.BookTitle] = tt
		}
		tt.Quantity += o.Quantity
		tt.Amount = tt.Amount.Add(amt)
		total = total.Add(amt)
	}

	titles := make([]TitleTotal, 0, len(byTitle))
	for _, tt := range byTitle {
		titles = append(titles, *tt)
	}
	sort.Slice(titles, func(i, j int) bool { return titles[i].Title < titles[j].Title })
	return Summary{Titles: titles, Total: total}
}

// DisplayAmount rounds to whole currency units, half away from zero.
func DisplayAmount(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
