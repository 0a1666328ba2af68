package httpx

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/ariefcatur/go-book-orders/internal/orders"
)

// utf8BOM lets spreadsheet tools detect the encoding of non-ASCII names.
const utf8BOM = "\ufeff"

var csvHeader = []string{
	"id", "name", "book_category", "book_title", "quantity", "unit_price", "amount", "note", "created_at",
}

// WriteOrdersCSV renders the listing view. Money columns are whole units.
func WriteOrdersCSV(w io.Writer, list []orders.Order) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range list {
		rec := []string{
			strconv.FormatInt(o.ID, 10),
			o.Name,
			o.BookCategory,
			o.BookTitle,
			strconv.Itoa(o.Quantity),
			strconv.FormatInt(orders.DisplayAmount(o.UnitPrice), 10),
			strconv.FormatInt(orders.DisplayAmount(o.Amount()), 10),
			o.Note,
			o.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
