package orders

// EditedRow is one row of the editable grid as the user left it.
type EditedRow struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
	Delete   bool  `json:"delete"`
}

// Diff compares the grid against the snapshot it was loaded from. The result
// is only as fresh as the snapshot: another session's edit in between is
// overwritten (last write wins). Rows missing from the snapshot are skipped.
func Diff(snapshot []Order, edited []EditedRow) Batch {
	before := make(map[int64]int, len(snapshot))
	for _, o := range snapshot {
		before[o.ID] = o.Quantity
	}

	var b Batch
	for _, row := range edited {
		qty, ok := before[row.ID]
		if !ok {
			continue
		}
		if row.Delete {
			b.Deletes = append(b.Deletes, row.ID)
		}
		if row.Quantity != qty {
			b.Updates = append(b.Updates, QuantityUpdate{ID: row.ID, Quantity: row.Quantity})
		}
	}
	return b
}
