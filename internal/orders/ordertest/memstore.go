// Package ordertest provides an in-memory orders.Store for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/cockroachdb/errors"
)

// MemStore mimics the Postgres store: a CHECK (qty > 0) constraint,
// serial ids, and all-or-nothing batches.
type MemStore struct {
	mu     sync.Mutex
	rows   map[int64]orders.Order
	nextID int64

	// FailDelete, when set, is consulted for each id a batch deletes;
	// a non-nil error aborts the batch.
	FailDelete func(id int64) error
}

func NewMemStore() *MemStore {
	return &MemStore{rows: map[int64]orders.Order{}, nextID: 1}
}

// Seed stores rows as-is, bypassing validation, e.g. to simulate
// backfilled legacy data. Ids are kept.
func (m *MemStore) Seed(rows ...orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range rows {
		m.rows[o.ID] = o
		if o.ID >= m.nextID {
			m.nextID = o.ID + 1
		}
	}
}

// Get returns a stored row regardless of list limits.
func (m *MemStore) Get(id int64) (orders.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	return o, ok
}

func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func checkQty(qty int) error {
	if qty <= 0 {
		return errors.Mark(errors.Mark(
			errors.Newf("new row violates check constraint: qty=%d", qty),
			orders.ErrStorageWrite), orders.ErrConstraintViolation)
	}
	return nil
}

func (m *MemStore) Insert(_ context.Context, no orders.NewOrder) (int64, error) {
	if err := checkQty(no.Quantity); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.rows[id] = orders.Order{
		ID:           id,
		Name:         no.Name,
		Quantity:     no.Quantity,
		BookCategory: no.Item.Category(),
		BookTitle:    no.Item.Title(),
		UnitPrice:    no.Item.UnitPrice(),
		Note:         no.Note,
		CreatedAt:    no.CreatedAt,
	}
	return id, nil
}

func (m *MemStore) List(_ context.Context, limit int) ([]orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]orders.Order, 0, len(m.rows))
	for _, o := range m.rows {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) UpdateQuantity(_ context.Context, id int64, qty int) (bool, error) {
	if err := checkQty(qty); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.rows[id]
	if ok {
		o.Quantity = qty
		m.rows[id] = o
	}
	return ok, nil
}

func (m *MemStore) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[id]
	delete(m.rows, id)
	return ok, nil
}

// BatchApply works on a copy and swaps it in only when every step succeeded.
func (m *MemStore) BatchApply(_ context.Context, b orders.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := make(map[int64]orders.Order, len(m.rows))
	for id, o := range m.rows {
		work[id] = o
	}
	for _, u := range b.Updates {
		if err := checkQty(u.Quantity); err != nil {
			return err
		}
		if o, ok := work[u.ID]; ok {
			o.Quantity = u.Quantity
			work[u.ID] = o
		}
	}
	for _, id := range b.Deletes {
		if m.FailDelete != nil {
			if err := m.FailDelete(id); err != nil {
				return errors.Mark(err, orders.ErrStorageWrite)
			}
		}
		delete(work, id)
	}
	m.rows = work
	return nil
}
