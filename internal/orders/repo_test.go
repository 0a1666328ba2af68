package orders_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/ariefcatur/go-book-orders/internal/orders/ordertest"
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu          sync.Mutex
	gen         int64
	lists       map[int][]orders.Order
	summary     *orders.Summary
	invalidated int
}

func newFakeCache() *fakeCache { return &fakeCache{lists: map[int][]orders.Order{}} }

func (c *fakeCache) Generation(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *fakeCache) GetList(_ context.Context, limit int) ([]orders.Order, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lists[limit]
	return l, ok, nil
}

func (c *fakeCache) PutList(_ context.Context, gen int64, limit int, l []orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.lists[limit] = l
	}
	return nil
}

func (c *fakeCache) GetSummary(context.Context) (orders.Summary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary == nil {
		return orders.Summary{}, false, nil
	}
	return *c.summary, true, nil
}

func (c *fakeCache) PutSummary(_ context.Context, gen int64, s orders.Summary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.summary = &s
	}
	return nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lists = map[int][]orders.Order{}
	c.summary = nil
	c.invalidated++
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafkago.Message
}

func (p *fakePublisher) Publish(_ context.Context, key, value []byte, headers ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
}

func (p *fakePublisher) events(t *testing.T) []orders.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]orders.Envelope, 0, len(p.msgs))
	for _, m := range p.msgs {
		var env orders.Envelope
		require.NoError(t, json.Unmarshal(m.Value, &env))
		out = append(out, env)
	}
	return out
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newRepo() (*orders.Repo, *ordertest.MemStore) {
	st := ordertest.NewMemStore()
	return &orders.Repo{
		Store:   st,
		Service: "book-orders-test",
		Now:     func() time.Time { return fixedNow },
	}, st
}

func catalogInput(name string, qty int) orders.OrderInput {
	return orders.OrderInput{Name: name, Quantity: qty, Category: "Practical Go", Note: "gift wrap"}
}

func TestInsertThenListNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()

	first, err := repo.Insert(ctx, catalogInput("Alice", 2))
	require.NoError(t, err)
	second, err := repo.Insert(ctx, orders.OrderInput{
		Name: "  Bob ", Quantity: 1, Category: "Designing Data Systems",
	})
	require.NoError(t, err)
	require.Greater(t, second, first)

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, "Bob", list[0].Name)

	got := list[1]
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, "Practical Go", got.BookTitle)
	assert.True(t, decimal.NewFromInt(450).Equal(got.UnitPrice))
	assert.Equal(t, "gift wrap", got.Note)
	assert.Equal(t, fixedNow, got.CreatedAt)
	assert.True(t, decimal.NewFromInt(900).Equal(got.Amount()))
}

func TestCatalogPriceOverridesSubmittedPrice(t *testing.T) {
	ctx := context.Background()
	repo, st := newRepo()

	in := catalogInput("Alice", 1)
	in.Price = decimal.NewFromInt(1)
	id, err := repo.Insert(ctx, in)
	require.NoError(t, err)

	o, ok := st.Get(id)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(450).Equal(o.UnitPrice))
}

func TestFreeFormRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()

	_, err := repo.Insert(ctx, orders.OrderInput{
		Name: "Carol", Quantity: 3, Category: orders.CategoryOther,
		Title: "Foo", Price: decimal.NewFromInt(99),
	})
	require.NoError(t, err)

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Foo", list[0].BookTitle)
	assert.Equal(t, orders.CategoryOther, list[0].BookCategory)
	assert.True(t, decimal.NewFromInt(99).Equal(list[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(297).Equal(list[0].Amount()))
}

func TestInsertValidation(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		in    orders.OrderInput
		field string
	}{
		{"blank name", orders.OrderInput{Name: "   ", Quantity: 1, Category: "Practical Go"}, "name"},
		{"zero quantity", orders.OrderInput{Name: "A", Quantity: 0, Category: "Practical Go"}, "quantity"},
		{"quantity beyond column range", orders.OrderInput{Name: "A", Quantity: orders.MaxQuantity + 1, Category: "Practical Go"}, "quantity"},
		{"unknown category", orders.OrderInput{Name: "A", Quantity: 1, Category: "Cookbook"}, "category"},
		{"free-form without title", orders.OrderInput{Name: "A", Quantity: 1, Category: orders.CategoryOther, Title: " ", Price: decimal.NewFromInt(5)}, "title"},
		{"free-form zero price", orders.OrderInput{Name: "A", Quantity: 1, Category: orders.CategoryOther, Title: "Foo"}, "price"},
		{"free-form negative price", orders.OrderInput{Name: "A", Quantity: 1, Category: orders.CategoryOther, Title: "Foo", Price: decimal.NewFromInt(-3)}, "price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, st := newRepo()
			_, err := repo.Insert(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, orders.ErrValidation))
			var ve *orders.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
			assert.Zero(t, st.Len(), "nothing may be written")
		})
	}
}

func TestUpdateQuantityClampsToOne(t *testing.T) {
	ctx := context.Background()
	repo, st := newRepo()
	id, err := repo.Insert(ctx, catalogInput("Alice", 4))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateQuantity(ctx, id, 0))
	o, _ := st.Get(id)
	assert.Equal(t, 1, o.Quantity)

	require.NoError(t, repo.UpdateQuantity(ctx, id, -7))
	o, _ = st.Get(id)
	assert.Equal(t, 1, o.Quantity)

	require.NoError(t, repo.UpdateQuantity(ctx, id, 6))
	o, _ = st.Get(id)
	assert.Equal(t, 6, o.Quantity)
}

func TestStaleIDsAreNoOps(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	pub := &fakePublisher{}
	repo, st := newRepo()
	repo.Cache = cache
	repo.Producer = pub
	id, err := repo.Insert(ctx, catalogInput("Alice", 2))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateQuantity(ctx, id+100, 5))
	require.NoError(t, repo.Delete(ctx, id+100))

	assert.Equal(t, 1, st.Len())
	o, _ := st.Get(id)
	assert.Equal(t, 2, o.Quantity)
	assert.Equal(t, 1, cache.invalidated, "only the insert touched a row")
	assert.Len(t, pub.events(t), 1)
}

func TestOversizedQuantityRejected(t *testing.T) {
	ctx := context.Background()
	repo, st := newRepo()
	id, err := repo.Insert(ctx, catalogInput("Alice", 2))
	require.NoError(t, err)

	err = repo.UpdateQuantity(ctx, id, orders.MaxQuantity+1)
	assert.True(t, errors.Is(err, orders.ErrValidation))

	err = repo.BatchApply(ctx, orders.Batch{Updates: []orders.QuantityUpdate{{ID: id, Quantity: orders.MaxQuantity + 1}}})
	assert.True(t, errors.Is(err, orders.ErrValidation))

	o, _ := st.Get(id)
	assert.Equal(t, 2, o.Quantity)
	require.NoError(t, repo.UpdateQuantity(ctx, id, orders.MaxQuantity))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo, st := newRepo()
	id, err := repo.Insert(ctx, catalogInput("Alice", 2))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, id))
	_, ok := st.Get(id)
	assert.False(t, ok)
}

func TestBatchApply(t *testing.T) {
	ctx := context.Background()
	repo, st := newRepo()
	a, _ := repo.Insert(ctx, catalogInput("A", 1))
	b, _ := repo.Insert(ctx, catalogInput("B", 1))
	c, _ := repo.Insert(ctx, catalogInput("C", 1))

	err := repo.BatchApply(ctx, orders.Batch{
		Updates: []orders.QuantityUpdate{{ID: a, Quantity: 5}, {ID: b, Quantity: 0}, {ID: c, Quantity: 9}},
		Deletes: []int64{c},
	})
	require.NoError(t, err)

	oa, _ := st.Get(a)
	ob, _ := st.Get(b)
	assert.Equal(t, 5, oa.Quantity)
	assert.Equal(t, 1, ob.Quantity, "batch updates are re-clamped")
	_, ok := st.Get(c)
	assert.False(t, ok, "delete wins over an update to the same row")
}

func TestBatchApplyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo, st := newRepo()
	a, _ := repo.Insert(ctx, catalogInput("A", 2))
	b, _ := repo.Insert(ctx, catalogInput("B", 3))
	before, err := st.List(ctx, 0)
	require.NoError(t, err)

	st.FailDelete = func(id int64) error {
		return errors.New("connection reset mid-transaction")
	}
	err = repo.BatchApply(ctx, orders.Batch{
		Updates: []orders.QuantityUpdate{{ID: a, Quantity: 10}},
		Deletes: []int64{b},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, orders.ErrStorageWrite))

	after, err := st.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEmptyBatchDoesNothing(t *testing.T) {
	cache := newFakeCache()
	pub := &fakePublisher{}
	repo, _ := newRepo()
	repo.Cache = cache
	repo.Producer = pub

	require.NoError(t, repo.BatchApply(context.Background(), orders.Batch{}))
	assert.Zero(t, cache.invalidated)
	assert.Empty(t, pub.events(t))
}

func TestEmptyOrderSet(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo()

	list, err := repo.List(ctx, 50)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	s, err := repo.Summary(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, s.Titles)
	assert.True(t, s.Total.IsZero())
}

func TestBackfilledRowsHaveZeroAmount(t *testing.T) {
	ctx := context.Background()
	repo, st := newRepo()
	st.Seed(orders.Order{ID: 1, Name: "legacy", Quantity: 4, BookCategory: orders.Placeholder, BookTitle: orders.Placeholder})

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Amount().IsZero())
}

func TestCacheInvalidatedAfterEveryWrite(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	repo, _ := newRepo()
	repo.Cache = cache

	id, err := repo.Insert(ctx, catalogInput("Alice", 1))
	require.NoError(t, err)

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Contains(t, cache.lists, 10)

	require.NoError(t, repo.UpdateQuantity(ctx, id, 3))
	list, err = repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, list[0].Quantity, "writer must see its own update")

	require.NoError(t, repo.BatchApply(ctx, orders.Batch{Deletes: []int64{id}}))
	list, err = repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Equal(t, 3, cache.invalidated)
}

func TestListServedFromCache(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	repo, st := newRepo()
	repo.Cache = cache

	_, err := repo.Insert(ctx, catalogInput("Alice", 1))
	require.NoError(t, err)
	_, err = repo.List(ctx, 10)
	require.NoError(t, err)

	// A write behind the repo's back is invisible until the TTL expires.
	st.Seed(orders.Order{ID: 99, Name: "other session", Quantity: 1, BookTitle: "X"})
	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	repo, st := newRepo()
	repo.Cache = cache
	id, _ := repo.Insert(ctx, catalogInput("Alice", 1))
	invalidations := cache.invalidated

	st.FailDelete = func(int64) error { return errors.New("boom") }
	require.Error(t, repo.BatchApply(ctx, orders.Batch{Deletes: []int64{id}}))
	assert.Equal(t, invalidations, cache.invalidated)
}

func TestEventsPublishedForMutations(t *testing.T) {
	ctx := orders.WithTraceID(context.Background(), "req-1")
	pub := &fakePublisher{}
	repo, _ := newRepo()
	repo.Producer = pub

	id, err := repo.Insert(ctx, catalogInput("Alice", 2))
	require.NoError(t, err)
	require.NoError(t, repo.UpdateQuantity(ctx, id, 0))
	require.NoError(t, repo.BatchApply(ctx, orders.Batch{Updates: []orders.QuantityUpdate{{ID: id, Quantity: 4}}}))
	require.NoError(t, repo.Delete(ctx, id))

	evs := pub.events(t)
	require.Len(t, evs, 4)
	types := []string{evs[0].EventType, evs[1].EventType, evs[2].EventType, evs[3].EventType}
	assert.Equal(t, []string{
		orders.EventOrderPlaced, orders.EventQuantityChanged, orders.EventBatchApplied, orders.EventOrderDeleted,
	}, types)
	for _, ev := range evs {
		assert.Equal(t, "req-1", ev.TraceID)
		assert.Equal(t, "book-orders-test", ev.Producer)
		assert.NotEmpty(t, ev.EventID)
	}

	var qc orders.QuantityChangedPayload
	require.NoError(t, json.Unmarshal(evs[1].Payload, &qc))
	assert.Equal(t, orders.QuantityChangedPayload{OrderID: id, Quantity: 1}, qc)
	assert.Empty(t, evs[2].CorrelationID)
}

// gatedStore pauses the first List after it has read the rows, so a write
// can commit between that read and the cache fill.
type gatedStore struct {
	*ordertest.MemStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemStore: ordertest.NewMemStore(), read: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) List(ctx context.Context, limit int) ([]orders.Order, error) {
	out, err := g.MemStore.List(ctx, limit)
	g.once.Do(func() {
		close(g.read)
		<-g.release
	})
	return out, err
}

func TestWriterSeesOwnInsertAfterRacingRead(t *testing.T) {
	ctx := context.Background()
	st := newGatedStore()
	repo := &orders.Repo{Store: st, Cache: newFakeCache(), Now: func() time.Time { return fixedNow }}

	done := make(chan error, 1)
	go func() {
		_, err := repo.List(ctx, 10)
		done <- err
	}()
	<-st.read
	id, err := repo.Insert(ctx, catalogInput("Alice", 1))
	require.NoError(t, err)
	close(st.release)
	require.NoError(t, <-done)

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestSummaryRacingWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	st := newGatedStore()
	repo := &orders.Repo{Store: st, Cache: newFakeCache(), Now: func() time.Time { return fixedNow }}

	done := make(chan error, 1)
	go func() {
		_, err := repo.Summary(ctx, 10)
		done <- err
	}()
	<-st.read
	_, err := repo.Insert(ctx, catalogInput("Alice", 2))
	require.NoError(t, err)
	close(st.release)
	require.NoError(t, <-done)

	s, err := repo.Summary(ctx, 10)
	require.NoError(t, err)
	require.Len(t, s.Titles, 1)
	assert.True(t, decimal.NewFromInt(900).Equal(s.Total))
}
