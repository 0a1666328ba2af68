package orders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	kafkax "github.com/ariefcatur/go-book-orders/internal/kafka"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Store persists orders. Every mutating call is a single transaction.
// Stale ids are not errors: updating or deleting a missing row does nothing
// and reports found=false.
type Store interface {
	Insert(ctx context.Context, o NewOrder) (int64, error)
	List(ctx context.Context, limit int) ([]Order, error)
	UpdateQuantity(ctx context.Context, id int64, qty int) (found bool, err error)
	Delete(ctx context.Context, id int64) (found bool, err error)
	BatchApply(ctx context.Context, b Batch) error
}

// Cache is a short-lived read cache. Invalidate must drop everything and
// advance the generation; a put tagged with an older generation is dropped,
// so a read that raced a write can never repopulate the cache with rows
// from before that write.
type Cache interface {
	Generation(ctx context.Context) (int64, error)
	GetList(ctx context.Context, limit int) ([]Order, bool, error)
	PutList(ctx context.Context, gen int64, limit int, orders []Order) error
	GetSummary(ctx context.Context) (Summary, bool, error)
	PutSummary(ctx context.Context, gen int64, s Summary) error
	Invalidate(ctx context.Context) error
}

// Publisher must not block the caller on the broker.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header)
}

// Repo is the order repository used by the presentation layer. Cache and
// Producer are optional.
type Repo struct {
	Store    Store
	Cache    Cache
	Producer Publisher
	Catalog  *Catalog
	Service  string
	Log      *slog.Logger
	Now      func() time.Time
}

type traceKey struct{}

// WithTraceID tags ctx so change events carry the request id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

func (r *Repo) logger() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

func (r *Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Repo) catalog() *Catalog {
	if r.Catalog != nil {
		return r.Catalog
	}
	return DefaultCatalog
}

// Validate checks the input and resolves the book item without touching storage.
func (r *Repo) Validate(in OrderInput) (NewOrder, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return NewOrder{}, &ValidationError{Field: "name", Reason: "name must not be empty"}
	}
	if in.Quantity < 1 {
		return NewOrder{}, &ValidationError{Field: "quantity", Reason: "quantity must be at least 1"}
	}
	if err := checkMaxQuantity(in.Quantity); err != nil {
		return NewOrder{}, err
	}
	item, err := r.catalog().Resolve(in.Category, in.Title, in.Price)
	if err != nil {
		return NewOrder{}, err
	}
	return NewOrder{
		Name:     name,
		Quantity: in.Quantity,
		Item:     item,
		Note:     strings.TrimSpace(in.Note),
	}, nil
}

func (r *Repo) Insert(ctx context.Context, in OrderInput) (int64, error) {
	no, err := r.Validate(in)
	if err != nil {
		return 0, err
	}
	no.CreatedAt = r.now()

	id, err := r.Store.Insert(ctx, no)
	if err != nil {
		return 0, errors.Wrap(err, "insert order")
	}
	r.afterWrite(ctx, "insert")
	r.publish(ctx, EventOrderPlaced, PartitionKey(id), id, OrderPlacedPayload{
		OrderID:  id,
		Name:     no.Name,
		Category: no.Item.Category(),
		Title:    no.Item.Title(),
		Quantity: no.Quantity,
	})
	return id, nil
}

// List returns up to limit orders, newest first. Results may come from the
// cache; a broken cache only costs a trip to the store.
func (r *Repo) List(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if r.Cache != nil {
		cached, ok, err := r.Cache.GetList(ctx, limit)
		if err != nil {
			r.logger().Warn("order cache read failed", slog.Any("error", err))
		} else if ok {
			return cached, nil
		}
	}
	gen, cacheable := r.generation(ctx)

	out, err := r.Store.List(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if out == nil {
		out = []Order{}
	}
	if cacheable {
		if err := r.Cache.PutList(ctx, gen, limit, out); err != nil {
			r.logger().Warn("order cache write failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// Summary aggregates the same order set List(limit) returns.
func (r *Repo) Summary(ctx context.Context, limit int) (Summary, error) {
	if r.Cache != nil {
		s, ok, err := r.Cache.GetSummary(ctx)
		if err != nil {
			r.logger().Warn("summary cache read failed", slog.Any("error", err))
		} else if ok {
			return s, nil
		}
	}
	gen, cacheable := r.generation(ctx)

	list, err := r.List(ctx, limit)
	if err != nil {
		return Summary{}, err
	}
	s := Summarize(list)
	if cacheable {
		if err := r.Cache.PutSummary(ctx, gen, s); err != nil {
			r.logger().Warn("summary cache write failed", slog.Any("error", err))
		}
	}
	return s, nil
}

// UpdateQuantity floors qty at 1. A missing id is silently ignored.
func (r *Repo) UpdateQuantity(ctx context.Context, id int64, qty int) error {
	if err := checkMaxQuantity(qty); err != nil {
		return err
	}
	qty = ClampQuantity(qty)
	found, err := r.Store.UpdateQuantity(ctx, id, qty)
	if err != nil {
		return errors.Wrapf(err, "update quantity of order %d", id)
	}
	if !found {
		return nil
	}
	r.afterWrite(ctx, "update_quantity")
	r.publish(ctx, EventQuantityChanged, PartitionKey(id), id, QuantityChangedPayload{OrderID: id, Quantity: qty})
	return nil
}

// Delete removes the order. A missing id is silently ignored.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	found, err := r.Store.Delete(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "delete order %d", id)
	}
	if !found {
		return nil
	}
	r.afterWrite(ctx, "delete")
	r.publish(ctx, EventOrderDeleted, PartitionKey(id), id, OrderDeletedPayload{OrderID: id})
	return nil
}

// BatchApply writes every update and then every delete atomically.
// Quantities are re-clamped here even though the grid already enforces >= 1.
func (r *Repo) BatchApply(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	clamped := Batch{
		Updates: make([]QuantityUpdate, 0, len(b.Updates)),
		Deletes: b.Deletes,
	}
	for _, u := range b.Updates {
		if err := checkMaxQuantity(u.Quantity); err != nil {
			return err
		}
		clamped.Updates = append(clamped.Updates, QuantityUpdate{ID: u.ID, Quantity: ClampQuantity(u.Quantity)})
	}

	if err := r.Store.BatchApply(ctx, clamped); err != nil {
		return errors.Wrapf(err, "apply batch of %d updates and %d deletes", len(clamped.Updates), len(clamped.Deletes))
	}
	r.afterWrite(ctx, "batch_apply")
	r.publish(ctx, EventBatchApplied, BatchPartitionKey, 0, BatchAppliedPayload(clamped))
	return nil
}

// generation reads the cache generation before a store read. A failed read
// disables the following put.
func (r *Repo) generation(ctx context.Context) (int64, bool) {
	if r.Cache == nil {
		return 0, false
	}
	gen, err := r.Cache.Generation(ctx)
	if err != nil {
		r.logger().Warn("order cache generation read failed", slog.Any("error", err))
		return 0, false
	}
	return gen, true
}

// afterWrite drops cached reads so the writer sees its own change. The write
// is already committed, so a cache failure is logged rather than returned.
func (r *Repo) afterWrite(ctx context.Context, op string) {
	if r.Cache == nil {
		return
	}
	if err := r.Cache.Invalidate(ctx); err != nil {
		r.logger().Error("order cache invalidation failed",
			slog.String("operation", op),
			slog.Any("error", err))
	}
}

func (r *Repo) publish(ctx context.Context, eventType string, key []byte, orderID int64, payload any) {
	if r.Producer == nil {
		return
	}
	ev := Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   r.now().UTC(),
		Producer:     r.Service,
		TraceID:      traceID(ctx),
		Payload:      kafkax.MustMarshal(payload),
	}
	if orderID != 0 {
		ev.CorrelationID = string(PartitionKey(orderID))
	}
	r.Producer.Publish(ctx, key, kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
