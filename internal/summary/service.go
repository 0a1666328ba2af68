// Package summary keeps the aggregated order summary warm in the cache by
// recomputing it whenever an orders.changed event arrives.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkax "github.com/ariefcatur/go-book-orders/internal/kafka"
	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/ariefcatur/go-book-orders/internal/redisx"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type Service struct {
	Store       orders.Store
	Cache       orders.Cache
	Redis       *redis.Client // event dedup; nil disables it
	Limit       int
	ServiceName string
	Log         *slog.Logger
}

// HandleOrderChanged is installed as the consumer handler.
func (s *Service) HandleOrderChanged(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// A poison message would otherwise block the partition forever.
		s.Log.Warn("dropping undecodable event", slog.Int64("offset", m.Offset), slog.Any("error", err))
		return nil
	}
	switch env.EventType {
	case orders.EventOrderPlaced, orders.EventQuantityChanged, orders.EventOrderDeleted:
	case orders.EventBatchApplied:
		s.logBatch(env)
	default:
		return nil
	}

	var dedupKey string
	if s.Redis != nil && env.EventID != "" {
		dedupKey = fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		first, err := redisx.MarkOnce(ctx, s.Redis, dedupKey, redisx.TTLDedup)
		if err != nil {
			s.Log.Warn("dedup check failed", slog.Any("error", err))
			dedupKey = ""
		} else if !first {
			return nil
		}
	}

	sum, err := s.Refresh(ctx)
	if err != nil {
		// Let a redelivery of this event try again.
		if dedupKey != "" {
			_ = s.Redis.Del(context.WithoutCancel(ctx), dedupKey).Err()
		}
		return err
	}
	s.Log.Debug("summary refreshed",
		slog.String("event_type", env.EventType),
		slog.String("event_id", env.EventID),
		slog.Int("titles", len(sum.Titles)),
		slog.Duration("lag", time.Since(env.OccurredAt)))
	return nil
}

// logBatch records which orders a batch touched. A malformed payload only
// loses the log line; the refresh still runs.
func (s *Service) logBatch(env orders.Envelope) {
	b, err := kafkax.UnwrapPayload[orders.BatchAppliedPayload](env.Payload)
	if err != nil {
		s.Log.Warn("batch payload undecodable", slog.String("event_id", env.EventID), slog.Any("error", err))
		return
	}
	updated := make([]int64, 0, len(b.Updates))
	for _, u := range b.Updates {
		updated = append(updated, u.ID)
	}
	s.Log.Info("batch applied",
		slog.String("event_id", env.EventID),
		slog.Any("updated", updated),
		slog.Any("deleted", b.Deletes))
}

// Refresh recomputes the summary from the store and caches it. The put is
// tagged with the cache generation read before the store, so a refresh that
// raced an API write cannot overwrite the invalidation.
func (s *Service) Refresh(ctx context.Context) (orders.Summary, error) {
	limit := s.Limit
	if limit <= 0 {
		limit = orders.DefaultListLimit
	}
	gen, err := s.Cache.Generation(ctx)
	if err != nil {
		return orders.Summary{}, errors.Wrap(err, "read cache generation")
	}
	list, err := s.Store.List(ctx, limit)
	if err != nil {
		return orders.Summary{}, errors.Wrap(err, "list orders for summary")
	}
	sum := orders.Summarize(list)
	if err := s.Cache.PutSummary(ctx, gen, sum); err != nil {
		return orders.Summary{}, errors.Wrap(err, "cache summary")
	}
	return sum, nil
}
