package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bagrabridge/internal/domain"
)

// deadLetterMaxLen bounds the stream via XADD MAXLEN ~.
const deadLetterMaxLen int64 = 10000

// DeadLetterQueue implements domain.DeadLetterQueue on a Redis stream. The
// stream entry ID becomes the dead letter's ID.
type DeadLetterQueue struct {
	rdb    *redis.Client
	stream string
}

// NewDeadLetterQueue creates a queue on the given stream key, defaulting to
// "bridge:dead_letters".
func NewDeadLetterQueue(c *Client, stream string) *DeadLetterQueue {
	if stream == "" {
		stream = "bridge:dead_letters"
	}
	return &DeadLetterQueue{rdb: c.Underlying(), stream: stream}
}

func (q *DeadLetterQueue) Push(ctx context.Context, dl domain.DeadLetter) error {
	dl.ID = ""
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("redis: marshal dead letter %s: %w", dl.TxHash, err)
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{"tx_hash": dl.TxHash, "payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: push dead letter %s: %w", dl.TxHash, err)
	}
	return nil
}

// List returns up to limit entries, oldest first. limit <= 0 returns all.
func (q *DeadLetterQueue) List(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if limit > 0 {
		msgs, err = q.rdb.XRangeN(ctx, q.stream, "-", "+", int64(limit)).Result()
	} else {
		msgs, err = q.rdb.XRange(ctx, q.stream, "-", "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis: list dead letters: %w", err)
	}

	out := make([]domain.DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		dl, err := decodeDeadLetter(m)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

func (q *DeadLetterQueue) Ack(ctx context.Context, id string) error {
	n, err := q.rdb.XDel(ctx, q.stream, id).Result()
	if err != nil {
		return fmt.Errorf("redis: ack dead letter %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: dead letter %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func decodeDeadLetter(m redis.XMessage) (domain.DeadLetter, error) {
	var raw []byte
	switch v := m.Values["payload"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return domain.DeadLetter{}, fmt.Errorf("redis: dead letter %s has no payload", m.ID)
	}
	var dl domain.DeadLetter
	if err := json.Unmarshal(raw, &dl); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("redis: decode dead letter %s: %w", m.ID, err)
	}
	dl.ID = m.ID
	return dl, nil
}

var _ domain.DeadLetterQueue = (*DeadLetterQueue)(nil)
