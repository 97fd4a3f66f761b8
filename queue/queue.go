// Package queue reads order intents from a Redis stream through a consumer group.
//
// Entries are appended by the admission script. A consumer reads new entries
// with ">" and its own unacknowledged backlog with "0"; an entry leaves the
// backlog only when it is acknowledged or moved to the dead-letter stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arunvm123/dianping/model"
	"github.com/redis/go-redis/v9"
)

// ErrMalformedEntry marks a stream entry that cannot be decoded into an intent.
var ErrMalformedEntry = errors.New("malformed order entry")

// Entry is one delivery of an order intent.
type Entry struct {
	ID     string
	Values map[string]interface{}
	Intent model.OrderIntent
	// Err is set when Values could not be decoded.
	Err error
}

type OrderQueue struct {
	client     redis.Cmdable
	stream     string
	group      string
	deadLetter string
}

func New(client redis.Cmdable, stream, group, deadLetter string) *OrderQueue {
	return &OrderQueue{
		client:     client,
		stream:     stream,
		group:      group,
		deadLetter: deadLetter,
	}
}

func (q *OrderQueue) Stream() string {
	return q.stream
}

// EnsureGroup creates the stream and consumer group if they do not exist yet.
func (q *OrderQueue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", q.group, q.stream, err)
	}
	return nil
}

// Read waits up to block for the next entry never delivered to the group.
// It returns nil, nil when nothing arrived.
func (q *OrderQueue) Read(ctx context.Context, consumer string, block time.Duration) (*Entry, error) {
	return q.read(ctx, consumer, ">", block)
}

// ReadPending returns the oldest entry delivered to consumer but not yet
// acknowledged, or nil when the backlog is empty.
func (q *OrderQueue) ReadPending(ctx context.Context, consumer string) (*Entry, error) {
	return q.read(ctx, consumer, "0", -1)
}

func (q *OrderQueue) read(ctx context.Context, consumer, id string, block time.Duration) (*Entry, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s for %s: %w", q.stream, consumer, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	entry := &Entry{ID: msg.ID, Values: msg.Values}
	entry.Intent, entry.Err = decodeIntent(msg.Values)
	return entry, nil
}

// Ack removes an entry from the group's backlog.
func (q *OrderQueue) Ack(ctx context.Context, id string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack %s: %w", id, err)
	}
	return nil
}

// DeadLetter copies an entry to the dead-letter stream with the reason it
// was given up on, then acknowledges it.
func (q *OrderQueue) DeadLetter(ctx context.Context, entry *Entry, reason string) error {
	values := make(map[string]interface{}, len(entry.Values)+2)
	for k, v := range entry.Values {
		values[k] = v
	}
	values["sourceId"] = entry.ID
	values["reason"] = reason

	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.deadLetter, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", entry.ID, err)
	}
	return q.Ack(ctx, entry.ID)
}

// Pending reports how many entries the group has delivered but not acknowledged.
func (q *OrderQueue) Pending(ctx context.Context) (int64, error) {
	res, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read pending count: %w", err)
	}
	return res.Count, nil
}

func decodeIntent(values map[string]interface{}) (model.OrderIntent, error) {
	var (
		intent model.OrderIntent
		err    error
	)
	if intent.ID, err = intField(values, "id"); err != nil {
		return intent, err
	}
	if intent.UserID, err = intField(values, "userId"); err != nil {
		return intent, err
	}
	if intent.VoucherID, err = intField(values, "voucherId"); err != nil {
		return intent, err
	}
	createdAt, err := intField(values, "createdAt")
	if err != nil {
		return intent, err
	}
	intent.CreatedAt = time.UnixMilli(createdAt)
	return intent, nil
}

func intField(values map[string]interface{}, name string) (int64, error) {
	raw, ok := values[name].(string)
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrMalformedEntry, name)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedEntry, name, raw)
	}
	return n, nil
}

// Encode is the inverse of the field layout written by the admission script.
// It is used when an intent has to be re-published outside the script.
func Encode(intent model.OrderIntent) map[string]interface{} {
	return map[string]interface{}{
		"id":        strconv.FormatInt(intent.ID, 10),
		"userId":    strconv.FormatInt(intent.UserID, 10),
		"voucherId": strconv.FormatInt(intent.VoucherID, 10),
		"createdAt": strconv.FormatInt(intent.CreatedAt.UnixMilli(), 10),
	}
}

// Publish appends an intent to the stream. Admission does this inside its
// script; Publish serves replays from the dead-letter stream.
func (q *OrderQueue) Publish(ctx context.Context, intent model.OrderIntent) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: Encode(intent)}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish order %d: %w", intent.ID, err)
	}
	return id, nil
}

// ReplayDeadLetters moves up to count dead-lettered intents back onto the
// order stream and returns how many were replayed. Undecodable entries stay.
func (q *OrderQueue) ReplayDeadLetters(ctx context.Context, count int64) (int, error) {
	msgs, err := q.client.XRangeN(ctx, q.deadLetter, "-", "+", count).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", q.deadLetter, err)
	}

	replayed := 0
	for _, msg := range msgs {
		intent, err := decodeIntent(msg.Values)
		if err != nil {
			continue
		}
		if _, err := q.Publish(ctx, intent); err != nil {
			return replayed, err
		}
		if err := q.client.XDel(ctx, q.deadLetter, msg.ID).Err(); err != nil {
			return replayed, fmt.Errorf("failed to remove %s from %s: %w", msg.ID, q.deadLetter, err)
		}
		replayed++
	}
	return replayed, nil
}
