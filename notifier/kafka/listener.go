package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/model"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	minReadBackoff = 100 * time.Millisecond
	maxReadBackoff = 5 * time.Second
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Listener consumes order notifications and renders them for the user.
// Delivery is mocked by logging.
type Listener struct {
	reader     messageReader
	minBackoff time.Duration
	maxBackoff time.Duration
	processed  int64
}

func NewListener(cfg config.Kafka) *Listener {
	return &Listener{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.NotificationTopic,
			GroupID: cfg.ConsumerGroup,
		}),
		minBackoff: minReadBackoff,
		maxBackoff: maxReadBackoff,
	}
}

// Run reads until ctx is done.
// Read errors back off exponentially between minBackoff and maxBackoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			log.Error().Err(err).Dur("backoff", backoff).Msg("fetch notification error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > l.maxBackoff {
				backoff = l.maxBackoff
			}
			continue
		}
		backoff = l.minBackoff

		if err := l.handle(msg); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to process notification")
		}
		atomic.AddInt64(&l.processed, 1)
	}
}

func (l *Listener) Processed() int64 {
	return atomic.LoadInt64(&l.processed)
}

func (l *Listener) Close() error {
	return l.reader.Close()
}

func (l *Listener) handle(msg kafka.Message) error {
	var n model.OrderNotification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	text, ok := render(n)
	if !ok {
		log.Warn().Str("type", n.Type).Msg("unknown notification type")
		return nil
	}

	log.Info().
		Int64("user_id", n.UserID).
		Int64("order_id", n.OrderID).
		Str("message", text).
		Msg("notification sent")
	return nil
}

func render(n model.OrderNotification) (string, bool) {
	switch n.Type {
	case TypeOrderCreated:
		return fmt.Sprintf("Your order %d for voucher %d is confirmed. Please pay within 15 minutes.",
			n.OrderID, n.VoucherID), true
	}
	return "", false
}
