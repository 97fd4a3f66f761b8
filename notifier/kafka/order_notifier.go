// Package kafka publishes and consumes order notifications on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/model"
	"github.com/segmentio/kafka-go"
)

const TypeOrderCreated = "order_created"

// OrderNotifier tells downstream services that an order was persisted.
type OrderNotifier struct {
	writer *kafka.Writer
	now    func() time.Time
}

func NewOrderNotifier(cfg config.Kafka) *OrderNotifier {
	return &OrderNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.NotificationTopic,
			Balancer: &kafka.Hash{},
		},
		now: time.Now,
	}
}

func (n *OrderNotifier) NotifyOrderCreated(ctx context.Context, intent model.OrderIntent) error {
	msg, err := buildMessage(intent, n.now())
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish notification for order %d: %w", intent.ID, err)
	}
	return nil
}

func (n *OrderNotifier) Close() error {
	return n.writer.Close()
}

// buildMessage keys by user so one user's notifications stay in order.
func buildMessage(intent model.OrderIntent, now time.Time) (kafka.Message, error) {
	value, err := json.Marshal(model.OrderNotification{
		Type:      TypeOrderCreated,
		OrderID:   intent.ID,
		UserID:    intent.UserID,
		VoucherID: intent.VoucherID,
		Timestamp: now,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode notification: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(intent.UserID, 10)),
		Value: value,
	}, nil
}
