package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arunvm123/dianping/lock"
	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/repository"
	"github.com/arunvm123/dianping/worker"
)

// OrderCreator persists admitted orders for the order worker. Writes for one
// user are serialised by a distributed lock.
type OrderCreator struct {
	locks   lock.Client
	orders  repository.OrderRepository
	lockTTL time.Duration
}

func NewOrderCreator(locks lock.Client, orders repository.OrderRepository, lockTTL time.Duration) *OrderCreator {
	return &OrderCreator{locks: locks, orders: orders, lockTTL: lockTTL}
}

func orderLockName(userID int64) string {
	return "order:" + strconv.FormatInt(userID, 10)
}

// Persist is idempotent for a redelivered intent. A held user lock is
// reported as worker.ErrRetryLater so the entry stays pending without using
// up its attempts.
func (c *OrderCreator) Persist(ctx context.Context, intent model.OrderIntent) error {
	err := lock.WithLock(ctx, c.locks, orderLockName(intent.UserID), c.lockTTL, func() error {
		return c.orders.CreateVoucherOrder(ctx, intent.ToVoucherOrder())
	})

	switch {
	case errors.Is(err, repository.ErrDuplicateOrder):
		return fmt.Errorf("%w: order %d: %w", worker.ErrRejected, intent.ID, err)
	case errors.Is(err, lock.ErrNotAcquired):
		return fmt.Errorf("%w: user %d: %w", worker.ErrRetryLater, intent.UserID, err)
	case errors.Is(err, repository.ErrStockExhausted):
		return fmt.Errorf("%w: order %d for voucher %d: %w", worker.ErrDeadLetter, intent.ID, intent.VoucherID, ErrStockMismatch)
	}
	return err
}
