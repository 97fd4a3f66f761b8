package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/repository"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// uniqueViolation is the postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

type PostgresOrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// CreateVoucherOrder persists an admitted order. A row with the same id means
// the entry was redelivered after a crash and is treated as success.
func (r *PostgresOrderRepository) CreateVoucherOrder(ctx context.Context, order *model.VoucherOrder) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.VoucherOrder
		err := tx.Where("user_id = ? AND voucher_id = ?", order.UserID, order.VoucherID).
			Take(&existing).Error
		switch {
		case err == nil:
			if existing.ID == order.ID {
				return nil
			}
			return repository.ErrDuplicateOrder
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to check existing order: %w", err)
		}

		result := tx.Model(&model.SeckillVoucher{}).
			Where("voucher_id = ? AND stock > 0", order.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if result.Error != nil {
			return fmt.Errorf("failed to decrement stock: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return repository.ErrStockExhausted
		}

		if err := tx.Create(order).Error; err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return repository.ErrDuplicateOrder
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
	return err
}

func (r *PostgresOrderRepository) GetVoucherOrder(ctx context.Context, orderID int64) (*model.VoucherOrder, error) {
	var order model.VoucherOrder
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get voucher order: %w", err)
	}
	return &order, nil
}

// CountUserOrders counts the orders a user holds for one voucher
func (r *PostgresOrderRepository) CountUserOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}

// GetDB returns the database instance for health checks
func (r *PostgresOrderRepository) GetDB() *gorm.DB {
	return r.db
}
