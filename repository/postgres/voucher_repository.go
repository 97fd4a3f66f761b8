package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/repository"
	"gorm.io/gorm"
)

type PostgresVoucherRepository struct {
	db *gorm.DB
}

func NewVoucherRepository(db *gorm.DB) *PostgresVoucherRepository {
	return &PostgresVoucherRepository{db: db}
}

func (r *PostgresVoucherRepository) CreateSeckillVoucher(ctx context.Context, voucher *model.SeckillVoucher) error {
	if err := r.db.WithContext(ctx).Create(voucher).Error; err != nil {
		return fmt.Errorf("failed to create seckill voucher: %w", err)
	}
	return nil
}

func (r *PostgresVoucherRepository) GetSeckillVoucher(ctx context.Context, voucherID int64) (*model.SeckillVoucher, error) {
	var voucher model.SeckillVoucher
	err := r.db.WithContext(ctx).Where("voucher_id = ?", voucherID).First(&voucher).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get seckill voucher: %w", err)
	}

	return &voucher, nil
}
