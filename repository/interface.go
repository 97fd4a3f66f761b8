package repository

import (
	"context"
	"errors"

	"github.com/arunvm123/dianping/model"
	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateOrder = errors.New("user already holds an order for this voucher")
	ErrStockExhausted = errors.New("voucher stock exhausted")
)

// ShopRepository defines the interface for shop data operations
type ShopRepository interface {
	GetShopByID(ctx context.Context, id int64) (*model.Shop, error)
	CreateShop(ctx context.Context, shop *model.Shop) error
	UpdateShop(ctx context.Context, shop *model.Shop) error
}

// VoucherRepository defines the interface for flash-sale voucher operations
type VoucherRepository interface {
	CreateSeckillVoucher(ctx context.Context, voucher *model.SeckillVoucher) error
	GetSeckillVoucher(ctx context.Context, voucherID int64) (*model.SeckillVoucher, error)
}

// OrderRepository defines the interface for voucher order operations
type OrderRepository interface {
	// CreateVoucherOrder decrements the voucher's stock and inserts the order in
	// one transaction. Inserting an order whose id already exists is a no-op.
	CreateVoucherOrder(ctx context.Context, order *model.VoucherOrder) error
	GetVoucherOrder(ctx context.Context, orderID int64) (*model.VoucherOrder, error)
	CountUserOrders(ctx context.Context, userID, voucherID int64) (int64, error)

	// Health check
	GetDB() *gorm.DB
}
