package service

import (
	"context"
	"errors"

	"github.com/arunvm123/dianping/model"
)

var (
	ErrShopNotFound = errors.New("shop not found")
	// ErrStockMismatch means the relational stock ran out for an order the
	// Redis ledger admitted. The two stores disagree and need an operator.
	ErrStockMismatch = errors.New("relational stock disagrees with ledger")
)

// ShopService serves shop reads through the Redis cache
type ShopService interface {
	// QueryByID returns ErrShopNotFound for ids that do not exist
	QueryByID(ctx context.Context, id int64) (*model.Shop, error)
	// Update writes the shop and then drops its cache entry
	Update(ctx context.Context, shop *model.Shop) error
	// Preheat writes logical-expiry entries for the given shops
	Preheat(ctx context.Context, ids []int64) (int, error)
}

// VoucherOrderService admits flash-sale orders
type VoucherOrderService interface {
	// Seckill admits one order and returns its id. Persistence is asynchronous.
	Seckill(ctx context.Context, voucherID, userID int64) (int64, error)
	// AddSeckillVoucher stores a voucher and opens its sale in the ledger
	AddSeckillVoucher(ctx context.Context, voucher *model.SeckillVoucher) error
}
