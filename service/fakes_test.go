package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

type memoryShopRepository struct {
	mu    sync.Mutex
	shops map[int64]model.Shop
	reads int32
}

func newMemoryShopRepository(shops ...model.Shop) *memoryShopRepository {
	r := &memoryShopRepository{shops: make(map[int64]model.Shop)}
	for _, s := range shops {
		r.shops[s.ID] = s
	}
	return r
}

func (r *memoryShopRepository) GetShopByID(_ context.Context, id int64) (*model.Shop, error) {
	atomic.AddInt32(&r.reads, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shops[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *memoryShopRepository) CreateShop(_ context.Context, shop *model.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shops[shop.ID] = *shop
	return nil
}

func (r *memoryShopRepository) UpdateShop(_ context.Context, shop *model.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shops[shop.ID]; !ok {
		return repository.ErrNotFound
	}
	r.shops[shop.ID] = *shop
	return nil
}

func (r *memoryShopRepository) readCount() int32 {
	return atomic.LoadInt32(&r.reads)
}

type memoryVoucherRepository struct {
	mu       sync.Mutex
	vouchers map[int64]model.SeckillVoucher
}

func (r *memoryVoucherRepository) CreateSeckillVoucher(_ context.Context, v *model.SeckillVoucher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vouchers == nil {
		r.vouchers = make(map[int64]model.SeckillVoucher)
	}
	r.vouchers[v.VoucherID] = *v
	return nil
}

func (r *memoryVoucherRepository) GetSeckillVoucher(_ context.Context, id int64) (*model.SeckillVoucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

// memoryOrderRepository follows the transaction in the postgres repository:
// same id is a no-op, same user and voucher is a duplicate, stock must be positive.
type memoryOrderRepository struct {
	mu     sync.Mutex
	stock  map[int64]int
	orders map[int64]model.VoucherOrder
}

func newMemoryOrderRepository(stock map[int64]int) *memoryOrderRepository {
	return &memoryOrderRepository{stock: stock, orders: make(map[int64]model.VoucherOrder)}
}

func (r *memoryOrderRepository) CreateVoucherOrder(_ context.Context, order *model.VoucherOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.UserID == order.UserID && o.VoucherID == order.VoucherID {
			if o.ID == order.ID {
				return nil
			}
			return repository.ErrDuplicateOrder
		}
	}
	if r.stock[order.VoucherID] <= 0 {
		return repository.ErrStockExhausted
	}
	r.stock[order.VoucherID]--
	r.orders[order.ID] = *order
	return nil
}

func (r *memoryOrderRepository) GetVoucherOrder(_ context.Context, id int64) (*model.VoucherOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &o, nil
}

func (r *memoryOrderRepository) CountUserOrders(_ context.Context, userID, voucherID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, o := range r.orders {
		if o.UserID == userID && o.VoucherID == voucherID {
			n++
		}
	}
	return n, nil
}

func (r *memoryOrderRepository) GetDB() *gorm.DB {
	return nil
}

func (r *memoryOrderRepository) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

func (r *memoryOrderRepository) stockOf(voucherID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[voucherID]
}
