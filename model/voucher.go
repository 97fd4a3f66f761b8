package model

import "time"

// ============================================================================
// DATABASE ENTITIES (Internal - GORM only, no JSON tags)
// ============================================================================

// SeckillVoucher is a voucher sold in a flash sale with finite stock.
type SeckillVoucher struct {
	VoucherID   int64     `gorm:"primaryKey;autoIncrement:false"`
	ShopID      int64     `gorm:"not null;index"`
	Title       string    `gorm:"type:varchar(255);not null"`
	PayValue    int64     `gorm:"not null"`
	ActualValue int64     `gorm:"not null"`
	Stock       int       `gorm:"not null"`
	BeginTime   time.Time `gorm:"not null"`
	EndTime     time.Time `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName sets the table name for GORM
func (SeckillVoucher) TableName() string {
	return "seckill_vouchers"
}

// VoucherOrder is the persisted order row. The id comes from the id generator,
// never from the database.
type VoucherOrder struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID    int64 `gorm:"not null;uniqueIndex:idx_user_voucher"`
	VoucherID int64 `gorm:"not null;uniqueIndex:idx_user_voucher"`
	Status    int   `gorm:"not null;default:1"`
	CreatedAt time.Time
}

// TableName sets the table name for GORM
func (VoucherOrder) TableName() string {
	return "voucher_orders"
}

// Order status values, mirrored from the payment flow.
const (
	OrderStatusUnpaid   = 1
	OrderStatusPaid     = 2
	OrderStatusCanceled = 4
)

// ============================================================================
// QUEUE MESSAGES
// ============================================================================

// OrderIntent is what admission hands to the order worker.
type OrderIntent struct {
	ID        int64
	UserID    int64
	VoucherID int64
	CreatedAt time.Time
}

// ToVoucherOrder builds the row the worker persists.
func (o OrderIntent) ToVoucherOrder() *VoucherOrder {
	return &VoucherOrder{
		ID:        o.ID,
		UserID:    o.UserID,
		VoucherID: o.VoucherID,
		Status:    OrderStatusUnpaid,
		CreatedAt: o.CreatedAt,
	}
}

// OrderNotification is published to Kafka after an order is persisted.
type OrderNotification struct {
	Type      string    `json:"type"`
	OrderID   int64     `json:"order_id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ============================================================================
// API DATA TRANSFER OBJECTS (External - JSON tags for HTTP)
// ============================================================================

// CreateSeckillVoucherRequest represents the API request to add a flash-sale voucher
type CreateSeckillVoucherRequest struct {
	VoucherID   int64     `json:"voucherId" binding:"required"`
	ShopID      int64     `json:"shopId" binding:"required"`
	Title       string    `json:"title" binding:"required"`
	PayValue    int64     `json:"payValue"`
	ActualValue int64     `json:"actualValue"`
	Stock       int       `json:"stock" binding:"required,min=1"`
	BeginTime   time.Time `json:"beginTime" binding:"required"`
	EndTime     time.Time `json:"endTime" binding:"required"`
}

// ToSeckillVoucher converts the request into the entity
func (r CreateSeckillVoucherRequest) ToSeckillVoucher() *SeckillVoucher {
	return &SeckillVoucher{
		VoucherID:   r.VoucherID,
		ShopID:      r.ShopID,
		Title:       r.Title,
		PayValue:    r.PayValue,
		ActualValue: r.ActualValue,
		Stock:       r.Stock,
		BeginTime:   r.BeginTime,
		EndTime:     r.EndTime,
	}
}

// SeckillResponse is returned once an order has been admitted
type SeckillResponse struct {
	OrderID int64  `json:"order_id,string"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
