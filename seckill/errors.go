package seckill

import (
	"errors"
	"fmt"
)

// Reason is why admission refused an order.
type Reason int

const (
	StockExhausted Reason = iota + 1
	DuplicateOrder
	NotStarted
	Ended
	VoucherNotFound
)

var (
	ErrStockExhausted  = errors.New("stock exhausted")
	ErrDuplicateOrder  = errors.New("user already ordered this voucher")
	ErrNotStarted      = errors.New("flash sale has not started")
	ErrEnded           = errors.New("flash sale has ended")
	ErrVoucherNotFound = errors.New("voucher is not on sale")
)

func (r Reason) err() error {
	switch r {
	case StockExhausted:
		return ErrStockExhausted
	case DuplicateOrder:
		return ErrDuplicateOrder
	case NotStarted:
		return ErrNotStarted
	case Ended:
		return ErrEnded
	case VoucherNotFound:
		return ErrVoucherNotFound
	default:
		return fmt.Errorf("unknown rejection reason %d", int(r))
	}
}

func (r Reason) String() string {
	return r.err().Error()
}

// RejectedError is an expected, user-facing refusal. errors.Is matches it
// against the sentinel for its reason.
type RejectedError struct {
	VoucherID int64
	UserID    int64
	Reason    Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("voucher %d rejected for user %d: %s", e.VoucherID, e.UserID, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Reason.err()
}
