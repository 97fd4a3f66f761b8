// Package seckill admits flash-sale orders against stock kept in Redis.
//
// The eligibility checks, the stock decrement, the ordered-user record and the
// append to the order stream run as one Lua script, so no interleaving of
// requests can oversell or admit a user twice.
package seckill

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/arunvm123/dianping/breaker"
	"github.com/arunvm123/dianping/model"
	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix  = "seckill:stock:"
	orderKeyPrefix  = "seckill:order:"
	windowKeyPrefix = "seckill:window:"

	orderBusinessKey = "order"
)

//go:embed seckill.lua
var seckillSource string

var seckillScript = redis.NewScript(seckillSource)

func StockKey(voucherID int64) string {
	return stockKeyPrefix + strconv.FormatInt(voucherID, 10)
}

func OrderedUsersKey(voucherID int64) string {
	return orderKeyPrefix + strconv.FormatInt(voucherID, 10)
}

func WindowKey(voucherID int64) string {
	return windowKeyPrefix + strconv.FormatInt(voucherID, 10)
}

// IDGenerator issues order ids before admission runs.
type IDGenerator interface {
	NextID(ctx context.Context, businessKey string) (int64, error)
}

type Ledger struct {
	client  redis.Cmdable
	ids     IDGenerator
	stream  string
	breaker *breaker.Breaker
	now     func() time.Time
}

// NewLedger returns a ledger appending admitted orders to stream. cb may be nil.
func NewLedger(client redis.Cmdable, ids IDGenerator, stream string, cb *breaker.Breaker) *Ledger {
	return &Ledger{
		client:  client,
		ids:     ids,
		stream:  stream,
		breaker: cb,
		now:     time.Now,
	}
}

// Load publishes a voucher's stock and sale window to Redis. It is called once
// when the voucher is created and does not touch the ordered-user set.
func (l *Ledger) Load(ctx context.Context, v *model.SeckillVoucher) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, StockKey(v.VoucherID), v.Stock, 0)
		pipe.HSet(ctx, WindowKey(v.VoucherID),
			"begin", v.BeginTime.Unix(),
			"end", v.EndTime.Unix(),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load voucher %d stock: %w", v.VoucherID, err)
	}
	return nil
}

// Admit reserves one unit of stock for userID and enqueues the order. It
// returns the new order id, or a *RejectedError.
func (l *Ledger) Admit(ctx context.Context, voucherID, userID int64) (int64, error) {
	orderID, err := l.ids.NextID(ctx, orderBusinessKey)
	if err != nil {
		return 0, err
	}

	now := l.now()
	keys := []string{StockKey(voucherID), OrderedUsersKey(voucherID), l.stream, WindowKey(voucherID)}
	args := []interface{}{userID, voucherID, orderID, now.Unix(), now.UnixMilli()}

	run := func() (interface{}, error) {
		return seckillScript.Run(ctx, l.client, keys, args...).Int64()
	}

	var res interface{}
	if l.breaker != nil {
		res, err = l.breaker.Execute(run, nil)
	} else {
		res, err = run()
	}
	if err != nil {
		return 0, fmt.Errorf("failed to run admission script for voucher %d: %w", voucherID, err)
	}

	if code := res.(int64); code != 0 {
		return 0, &RejectedError{VoucherID: voucherID, UserID: userID, Reason: Reason(code)}
	}
	return orderID, nil
}

// Remaining reports the stock left in Redis, mainly for health and tests.
func (l *Ledger) Remaining(ctx context.Context, voucherID int64) (int, error) {
	n, err := l.client.Get(ctx, StockKey(voucherID)).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to read stock for voucher %d: %w", voucherID, err)
	}
	return n, nil
}
