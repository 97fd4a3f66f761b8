package seckill

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/arunvm123/dianping/idgen"
	"github.com/arunvm123/dianping/model"
	"github.com/redis/go-redis/v9"
)

const testStream = "stream.orders"

func newTestLedger(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Ledger) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb, NewLedger(rdb, idgen.New(rdb), testStream, nil)
}

func openVoucher(id int64, stock int) *model.SeckillVoucher {
	now := time.Now()
	return &model.SeckillVoucher{
		VoucherID: id,
		Stock:     stock,
		BeginTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}
}

func TestAdmitNoOversell(t *testing.T) {
	_, rdb, l := newTestLedger(t)
	ctx := context.Background()
	if err := l.Load(ctx, openVoucher(1, 10)); err != nil {
		t.Fatalf("Load: %v", err)
	}

	const attempts = 60
	var (
		wg        sync.WaitGroup
		admitted  int32
		exhausted int32
		start     = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			<-start
			_, err := l.Admit(ctx, 1, userID)
			switch {
			case err == nil:
				atomic.AddInt32(&admitted, 1)
			case errors.Is(err, ErrStockExhausted):
				atomic.AddInt32(&exhausted, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(1000 + i))
	}
	close(start)
	wg.Wait()

	if admitted != 10 || exhausted != attempts-10 {
		t.Fatalf("admitted=%d exhausted=%d, want 10 and %d", admitted, exhausted, attempts-10)
	}
	if left, _ := l.Remaining(ctx, 1); left != 0 {
		t.Fatalf("remaining stock = %d, want 0", left)
	}
	if n, _ := rdb.XLen(ctx, testStream).Result(); n != 10 {
		t.Fatalf("stream length = %d, want 10", n)
	}
}

func TestAdmitOneOrderPerUser(t *testing.T) {
	_, rdb, l := newTestLedger(t)
	ctx := context.Background()
	_ = l.Load(ctx, openVoucher(2, 100))

	const attempts = 20
	var (
		wg         sync.WaitGroup
		admitted   int32
		duplicates int32
		start      = make(chan struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.Admit(ctx, 2, 7)
			switch {
			case err == nil:
				atomic.AddInt32(&admitted, 1)
			case errors.Is(err, ErrDuplicateOrder):
				atomic.AddInt32(&duplicates, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if admitted != 1 || duplicates != attempts-1 {
		t.Fatalf("admitted=%d duplicates=%d", admitted, duplicates)
	}
	if left, _ := l.Remaining(ctx, 2); left != 99 {
		t.Fatalf("remaining = %d, want 99", left)
	}
	if ok, _ := rdb.SIsMember(ctx, OrderedUsersKey(2), "7").Result(); !ok {
		t.Fatal("user not recorded in ordered set")
	}
}

func TestAdmitEnqueuesIntent(t *testing.T) {
	_, rdb, l := newTestLedger(t)
	ctx := context.Background()
	_ = l.Load(ctx, openVoucher(3, 5))

	orderID, err := l.Admit(ctx, 3, 42)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}

	msgs, err := rdb.XRange(ctx, testStream, "-", "+").Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange = %v, %v", msgs, err)
	}
	values := msgs[0].Values
	if values["id"] != strconv.FormatInt(orderID, 10) || values["userId"] != "42" || values["voucherId"] != "3" {
		t.Fatalf("unexpected stream entry %v", values)
	}
	if _, ok := values["createdAt"]; !ok {
		t.Fatal("createdAt missing from stream entry")
	}
}

func TestAdmitRejections(t *testing.T) {
	_, rdb, l := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	_ = l.Load(ctx, &model.SeckillVoucher{VoucherID: 10, Stock: 5, BeginTime: now.Add(time.Hour), EndTime: now.Add(2 * time.Hour)})
	_ = l.Load(ctx, &model.SeckillVoucher{VoucherID: 11, Stock: 5, BeginTime: now.Add(-2 * time.Hour), EndTime: now.Add(-time.Hour)})
	_ = l.Load(ctx, openVoucher(12, 0))

	tests := []struct {
		name      string
		voucherID int64
		want      error
		reason    Reason
	}{
		{"not started", 10, ErrNotStarted, NotStarted},
		{"ended", 11, ErrEnded, Ended},
		{"sold out", 12, ErrStockExhausted, StockExhausted},
		{"unknown voucher", 99, ErrVoucherNotFound, VoucherNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Admit(ctx, tt.voucherID, 1)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var rejected *RejectedError
			if !errors.As(err, &rejected) || rejected.Reason != tt.reason {
				t.Fatalf("err = %#v, want RejectedError with reason %s", err, tt.reason)
			}
		})
	}

	if n, _ := rdb.XLen(ctx, testStream).Result(); n != 0 {
		t.Fatalf("rejected admissions enqueued %d entries", n)
	}
	if left, _ := l.Remaining(ctx, 10); left != 5 {
		t.Fatalf("rejection changed stock to %d", left)
	}
}
