package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/repository"
	"github.com/arunvm123/dianping/seckill"
	"github.com/rs/zerolog/log"
)

// StockLedger is the Redis side of a flash sale.
type StockLedger interface {
	Load(ctx context.Context, voucher *model.SeckillVoucher) error
	Admit(ctx context.Context, voucherID, userID int64) (int64, error)
}

type SeckillService struct {
	vouchers repository.VoucherRepository
	ledger   StockLedger
}

func NewSeckillService(vouchers repository.VoucherRepository, ledger StockLedger) *SeckillService {
	return &SeckillService{vouchers: vouchers, ledger: ledger}
}

// Seckill never touches the database. A nil error means the order is queued
// and will be persisted by the order worker.
func (s *SeckillService) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	orderID, err := s.ledger.Admit(ctx, voucherID, userID)
	if err != nil {
		var rejected *seckill.RejectedError
		if errors.As(err, &rejected) {
			log.Debug().Int64("voucher_id", voucherID).Int64("user_id", userID).
				Str("reason", rejected.Reason.String()).Msg("order not admitted")
		}
		return 0, err
	}
	return orderID, nil
}

func (s *SeckillService) AddSeckillVoucher(ctx context.Context, voucher *model.SeckillVoucher) error {
	if !voucher.EndTime.After(voucher.BeginTime) {
		return fmt.Errorf("voucher %d ends before it begins", voucher.VoucherID)
	}
	if err := s.vouchers.CreateSeckillVoucher(ctx, voucher); err != nil {
		return err
	}
	if err := s.ledger.Load(ctx, voucher); err != nil {
		return fmt.Errorf("voucher %d stored but not opened for sale: %w", voucher.VoucherID, err)
	}
	log.Info().Int64("voucher_id", voucher.VoucherID).Int("stock", voucher.Stock).Msg("seckill voucher added")
	return nil
}
