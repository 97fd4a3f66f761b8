package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arunvm123/dianping/cache"
	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/repository"
	"github.com/rs/zerolog/log"
)

const shopKeyPrefix = "cache:shop:"

func ShopKey(id int64) string {
	return shopKeyPrefix + strconv.FormatInt(id, 10)
}

type CachedShopService struct {
	repo     repository.ShopRepository
	cache    *cache.Client
	strategy cache.Strategy
	ttl      time.Duration
}

// NewShopService reads the cache strategy and entry TTL from cfg.
func NewShopService(repo repository.ShopRepository, c *cache.Client, cfg config.Cache) (*CachedShopService, error) {
	strategy, err := cache.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	return &CachedShopService{
		repo:     repo,
		cache:    c,
		strategy: strategy,
		ttl:      cfg.ShopTTL,
	}, nil
}

func (s *CachedShopService) QueryByID(ctx context.Context, id int64) (*model.Shop, error) {
	shop, err := cache.Query(ctx, s.cache, ShopKey(id), s.ttl, s.strategy, func(ctx context.Context) (*model.Shop, error) {
		shop, err := s.repo.GetShopByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return shop, err
	})
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrShopNotFound
	}
	return shop, err
}

func (s *CachedShopService) Update(ctx context.Context, shop *model.Shop) error {
	if err := s.repo.UpdateShop(ctx, shop); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrShopNotFound
		}
		return err
	}

	if err := s.cache.Invalidate(ctx, ShopKey(shop.ID)); err != nil {
		return fmt.Errorf("shop %d updated but cache entry kept: %w", shop.ID, err)
	}
	return nil
}

// Preheat loads the given shops into the cache with a logical expiry and
// returns how many were written. Unknown ids are skipped.
func (s *CachedShopService) Preheat(ctx context.Context, ids []int64) (int, error) {
	written := 0
	for _, id := range ids {
		shop, err := s.repo.GetShopByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Int64("shop_id", id).Msg("skipping preheat of unknown shop")
			continue
		}
		if err != nil {
			return written, err
		}
		if err := s.cache.SetWithLogicalExpire(ctx, ShopKey(id), shop, s.ttl); err != nil {
			return written, err
		}
		written++
	}
	log.Info().Int("shops", written).Msg("cache preheated")
	return written, nil
}
