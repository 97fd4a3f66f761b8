package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/repository"
	"gorm.io/gorm"
)

type PostgresShopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) *PostgresShopRepository {
	return &PostgresShopRepository{db: db}
}

// GetShopByID retrieves a shop by its ID
func (r *PostgresShopRepository) GetShopByID(ctx context.Context, id int64) (*model.Shop, error) {
	var shop model.Shop
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}

	return &shop, nil
}

func (r *PostgresShopRepository) CreateShop(ctx context.Context, shop *model.Shop) error {
	if err := r.db.WithContext(ctx).Create(shop).Error; err != nil {
		return fmt.Errorf("failed to create shop: %w", err)
	}
	return nil
}

// UpdateShop writes the editable columns of an existing shop
func (r *PostgresShopRepository) UpdateShop(ctx context.Context, shop *model.Shop) error {
	updates := map[string]interface{}{
		"name":       shop.Name,
		"type_id":    shop.TypeID,
		"images":     shop.Images,
		"area":       shop.Area,
		"address":    shop.Address,
		"x":          shop.X,
		"y":          shop.Y,
		"avg_price":  shop.AvgPrice,
		"open_hours": shop.OpenHours,
	}

	result := r.db.WithContext(ctx).Model(&model.Shop{}).Where("id = ?", shop.ID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update shop: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}
