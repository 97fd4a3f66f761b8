package model

import "time"

// ============================================================================
// DATABASE ENTITIES
// ============================================================================

// Shop is stored in postgres and cached in Redis as JSON, so it carries both tag sets.
type Shop struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	TypeID    int64     `gorm:"not null;index" json:"typeId"`
	Images    string    `gorm:"type:varchar(1024)" json:"images"`
	Area      string    `gorm:"type:varchar(128)" json:"area"`
	Address   string    `gorm:"type:varchar(255);not null" json:"address"`
	X         float64   `gorm:"not null" json:"x"`
	Y         float64   `gorm:"not null" json:"y"`
	AvgPrice  int64     `json:"avgPrice"`
	Sold      int       `gorm:"not null;default:0" json:"sold"`
	Comments  int       `gorm:"not null;default:0" json:"comments"`
	Score     int       `gorm:"not null;default:0" json:"score"`
	OpenHours string    `gorm:"type:varchar(32)" json:"openHours"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName sets the table name for GORM
func (Shop) TableName() string {
	return "shops"
}

// ============================================================================
// API DATA TRANSFER OBJECTS
// ============================================================================

// UpdateShopRequest represents the API request to update a shop
type UpdateShopRequest struct {
	ID        int64   `json:"id" binding:"required"`
	Name      string  `json:"name" binding:"required"`
	TypeID    int64   `json:"typeId" binding:"required"`
	Images    string  `json:"images"`
	Area      string  `json:"area"`
	Address   string  `json:"address" binding:"required"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	AvgPrice  int64   `json:"avgPrice"`
	OpenHours string  `json:"openHours"`
}

// ToShop converts the request into the entity written by the repository
func (r UpdateShopRequest) ToShop() *Shop {
	return &Shop{
		ID:        r.ID,
		Name:      r.Name,
		TypeID:    r.TypeID,
		Images:    r.Images,
		Area:      r.Area,
		Address:   r.Address,
		X:         r.X,
		Y:         r.Y,
		AvgPrice:  r.AvgPrice,
		OpenHours: r.OpenHours,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// PreheatRequest lists the shops to load into the cache ahead of traffic
type PreheatRequest struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

// PreheatResponse reports how many shops were cached
type PreheatResponse struct {
	Cached int `json:"cached"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
