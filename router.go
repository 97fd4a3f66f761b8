package main

import (
	"github.com/gin-gonic/gin"
)

func SetupRouter(handler *Handler, jwtService *JWTService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// Add middleware
	r.Use(CORSMiddleware())
	r.Use(LoggingMiddleware())

	// Health check endpoint (no auth required)
	r.GET("/health", handler.HealthCheck)

	api := r.Group("/api")

	shops := api.Group("/shop")
	shops.GET("/:id", handler.GetShop)
	shops.PUT("", handler.UpdateShop)
	shops.POST("/preheat", handler.PreheatShops)

	api.POST("/voucher/seckill", handler.AddSeckillVoucher)

	// Protected endpoints (require authentication)
	protected := api.Group("")
	protected.Use(AuthMiddleware(jwtService))
	protected.POST("/voucher-order/seckill/:id", handler.SeckillVoucher)

	return r
}
