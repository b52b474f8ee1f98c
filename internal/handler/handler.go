package handler

import (
	"regime-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer        trace.Tracer
	priceService  *service.PriceService
	regimeService *service.RegimeService
	apiKey        string
}

func New(tracer trace.Tracer, priceService *service.PriceService, regimeService *service.RegimeService, apiKey string) *Handler {
	return &Handler{
		tracer:        tracer,
		priceService:  priceService,
		regimeService: regimeService,
		apiKey:        apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/prices", h.GetAllPrices)
	r.GET("/api/prices/:symbol", h.GetPrice)
	r.GET("/api/candles/:symbol", h.GetCandles)
	r.GET("/api/regime/:symbol", h.GetRegime)
	r.GET("/api/regime/:symbol/history", h.GetRegimeHistory)
	r.GET("/api/regime/:symbol/matrix", h.GetTransitionMatrix)
	r.POST("/api/regime/:symbol/refresh", APIKeyAuth(h.apiKey), h.RefreshRegime)
}
