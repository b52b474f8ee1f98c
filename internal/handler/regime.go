package handler

import (
	"net/http"
	"strconv"
	"strings"

	"regime-engine/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetRegime godoc
// @Summary      Get the current market regime for an asset
// @Description  Returns the latest regime classification with per-regime probabilities, calibrated confidence, and model agreement
// @Tags         regime
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., BTC, ETH)"
// @Success      200  {object}  domain.RegimeSnapshot
// @Failure      400  {object}  map[string]string
// @Router       /api/regime/{symbol} [get]
func (h *Handler) GetRegime(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-regime")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}

	snapshot, err := h.regimeService.CurrentRegime(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// GetRegimeHistory godoc
// @Summary      Get recent regime classifications for an asset
// @Description  Returns recent snapshots newest-first, including resolution outcomes where available
// @Tags         regime
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol (e.g., BTC, ETH)"
// @Param        limit   query  int     false  "Number of snapshots (default 100, max 500)"  default(100)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/regime/{symbol}/history [get]
func (h *Handler) GetRegimeHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-regime-history")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}

	limit := 100
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	snapshots, err := h.regimeService.RegimeHistory(ctx, symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol,
		"snapshots": snapshots,
	})
}

// GetTransitionMatrix godoc
// @Summary      Get the regime transition posterior for an asset
// @Description  Returns the posterior-mean transition matrix and per-cell uncertainty from the Dirichlet estimator
// @Tags         regime
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., BTC, ETH)"
// @Success      200  {object}  service.TransitionMatrix
// @Failure      400  {object}  map[string]string
// @Router       /api/regime/{symbol}/matrix [get]
func (h *Handler) GetTransitionMatrix(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-transition-matrix")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}

	matrix, err := h.regimeService.TransitionPosterior(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, matrix)
}

// RefreshRegime godoc
// @Summary      Force a fresh classification for an asset
// @Description  Runs the full pipeline immediately instead of waiting for the next poll; requires an API key when one is configured
// @Tags         regime
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., BTC, ETH)"
// @Security     ApiKeyAuth
// @Success      200  {object}  domain.RegimeSnapshot
// @Failure      400  {object}  map[string]string
// @Router       /api/regime/{symbol}/refresh [post]
func (h *Handler) RefreshRegime(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.refresh-regime")
	defer span.End()

	symbol := strings.ToUpper(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	if _, ok := domain.CoinGeckoID[symbol]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}

	snapshot, err := h.regimeService.ClassifySymbol(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}
