package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/engine"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/signal"
)

type submitSignalRequest struct {
	Text   string        `json:"text" binding:"required,min=1"`
	UserID string        `json:"user_id" binding:"required,min=1"`
	Source signal.Source `json:"source"`
}

type broadcastSignalRequest struct {
	Text   string        `json:"text" binding:"required,min=1"`
	Source signal.Source `json:"source"`
}

type userActionRequest struct {
	UserID string `json:"user_id" binding:"required,min=1"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

func (s *Server) submitSignal(c *gin.Context) {
	var req submitSignalRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	receipt := s.Engine.SubmitSignal(c.Request.Context(), req.Text, req.Source, req.UserID)
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) broadcastSignal(c *gin.Context) {
	var req broadcastSignalRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	summary, err := s.Engine.BroadcastSignal(c.Request.Context(), req.Text, req.Source)
	if err != nil {
		if errors.Is(err, engine.ErrUnparseable) {
			respondError(c, http.StatusUnprocessableEntity, "UNPARSEABLE_SIGNAL", "no signal dialect matched")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) cancelSymbol(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "MISSING_SYMBOL", "symbol is required")
		return
	}

	var req userActionRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	receipt := s.Engine.CancelAllForSymbol(c.Request.Context(), req.UserID, symbol)
	c.JSON(http.StatusOK, receipt)
}

func (s *Server) closeAll(c *gin.Context) {
	var req userActionRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	receipts, err := s.Engine.CloseAllForUser(c.Request.Context(), req.UserID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(receipts),
		"receipts": receipts,
	})
}

// getSettings exposes the effective global defaults. Per-user overrides live
// in the database and are not shown here.
func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"risk": gin.H{
			"risk_percent":        s.Settings.Risk.RiskPercent,
			"max_position_usdt":   s.Settings.Risk.MaxPositionUsdt,
			"max_daily_loss_usdt": s.Settings.Risk.MaxDailyLossUsdt,
			"max_dca_layers":      s.Settings.Risk.MaxDcaLayers,
			"dca_risk_multiplier": s.Settings.Risk.DcaRiskMultiplier,
			"fixed_leverage":      s.Settings.Risk.FixedLeverage,
			"allowed_symbols":     s.Settings.Risk.AllowedSymbols,
			"default_symbol":      s.Settings.Risk.DefaultSymbol,
		},
		"dedup": gin.H{
			"enabled":        s.Settings.Dedup.Enabled,
			"window_seconds": s.Settings.Dedup.WindowSeconds,
		},
		"stream": gin.H{
			"reconnect_base_ms": s.Settings.Stream.ReconnectBaseMs,
			"reconnect_max_ms":  s.Settings.Stream.ReconnectMaxMs,
			"max_attempts":      s.Settings.Stream.MaxAttempts,
		},
		"cleanup": gin.H{
			"interval_minutes": s.Settings.Cleanup.IntervalMinutes,
		},
	})
}

func (s *Server) getStatus(c *gin.Context) {
	if s.Pool != nil && s.Metrics != nil {
		s.Metrics.SetGatewayStats(s.Pool.Stats())
	}

	resp := gin.H{
		"status":         "ok",
		"version":        s.Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
	if s.Metrics != nil {
		resp["metrics"] = s.Metrics.GetSnapshot()
	}
	c.JSON(http.StatusOK, resp)
}
