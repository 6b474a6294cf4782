package main

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"kiwoom-trade-bot-go/internal/models"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log *zap.Logger
	db  *gorm.DB
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, db *gorm.DB) *APIHandler {
	return &APIHandler{log: log, db: db}
}

// TradesHandler returns the recorded lifecycle events, most recent first.
func (h *APIHandler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	var records []models.TradeRecord
	if err := h.db.Order("created_at desc").Limit(200).Find(&records).Error; err != nil {
		h.log.Error("Failed to get trade records from database", zap.Error(err))
		http.Error(w, "Failed to get trade records", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// StatsDetail holds calculated statistics for a given period.
type StatsDetail struct {
	TotalExits      int64   `json:"total_exits"`
	ProfitableExits int64   `json:"profitable_exits"`
	WinRate         float64 `json:"win_rate"`
	AvgProfitRate   float64 `json:"avg_profit_rate"`
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// StatisticsHandler calculates win rates over the closed positions. Buys
// carry no profit and are excluded.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	var exits []models.TradeRecord
	if err := h.db.Where("event_type <> ?", models.EventBuy).Find(&exits).Error; err != nil {
		h.log.Error("Failed to get trade records for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	since24h := now.Add(-24 * time.Hour)

	stats24h := StatsDetail{}
	statsAllTime := StatsDetail{}
	var sum24h, sumAllTime float64

	for _, exit := range exits {
		// Calculate for all time
		statsAllTime.TotalExits++
		if exit.ProfitRate > 0 {
			statsAllTime.ProfitableExits++
		}
		sumAllTime += exit.ProfitRate

		// Calculate for last 24 hours
		if exit.CreatedAt.After(since24h) {
			stats24h.TotalExits++
			if exit.ProfitRate > 0 {
				stats24h.ProfitableExits++
			}
			sum24h += exit.ProfitRate
		}
	}

	if statsAllTime.TotalExits > 0 {
		statsAllTime.WinRate = float64(statsAllTime.ProfitableExits) / float64(statsAllTime.TotalExits)
		statsAllTime.AvgProfitRate = sumAllTime / float64(statsAllTime.TotalExits)
	}
	if stats24h.TotalExits > 0 {
		stats24h.WinRate = float64(stats24h.ProfitableExits) / float64(stats24h.TotalExits)
		stats24h.AvgProfitRate = sum24h / float64(stats24h.TotalExits)
	}

	response := StatisticsResponse{
		Since24h: stats24h,
		AllTime:  statsAllTime,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
