// Package handler содержит HTTP-обработчики API сервиса stockfarm.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vanzstore/stockfarm/internal/middleware"
	"github.com/vanzstore/stockfarm/internal/model"
	"github.com/vanzstore/stockfarm/internal/repository"
	"github.com/vanzstore/stockfarm/internal/service"
	"github.com/vanzstore/stockfarm/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	IsAdmin(userID int64) bool
	DispenseBatch(ctx context.Context, userID int64, category string, count int) ([]string, error)
	GetQuotaStatus(userID int64) (*service.QuotaStatus, error)
	History(userID int64, limit int) ([]model.HistoryEntry, error)
	Grant(userID int64, days int) (string, error)
	Revoke(userID int64) (bool, error)
	StockSummary() (map[string]int, error)
}

// Handler реализует HTTP-обработчики API сервиса stockfarm.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type dispenseRequest struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type dispenseResponse struct {
	Records []string `json:"records"`
	Count   int      `json:"count"`
}

// Dispense выдаёт текущему пользователю запрошенное количество записей из очереди.
func (h *Handler) Dispense(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req dispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidCategory(req.Category) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	if req.Count <= 0 {
		req.Count = 1
	}

	records, err := h.service.DispenseBatch(r.Context(), userID, req.Category, req.Count)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAccessDenied):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, service.ErrDailyLimitReached):
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		case errors.Is(err, repository.ErrStockEmpty):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("dispense error", zap.Error(err), zap.Int64("userID", userID), zap.String("category", req.Category))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dispenseResponse{Records: records, Count: len(records)}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetQuota возвращает состояние подписки и дневного лимита текущего пользователя.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	status, err := h.service.GetQuotaStatus(userID)
	if err != nil {
		h.logger.Error("get quota error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type historyResponse struct {
	Record  string `json:"record"`
	Product string `json:"product"`
}

// GetHistory возвращает последние выданные текущему пользователю записи.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	entries, err := h.service.History(userID, limit)
	if err != nil {
		h.logger.Error("get history error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyResponse{Record: e.Record, Product: e.Product})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type grantRequest struct {
	UserID int64 `json:"user_id"`
	Days   int   `json:"days"`
}

type grantResponse struct {
	ExpireAt string `json:"expire_at"`
}

// Grant продлевает подписку указанному пользователю на заданное число дней.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID <= 0 || req.Days <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	expireAt, err := h.service.Grant(req.UserID, req.Days)
	if err != nil {
		h.logger.Error("grant error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(grantResponse{ExpireAt: expireAt}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type revokeRequest struct {
	UserID int64 `json:"user_id"`
}

// Revoke отзывает подписку указанного пользователя.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.UserID <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	found, err := h.service.Revoke(req.UserID)
	if err != nil {
		h.logger.Error("revoke error", zap.Error(err), zap.Int64("userID", req.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !found {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// GetStock возвращает количество оставшихся записей по каждой категории.
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.StockSummary()
	if err != nil {
		h.logger.Error("stock summary error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		if !h.service.IsAdmin(userID) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
