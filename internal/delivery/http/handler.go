package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/egannguyen/stockledger/internal/entity"
	"github.com/egannguyen/stockledger/internal/idempotency"
	"github.com/egannguyen/stockledger/internal/repository"
	"github.com/egannguyen/stockledger/internal/service"
)

// Request headers read by the order endpoints.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderUserID         = "X-User-ID"
)

// Handler handles HTTP requests for the application.
type Handler struct {
	orderSvc     *service.OrderService
	inventorySvc *service.InventoryService
}

func NewHandler(orderSvc *service.OrderService, inventorySvc *service.InventoryService) *Handler {
	return &Handler{
		orderSvc:     orderSvc,
		inventorySvc: inventorySvc,
	}
}

// Router builds the chi router with middleware, API routes, health and metrics.
func (h *Handler) Router(corsOrigin string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(EnableCORS(corsOrigin))

	r.Route("/api/v1", h.RegisterRoutes)
	r.Get("/health", handleHealth)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.handleCreateOrder)
	r.Get("/orders", h.handleGetOrders)
	r.Get("/orders/{id}/invoice", h.handleGetInvoice)

	r.Get("/products", h.handleGetProducts)
	r.Post("/products/{id}/stock", h.handleAdjustStock)
	r.Get("/products/{id}/movements", h.handleGetMovements)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: kind})
}

// writeServiceError maps a service error onto a status code.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := entity.KindOf(err)
	switch kind {
	case entity.KindValidation:
		status = http.StatusUnprocessableEntity
	case entity.KindProductNotFound, entity.KindOrderNotFound:
		status = http.StatusNotFound
	case entity.KindInsufficientStock:
		status = http.StatusConflict
	case entity.KindTransactionFailure:
		if errors.Is(err, repository.ErrLockConflict) {
			status = http.StatusServiceUnavailable
		}
	}
	if errors.Is(err, idempotency.ErrInProgress) {
		writeError(w, http.StatusConflict, "idempotency_in_progress", err.Error())
		return
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "err", err)
		if kind == entity.KindUnknown {
			writeError(w, status, "internal_error", "internal server error")
			return
		}
	}
	writeError(w, status, kind.String(), err.Error())
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req entity.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	var placedBy *int64
	if v := r.Header.Get(HeaderUserID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+HeaderUserID+" header")
			return
		}
		placedBy = &id
	}

	order, replayed, err := h.orderSvc.PlaceOrderOnce(r.Context(), r.Header.Get(HeaderIdempotencyKey), &req, placedBy)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, order)
}

func (h *Handler) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	orders, err := h.orderSvc.RecentOrders(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if orders == nil {
		orders = []entity.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid order id")
		return
	}

	view, err := h.orderSvc.GenerateInvoice(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) handleGetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.inventorySvc.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if products == nil {
		products = []entity.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid product id")
		return
	}

	var adj entity.StockAdjustment
	if err := json.NewDecoder(r.Body).Decode(&adj); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	movement, err := h.inventorySvc.AdjustStock(r.Context(), id, adj)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movement)
}

type movementsResponse struct {
	ProductID    int64                  `json:"product_id"`
	OpeningStock int                    `json:"opening_stock"`
	CurrentStock int                    `json:"current_stock"`
	Sold         int                    `json:"sold"`
	Restocked    int                    `json:"restocked"`
	Movements    []entity.StockMovement `json:"movements"`
}

func (h *Handler) handleGetMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid product id")
		return
	}

	ledger, err := h.inventorySvc.StockHistory(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	movements := ledger.Movements
	if movements == nil {
		movements = []entity.StockMovement{}
	}
	writeJSON(w, http.StatusOK, movementsResponse{
		ProductID:    ledger.GetAggregateID(),
		OpeningStock: ledger.OpeningStock,
		CurrentStock: ledger.CurrentStock,
		Sold:         ledger.Sold,
		Restocked:    ledger.Restocked,
		Movements:    movements,
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EnableCORS allows browser clients from origin to call the API.
func EnableCORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderIdempotencyKey+", "+HeaderUserID)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
