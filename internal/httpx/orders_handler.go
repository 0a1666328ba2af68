package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/go-book-orders/internal/orders"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type OrdersHandler struct {
	Repo      *orders.Repo
	Catalog   *orders.Catalog
	ListLimit int
	Log       *slog.Logger
}

type CreateOrderResp struct {
	ID int64 `json:"id"`
}

type UpdateQuantityReq struct {
	Quantity int `json:"quantity"`
}

type SnapshotRow struct {
	ID       int64 `json:"id"`
	Quantity int   `json:"quantity"`
}

// BatchReq carries the grid as loaded (Snapshot) and as edited (Rows).
type BatchReq struct {
	Snapshot []SnapshotRow      `json:"snapshot"`
	Rows     []orders.EditedRow `json:"rows"`
}

type BatchResp struct {
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

type CatalogEntry struct {
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
}

type CatalogResp struct {
	Items []CatalogEntry `json:"items"`
	Other string         `json:"other"`
}

type TitleTotalResp struct {
	orders.TitleTotal
	DisplayAmount int64 `json:"display_amount"`
}

type SummaryResp struct {
	Titles       []TitleTotalResp `json:"titles"`
	Total        decimal.Decimal  `json:"total"`
	DisplayTotal int64            `json:"display_total"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/catalog", h.getCatalog)
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders.csv", h.exportOrders)
	r.Post("/orders/batch", h.applyBatch)
	r.Patch("/orders/{id}", h.updateQuantity)
	r.Delete("/orders/{id}", h.deleteOrder)
	r.Get("/summary", h.getSummary)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the orders error taxonomy onto status codes. The message
// is shown to the user as-is; nothing is retried.
func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, orders.ErrConstraintViolation):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrConnection):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		h.logger().Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (h *OrdersHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *OrdersHandler) limit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return h.ListLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, &orders.ValidationError{Field: "limit", Reason: "limit must be a positive integer"}
	}
	return n, nil
}

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &orders.ValidationError{Field: "id", Reason: "invalid order id"}
	}
	return id, nil
}

func (h *OrdersHandler) getCatalog(w http.ResponseWriter, r *http.Request) {
	cat := h.Catalog
	if cat == nil {
		cat = orders.DefaultCatalog
	}
	resp := CatalogResp{Other: orders.CategoryOther}
	for _, it := range cat.Items() {
		resp.Items = append(resp.Items, CatalogEntry{Label: it.Label, Price: it.Price})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.OrderInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, err := h.Repo.Insert(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{ID: id})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Repo.List(ctx, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) exportOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := h.limit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Repo.List(ctx, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="orders.csv"`)
	if err := WriteOrdersCSV(w, list); err != nil {
		h.logger().Warn("csv export aborted", slog.Any("error", err))
	}
}

func (h *OrdersHandler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req UpdateQuantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Repo.UpdateQuantity(ctx, id, req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Repo.Delete(ctx, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) applyBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	snapshot := make([]orders.Order, 0, len(req.Snapshot))
	for _, s := range req.Snapshot {
		snapshot = append(snapshot, orders.Order{ID: s.ID, Quantity: s.Quantity})
	}
	batch := orders.Diff(snapshot, req.Rows)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Repo.BatchApply(ctx, batch); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResp{Updated: len(batch.Updates), Deleted: len(batch.Deletes)})
}

func (h *OrdersHandler) getSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	s, err := h.Repo.Summary(ctx, h.ListLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := SummaryResp{
		Titles:       make([]TitleTotalResp, 0, len(s.Titles)),
		Total:        s.Total,
		DisplayTotal: orders.DisplayAmount(s.Total),
	}
	for _, t := range s.Titles {
		resp.Titles = append(resp.Titles, TitleTotalResp{TitleTotal: t, DisplayAmount: orders.DisplayAmount(t.Amount)})
	}
	writeJSON(w, http.StatusOK, resp)
}
