package cart

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ecrodrig/storefront/internal/auth"
	"github.com/ecrodrig/storefront/internal/domain"
)

type Handler struct {
	repo   *CartRepository
	logger *slog.Logger
}

func NewHandler(repo *CartRepository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	cart, err := h.repo.List(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("failed to load cart", "error", err, "user_id", identity.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	productID := r.PathValue("productId")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	item, err := h.repo.Add(r.Context(), identity.UserID, productID)
	if err != nil {
		var notFound *domain.NotFoundError
		var noStock *domain.InsufficientStockError
		switch {
		case errors.As(err, &notFound):
			h.writeError(w, http.StatusNotFound, "product not found")
		case errors.As(err, &noStock):
			h.writeError(w, http.StatusConflict, "product is out of stock")
		default:
			h.logger.Error("failed to add to cart", "error", err, "user_id", identity.UserID, "product_id", productID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("item added to cart", "user_id", identity.UserID, "product_id", productID, "qty", item.Qty)
	h.writeJSON(w, http.StatusOK, item)
}

type updateQuantityRequest struct {
	Qty int `json:"qty"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	itemID := r.PathValue("id")
	if itemID == "" {
		h.writeError(w, http.StatusBadRequest, "missing cart item id")
		return
	}

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.repo.UpdateQuantity(r.Context(), identity.UserID, itemID, req.Qty)
	if err != nil {
		if errors.Is(err, domain.ErrNotOwner) {
			h.writeError(w, http.StatusForbidden, "cart item does not belong to you")
			return
		}
		h.logger.Error("failed to update cart item", "error", err, "user_id", identity.UserID, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item updated", "user_id", identity.UserID, "item_id", itemID, "qty", item.Qty)
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	itemID := r.PathValue("id")
	if itemID == "" {
		h.writeError(w, http.StatusBadRequest, "missing cart item id")
		return
	}

	if err := h.repo.Remove(r.Context(), identity.UserID, itemID); err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "user_id", identity.UserID, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart item removed", "user_id", identity.UserID, "item_id", itemID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
