package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	authapi "tearoom/cmd/internal/auth/api"
)

const maxBodyBytes = 64 << 10

type placeRequest struct {
	TenantID  string        `json:"tenantId" validate:"omitempty,max=64"`
	RoomID    string        `json:"roomId" validate:"omitempty,max=64"`
	KitchenID string        `json:"kitchenId" validate:"required,max=64"`
	Items     []itemRequest `json:"items" validate:"required,min=1,max=50,dive"`
}

type itemRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Quantity int    `json:"quantity" validate:"required,min=1,max=99"`
	Note     string `json:"note" validate:"omitempty,max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted preparing delivered cancelled"`
}

type orderResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	RoomID    string    `json:"roomId"`
	KitchenID string    `json:"kitchenId"`
	PlacedBy  string    `json:"placedBy"`
	Items     []Item    `json:"items"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toOrderResponse(o Order) orderResponse {
	return orderResponse{
		ID:        o.ID,
		TenantID:  o.TenantID,
		RoomID:    o.RoomID,
		KitchenID: o.KitchenID,
		PlacedBy:  o.PlacedBy,
		Items:     o.Items,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

// Handler exposes the order endpoints. All routes require a bearer token.
type Handler struct {
	log  *slog.Logger
	svc  *Service
	auth authapi.Authenticator
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, svc *Service, auth authapi.Authenticator) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, svc: svc, auth: auth}
}

// Routes mounts /orders on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(authapi.RequireAuth(h.auth))
		r.Get("/", h.handleList)
		r.Post("/", h.handlePlace)
		r.Get("/{id}", h.handleGet)
		r.Patch("/{id}/status", h.handleStatus)
	})
}

func (h *Handler) handlePlace(w http.ResponseWriter, r *http.Request) {
	claims, _ := authapi.ClaimsFrom(r.Context())

	var req placeRequest
	if err := authapi.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		authapi.WriteDecodeError(w, err)
		return
	}
	items := make([]Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, Item{Name: it.Name, Quantity: it.Quantity, Note: it.Note})
	}

	o, err := h.svc.Place(r.Context(), claims.Subject, PlaceInput{
		TenantID:  req.TenantID,
		RoomID:    req.RoomID,
		KitchenID: req.KitchenID,
		Items:     items,
	})
	if err != nil {
		h.writeErr(w, "orders.place.fail", err)
		return
	}
	authapi.WriteData(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	claims, _ := authapi.ClaimsFrom(r.Context())

	o, err := h.svc.Get(r.Context(), claims.Subject, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, "orders.get.fail", err)
		return
	}
	authapi.WriteData(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	claims, _ := authapi.ClaimsFrom(r.Context())

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			authapi.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be 1-200")
			return
		}
		limit = n
	}

	list, err := h.svc.List(r.Context(), claims.Subject, r.URL.Query().Get("tenantId"), limit)
	if err != nil {
		h.writeErr(w, "orders.list.fail", err)
		return
	}
	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResponse(o))
	}
	authapi.WriteData(w, http.StatusOK, out)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := authapi.ClaimsFrom(r.Context())

	var req statusRequest
	if err := authapi.DecodeJSON(w, r, maxBodyBytes, &req); err != nil {
		authapi.WriteDecodeError(w, err)
		return
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		h.writeErr(w, "orders.status.fail", err)
		return
	}

	o, err := h.svc.UpdateStatus(r.Context(), claims.Subject, chi.URLParam(r, "id"), to)
	if err != nil {
		h.writeErr(w, "orders.status.fail", err)
		return
	}
	authapi.WriteData(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) writeErr(w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		authapi.WriteError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, ErrForbidden):
		authapi.WriteError(w, http.StatusForbidden, "forbidden", "operation not allowed")
	case errors.Is(err, ErrInvalidTransition):
		authapi.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, ErrInvalidInput):
		authapi.WriteError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	default:
		h.log.Error(event, "err", err)
		authapi.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
