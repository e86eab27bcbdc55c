// internal/process/handler.go
package process

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"pressline/internal/api/respond"
	"pressline/internal/apperror"
)

type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type completeRequest struct {
	ActualQuantity *decimal.Decimal `json:"actual_quantity" validate:"required"`
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperror.InvalidInput("요청 본문을 해석할 수 없습니다", nil)
	}
	return nil
}

// HandleCreate serves POST /process-operations.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req NewOperation
	if err := decodeBody(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Error(w, r, respond.ValidationError(err))
		return
	}

	op, err := h.service.Create(r.Context(), req)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, op)
}

// HandleList serves GET /process-operations?status=&limit=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := ParseStatus(raw)
		if !ok {
			respond.Error(w, r, apperror.InvalidInput("알 수 없는 작업 상태입니다", map[string]interface{}{"status": raw}))
			return
		}
		filter.Status = status
	}
	limit, err := respond.QueryInt(r, "limit", defaultListLimit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	filter.Limit = limit

	ops, err := h.service.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, ops)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := respond.PathID(r, "id")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	op, err := h.service.Get(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, op)
}

// HandleStart serves POST /process-operations/{id}/start.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	id, err := respond.PathID(r, "id")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	op, err := h.service.Start(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, op)
}

// HandleComplete serves POST /process-operations/{id}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := respond.PathID(r, "id")
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond.Error(w, r, respond.ValidationError(err))
		return
	}

	completion, err := h.service.Complete(r.Context(), id, *req.ActualQuantity)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, completion)
}

// HandleCancel serves DELETE /process-operations/{id}. The operation is kept as CANCELLED.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := respond.PathID(r, "id")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	op, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, op)
}

func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := respond.PathID(r, "id")
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	events, err := h.service.Events(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, events)
}
