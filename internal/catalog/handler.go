// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"pressline/internal/api/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type itemResponse struct {
	*Item
	BOM []BOMEdge `json:"bom"`
}

// HandleGetItem serves GET /items/{id} with the item's direct BOM children.
func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := respond.PathID(r, "id")
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	children, err := h.service.FindBOMChildren(r.Context(), id)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	if children == nil {
		children = []BOMEdge{}
	}

	respond.JSON(w, http.StatusOK, itemResponse{Item: item, BOM: children})
}
