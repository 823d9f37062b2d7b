package handler

import (
	"net/http"

	"github.com/evetabi/invest/internal/domain"
	"github.com/evetabi/invest/internal/service"
	"github.com/gin-gonic/gin"
)

// RoomHandler serves the room catalog.
type RoomHandler struct {
	mgr *service.PositionManager
}

// NewRoomHandler creates a RoomHandler.
func NewRoomHandler(mgr *service.PositionManager) *RoomHandler {
	return &RoomHandler{mgr: mgr}
}

// ListRooms godoc
// GET /api/rooms
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.mgr.Rooms()
	views := make([]domain.RoomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, r.ToView())
	}
	respondSuccess(c, http.StatusOK, views)
}
