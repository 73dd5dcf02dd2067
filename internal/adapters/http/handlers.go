package http

import (
	"net/http"

	"github.com/dkeye/Consult/internal/app/orch"
	"github.com/dkeye/Consult/internal/core"
	"github.com/dkeye/Consult/internal/domain"
	"github.com/gin-gonic/gin"
)

type roomHandlers struct {
	orch *orch.Orchestrator
}

type RoomsResponse struct {
	Rooms []core.RoomInfo `json:"rooms"`
}

func (h *roomHandlers) list(c *gin.Context) {
	c.JSON(http.StatusOK, RoomsResponse{Rooms: h.orch.Rooms.List()})
}

func (h *roomHandlers) evict(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if _, ok := h.orch.Rooms.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	h.orch.EvictRoom(id)
	c.Status(http.StatusNoContent)
}
