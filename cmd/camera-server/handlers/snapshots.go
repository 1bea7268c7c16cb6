package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/picam/pkg/snapshot"
)

type SnapshotHandler struct {
	Saver *snapshot.Saver
}

// List returns the catalog of saved snapshots.
func (h *SnapshotHandler) List(c *gin.Context) {
	records, err := h.Saver.Records()
	if err != nil {
		slog.Error("Failed to read snapshot catalog", "error", err)
		c.String(http.StatusInternalServerError, "Failed to read snapshots")
		return
	}
	c.JSON(http.StatusOK, records)
}

// Get serves one saved snapshot.
func (h *SnapshotHandler) Get(c *gin.Context) {
	path, err := h.Saver.Path(c.Param("name"))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid snapshot name")
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.File(path)
}
