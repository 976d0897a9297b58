package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/archive"
)

// VersionStore is the slice of the archive store the handler needs.
type VersionStore interface {
	ListVersions(ctx context.Context, missionID string) ([]archive.Version, error)
	GetVersion(ctx context.Context, missionID, versionID string) ([]byte, error)
}

// ArchiveHandler exposes the versioned raw-log archive over HTTP.
type ArchiveHandler struct {
	store  VersionStore
	logger *zap.Logger
}

// NewArchiveHandler creates a new ArchiveHandler.
func NewArchiveHandler(store VersionStore, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{store: store, logger: logger}
}

// Register mounts the archive routes on the given router group.
func (h *ArchiveHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/flights/:mission_id/archive")
	{
		a.GET("/versions", h.ListVersions)
		a.GET("/versions/:version_id", h.GetVersion)
	}
}

// ListVersions handles GET /flights/:mission_id/archive/versions — returns
// every archived upload of the raw log, oldest first.
func (h *ArchiveHandler) ListVersions(c *gin.Context) {
	versions, err := h.store.ListVersions(c.Request.Context(), c.Param("mission_id"))
	if err != nil {
		h.logger.Error("list archive versions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archive versions"})
		return
	}
	if versions == nil {
		versions = []archive.Version{}
	}

	c.JSON(http.StatusOK, gin.H{"versions": versions, "count": len(versions)})
}

// GetVersion handles GET /flights/:mission_id/archive/versions/:version_id —
// streams one archived upload back as it was stored.
func (h *ArchiveHandler) GetVersion(c *gin.Context) {
	body, err := h.store.GetVersion(c.Request.Context(), c.Param("mission_id"), c.Param("version_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive version not found"})
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", body)
}
