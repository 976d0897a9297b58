package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/internal/ledger/repository"
	"github.com/uav-ledger/uavledger/internal/ledger/service"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

// FlightHandler handles HTTP requests for the flight-log ledger.
type FlightHandler struct {
	svc    *service.LedgerService
	logger *zap.Logger
}

// NewFlightHandler creates a new FlightHandler.
func NewFlightHandler(svc *service.LedgerService, logger *zap.Logger) *FlightHandler {
	return &FlightHandler{svc: svc, logger: logger}
}

// Register mounts the flight routes on the given router group.
func (h *FlightHandler) Register(rg *gin.RouterGroup) {
	flights := rg.Group("/flights")
	{
		flights.POST("", h.RegisterFlight)
		flights.GET("", h.ListFlights)
		flights.GET("/:mission_id", h.GetFlight)
		flights.POST("/:mission_id/close", h.CloseFlight)
		flights.POST("/:mission_id/entries", h.AppendEntries)
		flights.GET("/:mission_id/entries/:idx", h.GetEntry)
		flights.POST("/:mission_id/checkpoints", h.RecordCheckpoint)
		flights.POST("/:mission_id/digest", h.FinalizeDigest)
		flights.GET("/:mission_id/verify", h.VerifyStored)
		flights.POST("/:mission_id/verify", h.VerifyCandidate)
		flights.GET("/:mission_id/receipts", h.ListReceipts)
	}
}

// RegisterFlight handles POST /flights — opens a new flight log.
func (h *FlightHandler) RegisterFlight(c *gin.Context) {
	var req struct {
		MissionID string `json:"mission_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := h.svc.RegisterFlight(c.Request.Context(), req.MissionID)
	if err != nil {
		if errors.Is(err, repository.ErrMissionExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "mission ID already registered"})
			return
		}
		h.logger.Error("register flight", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"flight": f})
}

// ListFlights handles GET /flights — returns recent flights.
func (h *FlightHandler) ListFlights(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	flights, err := h.svc.ListFlights(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list flights", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list flights"})
		return
	}
	if flights == nil {
		flights = []*model.Flight{}
	}

	c.JSON(http.StatusOK, gin.H{"flights": flights, "count": len(flights)})
}

// GetFlight handles GET /flights/:mission_id.
func (h *FlightHandler) GetFlight(c *gin.Context) {
	f, err := h.svc.GetFlight(c.Request.Context(), c.Param("mission_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "flight not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get flight"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"flight": f})
}

// AppendEntries handles POST /flights/:mission_id/entries — chains a batch
// of log entries onto the flight.
func (h *FlightHandler) AppendEntries(c *gin.Context) {
	var req struct {
		Entries []chain.Entry `json:"entries" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entries must be non-empty"})
		return
	}
	if len(req.Entries) > 10000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maximum 10000 entries per batch"})
		return
	}

	f, links, err := h.svc.AppendEntries(c.Request.Context(), c.Param("mission_id"), req.Entries)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "flight not found"})
		case errors.Is(err, service.ErrFlightClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "flight is closed"})
		case errors.Is(err, chain.ErrSequence):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, chain.ErrMalformedInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("append entries", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "append failed"})
		}
		return
	}

	RecordEntriesChained(len(links))

	tip := links[len(links)-1]
	c.JSON(http.StatusOK, gin.H{
		"flight":         f,
		"appended":       len(links),
		"tip_index":      tip.Index,
		"tip_chain_hash": tip.ChainHash,
	})
}

// GetEntry handles GET /flights/:mission_id/entries/:idx — returns a single
// stored entry with its recorded hashes.
func (h *FlightHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.ParseUint(c.Param("idx"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idx must be a non-negative integer"})
		return
	}

	entry, err := h.svc.GetEntry(c.Request.Context(), c.Param("mission_id"), idx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get entry"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// RecordCheckpoint handles POST /flights/:mission_id/checkpoints — snapshots
// the flight's current tip into the trusted checkpoint history.
func (h *FlightHandler) RecordCheckpoint(c *gin.Context) {
	rec, err := h.svc.RecordCheckpoint(c.Request.Context(), c.Param("mission_id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "flight not found"})
		case errors.Is(err, service.ErrFlightClosed):
			c.JSON(http.StatusConflict, gin.H{"error": "flight is closed"})
		case errors.Is(err, service.ErrNoEntries):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "flight has no entries to checkpoint"})
		default:
			h.logger.Error("record checkpoint", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkpoint failed"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"checkpoint": rec})
}

// FinalizeDigest handles POST /flights/:mission_id/digest — computes the
// mission digest for the current tip and anchors it when an anchorer is
// configured.
func (h *FlightHandler) FinalizeDigest(c *gin.Context) {
	digest, receipt, err := h.svc.FinalizeDigest(c.Request.Context(), c.Param("mission_id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "flight not found"})
		case errors.Is(err, service.ErrNoEntries):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "flight has no entries"})
		default:
			h.logger.Error("finalize digest", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "finalize failed"})
		}
		return
	}

	resp := gin.H{"digest": digest}
	if receipt != nil {
		RecordAnchor(true)
		resp["receipt"] = receipt
	}
	c.JSON(http.StatusOK, resp)
}

// CloseFlight handles POST /flights/:mission_id/close — anchors a terminal
// digest and freezes the log.
func (h *FlightHandler) CloseFlight(c *gin.Context) {
	f, receipt, err := h.svc.CloseFlight(c.Request.Context(), c.Param("mission_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "flight not found or already closed"})
			return
		}
		h.logger.Error("close flight", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "close failed"})
		return
	}

	resp := gin.H{"flight": f, "status": "closed"}
	if receipt != nil {
		resp["receipt"] = receipt
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyStored handles GET /flights/:mission_id/verify — replays the stored
// log against the recorded checkpoint history (or the latest anchored
// digest) and reports integrity. A tampered log is a 200 with result FAIL,
// not an error.
func (h *FlightHandler) VerifyStored(c *gin.Context) {
	report, err := h.svc.VerifyStored(c.Request.Context(), c.Param("mission_id"))
	if err != nil {
		h.writeVerifyError(c, err)
		return
	}

	RecordVerification(string(report.Result))
	c.JSON(http.StatusOK, report)
}

// VerifyCandidate handles POST /flights/:mission_id/verify — replays a
// caller-supplied candidate log against the flight's trust anchors.
func (h *FlightHandler) VerifyCandidate(c *gin.Context) {
	var req struct {
		Entries []chain.Entry `json:"entries" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.svc.VerifyCandidate(c.Request.Context(), c.Param("mission_id"), req.Entries)
	if err != nil {
		h.writeVerifyError(c, err)
		return
	}

	RecordVerification(string(report.Result))
	c.JSON(http.StatusOK, report)
}

func (h *FlightHandler) writeVerifyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "flight not found"})
	case errors.Is(err, service.ErrNoExpectation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no checkpoints or anchored digest to verify against"})
	case errors.Is(err, chain.ErrAlgorithmMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, chain.ErrMalformedInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
	}
}

// ListReceipts handles GET /flights/:mission_id/receipts — returns every
// anchor receipt recorded for the flight, oldest first.
func (h *FlightHandler) ListReceipts(c *gin.Context) {
	receipts, err := h.svc.ListReceipts(c.Request.Context(), c.Param("mission_id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "flight not found"})
			return
		}
		h.logger.Error("list receipts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list receipts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipts": receipts, "count": len(receipts)})
}
