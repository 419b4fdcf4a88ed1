package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	engerrors "github.com/causelift/campaign-engine/errors"
	"github.com/causelift/campaign-engine/metrics"
	"github.com/causelift/campaign-engine/reconcile"
	"github.com/causelift/campaign-engine/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleScanDiscrepancies runs a full ledger scan and reconciles it against
// the cache. Hidden and soft-deleted records are excluded; hidden records
// were already classified as benign duplicates by an operator.
func (s *Server) handleScanDiscrepancies(c *gin.Context) {
	view, err := s.aggregator.ScanAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	var records []store.CampaignRecord
	if err := s.database.Client().WithContext(c.Request.Context()).
		Where("status <> ?", store.CampaignStatusHidden).
		Find(&records).Error; err != nil {
		writeError(c, engerrors.NewDatabaseError("failed to load cache records", err))
		return
	}

	discrepancies := reconcile.Reconcile(view, records)

	metrics.ScansTotal.Inc()
	for _, f := range view.Failures {
		metrics.ScanReadFailures.WithLabelValues(f.ChainID).Inc()
	}
	byKind := map[reconcile.Kind]int{}
	for _, d := range discrepancies {
		byKind[d.Kind]++
	}
	metrics.DiscrepanciesFound.Reset()
	for kind, n := range byKind {
		metrics.DiscrepanciesFound.WithLabelValues(string(kind)).Set(float64(n))
	}

	c.JSON(http.StatusOK, scanResponse{
		Discrepancies:    discrepancies,
		ReadFailures:     len(view.Failures),
		ContractFailures: view.ContractFailures,
		Partial:          view.HasFailures(),
	})
}

func (s *Server) handleRepair(c *gin.Context) {
	var req repairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	actor, _ := actorFrom(c)

	err := s.repairer.Apply(c.Request.Context(), actor, reconcile.RepairRequest{
		RecordID:   req.RecordID,
		Action:     reconcile.RepairAction(req.Action),
		CampaignID: req.CampaignID,
		SoldCount:  req.SoldCount,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record_id": req.RecordID, "action": req.Action})
}

func (s *Server) handleRequestDistribution(c *gin.Context) {
	var req distributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	actor, _ := actorFrom(c)

	record, err := s.engine.Distribute(c.Request.Context(), actor, req.RecordID, req.Kind, req.SplitPct)
	if err != nil {
		if record != nil {
			metrics.DistributionsTotal.WithLabelValues(req.Kind, record.Status).Inc()
		}
		writeError(c, err)
		return
	}

	metrics.DistributionsTotal.WithLabelValues(req.Kind, record.Status).Inc()
	status := http.StatusOK
	if record.Status == store.DistributionStatusPending {
		// The transfer is in flight; the recovery pass settles it.
		status = http.StatusAccepted
	}
	c.JSON(status, record)
}

func (s *Server) handleGetDistribution(c *gin.Context) {
	var record store.DistributionRecord
	err := s.database.Client().WithContext(c.Request.Context()).
		First(&record, "id = ?", c.Param("id")).Error
	if err != nil {
		writeError(c, engerrors.NewNotFoundError("", "distribution not found"))
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) handleRequestSettingsChange(c *gin.Context) {
	var req settingsChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	actor, _ := actorFrom(c)

	change, err := s.governance.Request(c.Request.Context(), actor,
		req.ChainID, req.ContractAddress, req.ChangeType, req.NewValue, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.SettingsChangesTotal.WithLabelValues(change.ChangeType, change.Status).Inc()
	c.JSON(http.StatusCreated, change)
}

func (s *Server) handleGetSettingsChange(c *gin.Context) {
	change, err := s.governance.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (s *Server) handleApproveSettingsChange(c *gin.Context) {
	actor, _ := actorFrom(c)
	change, err := s.governance.Approve(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (s *Server) handleExecuteSettingsChange(c *gin.Context) {
	actor, _ := actorFrom(c)
	change, err := s.governance.Execute(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.SettingsChangesTotal.WithLabelValues(change.ChangeType, change.Status).Inc()
	c.JSON(http.StatusOK, change)
}

func (s *Server) handleCancelSettingsChange(c *gin.Context) {
	actor, admin := actorFrom(c)
	change, err := s.governance.Cancel(c.Request.Context(), actor, admin, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

// writeError maps engine error codes onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var engErr *engerrors.EngineError
	if !errors.As(err, &engErr) {
		c.JSON(http.StatusInternalServerError,
			errorResponse{Code: string(engerrors.ErrCodeInternal), Message: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch engErr.Code {
	case engerrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case engerrors.ErrCodeValidation:
		status = http.StatusBadRequest
	case engerrors.ErrCodeDistributionInProgress,
		engerrors.ErrCodeNothingToDistribute,
		engerrors.ErrCodeRaceInvalidated,
		engerrors.ErrCodeDuplicatePaymentRisk,
		engerrors.ErrCodeInsufficientFunds:
		status = http.StatusConflict
	case engerrors.ErrCodeRPC, engerrors.ErrCodeTimeout:
		status = http.StatusBadGateway
	}
	c.JSON(status, errorResponse{Code: string(engErr.Code), Message: engErr.Message})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest,
		errorResponse{Code: string(engerrors.ErrCodeValidation), Message: err.Error()})
}
