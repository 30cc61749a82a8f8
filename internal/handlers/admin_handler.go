package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mobiledetail/backend/internal/middleware"
	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/scheduler"
	"github.com/mobiledetail/backend/internal/services"
)

type AdminHandler struct {
	auditService  *services.AuditService
	leadService   *services.LeadService
	orphanService *services.OrphanService
	backupService *services.BackupService
	scheduler     *scheduler.Scheduler
	log           zerolog.Logger
}

func NewAdminHandler(auditService *services.AuditService, leadService *services.LeadService, orphanService *services.OrphanService, backupService *services.BackupService, sched *scheduler.Scheduler, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		auditService:  auditService,
		leadService:   leadService,
		orphanService: orphanService,
		backupService: backupService,
		scheduler:     sched,
		log:           log.With().Str("handler", "admin").Logger(),
	}
}

// GetAuditLogs lists admin actions, newest first
// GET /api/v1/admin/audit/logs?page&limit&action
func (h *AdminHandler) GetAuditLogs(c *gin.Context) {
	page, limit, _ := pagination(c)

	logs, total, err := h.auditService.GetRecentActions(page, limit, c.Query("actor"), c.Query("action"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve audit logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": logs,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetLeads lists quote and booking requests
// GET /api/v1/admin/leads?page&limit&kind
func (h *AdminHandler) GetLeads(c *gin.Context) {
	page, limit, offset := pagination(c)
	kind := c.Query("kind")
	if kind != "" && kind != string(models.LeadKindQuote) && kind != string(models.LeadKindBooking) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid kind"})
		return
	}

	leads, total, err := h.leadService.ListLeads(kind, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve leads"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leads": leads,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetOrphans reports orphaned files without removing anything
// GET /api/v1/admin/orphans
func (h *AdminHandler) GetOrphans(c *gin.Context) {
	report, err := h.orphanService.Sweep(c.Request.Context(), false)
	if err != nil {
		respondError(c, h.log, err, "Failed to scan uploads")
		return
	}
	c.JSON(http.StatusOK, report)
}

// SweepOrphans removes orphaned files
// POST /api/v1/admin/orphans/sweep
func (h *AdminHandler) SweepOrphans(c *gin.Context) {
	report, err := h.orphanService.Sweep(c.Request.Context(), true)
	if err != nil {
		respondError(c, h.log, err, "Failed to sweep uploads")
		return
	}
	audit(c, h.auditService, h.log, models.ActionOrphanSweep, "uploads", "", map[string]interface{}{
		"removed": report.Removed,
		"failed":  report.Failed,
	})
	c.JSON(http.StatusOK, report)
}

// GetBackups lists metadata snapshots
// GET /api/v1/admin/backups?page&limit
func (h *AdminHandler) GetBackups(c *gin.Context) {
	page, limit, offset := pagination(c)

	backups, total, err := h.backupService.ListBackups(offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve backups"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"backups": backups,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// CreateBackup snapshots the metadata now
// POST /api/v1/admin/backups
func (h *AdminHandler) CreateBackup(c *gin.Context) {
	backup, err := h.backupService.SnapshotMetadata(c.Request.Context(), models.BackupTypeManual, c.GetString(middleware.ContextAdminEmail))
	if errors.Is(err, services.ErrBackupDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Backups are not configured"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Backup failed", "backup": backup})
		return
	}

	audit(c, h.auditService, h.log, models.ActionMetadataBackup, "backup", backup.ID.String(), map[string]interface{}{
		"s3_key":  backup.S3Key,
		"records": backup.RecordCount,
	})
	c.JSON(http.StatusCreated, gin.H{
		"message": "Backup created",
		"backup":  backup,
	})
}

// GetJobs lists the scheduled jobs
// GET /api/v1/admin/jobs
func (h *AdminHandler) GetJobs(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []scheduler.JobInfo{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": h.scheduler.Jobs()})
}

// RunJob triggers a scheduled job now
// POST /api/v1/admin/jobs/:name/run
func (h *AdminHandler) RunJob(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err := h.scheduler.RunNow(c.Param("name")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Job started"})
}
