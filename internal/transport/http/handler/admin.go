package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
	"github.com/gin-gonic/gin"
)

// AdminOutboxStore is the subset of OutboxRepository the admin API needs
// for read-only inspection of messages and saga joins.
type AdminOutboxStore interface {
	Get(ctx context.Context, id ids.WorkItemID) (*domain.OutboxMessage, error)
	GetJoin(ctx context.Context, joinID string) (*domain.OutboxJoin, error)
}

// AdminInboxStore is the subset of InboxRepository the admin API needs.
type AdminInboxStore interface {
	Get(ctx context.Context, id ids.WorkItemID) (*domain.InboxMessage, error)
}

// AdminJobsStore is the subset of JobsRepository the admin API needs to
// create and inspect cron-scheduled Jobs and their materialized Runs.
type AdminJobsStore interface {
	Create(ctx context.Context, j *domain.Job) (*domain.Job, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	ListEnabled(ctx context.Context) ([]*domain.Job, error)
	GetRun(ctx context.Context, id ids.WorkItemID) (*domain.JobRun, error)
}

// AdminLeaseStore is the subset of LeaseRepository the admin API needs to
// inspect lease ownership.
type AdminLeaseStore interface {
	GetCoarse(ctx context.Context, name string) (*domain.CoarseLease, error)
	GetFenced(ctx context.Context, resourceName string) (*domain.DistributedLock, error)
}

// AdminHandler exposes read/inspection endpoints over the core work-queue
// state for operators — the platform has no end-user-facing CRUD surface
// of its own (spec Non-goals exclude a product API); this is purely an
// operability layer.
type AdminHandler struct {
	outbox AdminOutboxStore
	inbox  AdminInboxStore
	jobs   AdminJobsStore
	leases AdminLeaseStore
	logger *slog.Logger
}

func NewAdminHandler(outbox AdminOutboxStore, inbox AdminInboxStore, jobs AdminJobsStore, leases AdminLeaseStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{outbox: outbox, inbox: inbox, jobs: jobs, leases: leases, logger: logger.With("component", "admin_handler")}
}

func (h *AdminHandler) GetOutboxMessage(c *gin.Context) {
	id, err := ids.ParseWorkItemID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	msg, err := h.outbox.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrOutboxMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "outbox message not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get outbox message", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *AdminHandler) GetOutboxJoin(c *gin.Context) {
	join, err := h.outbox.GetJoin(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJoinNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "outbox join not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get outbox join", "join_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, join)
}

func (h *AdminHandler) GetInboxMessage(c *gin.Context) {
	id, err := ids.ParseWorkItemID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	msg, err := h.inbox.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrInboxMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "inbox message not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get inbox message", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

type createJobRequest struct {
	JobName      string `json:"job_name" binding:"required,max=256"`
	CronSchedule string `json:"cron_schedule" binding:"required"`
	Topic        string `json:"topic" binding:"required"`
	Payload      []byte `json:"payload"`
	IsEnabled    *bool  `json:"is_enabled"`
	NextDueTime  time.Time `json:"next_due_time" binding:"required"`
}

func (h *AdminHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	enabled := true
	if req.IsEnabled != nil {
		enabled = *req.IsEnabled
	}

	job, err := h.jobs.Create(c.Request.Context(), &domain.Job{
		JobName:      req.JobName,
		CronSchedule: req.CronSchedule,
		Topic:        req.Topic,
		Payload:      req.Payload,
		IsEnabled:    enabled,
		NextDueTime:  req.NextDueTime,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateJobName) {
			c.JSON(http.StatusConflict, gin.H{"error": "job with this name already exists"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "create job", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *AdminHandler) ListJobs(c *gin.Context) {
	jobs, err := h.jobs.ListEnabled(c.Request.Context())
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list jobs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *AdminHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get job", "job_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *AdminHandler) GetJobRun(c *gin.Context) {
	id, err := ids.ParseWorkItemID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	run, err := h.jobs.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job run not found"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "get job run", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *AdminHandler) GetCoarseLease(c *gin.Context) {
	lease, err := h.leases.GetCoarse(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "get coarse lease", "name", c.Param("name"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if lease == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "lease not found"})
		return
	}
	c.JSON(http.StatusOK, lease)
}

func (h *AdminHandler) GetFencedLock(c *gin.Context) {
	lock, err := h.leases.GetFenced(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "get fenced lock", "name", c.Param("name"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if lock == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "lock not found"})
		return
	}
	c.JSON(http.StatusOK, lock)
}
