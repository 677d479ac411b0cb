package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/core"
)

// ActorHeader carries the caller identity asserted by the upstream identity
// provider.
const ActorHeader = "X-User-ID"

type DocumentUpload struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Content  []byte `json:"content"`
}

// CreateJobRequest is the JSON submission body. document.content is
// base64-encoded.
type CreateJobRequest struct {
	UserID           string         `json:"userId" form:"userId"`
	DocumentName     string         `json:"documentName" form:"documentName"`
	Pages            int            `json:"pages" form:"pages"`
	Copies           int            `json:"copies" form:"copies"`
	Color            bool           `json:"color" form:"color"`
	Duplex           bool           `json:"duplex" form:"duplex"`
	Stapling         bool           `json:"stapling" form:"stapling"`
	Priority         string         `json:"priority" form:"priority"`
	Notes            string         `json:"notes" form:"notes"`
	ExpiresInSeconds int64          `json:"expiresInSeconds" form:"expiresInSeconds"`
	Document         DocumentUpload `json:"document" form:"-"`
}

// CreateJobResponse is the only response that ever carries the token.
type CreateJobResponse struct {
	*core.Job
	SecureToken string `json:"secureToken"`
	ReleaseLink string `json:"releaseLink"`
}

type ViewJobRequest struct {
	Token  string `json:"token" binding:"required"`
	UserID string `json:"userId"`
}

type ReleaseJobRequest struct {
	Token      string `json:"token" binding:"required"`
	PrinterID  string `json:"printerId"`
	ReleasedBy string `json:"releasedBy"`
}

type CompleteJobRequest struct {
	Token string `json:"token" binding:"required"`
}

type ActorRequest struct {
	UserID string `json:"userId"`
}

type ListJobsResponse struct {
	Jobs   []*core.Job `json:"jobs"`
	Count  int         `json:"count"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type JobHandler struct {
	service          *core.Service
	maxDocumentBytes int64
	logger           *zap.Logger
}

func NewJobHandler(service *core.Service, maxDocumentBytes int64, logger *zap.Logger) *JobHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobHandler{
		service:          service,
		maxDocumentBytes: maxDocumentBytes,
		logger:           logger,
	}
}

// CreateJob accepts either a JSON body with an inline base64 document or a
// multipart form with the file in the "document" part.
func (h *JobHandler) CreateJob(c *gin.Context) {
	limit := h.bodyLimit()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	var req CreateJobRequest
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			h.rejectBody(c, limit, err)
			return
		}
		upload, err := c.FormFile("document")
		if err != nil {
			if isBodyTooLarge(err) {
				h.rejectBody(c, limit, err)
				return
			}
			badRequest(c, "document file is required")
			return
		}
		doc, err := h.readUpload(upload)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		req.Document = *doc
	} else if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectBody(c, limit, err)
		return
	}

	if req.UserID == "" {
		req.UserID = c.GetHeader(ActorHeader)
	}
	if req.ExpiresInSeconds < 0 {
		badRequest(c, "expiresInSeconds must be positive")
		return
	}

	job, err := h.service.Submit(c.Request.Context(), core.SubmitRequest{
		UserID:       req.UserID,
		DocumentName: req.DocumentName,
		Pages:        req.Pages,
		Copies:       req.Copies,
		Color:        req.Color,
		Duplex:       req.Duplex,
		Stapling:     req.Stapling,
		Priority:     req.Priority,
		Notes:        req.Notes,
		ExpiresIn:    time.Duration(req.ExpiresInSeconds) * time.Second,
		Document: core.Upload{
			Filename: req.Document.Filename,
			MimeType: req.Document.MimeType,
			Content:  req.Document.Content,
		},
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, CreateJobResponse{
		Job:         job,
		SecureToken: job.SecureToken,
		ReleaseLink: job.ReleaseLink,
	})
}

// bodyLimit caps a submission body: the document base64-encoded plus room
// for the job fields or multipart framing.
func (h *JobHandler) bodyLimit() int64 {
	return h.maxDocumentBytes*4/3 + 64<<10
}

func (h *JobHandler) rejectBody(c *gin.Context, limit int64, err error) {
	if isBodyTooLarge(err) {
		badRequest(c, fmt.Sprintf("request body exceeds %d bytes", limit))
		return
	}
	badRequest(c, err.Error())
}

func isBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func (h *JobHandler) readUpload(fh *multipart.FileHeader) (*DocumentUpload, error) {
	if fh.Size > h.maxDocumentBytes {
		return nil, &core.ValidationError{Field: "document", Reason: fmt.Sprintf("exceeds %d bytes", h.maxDocumentBytes)}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, h.maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return &DocumentUpload{
		Filename: fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Content:  content,
	}, nil
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs lists the caller's own jobs. The actor header is required and a
// userId query naming anyone else is refused.
func (h *JobHandler) ListJobs(c *gin.Context) {
	actor := c.GetHeader(ActorHeader)
	if actor == "" {
		badRequest(c, ActorHeader+" header is required")
		return
	}
	if user := c.Query("userId"); user != "" && user != actor {
		respondError(c, h.logger, core.ErrForbidden)
		return
	}
	h.listJobs(c, actor)
}

// ListAllJobs is the operator view across every owner.
func (h *JobHandler) ListAllJobs(c *gin.Context) {
	h.listJobs(c, c.Query("userId"))
}

func (h *JobHandler) listJobs(c *gin.Context, userID string) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		badRequest(c, "limit must be an integer")
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		badRequest(c, "offset must be an integer")
		return
	}

	filter := core.JobFilter{
		UserID: userID,
		Status: core.JobStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	}
	jobs, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, ListJobsResponse{
		Jobs:   jobs,
		Count:  len(jobs),
		Limit:  limit,
		Offset: offset,
	})
}

// ViewJob returns the raw document bytes, once.
func (h *JobHandler) ViewJob(c *gin.Context) {
	var req ViewJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token is required")
		return
	}

	actor := req.UserID
	if actor == "" {
		actor = c.GetHeader(ActorHeader)
	}

	doc, err := h.service.View(c.Request.Context(), core.ViewRequest{
		JobID:     c.Param("id"),
		Token:     req.Token,
		ActorID:   actor,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	c.Header("X-Job-ID", doc.JobID)
	c.Data(http.StatusOK, doc.MimeType, doc.Content)
}

func (h *JobHandler) ReleaseJob(c *gin.Context) {
	var req ReleaseJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token is required")
		return
	}

	releasedBy := req.ReleasedBy
	if releasedBy == "" {
		releasedBy = c.GetHeader(ActorHeader)
	}

	job, err := h.service.Release(c.Request.Context(), core.ReleaseRequest{
		JobID:      c.Param("id"),
		Token:      req.Token,
		PrinterID:  req.PrinterID,
		ReleasedBy: releasedBy,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CompleteJob(c *gin.Context) {
	var req CompleteJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "token is required")
		return
	}

	job, err := h.service.Complete(c.Request.Context(), c.Param("id"), req.Token)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	actor := c.GetHeader(ActorHeader)
	if actor == "" {
		var req ActorRequest
		_ = c.ShouldBindJSON(&req)
		actor = req.UserID
	}
	if actor == "" {
		badRequest(c, "userId is required")
		return
	}

	job, err := h.service.Cancel(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	actor := c.GetHeader(ActorHeader)
	if actor == "" {
		actor = c.Query("userId")
	}
	if actor == "" {
		badRequest(c, "userId is required")
		return
	}

	job, err := h.service.Delete(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) ListViews(c *gin.Context) {
	views, err := h.service.Views(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"views": views, "count": len(views)})
}

func (h *JobHandler) Statistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes mounts the public job routes. attempts guards the
// token-bearing endpoints.
func (h *JobHandler) RegisterRoutes(r gin.IRouter, attempts gin.HandlerFunc) {
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/view", attempts, h.ViewJob)
	r.POST("/jobs/:id/release", attempts, h.ReleaseJob)
	r.POST("/jobs/:id/complete", attempts, h.CompleteJob)
	r.POST("/jobs/:id/cancel", h.CancelJob)
	r.DELETE("/jobs/:id", h.DeleteJob)
	r.GET("/stats", h.Statistics)
}
