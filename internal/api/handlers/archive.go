package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/archive"
	"github.com/orrn/printrelease/internal/core"
)

type ArchiveHandler struct {
	archiver *archive.Archiver
	logger   *zap.Logger
}

func NewArchiveHandler(archiver *archive.Archiver, logger *zap.Logger) *ArchiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveHandler{archiver: archiver, logger: logger}
}

type ArchiveListResponse struct {
	Archives []*archive.ArchiveFile `json:"archives"`
	Count    int                    `json:"count"`
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, "failed to list archives", err)
		return
	}

	c.JSON(http.StatusOK, ArchiveListResponse{
		Archives: archives,
		Count:    len(archives),
	})
}

type ArchiveInfoResponse struct {
	*archive.ArchiveFile
	HasPassphrase bool `json:"hasPassphrase"`
}

func (h *ArchiveHandler) GetArchiveInfo(c *gin.Context) {
	info, err := h.archiver.GetArchiveInfo(c.Request.Context(), c.Param("filename"))
	if err != nil {
		h.archiveError(c, err)
		return
	}

	c.JSON(http.StatusOK, ArchiveInfoResponse{
		ArchiveFile:   info,
		HasPassphrase: h.archiver.HasPassphrase(),
	})
}

// DownloadArchive streams the decrypted SQLite file.
func (h *ArchiveHandler) DownloadArchive(c *gin.Context) {
	filename := c.Param("filename")

	tmpFile, err := os.CreateTemp("", "archive-download-*.db")
	if err != nil {
		internalError(c, h.logger, "failed to create temp file", err)
		return
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	if err := h.archiver.DecryptArchive(filename, tmpPath); err != nil {
		h.archiveError(c, err)
		return
	}

	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Transfer-Encoding", "binary")
	c.Header("Cache-Control", "no-store")
	c.FileAttachment(tmpPath, strings.TrimSuffix(filename, ".age"))
}

// DownloadArchiveRaw streams the armored ciphertext as stored.
func (h *ArchiveHandler) DownloadArchiveRaw(c *gin.Context) {
	filename := c.Param("filename")

	filePath, err := h.archiver.Path(filename)
	if err != nil {
		h.archiveError(c, err)
		return
	}

	c.Header("Content-Description", "File Transfer")
	c.FileAttachment(filePath, filename)
}

func (h *ArchiveHandler) DeleteArchive(c *gin.Context) {
	filename := c.Param("filename")

	if err := h.archiver.DeleteArchive(c.Request.Context(), filename); err != nil {
		h.archiveError(c, err)
		return
	}

	h.logger.Info("archive deleted by operator", zap.String("file", filename))
	c.JSON(http.StatusOK, gin.H{"message": "archive deleted"})
}

type TriggerArchiveResponse struct {
	Message  string `json:"message"`
	Archived int    `json:"archived"`
}

func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	archived, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		if errors.Is(err, archive.ErrNoPassphrase) {
			badRequest(c, "archive passphrase not configured")
			return
		}
		internalError(c, h.logger, fmt.Sprintf("archive run failed after %d jobs", archived), err)
		return
	}

	c.JSON(http.StatusOK, TriggerArchiveResponse{
		Message:  "archive completed",
		Archived: archived,
	})
}

type PassphraseRequest struct {
	Passphrase string `json:"passphrase" binding:"required,min=8"`
}

// SetPassphrase changes the key for archives written from now on. It is
// held in memory only.
func (h *ArchiveHandler) SetPassphrase(c *gin.Context) {
	var req PassphraseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "passphrase must be at least 8 characters")
		return
	}

	h.archiver.SetPassphrase(req.Passphrase)
	h.logger.Info("archive passphrase updated")
	c.JSON(http.StatusOK, gin.H{"message": "passphrase set"})
}

type ArchiveStatsResponse struct {
	TotalArchives   int    `json:"totalArchives"`
	TotalSize       int64  `json:"totalSizeBytes"`
	TotalJobsStored int    `json:"totalJobsStored"`
	OldestArchive   string `json:"oldestArchive,omitempty"`
	NewestArchive   string `json:"newestArchive,omitempty"`
}

func (h *ArchiveHandler) GetArchiveStats(c *gin.Context) {
	archives, err := h.archiver.ListArchives(c.Request.Context())
	if err != nil {
		internalError(c, h.logger, "failed to get archive stats", err)
		return
	}

	var resp ArchiveStatsResponse
	resp.TotalArchives = len(archives)
	for _, a := range archives {
		resp.TotalSize += a.Size
		resp.TotalJobsStored += a.JobCount
	}
	// ListArchives is sorted by name, which sorts by month.
	if len(archives) > 0 {
		resp.OldestArchive = archives[0].Filename
		resp.NewestArchive = archives[len(archives)-1].Filename
	}

	c.JSON(http.StatusOK, resp)
}

type ArchivedJobResponse struct {
	Job         *core.Job `json:"job"`
	ArchiveFile string    `json:"archiveFile"`
}

// GetArchivedJob looks a job up in the encrypted archives after it has left
// the live store.
func (h *ArchiveHandler) GetArchivedJob(c *gin.Context) {
	job, file, err := h.archiver.LookupJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.archiveError(c, err)
		return
	}
	c.JSON(http.StatusOK, ArchivedJobResponse{Job: job, ArchiveFile: file})
}

func (h *ArchiveHandler) archiveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, archive.ErrArchiveNotFound):
		notFound(c, "archive not found")
	case errors.Is(err, archive.ErrNoPassphrase):
		badRequest(c, "archive passphrase not configured")
	case errors.Is(err, core.ErrNotFound):
		notFound(c, "job not found in archives")
	default:
		internalError(c, h.logger, "archive operation failed", err)
	}
}

func (h *ArchiveHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/archives", h.ListArchives)
	r.GET("/archives/stats", h.GetArchiveStats)
	r.POST("/archives/run", h.TriggerArchive)
	r.GET("/archives/jobs/:id", h.GetArchivedJob)
	r.GET("/archives/file/:filename", h.GetArchiveInfo)
	r.GET("/archives/file/:filename/download", h.DownloadArchive)
	r.GET("/archives/file/:filename/raw", h.DownloadArchiveRaw)
	r.DELETE("/archives/file/:filename", h.DeleteArchive)
	r.PUT("/settings/archive/passphrase", h.SetPassphrase)
}
