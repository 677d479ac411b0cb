package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/config"
	"github.com/orrn/printrelease/internal/db"
)

const settingsKeyArchiveDays = "archive_days"

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (*db.Setting, error)
	SetSetting(ctx context.Context, key, value string, encrypted bool) error
}

// ArchiveSettings is the runtime archive policy the handler adjusts.
type ArchiveSettings interface {
	SetArchiveDays(days int)
	GetArchiveDays() int
	GetArchivePath() string
	HasPassphrase() bool
}

type SettingsHandler struct {
	settings SettingsStore
	archive  ArchiveSettings
	config   *config.Config
	logger   *zap.Logger
}

type ServerConfigResponse struct {
	Port             int    `json:"port"`
	PublicBaseURL    string `json:"publicBaseUrl"`
	MaxDocumentBytes int64  `json:"maxDocumentBytes"`
	DatabasePath     string `json:"databasePath"`
	ArchivePath      string `json:"archivePath"`
	DefaultTTL       string `json:"defaultTtl"`
	MaxTTL           string `json:"maxTtl"`
	SweepInterval    string `json:"sweepInterval"`
	SweepBatchSize   int    `json:"sweepBatchSize"`
	CompletionDelay  string `json:"completionDelay"`
	WorkerCount      int    `json:"workerCount"`
	RateLimitEnabled bool   `json:"rateLimitEnabled"`
	RateLimitBurst   int    `json:"rateLimitCapacity"`
	WebhookRetries   int    `json:"webhookRetryCount"`
	LogLevel         string `json:"logLevel"`
	LogFormat        string `json:"logFormat"`
}

type ArchiveSettingsResponse struct {
	ArchivePath   string `json:"archivePath"`
	ArchiveDays   int    `json:"archiveDays"`
	HasPassphrase bool   `json:"hasPassphrase"`
}

type UpdateArchiveSettingsRequest struct {
	ArchiveDays int `json:"archiveDays" binding:"required,min=1,max=3650"`
}

func NewSettingsHandler(settings SettingsStore, archive ArchiveSettings, cfg *config.Config, logger *zap.Logger) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{
		settings: settings,
		archive:  archive,
		config:   cfg,
		logger:   logger,
	}
}

// GetServerConfig reports the effective configuration. Secrets are left out.
func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:             cfg.Server.Port,
		PublicBaseURL:    cfg.Server.PublicBaseURL,
		MaxDocumentBytes: cfg.Server.MaxDocumentBytes,
		DatabasePath:     cfg.Database.Path,
		ArchivePath:      cfg.Database.ArchivePath,
		DefaultTTL:       cfg.Release.DefaultTTL.String(),
		MaxTTL:           cfg.Release.MaxTTL.String(),
		SweepInterval:    cfg.Release.SweepInterval.String(),
		SweepBatchSize:   cfg.Release.SweepBatchSize,
		CompletionDelay:  cfg.Release.CompletionDelay.String(),
		WorkerCount:      cfg.Release.WorkerCount,
		RateLimitEnabled: cfg.Redis.Addr != "",
		RateLimitBurst:   cfg.RateLimit.Capacity,
		WebhookRetries:   cfg.Webhooks.RetryCount,
		LogLevel:         cfg.Logging.Level,
		LogFormat:        cfg.Logging.Format,
	})
}

func (h *SettingsHandler) GetArchiveSettings(c *gin.Context) {
	c.JSON(http.StatusOK, ArchiveSettingsResponse{
		ArchivePath:   h.archive.GetArchivePath(),
		ArchiveDays:   h.archive.GetArchiveDays(),
		HasPassphrase: h.archive.HasPassphrase(),
	})
}

// UpdateArchiveSettings persists the retention window and applies it to the
// running archiver.
func (h *SettingsHandler) UpdateArchiveSettings(c *gin.Context) {
	var req UpdateArchiveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "archiveDays must be between 1 and 3650")
		return
	}

	if err := h.settings.SetSetting(c.Request.Context(), settingsKeyArchiveDays, strconv.Itoa(req.ArchiveDays), false); err != nil {
		internalError(c, h.logger, "failed to update archive settings", err)
		return
	}
	h.archive.SetArchiveDays(req.ArchiveDays)

	h.logger.Info("archive retention updated", zap.Int("archive_days", req.ArchiveDays))
	c.JSON(http.StatusOK, ArchiveSettingsResponse{
		ArchivePath:   h.archive.GetArchivePath(),
		ArchiveDays:   h.archive.GetArchiveDays(),
		HasPassphrase: h.archive.HasPassphrase(),
	})
}

// StoredArchiveDays returns the retention window saved by an operator, if
// any.
func StoredArchiveDays(ctx context.Context, settings SettingsStore) (int, bool) {
	setting, err := settings.GetSetting(ctx, settingsKeyArchiveDays)
	if err != nil {
		return 0, false
	}
	days, err := strconv.Atoi(setting.Value)
	if err != nil || days <= 0 {
		return 0, false
	}
	return days, true
}

func (h *SettingsHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/config", h.GetServerConfig)
	r.GET("/settings/archive", h.GetArchiveSettings)
	r.PUT("/settings/archive", h.UpdateArchiveSettings)
}
