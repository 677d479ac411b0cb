package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/metrics"
)

const (
	maxDocumentNameLen = 255
	maxNotesLen        = 1000
	maxPages           = 10000
	maxCopies          = 999

	defaultListLimit = 50
	maxListLimit     = 200
)

var priorities = map[string]bool{"low": true, "normal": true, "high": true}

type ServiceConfig struct {
	PublicBaseURL    string
	DefaultTTL       time.Duration
	MaxTTL           time.Duration
	MaxDocumentBytes int64
}

type Upload struct {
	Filename string
	MimeType string
	Content  []byte
}

type SubmitRequest struct {
	UserID       string
	DocumentName string
	Pages        int
	Copies       int
	Color        bool
	Duplex       bool
	Stapling     bool
	Priority     string
	Notes        string
	// ExpiresIn is the link lifetime; zero selects the configured default.
	ExpiresIn time.Duration
	Document  Upload
}

// Service is the entry point used by the HTTP layer. It owns no state of
// its own: every decision is made against the JobStore.
type Service struct {
	store       JobStore
	tokens      TokenGenerator
	clock       clock.Clock
	notifier    Notifier
	logger      *zap.Logger
	cfg         ServiceConfig
	guard       *ViewGuard
	coordinator *ReleaseCoordinator
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithTokenGenerator(g TokenGenerator) Option { return func(s *Service) { s.tokens = g } }

func NewService(store JobStore, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 15 * time.Minute
	}
	if cfg.MaxTTL < cfg.DefaultTTL {
		cfg.MaxTTL = cfg.DefaultTTL
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = 25 << 20
	}

	s := &Service{
		store:    store,
		tokens:   NewTokenGenerator(),
		clock:    clock.Real(),
		notifier: nopNotifier{},
		logger:   zap.NewNop(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.guard = NewViewGuard(store, s.clock, s.notifier, s.logger.Named("view"))
	s.coordinator = NewReleaseCoordinator(store, s.clock, s.notifier, s.logger.Named("release"))
	return s
}

// Submit validates the request, prices it and stores a pending job with a
// freshly minted token. The returned job carries the token and link.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	mimeType, err := NegotiateContentType(req.Document.MimeType, req.Document.Filename, req.Document.Content)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Generate()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ttl := req.ExpiresIn
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}

	job := &Job{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		DocumentName: req.DocumentName,
		Pages:        req.Pages,
		Copies:       req.Copies,
		Color:        req.Color,
		Duplex:       req.Duplex,
		Stapling:     req.Stapling,
		Priority:     req.Priority,
		Notes:        req.Notes,
		Status:       JobStatusPending,
		Cost:         PriceJob(req.Pages, req.Copies, req.Color, req.Duplex),
		SubmittedAt:  now,
		SecureToken:  token,
		ExpiresAt:    now.Add(ttl),
	}
	job.ReleaseLink = BuildReleaseLink(s.cfg.PublicBaseURL, job.ID, token)

	doc := &Document{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		Content:   req.Document.Content,
		MimeType:  mimeType,
		Filename:  req.Document.Filename,
		Size:      int64(len(req.Document.Content)),
		CreatedAt: now,
	}

	if err := s.store.CreateJob(ctx, job, doc); err != nil {
		return nil, err
	}

	metrics.JobsSubmitted.Inc()
	s.notifier.JobEvent(EventJobSubmitted, job, "")
	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.Int("pages", job.Pages),
		zap.Int("copies", job.Copies),
		zap.Time("expires_at", job.ExpiresAt))

	return job, nil
}

func (s *Service) validate(req *SubmitRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return invalid("userId", "is required")
	}

	req.DocumentName = strings.TrimSpace(req.DocumentName)
	if req.DocumentName == "" {
		req.DocumentName = strings.TrimSpace(req.Document.Filename)
	}
	if req.DocumentName == "" {
		return invalid("documentName", "is required")
	}
	if len(req.DocumentName) > maxDocumentNameLen {
		return invalid("documentName", "must be at most %d characters", maxDocumentNameLen)
	}

	if req.Pages < 1 || req.Pages > maxPages {
		return invalid("pages", "must be between 1 and %d", maxPages)
	}
	if req.Copies == 0 {
		req.Copies = 1
	}
	if req.Copies < 1 || req.Copies > maxCopies {
		return invalid("copies", "must be between 1 and %d", maxCopies)
	}

	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))
	if req.Priority == "" {
		req.Priority = "normal"
	}
	if !priorities[req.Priority] {
		return invalid("priority", "must be low, normal, or high")
	}

	if len(req.Notes) > maxNotesLen {
		return invalid("notes", "must be at most %d characters", maxNotesLen)
	}

	if req.ExpiresIn < 0 {
		return invalid("expiresIn", "must be positive")
	}
	if req.ExpiresIn > s.cfg.MaxTTL {
		return invalid("expiresIn", "must not exceed %s", s.cfg.MaxTTL)
	}

	if len(req.Document.Content) == 0 {
		return invalid("document", "is empty")
	}
	if int64(len(req.Document.Content)) > s.cfg.MaxDocumentBytes {
		return invalid("document", "exceeds %d bytes", s.cfg.MaxDocumentBytes)
	}
	return nil
}

// GetJob returns job metadata. The token is never serialized.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	if filter.Status != "" {
		if _, ok := transitions[filter.Status]; !ok {
			return nil, invalid("status", "unknown status %q", filter.Status)
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListJobs(ctx, filter)
}

func (s *Service) View(ctx context.Context, req ViewRequest) (*Document, error) {
	return s.guard.View(ctx, req)
}

func (s *Service) Release(ctx context.Context, req ReleaseRequest) (*Job, error) {
	return s.coordinator.Release(ctx, req)
}

// Complete records the printer's confirmation that a released job has been
// printed. It needs the token and must land before the deadline; after it
// the job belongs to the sweeper.
func (s *Service) Complete(ctx context.Context, id, token string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !TokenMatches(job.SecureToken, token) {
		return nil, ErrInvalidToken
	}
	return s.markCompleted(ctx, id, "confirmed")
}

func (s *Service) markCompleted(ctx context.Context, id, detail string) (*Job, error) {
	now := s.clock.Now()
	job, err := s.store.UpdateStatus(ctx, id, JobStatusReleased, JobStatusCompleted, StatusUpdate{At: now, NotExpiredAt: &now})
	if err != nil {
		return nil, err
	}

	metrics.JobsCompleted.Inc()
	s.notifier.JobEvent(EventJobCompleted, job, detail)
	s.logger.Info("job completed", zap.String("job_id", job.ID), zap.String("via", detail))
	return job, nil
}

// Cancel withdraws a pending job on behalf of its owner.
func (s *Service) Cancel(ctx context.Context, id, actorID string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != actorID {
		return nil, ErrForbidden
	}

	now := s.clock.Now()
	cancelled, err := s.store.UpdateStatus(ctx, id, JobStatusPending, JobStatusCancelled, StatusUpdate{At: now, NotExpiredAt: &now})
	if err != nil {
		return nil, err
	}

	s.notifier.JobEvent(EventJobCancelled, cancelled, actorID)
	s.logger.Info("job cancelled", zap.String("job_id", id), zap.String("actor", actorID))
	return cancelled, nil
}

// Delete purges a finished job on behalf of its owner. Jobs still in flight
// must be cancelled or left to expire first.
func (s *Service) Delete(ctx context.Context, id, actorID string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != actorID {
		return nil, ErrForbidden
	}
	if !IsPurgeable(job.Status) {
		return nil, fmt.Errorf("cannot delete %s job: %w", job.Status, ErrConflict)
	}

	deleted, err := s.store.UpdateStatus(ctx, id, job.Status, JobStatusDeleted, StatusUpdate{At: s.clock.Now()})
	if err != nil {
		return nil, err
	}

	s.notifier.JobEvent(EventJobDeleted, deleted, "owner")
	s.logger.Info("job deleted", zap.String("job_id", id), zap.String("actor", actorID))
	return deleted, nil
}

// Views returns the audit trail for a job, granted and rejected attempts
// alike.
func (s *Service) Views(ctx context.Context, id string) ([]*JobView, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListViews(ctx, id)
}

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	return s.store.Statistics(ctx)
}
