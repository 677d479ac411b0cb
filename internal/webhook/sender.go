package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/clock"
	"github.com/orrn/printrelease/internal/core"
	"github.com/orrn/printrelease/internal/db"
	"github.com/orrn/printrelease/internal/metrics"
)

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

// JobEventData is the body of every job event. Tokens and links are never
// included.
type JobEventData struct {
	JobID      string     `json:"jobId"`
	UserID     string     `json:"userId"`
	Status     string     `json:"status"`
	PrinterID  string     `json:"printerId,omitempty"`
	ReleasedBy string     `json:"releasedBy,omitempty"`
	Cost       float64    `json:"cost"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ViewCount  int        `json:"viewCount"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

type WebhookConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

// Store is the subset of webhook persistence the sender needs.
type Store interface {
	ListActiveWebhooksForEvent(ctx context.Context, event string) ([]*db.Webhook, error)
	GetWebhookByID(ctx context.Context, id int64) (*db.Webhook, error)
}

type pendingEvent struct {
	event core.Event
	data  *JobEventData
	at    time.Time
}

type webhookTask struct {
	webhookID int64
	event     core.Event
	payload   *WebhookPayload
	attempt   int
}

// WebhookSender delivers job events to subscribers. JobEvent never blocks:
// events are resolved to subscribers by a fan-out goroutine and delivered by
// a worker pool with exponential backoff. A full queue drops the event.
type WebhookSender struct {
	store      Store
	httpClient *http.Client
	clock      clock.Clock
	logger     *zap.Logger
	retryCount int
	retryDelay time.Duration
	workers    int
	events     chan *pendingEvent
	queue      chan *webhookTask
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

var _ core.Notifier = (*WebhookSender)(nil)

func NewWebhookSender(store Store, config WebhookConfig, clk clock.Clock, logger *zap.Logger) *WebhookSender {
	if config.RetryCount <= 0 {
		config.RetryCount = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 3
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookSender{
		store: store,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		clock:      clk,
		logger:     logger,
		retryCount: config.RetryCount,
		retryDelay: config.RetryDelay,
		workers:    config.WorkerCount,
		events:     make(chan *pendingEvent, config.QueueSize),
		queue:      make(chan *webhookTask, config.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

func (s *WebhookSender) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	s.wg.Add(1)
	go s.fanOut()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

// JobEvent implements core.Notifier.
func (s *WebhookSender) JobEvent(event core.Event, job *core.Job, detail string) {
	if job == nil {
		return
	}
	data := &JobEventData{
		JobID:      job.ID,
		UserID:     job.UserID,
		Status:     string(job.Status),
		PrinterID:  job.PrinterID,
		ReleasedBy: job.ReleasedBy,
		Cost:       job.Cost,
		ExpiresAt:  job.ExpiresAt,
		ViewCount:  job.ViewCount,
		DeletedAt:  job.DeletedAt,
		Detail:     detail,
	}

	select {
	case s.events <- &pendingEvent{event: event, data: data, at: s.clock.Now()}:
	default:
		metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
		s.logger.Warn("event queue full, dropping event", zap.String("event", string(event)), zap.String("job_id", job.ID))
	}
}

func (s *WebhookSender) fanOut() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.events:
			s.enqueue(ev)
		}
	}
}

func (s *WebhookSender) enqueue(ev *pendingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	webhooks, err := s.store.ListActiveWebhooksForEvent(ctx, string(ev.event))
	if err != nil {
		s.logger.Error("failed to get webhooks for event", zap.String("event", string(ev.event)), zap.Error(err))
		return
	}

	for _, webhook := range webhooks {
		task := &webhookTask{
			webhookID: webhook.ID,
			event:     ev.event,
			payload: &WebhookPayload{
				Event:     string(ev.event),
				Timestamp: ev.at,
				Data:      ev.data,
			},
		}

		select {
		case s.queue <- task:
		default:
			metrics.WebhookDeliveries.WithLabelValues("dropped").Inc()
			s.logger.Warn("queue full, dropping webhook",
				zap.Int64("webhook_id", webhook.ID), zap.String("event", string(ev.event)))
		}
	}
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
				s.logger.Warn("webhook delivery failed",
					zap.Int("worker", id),
					zap.Int64("webhook_id", task.webhookID),
					zap.String("event", string(task.event)),
					zap.Int("attempts", task.attempt),
					zap.Error(err))
				continue
			}
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	webhook, err := s.store.GetWebhookByID(ctx, task.webhookID)
	cancel()
	if err != nil {
		return fmt.Errorf("get webhook: %w", err)
	}

	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(webhook, task.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.Debug("retrying webhook",
				zap.Int64("webhook_id", webhook.ID),
				zap.Int("attempt", task.attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// SendTest delivers a synthetic event to one webhook synchronously, without
// retries, so operators can check an endpoint.
func (s *WebhookSender) SendTest(ctx context.Context, id int64) error {
	webhook, err := s.store.GetWebhookByID(ctx, id)
	if err != nil {
		return err
	}
	return s.sendRequest(webhook, &WebhookPayload{
		Event:     "test",
		Timestamp: s.clock.Now(),
		Data:      map[string]string{"message": "webhook test"},
	})
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

func (s *WebhookSender) sendRequest(webhook *db.Webhook, payload *WebhookPayload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if webhook.Secret != "" {
		payload.Signature = Sign(dataBytes, webhook.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code >= 400 && se.code < 500
}
