package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alarmpipe/alarmpipe/internal/alerting"
	"github.com/alarmpipe/alarmpipe/internal/conf"
	"github.com/alarmpipe/alarmpipe/internal/logger"
	"github.com/alarmpipe/alarmpipe/internal/observability"
)

const (
	webhookUserAgent = "alarmpipe-webhook/1"
	maxErrorBody     = 512
)

// WebhookSink POSTs every alarm event as JSON to a configured URL.
type WebhookSink struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	metrics *observability.Metrics
	log     logger.Logger
}

// NewWebhookSink builds a sink from settings. A zero rate limit disables
// throttling.
func NewWebhookSink(settings conf.WebhookSettings, metrics *observability.Metrics, log logger.Logger) *WebhookSink {
	timeout := settings.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	limit := rate.Inf
	if settings.RateLimit > 0 {
		limit = rate.Limit(settings.RateLimit)
	}
	return &WebhookSink{
		url:     settings.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, max(settings.Burst, 1)),
		timeout: timeout,
		metrics: metrics,
		log:     log.With(logger.String("component", "webhook_sink")),
	}
}

// Client exposes the HTTP client so tests can intercept it.
func (s *WebhookSink) Client() *http.Client {
	return s.client
}

// Send waits for the rate limiter and delivers ev. Any non-2xx response is
// an error.
func (s *WebhookSink) Send(ctx context.Context, ev *alerting.AlarmEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode alarm event: %w", err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("X-Alarm-State", ev.State.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// HandleAlarm delivers ev within the configured timeout.
func (s *WebhookSink) HandleAlarm(ev *alerting.AlarmEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Send(ctx, ev); err != nil {
		s.metrics.OutboundError("webhook")
		s.log.Error("failed to deliver alarm webhook",
			logger.String("definition_id", ev.Definition.ID),
			logger.String("alarm_id", ev.ID),
			logger.Error(err))
	}
}
