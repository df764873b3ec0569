package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/biller/pkg/billing"
)

// EventType represents the type of webhook event
type EventType string

const (
	// EventRunCompleted is sent after every billing run without errored invoices
	EventRunCompleted EventType = "billing.run.completed"
	// EventRunErrored is sent after a billing run in which invoices errored
	EventRunErrored EventType = "billing.run.errored"
)

// Delivery headers
const (
	HeaderEvent     = "X-Biller-Event"
	HeaderEventID   = "X-Biller-Event-ID"
	HeaderDelivery  = "X-Biller-Delivery"
	HeaderSignature = "X-Biller-Signature"
)

// Event is the payload posted to webhooks
type Event struct {
	ID        string             `json:"id"`
	Type      EventType          `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Data      *billing.RunReport `json:"data"`
}

// Webhook is a delivery target. An empty Events list subscribes to all events.
type Webhook struct {
	URL    string
	Secret string
	Events []EventType
}

// Validate checks the webhook URL
func (w Webhook) Validate() error {
	if w.URL == "" {
		return errors.New("webhook URL is required")
	}
	u, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL must be http or https, got %q", w.URL)
	}
	return nil
}

func (w Webhook) wants(t EventType) bool {
	return len(w.Events) == 0 || slices.Contains(w.Events, t)
}

// Option configures a Notifier
type Option func(*Notifier)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		n.client = client
	}
}

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(n *Notifier) {
		n.retry = policy
	}
}

// WithSleep replaces the function used to wait between attempts
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(n *Notifier) {
		n.sleep = sleep
	}
}

// Notifier is a billing.Reporter posting run reports to webhooks
type Notifier struct {
	webhooks []Webhook
	client   *http.Client
	retry    *RetryPolicy
	sleep    func(ctx context.Context, d time.Duration) error
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewNotifier creates a notifier for the given webhooks
func NewNotifier(webhooks []Webhook, logger logrus.FieldLogger, opts ...Option) (*Notifier, error) {
	for _, w := range webhooks {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = logrus.New()
	}

	n := &Notifier{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    NewRetryPolicy(DefaultRetryConfig()),
		sleep:    sleepContext,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// ReportRun implements billing.Reporter. Deliveries are attempted in order
// and retried per the retry policy; the joined delivery errors are returned.
func (n *Notifier) ReportRun(ctx context.Context, report *billing.RunReport) error {
	eventType := EventRunCompleted
	if report.Errored > 0 {
		eventType = EventRunErrored
	}
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: n.now().UTC(),
		Data:      report,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var errs []error
	for _, w := range n.webhooks {
		if !w.wants(eventType) {
			continue
		}
		if err := n.deliver(ctx, w, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) deliver(ctx context.Context, w Webhook, event *Event, payload []byte) error {
	log := n.logger.WithFields(logrus.Fields{
		"url":      w.URL,
		"event":    event.Type,
		"event_id": event.ID,
		"run_id":   event.Data.RunID,
	})

	for attempt := 1; ; attempt++ {
		err := n.send(ctx, w, event, payload)
		if err == nil {
			log.WithField("attempts", attempt).Debug("Webhook delivered")
			return nil
		}
		if !n.retry.ShouldRetry(attempt, err) {
			log.WithError(err).WithField("attempts", attempt).Error("Webhook delivery failed")
			return fmt.Errorf("webhook %s: %w", w.URL, err)
		}

		delay := n.retry.NextRetryDelay(attempt)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Webhook delivery failed, retrying")
		if err := n.sleep(ctx, delay); err != nil {
			return fmt.Errorf("webhook %s: %w", w.URL, err)
		}
	}
}

func (n *Notifier) send(ctx context.Context, w Webhook, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderDelivery, n.now().UTC().Format(time.RFC3339))
	if w.Secret != "" {
		req.Header.Set(HeaderSignature, generateSignature(payload, w.Secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &permanentError{err}
		}
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return &permanentError{fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	}
}

// VerifySignature checks a X-Biller-Signature header value against payload
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// permanentError marks failures that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
