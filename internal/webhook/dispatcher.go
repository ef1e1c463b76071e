// Package webhook delivers game events to partner webhook URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/internal/signature"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWorkers         = 4
	defaultQueueSize       = 1024
	defaultAttemptTimeout  = 5 * time.Second
	defaultMaxAttempts     = 4
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 30 * time.Second

	headerContentType = "Content-Type"
	headerEvent       = "X-Webhook-Event"
	headerDeliveryID  = "X-Webhook-Id"
	contentTypeJSON   = "application/json"

	resultDelivered = "delivered"
	resultFailed    = "failed"
	resultDropped   = "dropped"
	resultSkipped   = "skipped"
)

var errDeliveryRejected = errors.New("webhook rejected")

// Config sizes the worker pool and retry policy.
type Config struct {
	Workers         int
	QueueSize       int
	AttemptTimeout  time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Validate fills defaults.
func (cfg *Config) Validate() error {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return fmt.Errorf("webhook max interval %s is below initial interval %s", cfg.MaxInterval, cfg.InitialInterval)
	}
	return nil
}

// PartnerSource resolves the webhook target of a partner.
type PartnerSource interface {
	GetPartner(ctx context.Context, partnerID game.PartnerID) (game.Partner, error)
}

// Recorder receives one observation per event.
type Recorder interface {
	RecordWebhook(event string, result string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(dispatcher *Dispatcher) {
		if logger != nil {
			dispatcher.logger = logger
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(dispatcher *Dispatcher) {
		if client != nil {
			dispatcher.client = client
		}
	}
}

// WithRecorder wires delivery metrics.
func WithRecorder(recorder Recorder) Option {
	return func(dispatcher *Dispatcher) {
		dispatcher.recorder = recorder
	}
}

// Dispatcher implements game.EventPublisher with a bounded queue drained by
// a fixed pool of workers. Publish never blocks; a full queue drops the event.
type Dispatcher struct {
	cfg      Config
	partners PartnerSource
	client   *http.Client
	logger   *zap.Logger
	recorder Recorder
	queue    chan game.Event

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher builds a Dispatcher. Call Run to start delivering.
func NewDispatcher(cfg Config, partners PartnerSource, options ...Option) (*Dispatcher, error) {
	if partners == nil {
		return nil, fmt.Errorf("webhook partner source is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dispatcher := &Dispatcher{
		cfg:      cfg,
		partners: partners,
		client:   &http.Client{},
		logger:   zap.NewNop(),
		queue:    make(chan game.Event, cfg.QueueSize),
	}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	return dispatcher, nil
}

// Publish enqueues the event for delivery.
func (dispatcher *Dispatcher) Publish(_ context.Context, event game.Event) {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()
	if dispatcher.stopped {
		dispatcher.record(event.Type, resultDropped)
		return
	}
	select {
	case dispatcher.queue <- event:
	default:
		dispatcher.record(event.Type, resultDropped)
		dispatcher.logger.Warn("webhook queue full, event dropped",
			zap.String("event", event.Type.String()),
			zap.String("partner_id", event.PartnerID.String()),
			zap.String("session_id", event.SessionID.String()))
	}
}

// Run delivers queued events until ctx is cancelled, then stops accepting
// new events and returns once in-flight deliveries finish.
func (dispatcher *Dispatcher) Run(ctx context.Context) error {
	var workers sync.WaitGroup
	for index := 0; index < dispatcher.cfg.Workers; index++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event := <-dispatcher.queue:
					dispatcher.deliver(ctx, event)
				}
			}
		}()
	}
	<-ctx.Done()
	dispatcher.mu.Lock()
	dispatcher.stopped = true
	dispatcher.mu.Unlock()
	workers.Wait()
	if pending := len(dispatcher.queue); pending > 0 {
		dispatcher.logger.Warn("webhook dispatcher stopped with pending events", zap.Int("pending", pending))
	}
	return nil
}

type envelope struct {
	ID         string         `json:"id"`
	Event      string         `json:"event"`
	PartnerID  string         `json:"partner_id"`
	SessionID  string         `json:"session_id,omitempty"`
	OccurredAt int64          `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

func (dispatcher *Dispatcher) deliver(ctx context.Context, event game.Event) {
	partner, err := dispatcher.partners.GetPartner(ctx, event.PartnerID)
	if err != nil {
		dispatcher.record(event.Type, resultFailed)
		dispatcher.logger.Error("webhook partner lookup failed",
			zap.String("partner_id", event.PartnerID.String()),
			zap.Error(err))
		return
	}
	if !partner.Subscribes(event.Type) {
		dispatcher.record(event.Type, resultSkipped)
		return
	}
	deliveryID := uuid.NewString()
	body, err := json.Marshal(envelope{
		ID:         deliveryID,
		Event:      event.Type.String(),
		PartnerID:  event.PartnerID.String(),
		SessionID:  event.SessionID.String(),
		OccurredAt: event.OccurredUnixUTC,
		Data:       event.Payload,
	})
	if err != nil {
		dispatcher.record(event.Type, resultFailed)
		dispatcher.logger.Error("webhook encode failed", zap.Error(err))
		return
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dispatcher.cfg.InitialInterval
	policy.MaxInterval = dispatcher.cfg.MaxInterval
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, dispatcher.post(ctx, partner, event.Type, deliveryID, body)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(dispatcher.cfg.MaxAttempts),
	)
	if err != nil {
		dispatcher.record(event.Type, resultFailed)
		dispatcher.logger.Error("webhook delivery failed",
			zap.String("event", event.Type.String()),
			zap.String("partner_id", partner.ID.String()),
			zap.String("delivery_id", deliveryID),
			zap.Error(err))
		return
	}
	dispatcher.record(event.Type, resultDelivered)
}

func (dispatcher *Dispatcher) post(ctx context.Context, partner game.Partner, eventType game.EventType, deliveryID string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, dispatcher.cfg.AttemptTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, strings.TrimSpace(partner.WebhookURL), bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerEvent, eventType.String())
	request.Header.Set(headerDeliveryID, deliveryID)
	request.Header.Set(signature.Header, signature.Sign(partner.Secret, body))

	response, err := dispatcher.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 4<<10))
	switch {
	case response.StatusCode < http.StatusMultipleChoices:
		return nil
	case response.StatusCode >= http.StatusInternalServerError || response.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", errDeliveryRejected, response.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("%w: status %d", errDeliveryRejected, response.StatusCode))
	}
}

func (dispatcher *Dispatcher) record(eventType game.EventType, result string) {
	if dispatcher.recorder == nil {
		return
	}
	dispatcher.recorder.RecordWebhook(eventType.String(), result)
}
