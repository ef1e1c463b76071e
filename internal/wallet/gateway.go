// Package wallet calls partner seamless-wallet endpoints over HTTP.
package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/internal/signature"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	defaultAttemptTimeout  = 5 * time.Second
	defaultMaxAttempts     = 5
	defaultInitialInterval = 250 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultLedgerSize      = 4096
	maxResponseBytes       = 64 << 10

	headerContentType    = "Content-Type"
	headerIdempotencyKey = "Idempotency-Key"
	contentTypeJSON      = "application/json"

	errorCodeInsufficientFunds = "insufficient_funds"

	resultConfirmed   = "confirmed"
	resultCached      = "cached"
	resultDeclined    = "declined"
	resultTimeout     = "timeout"
	resultUnavailable = "unavailable"
)

// Config tunes the callout policy.
type Config struct {
	AttemptTimeout  time.Duration
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	LedgerSize      int
}

// Validate fills defaults and rejects inconsistent values.
func (cfg *Config) Validate() error {
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
	if cfg.LedgerSize <= 0 {
		cfg.LedgerSize = defaultLedgerSize
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return fmt.Errorf("wallet max interval %s is below initial interval %s", cfg.MaxInterval, cfg.InitialInterval)
	}
	return nil
}

// Recorder receives one observation per HTTP attempt.
type Recorder interface {
	RecordWalletCall(txType string, result string, duration time.Duration)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *zap.Logger) Option {
	return func(gateway *Gateway) {
		if logger != nil {
			gateway.logger = logger
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(gateway *Gateway) {
		if client != nil {
			gateway.client = client
		}
	}
}

// WithRecorder wires attempt metrics.
func WithRecorder(recorder Recorder) Option {
	return func(gateway *Gateway) {
		gateway.recorder = recorder
	}
}

// Gateway implements game.WalletGateway against partner HTTP endpoints.
// Confirmed results are remembered by tx_ref so a repeated call for the same
// operation never reaches the partner twice.
type Gateway struct {
	cfg       Config
	client    *http.Client
	logger    *zap.Logger
	recorder  Recorder
	confirmed *lru.Cache[string, game.WalletResult]
}

// NewGateway builds a Gateway.
func NewGateway(cfg Config, options ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	confirmed, err := lru.New[string, game.WalletResult](cfg.LedgerSize)
	if err != nil {
		return nil, fmt.Errorf("wallet ledger: %w", err)
	}
	gateway := &Gateway{
		cfg:       cfg,
		client:    &http.Client{},
		logger:    zap.NewNop(),
		confirmed: confirmed,
	}
	for _, option := range options {
		if option != nil {
			option(gateway)
		}
	}
	return gateway, nil
}

type callRequest struct {
	PlayerID      string `json:"player_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	TxRef         string `json:"tx_ref"`
	Type          string `json:"type"`
	SessionRef    string `json:"session_ref"`
	OriginalTxRef string `json:"original_tx_ref,omitempty"`
}

type callResponse struct {
	Success bool   `json:"success"`
	Balance int64  `json:"balance"`
	Error   string `json:"error"`
}

// Debit is attempted exactly once.
func (gateway *Gateway) Debit(ctx context.Context, operation game.WalletOperation) (game.WalletResult, error) {
	if cached, ok := gateway.cached(operation); ok {
		return cached, nil
	}
	return gateway.attempt(ctx, operation)
}

// Credit retries unconfirmed attempts with exponential backoff.
func (gateway *Gateway) Credit(ctx context.Context, operation game.WalletOperation) (game.WalletResult, error) {
	return gateway.withRetries(ctx, operation)
}

// Rollback retries unconfirmed attempts with exponential backoff.
func (gateway *Gateway) Rollback(ctx context.Context, operation game.WalletOperation) (game.WalletResult, error) {
	return gateway.withRetries(ctx, operation)
}

func (gateway *Gateway) cached(operation game.WalletOperation) (game.WalletResult, bool) {
	result, ok := gateway.confirmed.Get(operation.TxRef.String())
	if ok {
		gateway.record(operation.Type, resultCached, 0)
	}
	return result, ok
}

func (gateway *Gateway) withRetries(ctx context.Context, operation game.WalletOperation) (game.WalletResult, error) {
	if cached, ok := gateway.cached(operation); ok {
		return cached, nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = gateway.cfg.InitialInterval
	policy.MaxInterval = gateway.cfg.MaxInterval

	result, err := backoff.Retry(ctx, func() (game.WalletResult, error) {
		result, err := gateway.attempt(ctx, operation)
		if err != nil && !game.IsUnconfirmed(err) {
			return game.WalletResult{}, backoff.Permanent(err)
		}
		return result, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(gateway.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			gateway.logger.Warn("wallet retry scheduled",
				zap.String("tx_ref", operation.TxRef.String()),
				zap.String("type", operation.Type.String()),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	if err == nil {
		return result, nil
	}
	if game.IsUnconfirmed(err) || ctx.Err() != nil {
		return game.WalletResult{}, fmt.Errorf("%w: %s %s unconfirmed: %w", game.ErrReconciliationRequired, operation.Type, operation.TxRef, err)
	}
	return game.WalletResult{}, err
}

func (gateway *Gateway) attempt(ctx context.Context, operation game.WalletOperation) (game.WalletResult, error) {
	target := strings.TrimSpace(operation.Endpoints.URLFor(operation.Type))
	if target == "" {
		return game.WalletResult{}, fmt.Errorf("%w: no %s endpoint configured", game.ErrWalletDeclined, operation.Type)
	}
	body, err := json.Marshal(callRequest{
		PlayerID:      operation.ExternalPlayerID,
		Amount:        operation.Amount.Int64(),
		Currency:      operation.Currency.String(),
		TxRef:         operation.TxRef.String(),
		Type:          operation.Type.String(),
		SessionRef:    operation.SessionID.String(),
		OriginalTxRef: operation.OriginalTxRef.String(),
	})
	if err != nil {
		return game.WalletResult{}, fmt.Errorf("%w: encode request: %v", game.ErrWalletDeclined, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, gateway.cfg.AttemptTimeout)
	defer cancel()
	request, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return game.WalletResult{}, fmt.Errorf("%w: build request: %v", game.ErrWalletDeclined, err)
	}
	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerIdempotencyKey, operation.TxRef.String())
	if operation.Endpoints.Secret != "" {
		request.Header.Set(signature.Header, signature.Sign(operation.Endpoints.Secret, body))
	}

	started := time.Now()
	result, err := gateway.send(request, operation)
	elapsed := time.Since(started)
	gateway.record(operation.Type, classify(err), elapsed)
	if err != nil {
		gateway.logger.Info("wallet call failed",
			zap.String("tx_ref", operation.TxRef.String()),
			zap.String("type", operation.Type.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return game.WalletResult{}, err
	}
	gateway.confirmed.Add(operation.TxRef.String(), result)
	return result, nil
}

func (gateway *Gateway) send(request *http.Request, operation game.WalletOperation) (game.WalletResult, error) {
	response, err := gateway.client.Do(request)
	if err != nil {
		return game.WalletResult{}, transportError(err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return game.WalletResult{}, transportError(err)
	}
	if response.StatusCode >= http.StatusInternalServerError || response.StatusCode == http.StatusTooManyRequests {
		return game.WalletResult{}, fmt.Errorf("%w: status %d", game.ErrWalletUnavailable, response.StatusCode)
	}
	var decoded callResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		if response.StatusCode >= http.StatusBadRequest {
			return game.WalletResult{}, fmt.Errorf("%w: status %d", game.ErrWalletDeclined, response.StatusCode)
		}
		return game.WalletResult{}, fmt.Errorf("%w: malformed response: %v", game.ErrWalletUnavailable, err)
	}
	if decoded.Success && response.StatusCode < http.StatusMultipleChoices {
		return game.WalletResult{TxRef: operation.TxRef, Balance: game.AmountCents(decoded.Balance)}, nil
	}
	if decoded.Error == errorCodeInsufficientFunds {
		return game.WalletResult{}, game.ErrInsufficientFunds
	}
	reason := decoded.Error
	if reason == "" {
		reason = fmt.Sprintf("status %d", response.StatusCode)
	}
	return game.WalletResult{}, fmt.Errorf("%w: %s", game.ErrWalletDeclined, reason)
}

func (gateway *Gateway) record(txType game.WalletTransactionType, result string, duration time.Duration) {
	if gateway.recorder == nil {
		return
	}
	gateway.recorder.RecordWalletCall(txType.String(), result, duration)
}

func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", game.ErrWalletTimeout, err)
	}
	return fmt.Errorf("%w: %v", game.ErrWalletUnavailable, err)
}

func classify(err error) string {
	switch {
	case err == nil:
		return resultConfirmed
	case errors.Is(err, game.ErrWalletTimeout):
		return resultTimeout
	case errors.Is(err, game.ErrWalletUnavailable):
		return resultUnavailable
	default:
		return resultDeclined
	}
}
