// Package oplog adapts game operation callbacks onto zap and Prometheus.
package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	operationReconcile = "reconcile"
	operationFlip      = "flip"
)

// Recorder receives operation counters.
type Recorder interface {
	RecordOperation(operation string, status string)
	RecordFlip(outcome string)
}

// Logger implements game.OperationLogger.
type Logger struct {
	logger   *zap.Logger
	recorder Recorder
}

// New builds a Logger. recorder may be nil.
func New(logger *zap.Logger, recorder Recorder) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger, recorder: recorder}
}

// LogOperation writes one structured entry and updates counters.
func (operationLogger *Logger) LogOperation(_ context.Context, entry game.OperationLog) {
	if operationLogger.recorder != nil {
		operationLogger.recorder.RecordOperation(entry.Operation, entry.Status)
		if entry.Operation == operationFlip && entry.Outcome != "" {
			operationLogger.recorder.RecordFlip(entry.Outcome)
		}
	}
	fields := make([]zap.Field, 0, 10)
	fields = append(fields,
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	)
	if partnerID := entry.PartnerID.String(); partnerID != "" {
		fields = append(fields, zap.String("partner_id", partnerID))
	}
	if sessionID := entry.SessionID.String(); sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	if txRef := entry.TxRef.String(); txRef != "" {
		fields = append(fields, zap.String("tx_ref", txRef))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", int64(entry.Amount)))
	}
	if currency := entry.Currency.String(); currency != "" {
		fields = append(fields, zap.String("currency", currency))
	}
	if entry.FlipNumber > 0 {
		fields = append(fields, zap.Int("flip_number", entry.FlipNumber))
	}
	if entry.Outcome != "" {
		fields = append(fields, zap.String("outcome", entry.Outcome))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry), "game operation", fields...)
}

func levelFor(entry game.OperationLog) zapcore.Level {
	switch {
	case entry.Operation == operationReconcile:
		return zapcore.ErrorLevel
	case entry.Error == nil:
		return zapcore.InfoLevel
	case game.IsUnconfirmed(entry.Error):
		return zapcore.ErrorLevel
	case isClientError(entry.Error):
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}

func isClientError(err error) bool {
	for _, target := range []error{
		game.ErrValidation,
		game.ErrNotFound,
		game.ErrInsufficientFunds,
		game.ErrConflict,
		game.ErrInvalidState,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
