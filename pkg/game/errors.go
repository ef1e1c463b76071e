package game

import (
	"errors"
	"fmt"
)

// Error classes. Every domain error wraps exactly one of these.
var (
	ErrValidation             = errors.New("validation failed")
	ErrAuth                   = errors.New("authentication failed")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrConflict               = errors.New("conflicting session operation")
	ErrInvalidState           = errors.New("invalid session state")
	ErrWalletTimeout          = errors.New("wallet callout timed out")
	ErrReconciliationRequired = errors.New("reconciliation required")
)

// Domain-level error values returned by the game service.
var (
	ErrInvalidPartnerID         = fmt.Errorf("%w: invalid partner id", ErrValidation)
	ErrInvalidPlayerID          = fmt.Errorf("%w: invalid player id", ErrValidation)
	ErrInvalidSessionID         = fmt.Errorf("%w: invalid session id", ErrValidation)
	ErrInvalidTxRef             = fmt.Errorf("%w: invalid tx ref", ErrValidation)
	ErrInvalidClientSeed        = fmt.Errorf("%w: invalid client seed", ErrValidation)
	ErrInvalidCurrency          = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrInvalidAmount            = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrStakeOutOfBounds         = fmt.Errorf("%w: stake out of bounds", ErrValidation)
	ErrInvalidGameRules         = fmt.Errorf("%w: invalid game rules", ErrValidation)
	ErrInvalidSimulation        = fmt.Errorf("%w: invalid simulated config", ErrValidation)
	ErrInvalidSessionStatus     = fmt.Errorf("%w: invalid session status", ErrValidation)
	ErrInvalidWalletTransaction = fmt.Errorf("%w: invalid wallet transaction", ErrValidation)
	ErrInvalidEventType         = fmt.Errorf("%w: invalid event type", ErrValidation)
	ErrInvalidPeriod            = fmt.Errorf("%w: invalid settlement period", ErrValidation)
	ErrInvalidServiceConfig     = fmt.Errorf("%w: invalid service config", ErrValidation)

	ErrUnknownPartner      = fmt.Errorf("%w: unknown partner", ErrNotFound)
	ErrUnknownPlayer       = fmt.Errorf("%w: unknown player", ErrNotFound)
	ErrUnknownSession      = fmt.Errorf("%w: unknown session", ErrNotFound)
	ErrUnknownTransaction  = fmt.Errorf("%w: unknown wallet transaction", ErrNotFound)
	ErrUnknownSettlement   = fmt.Errorf("%w: unknown settlement", ErrNotFound)
	ErrUnknownSimulation   = fmt.Errorf("%w: unknown simulated config", ErrNotFound)
	ErrNoActiveGameConfig  = fmt.Errorf("%w: no active game config", ErrNotFound)
	ErrDuplicateTxRef      = fmt.Errorf("%w: duplicate tx ref", ErrConflict)
	ErrDuplicateFlip       = fmt.Errorf("%w: duplicate flip number", ErrConflict)
	ErrStaleSession        = fmt.Errorf("%w: session changed concurrently", ErrConflict)
	ErrSessionBusy         = fmt.Errorf("%w: session busy", ErrConflict)
	ErrSettlementExists    = fmt.Errorf("%w: settlement already exists", ErrConflict)
	ErrActiveConfigExists  = fmt.Errorf("%w: active game config already exists", ErrConflict)
	ErrSimulationConflict  = fmt.Errorf("%w: overlapping simulated config enabled", ErrConflict)
	ErrAmbiguousSimulation = fmt.Errorf("%w: more than one simulated config applies", ErrConflict)

	ErrSessionClosed       = fmt.Errorf("%w: session closed", ErrInvalidState)
	ErrSessionExpired      = fmt.Errorf("%w: session expired", ErrInvalidState)
	ErrCreditPending       = fmt.Errorf("%w: credit pending confirmation", ErrInvalidState)
	ErrCashoutLimitReached = fmt.Errorf("%w: cashout limit reached", ErrInvalidState)
	ErrSeedNotRevealed     = fmt.Errorf("%w: server seed not revealed", ErrInvalidState)
	ErrPeriodOpen          = fmt.Errorf("%w: settlement period still open", ErrInvalidState)

	ErrWalletDeclined    = errors.New("wallet declined operation")
	ErrWalletUnavailable = errors.New("wallet unavailable")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsUnconfirmed reports whether a wallet error leaves the outcome unknown.
func IsUnconfirmed(err error) bool {
	return errors.Is(err, ErrWalletTimeout) || errors.Is(err, ErrWalletUnavailable) || errors.Is(err, ErrReconciliationRequired)
}
