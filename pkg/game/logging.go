package game

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing game operation.
type OperationLog struct {
	Operation  string
	PartnerID  PartnerID
	SessionID  SessionID
	TxRef      TxRef
	Amount     AmountCents
	Currency   Currency
	FlipNumber int
	Outcome    string
	Status     string
	Error      error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithEventPublisher wires the webhook publisher.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.events = publisher
	}
}

// WithSeedManager replaces the default crypto/rand backed seed manager.
func WithSeedManager(seeds *SeedManager) ServiceOption {
	return func(service *Service) {
		service.seeds = seeds
	}
}

func logOperation(ctx context.Context, logger OperationLogger, entry OperationLog) {
	if logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	logger.LogOperation(ctx, entry)
}
