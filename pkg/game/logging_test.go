package game

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsStartOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, &stubWallet{}, &testClock{now: testStartUnix}, WithOperationLogger(logger))

	if _, err := service.Start(context.Background(), startRequest(test, 1000)); err != nil {
		test.Fatalf("start: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationStart || entry.Amount != 1000 || entry.TxRef.IsZero() || entry.SessionID.String() == "" {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.failInsert = errors.New("boom")
	logger := &recorderLogger{}
	wallet := &stubWallet{}
	service := mustNewService(test, store, wallet, &testClock{now: testStartUnix}, WithOperationLogger(logger))

	if _, err := service.Start(context.Background(), startRequest(test, 1000)); err == nil {
		test.Fatalf("expected error")
	}
	var startEntry, rollbackEntry *OperationLog
	for index := range logger.entries {
		switch logger.entries[index].Operation {
		case operationStart:
			startEntry = &logger.entries[index]
		case operationRollback:
			rollbackEntry = &logger.entries[index]
		}
	}
	if startEntry == nil || startEntry.Status != operationStatusError || startEntry.Error == nil {
		test.Fatalf("expected error start entry, got %+v", logger.entries)
	}
	if rollbackEntry == nil || rollbackEntry.Status != operationStatusOK {
		test.Fatalf("expected compensating rollback after failed persistence, got %+v", logger.entries)
	}
	if len(wallet.operationsOfType(WalletTransactionRollback)) != 1 {
		test.Fatalf("expected one wallet rollback")
	}
}

func TestServiceLogsFlipOutcome(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, &stubWallet{}, &testClock{now: testStartUnix}, WithOperationLogger(logger))
	started, err := service.Start(context.Background(), startRequest(test, 1000))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip: %v", err)
	}
	last := logger.entries[len(logger.entries)-1]
	if last.Operation != operationFlip || last.FlipNumber != 1 || last.Outcome != "win" {
		test.Fatalf("unexpected flip log %+v", last)
	}
}

func TestServiceLogsVerifyOutcome(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	service := mustNewService(test, store, &stubWallet{}, &testClock{now: testStartUnix}, WithOperationLogger(logger))
	started, err := service.Start(context.Background(), startRequest(test, 1000))
	if err != nil {
		test.Fatalf("start: %v", err)
	}

	if _, err := service.Verify(context.Background(), started.SessionID); !errors.Is(err, ErrSeedNotRevealed) {
		test.Fatalf("expected ErrSeedNotRevealed, got %v", err)
	}
	refused := logger.entries[len(logger.entries)-1]
	if refused.Operation != operationVerify || refused.Status != operationStatusError || refused.PartnerID != mustPartnerID(test, testPartnerRaw) {
		test.Fatalf("unexpected verify log %+v", refused)
	}

	if _, err := service.Cashout(context.Background(), started.SessionID); err != nil {
		test.Fatalf("cashout: %v", err)
	}
	if _, err := service.Verify(context.Background(), started.SessionID); err != nil {
		test.Fatalf("verify: %v", err)
	}
	replayed := logger.entries[len(logger.entries)-1]
	if replayed.Operation != operationVerify || replayed.Status != operationStatusOK || replayed.SessionID != started.SessionID {
		test.Fatalf("unexpected verify log %+v", replayed)
	}
}
