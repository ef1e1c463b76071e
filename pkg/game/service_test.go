package game

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const testStartUnix = int64(1767225600)

func newTestHarness(test *testing.T) (*stubStore, *stubWallet, *testClock, *recordingPublisher, *Service) {
	test.Helper()
	store := newStubStore(test)
	wallet := &stubWallet{}
	clock := &testClock{now: testStartUnix}
	publisher := &recordingPublisher{}
	service := mustNewService(test, store, wallet, clock, WithEventPublisher(publisher))
	return store, wallet, clock, publisher, service
}

func mustStart(test *testing.T, service *Service, stake AmountCents) StartResult {
	test.Helper()
	result, err := service.Start(context.Background(), startRequest(test, stake))
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	return result
}

func enableSimulation(test *testing.T, store *stubStore, rule OutcomeRule, overrides SimulationOverrides) {
	test.Helper()
	config := SimulatedConfig{
		ID:        "sim-1",
		PartnerID: mustPartnerID(test, testPartnerRaw),
		PlayerID:  mustPlayerID(test, testPlayerRaw),
		Rule:      rule,
		Overrides: overrides,
		IsEnabled: true,
	}
	if err := config.Validate(); err != nil {
		test.Fatalf("simulation config: %v", err)
	}
	store.simulations = append(store.simulations, config)
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	clock := &testClock{}
	if _, err := NewService(nil, &stubWallet{}, clock.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(store, nil, clock.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil wallet, got %v", err)
	}
	if _, err := NewService(store, &stubWallet{}, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}

func TestStartDebitsStakeAndOpensSession(test *testing.T) {
	test.Parallel()
	store, wallet, _, publisher, service := newTestHarness(test)

	result := mustStart(test, service, 1000)

	session := store.onlySession(test)
	if session.Status != SessionStatusActive {
		test.Fatalf("expected active session, got %s", session.Status)
	}
	if result.ServerSeedHash != CommitSeed(session.ServerSeed) {
		test.Fatalf("server seed hash does not commit to the stored seed")
	}
	debits := store.transactionsOfType(WalletTransactionDebit)
	if len(debits) != 1 || debits[0].Status != WalletTransactionSuccess || debits[0].Amount != 1000 {
		test.Fatalf("expected one successful debit of 1000, got %+v", debits)
	}
	if debits[0].TxRef != session.DebitTxRef {
		test.Fatalf("session debit ref %s does not match ledger %s", session.DebitTxRef, debits[0].TxRef)
	}
	walletDebits := wallet.operationsOfType(WalletTransactionDebit)
	if len(walletDebits) != 1 || walletDebits[0].ExternalPlayerID != testExternalID {
		test.Fatalf("expected one wallet debit for the external player, got %+v", walletDebits)
	}
	if !strings.HasPrefix(session.DebitTxRef.String(), "CF-DEBIT-") {
		test.Fatalf("unexpected debit tx ref format %s", session.DebitTxRef)
	}
	if types := publisher.types(); len(types) != 1 || types[0] != EventGameStarted {
		test.Fatalf("expected game.started event, got %v", types)
	}
	if result.Limits.MaxCashout != testRules().MaxCashout {
		test.Fatalf("unexpected limits %+v", result.Limits)
	}
}

func TestStartDebitDeclineLeavesNothingPersisted(test *testing.T) {
	test.Parallel()
	store, wallet, _, publisher, service := newTestHarness(test)
	wallet.debitErr = ErrInsufficientFunds

	_, err := service.Start(context.Background(), startRequest(test, 1000))
	if !errors.Is(err, ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(store.sessions) != 0 {
		test.Fatalf("expected zero sessions, got %d", len(store.sessions))
	}
	if len(store.transactions) != 0 {
		test.Fatalf("expected zero wallet transactions, got %d", len(store.transactions))
	}
	if rollbacks := wallet.operationsOfType(WalletTransactionRollback); len(rollbacks) != 0 {
		test.Fatalf("declined debit must not be rolled back, got %d rollbacks", len(rollbacks))
	}
	if len(publisher.types()) != 0 {
		test.Fatalf("expected no events, got %v", publisher.types())
	}
}

func TestStartDebitTimeoutIssuesCompensatingRollback(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	wallet.debitErr = ErrWalletTimeout

	_, err := service.Start(context.Background(), startRequest(test, 1000))
	if !errors.Is(err, ErrWalletTimeout) {
		test.Fatalf("expected ErrWalletTimeout, got %v", err)
	}
	if len(store.sessions) != 0 || len(store.transactions) != 0 {
		test.Fatalf("expected nothing persisted, got %d sessions and %d transactions", len(store.sessions), len(store.transactions))
	}
	debits := wallet.operationsOfType(WalletTransactionDebit)
	rollbacks := wallet.operationsOfType(WalletTransactionRollback)
	if len(debits) != 1 || len(rollbacks) != 1 {
		test.Fatalf("expected one debit and one rollback, got %d and %d", len(debits), len(rollbacks))
	}
	if rollbacks[0].OriginalTxRef != debits[0].TxRef {
		test.Fatalf("rollback must reference the debit, got %s want %s", rollbacks[0].OriginalTxRef, debits[0].TxRef)
	}
	if rollbacks[0].TxRef == debits[0].TxRef {
		test.Fatalf("rollback must carry its own tx ref")
	}
	if len(store.alerts) != 0 {
		test.Fatalf("confirmed rollback must not raise an alert")
	}
}

func TestStartRollbackFailureRaisesReconciliationAlert(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	wallet.debitErr = ErrWalletUnavailable
	wallet.rollbackErr = ErrReconciliationRequired

	if _, err := service.Start(context.Background(), startRequest(test, 1000)); err == nil {
		test.Fatalf("expected start to fail")
	}
	if len(store.alerts) != 1 {
		test.Fatalf("expected one reconciliation alert, got %d", len(store.alerts))
	}
	if store.alerts[0].Operation != WalletTransactionRollback {
		test.Fatalf("expected rollback alert, got %s", store.alerts[0].Operation)
	}
}

func TestStartPersistFailureRecordsDebitAndRollback(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	store.failCreate = errors.New("disk full")

	if _, err := service.Start(context.Background(), startRequest(test, 1000)); !errors.Is(err, store.failCreate) {
		test.Fatalf("expected persistence error, got %v", err)
	}
	if len(store.sessions) != 0 {
		test.Fatalf("expected no session, got %d", len(store.sessions))
	}
	debits := store.transactionsOfType(WalletTransactionDebit)
	rollbacks := store.transactionsOfType(WalletTransactionRollback)
	if len(debits) != 1 || debits[0].Status != WalletTransactionSuccess {
		test.Fatalf("expected confirmed debit row, got %+v", debits)
	}
	if len(rollbacks) != 1 || rollbacks[0].Status != WalletTransactionSuccess {
		test.Fatalf("expected confirmed rollback row, got %+v", rollbacks)
	}
	if rollbacks[0].OriginalTxRef != debits[0].TxRef || rollbacks[0].Amount != debits[0].Amount {
		test.Fatalf("rollback row must mirror the debit, got %+v for %+v", rollbacks[0], debits[0])
	}
	sent := wallet.operationsOfType(WalletTransactionRollback)
	if len(sent) != 1 || sent[0].TxRef != rollbacks[0].TxRef {
		test.Fatalf("stored rollback must carry the wallet tx ref, got %+v", sent)
	}
	if len(store.alerts) != 0 {
		test.Fatalf("confirmed rollback must not raise an alert, got %+v", store.alerts)
	}
}

func TestStartPersistFailureWithUnconfirmedRollbackLeavesPendingRow(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	store.failCreate = errors.New("disk full")
	wallet.rollbackErr = ErrWalletTimeout

	if _, err := service.Start(context.Background(), startRequest(test, 1000)); err == nil {
		test.Fatalf("expected start to fail")
	}
	rollbacks := store.transactionsOfType(WalletTransactionRollback)
	if len(rollbacks) != 1 || rollbacks[0].Status != WalletTransactionPending {
		test.Fatalf("expected pending rollback row, got %+v", rollbacks)
	}
	if len(store.alerts) != 1 || store.alerts[0].TxRef != rollbacks[0].TxRef {
		test.Fatalf("expected one alert for the rollback, got %+v", store.alerts)
	}
}

func TestStartRollbackDeclineRecordsFailedRow(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	store.failCreate = errors.New("disk full")
	wallet.rollbackErr = ErrWalletDeclined

	if _, err := service.Start(context.Background(), startRequest(test, 1000)); err == nil {
		test.Fatalf("expected start to fail")
	}
	rollbacks := store.transactionsOfType(WalletTransactionRollback)
	if len(rollbacks) != 1 || rollbacks[0].Status != WalletTransactionFailed {
		test.Fatalf("expected failed rollback row, got %+v", rollbacks)
	}
}

func TestStartRejectsStakeOutsideLimits(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)

	for _, stake := range []AmountCents{0, 99, 100001} {
		_, err := service.Start(context.Background(), startRequest(test, stake))
		if !errors.Is(err, ErrValidation) {
			test.Fatalf("stake %d: expected validation error, got %v", stake, err)
		}
	}
	if len(wallet.operations) != 0 || len(store.sessions) != 0 {
		test.Fatalf("rejected stakes must not reach the wallet or store")
	}
}

func TestStartRequiresActiveConfigAndKnownPlayer(test *testing.T) {
	test.Parallel()
	_, _, _, _, service := newTestHarness(test)

	request := startRequest(test, 1000)
	request.Currency = mustCurrency(test, "EUR")
	if _, err := service.Start(context.Background(), request); !errors.Is(err, ErrNoActiveGameConfig) {
		test.Fatalf("expected ErrNoActiveGameConfig, got %v", err)
	}
	request = startRequest(test, 1000)
	request.ExternalPlayerID = "nobody"
	if _, err := service.Start(context.Background(), request); !errors.Is(err, ErrUnknownPlayer) {
		test.Fatalf("expected ErrUnknownPlayer, got %v", err)
	}
}

func TestFlipsAccumulateAndCashoutCredits(test *testing.T) {
	test.Parallel()
	store, wallet, _, publisher, service := newTestHarness(test)
	started := mustStart(test, service, 1000)

	var expected AmountCents
	for index := 1; index <= 3; index++ {
		result, err := service.Flip(context.Background(), started.SessionID)
		if err != nil {
			test.Fatalf("flip %d: %v", index, err)
		}
		if result.Flip.IsZero {
			test.Fatalf("flip %d inside the safe window was zero", index)
		}
		if result.Flip.Number != index {
			test.Fatalf("expected flip number %d, got %d", index, result.Flip.Number)
		}
		if result.ServerSeed != "" {
			test.Fatalf("seed revealed while session active")
		}
		expected += result.Flip.Denomination
		if result.CashoutBalance != expected {
			test.Fatalf("expected balance %d, got %d", expected, result.CashoutBalance)
		}
	}

	cashout, err := service.Cashout(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("cashout: %v", err)
	}
	if cashout.Status != SessionStatusCashedOut || cashout.Amount != expected {
		test.Fatalf("unexpected cashout result %+v", cashout)
	}
	if cashout.ServerSeed == "" || CommitSeed(cashout.ServerSeed) != started.ServerSeedHash {
		test.Fatalf("cashout must reveal the committed seed")
	}
	credits := store.transactionsOfType(WalletTransactionCredit)
	if len(credits) != 1 || credits[0].Status != WalletTransactionSuccess || credits[0].Amount != expected {
		test.Fatalf("expected one successful credit of %d, got %+v", expected, credits)
	}
	session := store.onlySession(test)
	if session.CreditPending || session.CreditTxRef != credits[0].TxRef {
		test.Fatalf("unexpected session credit state %+v", session)
	}
	if session.CreditTxRef == session.DebitTxRef {
		test.Fatalf("debit and credit must use distinct tx refs")
	}
	if walletCredits := wallet.operationsOfType(WalletTransactionCredit); len(walletCredits) != 1 {
		test.Fatalf("expected one wallet credit, got %d", len(walletCredits))
	}

	if _, err := service.Cashout(context.Background(), started.SessionID); !errors.Is(err, ErrSessionClosed) {
		test.Fatalf("expected ErrSessionClosed on second cashout, got %v", err)
	}
	if _, err := service.Flip(context.Background(), started.SessionID); !errors.Is(err, ErrSessionClosed) {
		test.Fatalf("expected ErrSessionClosed on flip after cashout, got %v", err)
	}
	types := publisher.types()
	if types[len(types)-1] != EventGameWon {
		test.Fatalf("expected game.won as last event, got %v", types)
	}
}

func TestForceZeroAtThirdFlip(test *testing.T) {
	test.Parallel()
	store, wallet, _, publisher, service := newTestHarness(test)
	enableSimulation(test, store, ForceZeroAtRule{Flip: 3}, SimulationOverrides{})
	started := mustStart(test, service, 1000)

	for index := 1; index <= 2; index++ {
		result, err := service.Flip(context.Background(), started.SessionID)
		if err != nil {
			test.Fatalf("flip %d: %v", index, err)
		}
		if result.Flip.IsZero {
			test.Fatalf("flip %d must not be zero", index)
		}
	}
	third, err := service.Flip(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("flip 3: %v", err)
	}
	if !third.Flip.IsZero || third.Status != SessionStatusLost || third.CashoutBalance != 0 {
		test.Fatalf("expected losing third flip, got %+v", third)
	}
	if third.ServerSeed == "" {
		test.Fatalf("lost session must reveal seed")
	}
	if _, err := service.Flip(context.Background(), started.SessionID); !errors.Is(err, ErrSessionClosed) {
		test.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if len(wallet.operationsOfType(WalletTransactionCredit)) != 0 {
		test.Fatalf("lost session must not be credited")
	}
	if store.simulations[0].SessionsUsed != 1 {
		test.Fatalf("expected simulation use recorded, got %d", store.simulations[0].SessionsUsed)
	}
	session := store.onlySession(test)
	if session.Simulation == nil || session.Simulation.Mode != OutcomeModeForceZeroAt {
		test.Fatalf("expected simulation snapshot pinned to session")
	}
	types := publisher.types()
	if types[len(types)-1] != EventGameLost {
		test.Fatalf("expected game.lost as last event, got %v", types)
	}
}

func TestMaxCashoutCapsAwardAndBlocksFurtherFlips(test *testing.T) {
	test.Parallel()
	store, _, _, _, service := newTestHarness(test)
	enableSimulation(test, store, NormalRule{}, SimulationOverrides{ForceDenomination: 700, MaxCashout: 1000})
	started := mustStart(test, service, 1000)

	first, err := service.Flip(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("flip 1: %v", err)
	}
	if first.Flip.Denomination != 700 {
		test.Fatalf("expected forced denomination 700, got %d", first.Flip.Denomination)
	}
	second, err := service.Flip(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("flip 2: %v", err)
	}
	if second.Flip.Denomination != 300 || second.CashoutBalance != 1000 {
		test.Fatalf("expected capped award of 300 reaching 1000, got %+v", second)
	}
	if _, err := service.Flip(context.Background(), started.SessionID); !errors.Is(err, ErrCashoutLimitReached) {
		test.Fatalf("expected ErrCashoutLimitReached, got %v", err)
	}
	cashout, err := service.Cashout(context.Background(), started.SessionID)
	if err != nil || cashout.Amount != 1000 {
		test.Fatalf("expected cashout of 1000, got %+v (%v)", cashout, err)
	}
	verification, err := service.Verify(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if !verification.Consistent || !verification.Simulated {
		test.Fatalf("expected consistent simulated verification, got %+v", verification)
	}
}

func TestCashoutCreditFailureKeepsSessionPendingAndReusesTxRef(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	wallet.creditErrs = []error{ErrWalletTimeout}
	started := mustStart(test, service, 1000)
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip: %v", err)
	}

	_, err := service.Cashout(context.Background(), started.SessionID)
	if !errors.Is(err, ErrReconciliationRequired) {
		test.Fatalf("expected ErrReconciliationRequired, got %v", err)
	}
	session := store.onlySession(test)
	if session.Status != SessionStatusActive || !session.CreditPending {
		test.Fatalf("expected active credit-pending session, got %s pending=%t", session.Status, session.CreditPending)
	}
	if len(store.alerts) != 1 || store.alerts[0].Operation != WalletTransactionCredit {
		test.Fatalf("expected one credit alert, got %+v", store.alerts)
	}
	if _, err := service.Flip(context.Background(), started.SessionID); !errors.Is(err, ErrCreditPending) {
		test.Fatalf("expected ErrCreditPending, got %v", err)
	}

	cashout, err := service.Cashout(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("retry cashout: %v", err)
	}
	if cashout.Status != SessionStatusCashedOut {
		test.Fatalf("expected cashed out, got %s", cashout.Status)
	}
	credits := wallet.operationsOfType(WalletTransactionCredit)
	if len(credits) != 2 || credits[0].TxRef != credits[1].TxRef {
		test.Fatalf("expected retried credit with the same tx ref, got %+v", credits)
	}
	stored := store.transactionsOfType(WalletTransactionCredit)
	if len(stored) != 1 || stored[0].Status != WalletTransactionSuccess {
		test.Fatalf("expected a single successful credit row, got %+v", stored)
	}
}

func TestCashoutDeclineMarksCreditFailed(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	wallet.creditErrs = []error{ErrWalletDeclined}
	started := mustStart(test, service, 1000)
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip: %v", err)
	}
	if _, err := service.Cashout(context.Background(), started.SessionID); !errors.Is(err, ErrWalletDeclined) {
		test.Fatalf("expected ErrWalletDeclined, got %v", err)
	}
	stored := store.transactionsOfType(WalletTransactionCredit)
	if len(stored) != 1 || stored[0].Status != WalletTransactionFailed {
		test.Fatalf("expected failed credit row, got %+v", stored)
	}
}

func TestCashoutDeclineReportsUnstoredFailedStatus(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	wallet.creditErrs = []error{ErrWalletDeclined}
	started := mustStart(test, service, 1000)
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip: %v", err)
	}
	store.failStatus = errors.New("connection reset")

	if _, err := service.Cashout(context.Background(), started.SessionID); !errors.Is(err, ErrWalletDeclined) {
		test.Fatalf("expected ErrWalletDeclined, got %v", err)
	}
	stored := store.transactionsOfType(WalletTransactionCredit)
	if len(stored) != 1 || stored[0].Status != WalletTransactionPending {
		test.Fatalf("expected credit row left pending, got %+v", stored)
	}
	if len(store.alerts) != 1 || !strings.Contains(store.alerts[0].Reason, "connection reset") {
		test.Fatalf("expected alert naming the status failure, got %+v", store.alerts)
	}
}

func TestCashoutRetryAfterReconciledCreditClosesWithoutWallet(test *testing.T) {
	test.Parallel()
	store, wallet, clock, _, service := newTestHarness(test)
	wallet.creditErrs = []error{ErrWalletTimeout}
	started := mustStart(test, service, 1000)
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip: %v", err)
	}
	if _, err := service.Cashout(context.Background(), started.SessionID); !errors.Is(err, ErrReconciliationRequired) {
		test.Fatalf("expected ErrReconciliationRequired, got %v", err)
	}
	credit := store.transactionsOfType(WalletTransactionCredit)[0]
	if err := store.UpdateWalletTransactionStatus(context.Background(), credit.TxRef, WalletTransactionSuccess, clock.Now()); err != nil {
		test.Fatalf("mark credit: %v", err)
	}

	cashout, err := service.Cashout(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("retry cashout: %v", err)
	}
	if cashout.Status != SessionStatusCashedOut || cashout.Amount != credit.Amount {
		test.Fatalf("expected cashout of the recorded credit, got %+v", cashout)
	}
	if credits := wallet.operationsOfType(WalletTransactionCredit); len(credits) != 1 {
		test.Fatalf("confirmed credit must not be resent, got %d calls", len(credits))
	}
}

func TestCashoutWithZeroBalanceSkipsWallet(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	started := mustStart(test, service, 1000)

	cashout, err := service.Cashout(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("cashout: %v", err)
	}
	if cashout.Amount != 0 || cashout.Status != SessionStatusCashedOut {
		test.Fatalf("unexpected cashout %+v", cashout)
	}
	if len(wallet.operationsOfType(WalletTransactionCredit)) != 0 || len(store.transactionsOfType(WalletTransactionCredit)) != 0 {
		test.Fatalf("zero balance cashout must not credit")
	}
}

func TestTestBalanceSessionNeverTouchesWallet(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	enableSimulation(test, store, NormalRule{}, SimulationOverrides{TestBalance: 5000})

	if _, err := service.Start(context.Background(), startRequest(test, 6000)); !errors.Is(err, ErrStakeOutOfBounds) {
		test.Fatalf("expected stake above test balance to be rejected, got %v", err)
	}
	started := mustStart(test, service, 1000)
	if !started.IsTest {
		test.Fatalf("expected test session")
	}
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip: %v", err)
	}
	if _, err := service.Cashout(context.Background(), started.SessionID); err != nil {
		test.Fatalf("cashout: %v", err)
	}
	if len(wallet.operations) != 0 {
		test.Fatalf("test session must not call the wallet, got %d calls", len(wallet.operations))
	}
	if len(store.transactions) != 0 {
		test.Fatalf("test session must not write wallet transactions")
	}
}

func TestAmbiguousSimulationRejectsStart(test *testing.T) {
	test.Parallel()
	store, wallet, _, _, service := newTestHarness(test)
	enableSimulation(test, store, NormalRule{}, SimulationOverrides{})
	enableSimulation(test, store, ForceZeroAtRule{Flip: 2}, SimulationOverrides{})
	store.simulations[1].ID = "sim-2"

	if _, err := service.Start(context.Background(), startRequest(test, 1000)); !errors.Is(err, ErrAmbiguousSimulation) {
		test.Fatalf("expected ErrAmbiguousSimulation, got %v", err)
	}
	if len(wallet.operations) != 0 {
		test.Fatalf("ambiguous simulation must not debit")
	}
}

func TestExpiredSessionRejectsFlipWithoutCredit(test *testing.T) {
	test.Parallel()
	store, wallet, clock, _, service := newTestHarness(test)
	started := mustStart(test, service, 1000)
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip: %v", err)
	}
	clock.Advance(31 * 60)

	if _, err := service.Flip(context.Background(), started.SessionID); !errors.Is(err, ErrSessionExpired) {
		test.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	first, err := service.State(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("state: %v", err)
	}
	if first.Status != SessionStatusExpired || first.ServerSeed == "" {
		test.Fatalf("expected expired session with revealed seed, got %+v", first)
	}
	clock.Advance(60)
	second, err := service.State(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("state: %v", err)
	}
	if second.EndedUnixUTC != first.EndedUnixUTC {
		test.Fatalf("expiry must be idempotent, ended moved from %d to %d", first.EndedUnixUTC, second.EndedUnixUTC)
	}
	if _, err := service.Cashout(context.Background(), started.SessionID); !errors.Is(err, ErrSessionExpired) {
		test.Fatalf("expected ErrSessionExpired on cashout, got %v", err)
	}
	if len(wallet.operationsOfType(WalletTransactionCredit)) != 0 {
		test.Fatalf("expired session must not be credited")
	}
	if store.onlySession(test).Status != SessionStatusExpired {
		test.Fatalf("expected persisted expired status")
	}
}

func TestExpireStaleSweepsOverdueSessions(test *testing.T) {
	test.Parallel()
	_, _, clock, _, service := newTestHarness(test)
	started := mustStart(test, service, 1000)
	clock.Advance(31 * 60)

	expired, err := service.ExpireStale(context.Background(), 10)
	if err != nil {
		test.Fatalf("expire stale: %v", err)
	}
	if expired != 1 {
		test.Fatalf("expected one expired session, got %d", expired)
	}
	again, err := service.ExpireStale(context.Background(), 10)
	if err != nil || again != 0 {
		test.Fatalf("expected idempotent sweep, got %d (%v)", again, err)
	}
	view, err := service.State(context.Background(), started.SessionID)
	if err != nil || view.Status != SessionStatusExpired {
		test.Fatalf("expected expired view, got %+v (%v)", view, err)
	}
}

func TestFlipRefusedWhileSessionLeased(test *testing.T) {
	test.Parallel()
	store, _, _, _, service := newTestHarness(test)
	started := mustStart(test, service, 1000)

	release, acquired := service.leases.acquire(started.SessionID)
	if !acquired {
		test.Fatalf("expected lease")
	}
	if _, err := service.Flip(context.Background(), started.SessionID); !errors.Is(err, ErrSessionBusy) {
		test.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	if _, err := service.Cashout(context.Background(), started.SessionID); !errors.Is(err, ErrConflict) {
		test.Fatalf("expected conflict, got %v", err)
	}
	release()
	if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
		test.Fatalf("flip after release: %v", err)
	}
	if got := len(store.onlySession(test).Flips); got != 1 {
		test.Fatalf("expected one flip, got %d", got)
	}
}

func TestConcurrentFlipsNeverDuplicateNumbers(test *testing.T) {
	test.Parallel()
	store, _, _, _, service := newTestHarness(test)
	started := mustStart(test, service, 1000)

	const workers = 8
	results := make(chan error, workers)
	for index := 0; index < workers; index++ {
		go func() {
			_, err := service.Flip(context.Background(), started.SessionID)
			results <- err
		}()
	}
	succeeded := 0
	for index := 0; index < workers; index++ {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrConflict):
		default:
			test.Fatalf("unexpected flip error: %v", err)
		}
	}
	session := store.onlySession(test)
	if len(session.Flips) != succeeded {
		test.Fatalf("expected %d stored flips, got %d", succeeded, len(session.Flips))
	}
	for index, flip := range session.Flips {
		if flip.Number != index+1 {
			test.Fatalf("flip numbers must be contiguous, got %d at %d", flip.Number, index)
		}
	}
}

func TestStateHidesSeedWhileActive(test *testing.T) {
	test.Parallel()
	_, _, _, _, service := newTestHarness(test)
	started := mustStart(test, service, 1000)

	view, err := service.State(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("state: %v", err)
	}
	if view.ServerSeed != "" {
		test.Fatalf("active session must not expose its seed")
	}
	if _, err := service.Verify(context.Background(), started.SessionID); !errors.Is(err, ErrSeedNotRevealed) {
		test.Fatalf("expected ErrSeedNotRevealed, got %v", err)
	}
}

func TestVerifyReplaysClosedSession(test *testing.T) {
	test.Parallel()
	store, _, _, _, service := newTestHarness(test)
	started := mustStart(test, service, 2500)
	for index := 0; index < 4; index++ {
		if _, err := service.Flip(context.Background(), started.SessionID); err != nil {
			test.Fatalf("flip: %v", err)
		}
	}
	if _, err := service.Cashout(context.Background(), started.SessionID); err != nil {
		test.Fatalf("cashout: %v", err)
	}

	verification, err := service.Verify(context.Background(), started.SessionID)
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	if !verification.HashValid || !verification.Consistent || len(verification.Flips) != 4 {
		test.Fatalf("unexpected verification %+v", verification)
	}

	tampered := store.onlySession(test)
	tampered.Flips = append([]Flip(nil), tampered.Flips...)
	tampered.Flips[1].Denomination++
	if ReplaySession(tampered).Consistent {
		test.Fatalf("tampered denomination must be detected")
	}
}

func TestHistoryListsPlayerSessions(test *testing.T) {
	test.Parallel()
	_, _, clock, _, service := newTestHarness(test)
	first := mustStart(test, service, 1000)
	clock.Advance(10)
	second := mustStart(test, service, 2000)

	views, err := service.History(context.Background(), mustPartnerID(test, testPartnerRaw), testExternalID, 0)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(views) != 2 || views[0].SessionID != second.SessionID || views[1].SessionID != first.SessionID {
		test.Fatalf("expected newest first, got %+v", views)
	}
	if _, err := service.History(context.Background(), mustPartnerID(test, testPartnerRaw), "missing", 5); !errors.Is(err, ErrUnknownPlayer) {
		test.Fatalf("expected ErrUnknownPlayer, got %v", err)
	}
}

func TestRegisterPlayerIsIdempotentPerExternalID(test *testing.T) {
	test.Parallel()
	_, _, _, _, service := newTestHarness(test)
	partnerID := mustPartnerID(test, testPartnerRaw)

	first, err := service.RegisterPlayer(context.Background(), partnerID, "new-player", "Alice")
	if err != nil {
		test.Fatalf("register: %v", err)
	}
	second, err := service.RegisterPlayer(context.Background(), partnerID, "new-player", "Alice B")
	if err != nil {
		test.Fatalf("register again: %v", err)
	}
	if first.ID != second.ID || second.DisplayName != "Alice B" {
		test.Fatalf("expected the same player updated, got %+v and %+v", first, second)
	}
	if _, err := service.RegisterPlayer(context.Background(), partnerID, "  ", ""); !errors.Is(err, ErrInvalidPlayerID) {
		test.Fatalf("expected ErrInvalidPlayerID, got %v", err)
	}
}

func TestConfigureWebhookValidatesURL(test *testing.T) {
	test.Parallel()
	store, _, _, _, service := newTestHarness(test)
	partnerID := mustPartnerID(test, testPartnerRaw)

	if err := service.ConfigureWebhook(context.Background(), partnerID, "ftp://example.com", nil); !errors.Is(err, ErrValidation) {
		test.Fatalf("expected validation error, got %v", err)
	}
	events := []EventType{EventGameWon, EventSettlementReady}
	if err := service.ConfigureWebhook(context.Background(), partnerID, "https://partner.example/hooks", events); err != nil {
		test.Fatalf("configure webhook: %v", err)
	}
	partner := store.partners[partnerID]
	if !partner.Subscribes(EventGameWon) || partner.Subscribes(EventGameFlip) {
		test.Fatalf("unexpected subscriptions %+v", partner.SubscribedEvents)
	}
}
