package game

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Service runs game sessions over a Store and a WalletGateway.
type Service struct {
	store  Store
	wallet WalletGateway
	seeds  *SeedManager
	nowFn  func() int64
	logger OperationLogger
	events EventPublisher
	leases *sessionLeases
}

// NewService wires a Service.
func NewService(store Store, wallet WalletGateway, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if wallet == nil {
		return nil, fmt.Errorf("%w: wallet dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:  store,
		wallet: wallet,
		seeds:  NewSeedManager(nil),
		nowFn:  now,
		leases: newSessionLeases(),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// StartRequest opens a session.
type StartRequest struct {
	PartnerID        PartnerID
	ExternalPlayerID string
	Currency         Currency
	Stake            AmountCents
	ClientSeed       ClientSeed
	ExternalRef      string
}

// StartResult is what the partner learns when a session opens.
type StartResult struct {
	SessionID      SessionID
	ServerSeedHash string
	Currency       Currency
	Stake          AmountCents
	Limits         Limits
	IsTest         bool
	StartedUnixUTC int64
}

// FlipResult is the outcome of one flip.
type FlipResult struct {
	SessionID      SessionID
	Flip           Flip
	Status         SessionStatus
	CashoutBalance AmountCents
	ServerSeed     string
}

// CashoutResult is the outcome of a cashout attempt.
type CashoutResult struct {
	SessionID      SessionID
	Amount         AmountCents
	Status         SessionStatus
	TxRef          TxRef
	ServerSeed     string
	ServerSeedHash string
}

// RegisterPlayer returns the partner's player, creating it on first sight.
func (service *Service) RegisterPlayer(ctx context.Context, partnerID PartnerID, externalID string, displayName string) (Player, error) {
	trimmedExternalID := strings.TrimSpace(externalID)
	if trimmedExternalID == "" {
		return Player{}, fmt.Errorf("%w: external id is required", ErrInvalidPlayerID)
	}
	if _, err := service.store.GetPartner(ctx, partnerID); err != nil {
		return Player{}, err
	}
	playerID, err := NewPlayerID(uuid.NewString())
	if err != nil {
		return Player{}, err
	}
	return service.store.UpsertPlayer(ctx, Player{
		ID:          playerID,
		PartnerID:   partnerID,
		ExternalID:  trimmedExternalID,
		DisplayName: strings.TrimSpace(displayName),
	})
}

// GameConfig returns the active config for the partner and currency.
func (service *Service) GameConfig(ctx context.Context, partnerID PartnerID, currency Currency) (GameConfig, error) {
	return service.store.ActiveGameConfig(ctx, partnerID, currency)
}

// ConfigureWebhook replaces the partner's webhook target and subscriptions.
// An empty URL disables delivery.
func (service *Service) ConfigureWebhook(ctx context.Context, partnerID PartnerID, webhookURL string, events []EventType) error {
	trimmedURL := strings.TrimSpace(webhookURL)
	if trimmedURL != "" {
		parsed, err := url.ParseRequestURI(trimmedURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("%w: webhook url must be an absolute http(s) url", ErrValidation)
		}
	}
	return service.store.UpdatePartnerWebhook(ctx, partnerID, trimmedURL, events)
}

// Start validates the stake, debits the wallet and opens an ACTIVE session.
// Nothing is persisted unless the debit is confirmed.
func (service *Service) Start(ctx context.Context, request StartRequest) (StartResult, error) {
	result, session, operationError := service.start(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation: operationStart,
		PartnerID: request.PartnerID,
		SessionID: session.ID,
		TxRef:     session.DebitTxRef,
		Amount:    request.Stake,
		Currency:  request.Currency,
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) start(ctx context.Context, request StartRequest) (StartResult, Session, error) {
	if request.Stake <= 0 {
		return StartResult{}, Session{}, fmt.Errorf("%w: stake must be greater than zero", ErrInvalidAmount)
	}
	partner, err := service.store.GetPartner(ctx, request.PartnerID)
	if err != nil {
		return StartResult{}, Session{}, err
	}
	player, err := service.store.GetPlayerByExternalID(ctx, partner.ID, request.ExternalPlayerID)
	if err != nil {
		return StartResult{}, Session{}, err
	}
	config, err := service.store.ActiveGameConfig(ctx, partner.ID, request.Currency)
	if err != nil {
		return StartResult{}, Session{}, err
	}
	candidates, err := service.store.ListEnabledSimulatedConfigs(ctx, partner.ID)
	if err != nil {
		return StartResult{}, Session{}, err
	}
	simulated, err := ResolveSimulation(candidates, partner.ID, player.ID)
	if err != nil {
		return StartResult{}, Session{}, WrapError(operationSimulation, errorSubjectSimulation, errorCodeResolve, err)
	}
	var snapshot *SimulationSnapshot
	if simulated != nil {
		pinned := simulated.Snapshot()
		snapshot = &pinned
	}

	limits := EffectiveLimits(config.Rules, snapshot)
	if request.Stake < limits.MinStake || request.Stake > limits.MaxStake {
		return StartResult{}, Session{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrStakeOutOfBounds, request.Stake, limits.MinStake, limits.MaxStake)
	}
	isTest := snapshot != nil && snapshot.Overrides.TestBalance > 0
	if isTest && request.Stake > snapshot.Overrides.TestBalance {
		return StartResult{}, Session{}, fmt.Errorf("%w: stake exceeds test balance %d", ErrStakeOutOfBounds, snapshot.Overrides.TestBalance)
	}

	commitment, err := service.seeds.Create()
	if err != nil {
		return StartResult{}, Session{}, err
	}
	sessionID, err := NewSessionID(uuid.NewString())
	if err != nil {
		return StartResult{}, Session{}, err
	}
	nowUnixUTC := service.nowFn()
	session := Session{
		ID:             sessionID,
		PartnerID:      partner.ID,
		PlayerID:       player.ID,
		ExternalRef:    strings.TrimSpace(request.ExternalRef),
		Currency:       request.Currency,
		Stake:          request.Stake,
		ServerSeed:     commitment.ServerSeed,
		ServerSeedHash: commitment.ServerSeedHash,
		ClientSeed:     request.ClientSeed,
		Status:         SessionStatusPending,
		StartedUnixUTC: nowUnixUTC,
		IsTest:         isTest,
		Rules:          config.Rules,
		Simulation:     snapshot,
	}

	var debit WalletOperation
	if !isTest {
		debit = WalletOperation{
			TxRef:            MintTxRef(WalletTransactionDebit),
			Type:             WalletTransactionDebit,
			PartnerID:        partner.ID,
			ExternalPlayerID: player.ExternalID,
			SessionID:        session.ID,
			Amount:           request.Stake,
			Currency:         request.Currency,
			Endpoints:        partner.WalletEndpoints(),
		}
		if _, debitError := service.wallet.Debit(ctx, debit); debitError != nil {
			if IsUnconfirmed(debitError) {
				service.rollback(ctx, debit, "debit unconfirmed: "+debitError.Error())
			}
			return StartResult{}, Session{}, WrapError(operationStart, errorSubjectWallet, errorCodeDebit, debitError)
		}
		session.DebitTxRef = debit.TxRef
	}

	session.Status = SessionStatusActive
	persistError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.CreateSession(ctx, session); err != nil {
			return err
		}
		if !isTest {
			if err := transactionStore.InsertWalletTransaction(ctx, walletTransaction(debit, player.ID, WalletTransactionSuccess, nowUnixUTC)); err != nil {
				return err
			}
		}
		if simulated != nil {
			return transactionStore.IncrementSimulationUse(ctx, simulated.ID)
		}
		return nil
	})
	if persistError != nil {
		if !isTest {
			compensation, compensationStatus := service.rollback(ctx, debit, "session persistence failed: "+persistError.Error())
			service.recordCompensation(ctx, debit, compensation, compensationStatus, player.ID)
		}
		return StartResult{}, Session{}, WrapError(operationStart, errorSubjectSession, errorCodePersist, persistError)
	}

	publish(ctx, service.events, Event{
		Type:            EventGameStarted,
		PartnerID:       partner.ID,
		SessionID:       session.ID,
		OccurredUnixUTC: nowUnixUTC,
		Payload: map[string]any{
			"player_id":        player.ExternalID,
			"stake":            request.Stake.Int64(),
			"currency":         request.Currency.String(),
			"server_seed_hash": session.ServerSeedHash,
			"is_test":          isTest,
		},
	})
	return StartResult{
		SessionID:      session.ID,
		ServerSeedHash: session.ServerSeedHash,
		Currency:       session.Currency,
		Stake:          session.Stake,
		Limits:         limits,
		IsTest:         isTest,
		StartedUnixUTC: nowUnixUTC,
	}, session, nil
}

// Flip draws the next flip of an ACTIVE session.
func (service *Service) Flip(ctx context.Context, sessionID SessionID) (FlipResult, error) {
	result, partnerID, operationError := service.flip(ctx, sessionID)
	outcome := ""
	if operationError == nil {
		outcome = "win"
		if result.Flip.IsZero {
			outcome = "zero"
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:  operationFlip,
		PartnerID:  partnerID,
		SessionID:  sessionID,
		Amount:     result.Flip.Denomination,
		FlipNumber: result.Flip.Number,
		Outcome:    outcome,
		Error:      operationError,
	})
	return result, operationError
}

func (service *Service) flip(ctx context.Context, sessionID SessionID) (FlipResult, PartnerID, error) {
	release, acquired := service.leases.acquire(sessionID)
	if !acquired {
		return FlipResult{}, PartnerID{}, ErrSessionBusy
	}
	defer release()

	session, err := service.loadSession(ctx, sessionID)
	if err != nil {
		return FlipResult{}, PartnerID{}, err
	}
	if err := ensureActive(session); err != nil {
		return FlipResult{}, session.PartnerID, err
	}
	if session.CreditPending {
		return FlipResult{}, session.PartnerID, ErrCreditPending
	}
	limits := session.Limits()
	if limits.MaxCashout > 0 && session.CashoutBalance >= limits.MaxCashout {
		return FlipResult{}, session.PartnerID, ErrCashoutLimitReached
	}

	flipNumber := session.NextFlipNumber()
	draw := DrawFlip(session.ServerSeed, session.ClientSeed, flipNumber)
	outcome, err := resolveOutcome(draw, flipNumber, session.Rules, session.Stake, session.Simulation)
	if err != nil {
		return FlipResult{}, session.PartnerID, err
	}

	nowUnixUTC := service.nowFn()
	flip := Flip{
		SessionID:      session.ID,
		Number:         flipNumber,
		IsZero:         outcome.IsZero,
		ResultHash:     outcome.ResultHash,
		CreatedUnixUTC: nowUnixUTC,
	}
	updated := session
	if outcome.IsZero {
		updated.CashoutBalance = 0
		updated.Status = SessionStatusLost
		updated.EndedUnixUTC = nowUnixUTC
	} else {
		awarded := outcome.Denomination
		if limits.MaxCashout > 0 && session.CashoutBalance+awarded > limits.MaxCashout {
			awarded = limits.MaxCashout - session.CashoutBalance
		}
		flip.Denomination = awarded
		updated.CashoutBalance = session.CashoutBalance + awarded
	}
	flip.CashoutBalanceAfter = updated.CashoutBalance
	updated.Flips = append(append([]Flip(nil), session.Flips...), flip)

	persistError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.AppendFlip(ctx, flip); err != nil {
			return err
		}
		return transactionStore.UpdateSession(ctx, updated)
	})
	if persistError != nil {
		return FlipResult{}, session.PartnerID, WrapError(operationFlip, errorSubjectSession, errorCodePersist, persistError)
	}

	publish(ctx, service.events, Event{
		Type:            EventGameFlip,
		PartnerID:       session.PartnerID,
		SessionID:       session.ID,
		OccurredUnixUTC: nowUnixUTC,
		Payload: map[string]any{
			"flip_number":     flip.Number,
			"is_zero":         flip.IsZero,
			"denomination":    flip.Denomination.Int64(),
			"cashout_balance": updated.CashoutBalance.Int64(),
		},
	})
	result := FlipResult{
		SessionID:      session.ID,
		Flip:           flip,
		Status:         updated.Status,
		CashoutBalance: updated.CashoutBalance,
	}
	if updated.Status == SessionStatusLost {
		result.ServerSeed = updated.ServerSeed
		publish(ctx, service.events, Event{
			Type:            EventGameLost,
			PartnerID:       session.PartnerID,
			SessionID:       session.ID,
			OccurredUnixUTC: nowUnixUTC,
			Payload: map[string]any{
				"flip_number": flip.Number,
				"stake":       session.Stake.Int64(),
				"server_seed": updated.ServerSeed,
			},
		})
	}
	return result, session.PartnerID, nil
}

// Cashout credits the running balance and closes the session once confirmed.
// An unconfirmed credit leaves the session ACTIVE and credit-pending; retrying
// reuses the same tx ref.
func (service *Service) Cashout(ctx context.Context, sessionID SessionID) (CashoutResult, error) {
	result, partnerID, operationError := service.cashout(ctx, sessionID)
	service.logOperation(ctx, OperationLog{
		Operation: operationCashout,
		PartnerID: partnerID,
		SessionID: sessionID,
		TxRef:     result.TxRef,
		Amount:    result.Amount,
		Error:     operationError,
	})
	return result, operationError
}

func (service *Service) cashout(ctx context.Context, sessionID SessionID) (CashoutResult, PartnerID, error) {
	release, acquired := service.leases.acquire(sessionID)
	if !acquired {
		return CashoutResult{}, PartnerID{}, ErrSessionBusy
	}
	defer release()

	session, err := service.loadSession(ctx, sessionID)
	if err != nil {
		return CashoutResult{}, PartnerID{}, err
	}
	if err := ensureActive(session); err != nil {
		return CashoutResult{}, session.PartnerID, err
	}
	amount := session.CashoutBalance

	if session.IsTest || amount == 0 {
		closed, err := service.closeCashedOut(ctx, session, func(ctx context.Context, transactionStore Store) error { return nil })
		if err != nil {
			return CashoutResult{}, session.PartnerID, err
		}
		return cashoutResult(closed), session.PartnerID, nil
	}

	partner, err := service.store.GetPartner(ctx, session.PartnerID)
	if err != nil {
		return CashoutResult{}, session.PartnerID, err
	}
	player, err := service.store.GetPlayer(ctx, session.PlayerID)
	if err != nil {
		return CashoutResult{}, session.PartnerID, err
	}

	if session.CreditTxRef.IsZero() {
		nowUnixUTC := service.nowFn()
		pending := session
		pending.CreditTxRef = MintTxRef(WalletTransactionCredit)
		pending.CreditPending = true
		persistError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if err := transactionStore.InsertWalletTransaction(ctx, WalletTransaction{
				TxRef:          pending.CreditTxRef,
				Type:           WalletTransactionCredit,
				PartnerID:      session.PartnerID,
				PlayerID:       session.PlayerID,
				SessionID:      session.ID,
				Amount:         amount,
				Currency:       session.Currency,
				Status:         WalletTransactionPending,
				CreatedUnixUTC: nowUnixUTC,
				UpdatedUnixUTC: nowUnixUTC,
			}); err != nil {
				return err
			}
			return transactionStore.UpdateSession(ctx, pending)
		})
		if persistError != nil {
			return CashoutResult{}, session.PartnerID, WrapError(operationCashout, errorSubjectSession, errorCodePersist, persistError)
		}
		pending.Version++
		session = pending
	} else {
		recorded, err := service.store.GetWalletTransaction(ctx, session.CreditTxRef)
		if err != nil {
			return CashoutResult{}, session.PartnerID, err
		}
		amount = recorded.Amount
		if recorded.Status == WalletTransactionSuccess {
			// Credit confirmed earlier but the session was never closed.
			closed, err := service.closeCashedOut(ctx, session, func(ctx context.Context, transactionStore Store) error { return nil })
			if err != nil {
				return CashoutResult{}, session.PartnerID, err
			}
			return cashoutResult(closed), session.PartnerID, nil
		}
	}

	credit := WalletOperation{
		TxRef:            session.CreditTxRef,
		Type:             WalletTransactionCredit,
		PartnerID:        session.PartnerID,
		ExternalPlayerID: player.ExternalID,
		SessionID:        session.ID,
		Amount:           amount,
		Currency:         session.Currency,
		Endpoints:        partner.WalletEndpoints(),
	}
	if _, creditError := service.wallet.Credit(ctx, credit); creditError != nil {
		reason := "credit unconfirmed: " + creditError.Error()
		if isDeclined(creditError) {
			if err := service.store.UpdateWalletTransactionStatus(ctx, credit.TxRef, WalletTransactionFailed, service.nowFn()); err != nil {
				reason += "; failed status not stored: " + err.Error()
			}
		}
		service.escalate(ctx, credit, reason)
		pendingResult := CashoutResult{
			SessionID:      session.ID,
			Amount:         amount,
			Status:         session.Status,
			TxRef:          credit.TxRef,
			ServerSeedHash: session.ServerSeedHash,
		}
		return pendingResult, session.PartnerID, WrapError(operationCashout, errorSubjectWallet, errorCodeCredit, fmt.Errorf("%w: %w", ErrReconciliationRequired, creditError))
	}

	closed, err := service.closeCashedOut(ctx, session, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.UpdateWalletTransactionStatus(ctx, credit.TxRef, WalletTransactionSuccess, service.nowFn())
	})
	if err != nil {
		return CashoutResult{SessionID: session.ID, Amount: amount, Status: session.Status, TxRef: credit.TxRef}, session.PartnerID, err
	}
	return cashoutResult(closed), session.PartnerID, nil
}

func (service *Service) closeCashedOut(ctx context.Context, session Session, extra func(ctx context.Context, transactionStore Store) error) (Session, error) {
	nowUnixUTC := service.nowFn()
	closed := session
	closed.Status = SessionStatusCashedOut
	closed.CreditPending = false
	closed.EndedUnixUTC = nowUnixUTC
	persistError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := extra(ctx, transactionStore); err != nil {
			return err
		}
		return transactionStore.UpdateSession(ctx, closed)
	})
	if persistError != nil {
		return Session{}, WrapError(operationCashout, errorSubjectSession, errorCodePersist, persistError)
	}
	closed.Version++
	publish(ctx, service.events, Event{
		Type:            EventGameWon,
		PartnerID:       closed.PartnerID,
		SessionID:       closed.ID,
		OccurredUnixUTC: nowUnixUTC,
		Payload: map[string]any{
			"amount":      closed.CashoutBalance.Int64(),
			"currency":    closed.Currency.String(),
			"flips":       len(closed.Flips),
			"tx_ref":      closed.CreditTxRef.String(),
			"server_seed": closed.ServerSeed,
		},
	})
	return closed, nil
}

func cashoutResult(session Session) CashoutResult {
	return CashoutResult{
		SessionID:      session.ID,
		Amount:         session.CashoutBalance,
		Status:         session.Status,
		TxRef:          session.CreditTxRef,
		ServerSeed:     session.ServerSeed,
		ServerSeedHash: session.ServerSeedHash,
	}
}

// State returns the session view, expiring it first when overdue.
func (service *Service) State(ctx context.Context, sessionID SessionID) (SessionView, error) {
	session, err := service.loadSession(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return session.View(), nil
}

// History lists a player's most recent sessions.
func (service *Service) History(ctx context.Context, partnerID PartnerID, externalPlayerID string, limit int) ([]SessionView, error) {
	player, err := service.store.GetPlayerByExternalID(ctx, partnerID, externalPlayerID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	sessions, err := service.store.ListPlayerSessions(ctx, partnerID, player.ID, limit)
	if err != nil {
		return nil, err
	}
	nowUnixUTC := service.nowFn()
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		if session.expiredAt(nowUnixUTC) {
			refreshed, err := service.loadSession(ctx, session.ID)
			if err != nil {
				return nil, err
			}
			session = refreshed
		}
		views = append(views, session.View())
	}
	return views, nil
}

// ExpireStale force-expires overdue sessions through the same path as the
// lazy check. Sessions currently leased by a caller are skipped.
func (service *Service) ExpireStale(ctx context.Context, limit int) (int, error) {
	sessionIDs, err := service.store.ListExpirableSessions(ctx, service.nowFn(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, sessionID := range sessionIDs {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		release, acquired := service.leases.acquire(sessionID)
		if !acquired {
			continue
		}
		before, err := service.store.GetSession(ctx, sessionID)
		if err == nil && before.Status == SessionStatusActive {
			after, loadErr := service.loadSession(ctx, sessionID)
			if loadErr == nil && after.Status == SessionStatusExpired {
				expired++
			}
			err = loadErr
		}
		release()
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// loadSession reads a session and applies lazy expiry before returning it.
func (service *Service) loadSession(ctx context.Context, sessionID SessionID) (Session, error) {
	session, err := service.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	nowUnixUTC := service.nowFn()
	if !session.expiredAt(nowUnixUTC) {
		return session, nil
	}
	expired := session
	expired.Status = SessionStatusExpired
	expired.EndedUnixUTC = nowUnixUTC
	updateError := service.store.UpdateSession(ctx, expired)
	if errors.Is(updateError, ErrStaleSession) {
		return service.store.GetSession(ctx, sessionID)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationExpire,
		PartnerID: session.PartnerID,
		SessionID: session.ID,
		Amount:    session.CashoutBalance,
		Currency:  session.Currency,
		Error:     updateError,
	})
	if updateError != nil {
		return Session{}, WrapError(operationExpire, errorSubjectSession, errorCodePersist, updateError)
	}
	expired.Version++
	return expired, nil
}

func ensureActive(session Session) error {
	switch session.Status {
	case SessionStatusActive:
		return nil
	case SessionStatusExpired:
		return ErrSessionExpired
	case SessionStatusLost, SessionStatusCashedOut:
		return ErrSessionClosed
	default:
		return WrapError(operationFlip, errorSubjectSession, errorCodeState, fmt.Errorf("%w: status %s", ErrInvalidState, session.Status))
	}
}

// rollback reverses original at the wallet and reports the status the
// rollback row should carry.
func (service *Service) rollback(ctx context.Context, original WalletOperation, reason string) (WalletOperation, WalletTransactionStatus) {
	operation := original
	operation.TxRef = MintTxRef(WalletTransactionRollback)
	operation.Type = WalletTransactionRollback
	operation.OriginalTxRef = original.TxRef
	detached := context.WithoutCancel(ctx)
	_, rollbackError := service.wallet.Rollback(detached, operation)
	service.logOperation(ctx, OperationLog{
		Operation: operationRollback,
		PartnerID: operation.PartnerID,
		SessionID: operation.SessionID,
		TxRef:     operation.TxRef,
		Amount:    operation.Amount,
		Currency:  operation.Currency,
		Error:     rollbackError,
	})
	if rollbackError == nil {
		return operation, WalletTransactionSuccess
	}
	service.escalate(ctx, operation, reason+"; rollback failed: "+rollbackError.Error())
	if isDeclined(rollbackError) {
		return operation, WalletTransactionFailed
	}
	return operation, WalletTransactionPending
}

// recordCompensation stores a confirmed debit together with the rollback that
// reverses it, after the session itself could not be stored.
func (service *Service) recordCompensation(ctx context.Context, debit WalletOperation, compensation WalletOperation, status WalletTransactionStatus, playerID PlayerID) {
	nowUnixUTC := service.nowFn()
	err := service.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.InsertWalletTransaction(ctx, walletTransaction(debit, playerID, WalletTransactionSuccess, nowUnixUTC)); err != nil {
			return err
		}
		return transactionStore.InsertWalletTransaction(ctx, walletTransaction(compensation, playerID, status, nowUnixUTC))
	})
	if err != nil {
		recordError := WrapError(operationRollback, errorSubjectWallet, errorCodeRollback, err)
		service.escalate(ctx, compensation, "rollback not recorded: "+recordError.Error())
	}
}

func walletTransaction(operation WalletOperation, playerID PlayerID, status WalletTransactionStatus, atUnixUTC int64) WalletTransaction {
	return WalletTransaction{
		TxRef:          operation.TxRef,
		Type:           operation.Type,
		PartnerID:      operation.PartnerID,
		PlayerID:       playerID,
		SessionID:      operation.SessionID,
		Amount:         operation.Amount,
		Currency:       operation.Currency,
		Status:         status,
		OriginalTxRef:  operation.OriginalTxRef,
		CreatedUnixUTC: atUnixUTC,
		UpdatedUnixUTC: atUnixUTC,
	}
}

func isDeclined(err error) bool {
	return errors.Is(err, ErrWalletDeclined) || errors.Is(err, ErrInsufficientFunds)
}

// escalate hands an unconfirmed wallet operation to the operational channel.
func (service *Service) escalate(ctx context.Context, operation WalletOperation, reason string) {
	alert := ReconciliationAlert{
		TxRef:          operation.TxRef,
		SessionID:      operation.SessionID,
		PartnerID:      operation.PartnerID,
		Operation:      operation.Type,
		Amount:         operation.Amount,
		Reason:         reason,
		CreatedUnixUTC: service.nowFn(),
	}
	alertError := service.store.InsertReconciliationAlert(context.WithoutCancel(ctx), alert)
	escalation := fmt.Errorf("%w: %s", ErrReconciliationRequired, reason)
	if alertError != nil {
		escalation = fmt.Errorf("%w (alert not stored: %v)", escalation, alertError)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationReconcile,
		PartnerID: operation.PartnerID,
		SessionID: operation.SessionID,
		TxRef:     operation.TxRef,
		Amount:    operation.Amount,
		Currency:  operation.Currency,
		Error:     escalation,
	})
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	logOperation(ctx, service.logger, entry)
}
