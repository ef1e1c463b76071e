package game

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

const (
	testPartnerRaw  = "partner-1"
	testPlayerRaw   = "player-1"
	testExternalID  = "ext-42"
	testCurrencyRaw = "USD"
	testClientSeed  = "lucky-client-seed"
)

type stubStore struct {
	mu           sync.Mutex
	partners     map[PartnerID]Partner
	players      map[PlayerID]Player
	configs      []GameConfig
	simulations  []SimulatedConfig
	sessions     map[SessionID]Session
	transactions map[TxRef]WalletTransaction
	txOrder      []TxRef
	settlements  map[string]Settlement
	alerts       []ReconciliationAlert
	failInsert   error
	failCreate   error
	failStatus   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	partnerID := mustPartnerID(test, testPartnerRaw)
	playerID := mustPlayerID(test, testPlayerRaw)
	store := &stubStore{
		partners: map[PartnerID]Partner{
			partnerID: {
				ID:                partnerID,
				Name:              "Partner One",
				APIKey:            "key-1",
				Secret:            "secret-1",
				DebitURL:          "http://wallet.test/debit",
				CreditURL:         "http://wallet.test/credit",
				RollbackURL:       "http://wallet.test/rollback",
				CommissionPercent: decimal.NewFromInt(20),
			},
		},
		players: map[PlayerID]Player{
			playerID: {ID: playerID, PartnerID: partnerID, ExternalID: testExternalID},
		},
		configs: []GameConfig{{
			ID:        "config-1",
			PartnerID: partnerID,
			Currency:  mustCurrency(test, testCurrencyRaw),
			Rules:     testRules(),
			IsActive:  true,
		}},
		sessions:     make(map[SessionID]Session),
		transactions: make(map[TxRef]WalletTransaction),
		settlements:  make(map[string]Settlement),
	}
	return store
}

func testRules() GameRules {
	return GameRules{
		HouseEdgePercent:          5,
		MinStake:                  100,
		MaxStake:                  100000,
		MaxCashout:                1000000,
		ZeroBaseRate:              0.05,
		ZeroGrowthRate:            0.1,
		MinFlipsBeforeZero:        10,
		MaxSessionDurationMinutes: 30,
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetPartner(_ context.Context, partnerID PartnerID) (Partner, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	partner, ok := store.partners[partnerID]
	if !ok {
		return Partner{}, ErrUnknownPartner
	}
	return partner, nil
}

func (store *stubStore) GetPartnerByAPIKey(_ context.Context, apiKey string) (Partner, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, partner := range store.partners {
		if partner.APIKey == apiKey {
			return partner, nil
		}
	}
	return Partner{}, ErrUnknownPartner
}

func (store *stubStore) ListPartners(_ context.Context) ([]Partner, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	partners := make([]Partner, 0, len(store.partners))
	for _, partner := range store.partners {
		partners = append(partners, partner)
	}
	sort.Slice(partners, func(left, right int) bool { return partners[left].ID.String() < partners[right].ID.String() })
	return partners, nil
}

func (store *stubStore) UpdatePartnerWebhook(_ context.Context, partnerID PartnerID, webhookURL string, events []EventType) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	partner, ok := store.partners[partnerID]
	if !ok {
		return ErrUnknownPartner
	}
	partner.WebhookURL = webhookURL
	partner.SubscribedEvents = events
	store.partners[partnerID] = partner
	return nil
}

func (store *stubStore) UpsertPlayer(_ context.Context, player Player) (Player, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, existing := range store.players {
		if existing.PartnerID == player.PartnerID && existing.ExternalID == player.ExternalID {
			existing.DisplayName = player.DisplayName
			store.players[existing.ID] = existing
			return existing, nil
		}
	}
	store.players[player.ID] = player
	return player, nil
}

func (store *stubStore) GetPlayer(_ context.Context, playerID PlayerID) (Player, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	player, ok := store.players[playerID]
	if !ok {
		return Player{}, ErrUnknownPlayer
	}
	return player, nil
}

func (store *stubStore) GetPlayerByExternalID(_ context.Context, partnerID PartnerID, externalID string) (Player, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, player := range store.players {
		if player.PartnerID == partnerID && player.ExternalID == externalID {
			return player, nil
		}
	}
	return Player{}, ErrUnknownPlayer
}

func (store *stubStore) ActiveGameConfig(_ context.Context, partnerID PartnerID, currency Currency) (GameConfig, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, config := range store.configs {
		if config.IsActive && config.PartnerID == partnerID && config.Currency == currency {
			return config, nil
		}
	}
	return GameConfig{}, ErrNoActiveGameConfig
}

func (store *stubStore) ListEnabledSimulatedConfigs(_ context.Context, partnerID PartnerID) ([]SimulatedConfig, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var enabled []SimulatedConfig
	for _, config := range store.simulations {
		if config.IsEnabled && config.PartnerID == partnerID {
			enabled = append(enabled, config)
		}
	}
	return enabled, nil
}

func (store *stubStore) IncrementSimulationUse(_ context.Context, configID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for index, config := range store.simulations {
		if config.ID == configID {
			store.simulations[index] = config.RecordUse()
			return nil
		}
	}
	return ErrUnknownSimulation
}

func (store *stubStore) CreateSession(_ context.Context, session Session) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failCreate != nil {
		return store.failCreate
	}
	session.Version = 1
	store.sessions[session.ID] = session
	return nil
}

func (store *stubStore) GetSession(_ context.Context, sessionID SessionID) (Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	session, ok := store.sessions[sessionID]
	if !ok {
		return Session{}, ErrUnknownSession
	}
	session.Flips = append([]Flip(nil), session.Flips...)
	return session, nil
}

func (store *stubStore) UpdateSession(_ context.Context, session Session) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	stored, ok := store.sessions[session.ID]
	if !ok {
		return ErrUnknownSession
	}
	if stored.Version != session.Version {
		return ErrStaleSession
	}
	session.Flips = stored.Flips
	session.Version = stored.Version + 1
	store.sessions[session.ID] = session
	return nil
}

func (store *stubStore) AppendFlip(_ context.Context, flip Flip) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	session, ok := store.sessions[flip.SessionID]
	if !ok {
		return ErrUnknownSession
	}
	for _, existing := range session.Flips {
		if existing.Number == flip.Number {
			return ErrDuplicateFlip
		}
	}
	session.Flips = append(session.Flips, flip)
	store.sessions[flip.SessionID] = session
	return nil
}

func (store *stubStore) ListPlayerSessions(_ context.Context, partnerID PartnerID, playerID PlayerID, limit int) ([]Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var sessions []Session
	for _, session := range store.sessions {
		if session.PartnerID == partnerID && session.PlayerID == playerID {
			sessions = append(sessions, session)
		}
	}
	sort.Slice(sessions, func(left, right int) bool {
		return sessions[left].StartedUnixUTC > sessions[right].StartedUnixUTC
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (store *stubStore) ListExpirableSessions(_ context.Context, nowUnixUTC int64, limit int) ([]SessionID, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var ids []SessionID
	for _, session := range store.sessions {
		if session.expiredAt(nowUnixUTC) && len(ids) < limit {
			ids = append(ids, session.ID)
		}
	}
	return ids, nil
}

func (store *stubStore) InsertWalletTransaction(_ context.Context, transaction WalletTransaction) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failInsert != nil {
		return store.failInsert
	}
	if _, exists := store.transactions[transaction.TxRef]; exists {
		return ErrDuplicateTxRef
	}
	store.transactions[transaction.TxRef] = transaction
	store.txOrder = append(store.txOrder, transaction.TxRef)
	return nil
}

func (store *stubStore) UpdateWalletTransactionStatus(_ context.Context, txRef TxRef, status WalletTransactionStatus, atUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.failStatus != nil {
		return store.failStatus
	}
	transaction, ok := store.transactions[txRef]
	if !ok {
		return ErrUnknownTransaction
	}
	transaction.Status = status
	transaction.UpdatedUnixUTC = atUnixUTC
	store.transactions[txRef] = transaction
	return nil
}

func (store *stubStore) GetWalletTransaction(_ context.Context, txRef TxRef) (WalletTransaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	transaction, ok := store.transactions[txRef]
	if !ok {
		return WalletTransaction{}, ErrUnknownTransaction
	}
	return transaction, nil
}

func (store *stubStore) SumWalletTransactions(_ context.Context, partnerID PartnerID, txType WalletTransactionType, period SettlementPeriod) (AmountCents, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var total AmountCents
	for _, transaction := range store.transactions {
		if transaction.PartnerID != partnerID || transaction.Type != txType || transaction.Status != WalletTransactionSuccess {
			continue
		}
		if transaction.CreatedUnixUTC < period.StartUnixUTC || transaction.CreatedUnixUTC >= period.EndUnixUTC {
			continue
		}
		total += transaction.Amount
	}
	return total, nil
}

func (store *stubStore) GetSettlement(_ context.Context, partnerID PartnerID, periodKey string) (Settlement, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	settlement, ok := store.settlements[partnerID.String()+"/"+periodKey]
	if !ok {
		return Settlement{}, ErrUnknownSettlement
	}
	return settlement, nil
}

func (store *stubStore) InsertSettlement(_ context.Context, settlement Settlement) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := settlement.PartnerID.String() + "/" + settlement.Period.Key
	if _, exists := store.settlements[key]; exists {
		return ErrSettlementExists
	}
	store.settlements[key] = settlement
	return nil
}

func (store *stubStore) InsertReconciliationAlert(_ context.Context, alert ReconciliationAlert) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.alerts = append(store.alerts, alert)
	return nil
}

func (store *stubStore) onlySession(test *testing.T) Session {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.sessions) != 1 {
		test.Fatalf("expected exactly one session, got %d", len(store.sessions))
	}
	for _, session := range store.sessions {
		return session
	}
	return Session{}
}

func (store *stubStore) transactionsOfType(txType WalletTransactionType) []WalletTransaction {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matching []WalletTransaction
	for _, txRef := range store.txOrder {
		if transaction := store.transactions[txRef]; transaction.Type == txType {
			matching = append(matching, transaction)
		}
	}
	return matching
}

type stubWallet struct {
	mu          sync.Mutex
	operations  []WalletOperation
	debitErr    error
	creditErrs  []error
	rollbackErr error
}

func (wallet *stubWallet) record(operation WalletOperation) {
	wallet.mu.Lock()
	defer wallet.mu.Unlock()
	wallet.operations = append(wallet.operations, operation)
}

func (wallet *stubWallet) Debit(_ context.Context, operation WalletOperation) (WalletResult, error) {
	wallet.record(operation)
	if wallet.debitErr != nil {
		return WalletResult{}, wallet.debitErr
	}
	return WalletResult{TxRef: operation.TxRef, Balance: 10000}, nil
}

func (wallet *stubWallet) Credit(_ context.Context, operation WalletOperation) (WalletResult, error) {
	wallet.record(operation)
	wallet.mu.Lock()
	defer wallet.mu.Unlock()
	if len(wallet.creditErrs) > 0 {
		err := wallet.creditErrs[0]
		wallet.creditErrs = wallet.creditErrs[1:]
		if err != nil {
			return WalletResult{}, err
		}
	}
	return WalletResult{TxRef: operation.TxRef, Balance: 20000}, nil
}

func (wallet *stubWallet) Rollback(_ context.Context, operation WalletOperation) (WalletResult, error) {
	wallet.record(operation)
	if wallet.rollbackErr != nil {
		return WalletResult{}, wallet.rollbackErr
	}
	return WalletResult{TxRef: operation.TxRef}, nil
}

func (wallet *stubWallet) operationsOfType(txType WalletTransactionType) []WalletOperation {
	wallet.mu.Lock()
	defer wallet.mu.Unlock()
	var matching []WalletOperation
	for _, operation := range wallet.operations {
		if operation.Type == txType {
			matching = append(matching, operation)
		}
	}
	return matching
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (publisher *recordingPublisher) Publish(_ context.Context, event Event) {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	publisher.events = append(publisher.events, event)
}

func (publisher *recordingPublisher) types() []EventType {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	types := make([]EventType, 0, len(publisher.events))
	for _, event := range publisher.events {
		types = append(types, event.Type)
	}
	return types
}

type testClock struct {
	mu  sync.Mutex
	now int64
}

func (clock *testClock) Now() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(seconds int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now += seconds
}

func mustNewService(test *testing.T, store Store, wallet WalletGateway, clock *testClock, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, wallet, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustPartnerID(test *testing.T, raw string) PartnerID {
	test.Helper()
	id, err := NewPartnerID(raw)
	if err != nil {
		test.Fatalf("partner id: %v", err)
	}
	return id
}

func mustPlayerID(test *testing.T, raw string) PlayerID {
	test.Helper()
	id, err := NewPlayerID(raw)
	if err != nil {
		test.Fatalf("player id: %v", err)
	}
	return id
}

func mustCurrency(test *testing.T, raw string) Currency {
	test.Helper()
	currency, err := NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func mustClientSeed(test *testing.T, raw string) ClientSeed {
	test.Helper()
	seed, err := NewClientSeed(raw)
	if err != nil {
		test.Fatalf("client seed: %v", err)
	}
	return seed
}

func startRequest(test *testing.T, stake AmountCents) StartRequest {
	test.Helper()
	return StartRequest{
		PartnerID:        mustPartnerID(test, testPartnerRaw),
		ExternalPlayerID: testExternalID,
		Currency:         mustCurrency(test, testCurrencyRaw),
		Stake:            stake,
		ClientSeed:       mustClientSeed(test, testClientSeed),
	}
}
