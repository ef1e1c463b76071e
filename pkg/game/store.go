package game

import "context"

// Store is the persistence contract used by Service and SettlementAggregator.
// (gormstore implements this.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetPartner(ctx context.Context, partnerID PartnerID) (Partner, error)
	GetPartnerByAPIKey(ctx context.Context, apiKey string) (Partner, error)
	ListPartners(ctx context.Context) ([]Partner, error)
	UpdatePartnerWebhook(ctx context.Context, partnerID PartnerID, webhookURL string, events []EventType) error

	UpsertPlayer(ctx context.Context, player Player) (Player, error)
	GetPlayer(ctx context.Context, playerID PlayerID) (Player, error)
	GetPlayerByExternalID(ctx context.Context, partnerID PartnerID, externalID string) (Player, error)

	ActiveGameConfig(ctx context.Context, partnerID PartnerID, currency Currency) (GameConfig, error)
	ListEnabledSimulatedConfigs(ctx context.Context, partnerID PartnerID) ([]SimulatedConfig, error)
	IncrementSimulationUse(ctx context.Context, configID string) error

	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID SessionID) (Session, error)
	// UpdateSession writes the mutable session fields when the stored version
	// equals session.Version, bumping it. A mismatch yields ErrStaleSession.
	UpdateSession(ctx context.Context, session Session) error
	AppendFlip(ctx context.Context, flip Flip) error
	ListPlayerSessions(ctx context.Context, partnerID PartnerID, playerID PlayerID, limit int) ([]Session, error)
	ListExpirableSessions(ctx context.Context, nowUnixUTC int64, limit int) ([]SessionID, error)

	InsertWalletTransaction(ctx context.Context, transaction WalletTransaction) error
	UpdateWalletTransactionStatus(ctx context.Context, txRef TxRef, status WalletTransactionStatus, atUnixUTC int64) error
	GetWalletTransaction(ctx context.Context, txRef TxRef) (WalletTransaction, error)
	SumWalletTransactions(ctx context.Context, partnerID PartnerID, txType WalletTransactionType, period SettlementPeriod) (AmountCents, error)

	GetSettlement(ctx context.Context, partnerID PartnerID, periodKey string) (Settlement, error)
	InsertSettlement(ctx context.Context, settlement Settlement) error

	InsertReconciliationAlert(ctx context.Context, alert ReconciliationAlert) error
}
