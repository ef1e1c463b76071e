package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	emptyJSONArray        = "[]"
	emptyJSONObject       = "{}"

	errorOperationStore     = "store"
	errorSubjectPartner     = "partner"
	errorSubjectPlayer      = "player"
	errorSubjectConfig      = "config"
	errorSubjectSimulation  = "simulation"
	errorSubjectSession     = "session"
	errorSubjectFlip        = "flip"
	errorSubjectTransaction = "transaction"
	errorSubjectSettlement  = "settlement"
	errorSubjectAlert       = "alert"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeSum            = "sum"
	errorCodeUpdate         = "update"
	errorCodeUpdateStatus   = "update_status"
	errorCodeVersion        = "version"
	errorCodeEncode         = "encode"
	errorCodeIncrementUsage = "increment_usage"
)

// Store implements game.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore game.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetPartner(ctx context.Context, partnerID game.PartnerID) (game.Partner, error) {
	var model Partner
	err := store.db.WithContext(ctx).Where("partner_id = ?", partnerID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeGet, game.ErrUnknownPartner)
	}
	if err != nil {
		return game.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeGet, err)
	}
	return mapPartner(model)
}

func (store *Store) GetPartnerByAPIKey(ctx context.Context, apiKey string) (game.Partner, error) {
	var model Partner
	err := store.db.WithContext(ctx).Where("api_key = ?", apiKey).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeLookup, game.ErrUnknownPartner)
	}
	if err != nil {
		return game.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeLookup, err)
	}
	return mapPartner(model)
}

func (store *Store) ListPartners(ctx context.Context) ([]game.Partner, error) {
	var rows []Partner
	if err := store.db.WithContext(ctx).Order("partner_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPartner, errorCodeList, err)
	}
	partners := make([]game.Partner, 0, len(rows))
	for _, row := range rows {
		partner, err := mapPartner(row)
		if err != nil {
			return nil, err
		}
		partners = append(partners, partner)
	}
	return partners, nil
}

func (store *Store) UpdatePartnerWebhook(ctx context.Context, partnerID game.PartnerID, webhookURL string, events []game.EventType) error {
	encoded, err := encodeJSON(events, emptyJSONArray)
	if err != nil {
		return wrapStoreError(errorSubjectPartner, errorCodeEncode, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Partner{}).
		Where("partner_id = ?", partnerID.String()).
		Updates(map[string]any{
			"webhook_url":       webhookURL,
			"subscribed_events": encoded,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPartner, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPartner, errorCodeUpdate, game.ErrUnknownPartner)
	}
	return nil
}

func (store *Store) UpsertPlayer(ctx context.Context, player game.Player) (game.Player, error) {
	model := Player{
		PlayerID:    player.ID.String(),
		PartnerID:   player.PartnerID.String(),
		ExternalID:  player.ExternalID,
		DisplayName: player.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name"}),
		}).
		Create(&model).Error
	if err != nil {
		return game.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeCreate, err)
	}
	return store.GetPlayerByExternalID(ctx, player.PartnerID, player.ExternalID)
}

func (store *Store) GetPlayer(ctx context.Context, playerID game.PlayerID) (game.Player, error) {
	var model Player
	err := store.db.WithContext(ctx).Where("player_id = ?", playerID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeGet, game.ErrUnknownPlayer)
	}
	if err != nil {
		return game.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeGet, err)
	}
	return mapPlayer(model)
}

func (store *Store) GetPlayerByExternalID(ctx context.Context, partnerID game.PartnerID, externalID string) (game.Player, error) {
	var model Player
	err := store.db.WithContext(ctx).
		Where("partner_id = ? AND external_id = ?", partnerID.String(), externalID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeLookup, game.ErrUnknownPlayer)
	}
	if err != nil {
		return game.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeLookup, err)
	}
	return mapPlayer(model)
}

func (store *Store) ActiveGameConfig(ctx context.Context, partnerID game.PartnerID, currency game.Currency) (game.GameConfig, error) {
	var model GameConfig
	err := store.db.WithContext(ctx).
		Where("partner_id = ? AND currency = ? AND is_active = ?", partnerID.String(), currency.String(), true).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeGet, game.ErrNoActiveGameConfig)
	}
	if err != nil {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeGet, err)
	}
	return mapGameConfig(model)
}

func (store *Store) ListEnabledSimulatedConfigs(ctx context.Context, partnerID game.PartnerID) ([]game.SimulatedConfig, error) {
	var rows []SimulatedConfig
	err := store.db.WithContext(ctx).
		Where("partner_id = ? AND is_enabled = ?", partnerID.String(), true).
		Order("config_id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSimulation, errorCodeList, err)
	}
	configs := make([]game.SimulatedConfig, 0, len(rows))
	for _, row := range rows {
		config, err := mapSimulatedConfig(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSimulation, errorCodeInvalid, err)
		}
		configs = append(configs, config)
	}
	return configs, nil
}

func (store *Store) IncrementSimulationUse(ctx context.Context, configID string) error {
	var model SimulatedConfig
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("config_id = ?", configID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectSimulation, errorCodeIncrementUsage, game.ErrUnknownSimulation)
	}
	if err != nil {
		return wrapStoreError(errorSubjectSimulation, errorCodeIncrementUsage, err)
	}
	config, err := mapSimulatedConfig(model)
	if err != nil {
		return wrapStoreError(errorSubjectSimulation, errorCodeInvalid, err)
	}
	used := config.RecordUse()
	err = store.db.WithContext(ctx).
		Model(&SimulatedConfig{}).
		Where("config_id = ?", configID).
		Updates(map[string]any{
			"sessions_used": used.SessionsUsed,
			"is_enabled":    used.IsEnabled,
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return wrapStoreError(errorSubjectSimulation, errorCodeIncrementUsage, err)
	}
	return nil
}

func (store *Store) CreateSession(ctx context.Context, session game.Session) error {
	model, err := sessionModel(session)
	if err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeEncode, err)
	}
	model.Version = 1
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return wrapStoreError(errorSubjectSession, errorCodeDuplicate, game.ErrConflict)
		}
		return wrapStoreError(errorSubjectSession, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetSession(ctx context.Context, sessionID game.SessionID) (game.Session, error) {
	var model Session
	err := store.db.WithContext(ctx).Where("session_id = ?", sessionID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Session{}, wrapStoreError(errorSubjectSession, errorCodeGet, game.ErrUnknownSession)
	}
	if err != nil {
		return game.Session{}, wrapStoreError(errorSubjectSession, errorCodeGet, err)
	}
	var flips []Flip
	err = store.db.WithContext(ctx).
		Where("session_id = ?", model.SessionID).
		Order("flip_number").
		Find(&flips).Error
	if err != nil {
		return game.Session{}, wrapStoreError(errorSubjectFlip, errorCodeList, err)
	}
	session, err := mapSession(model, flips)
	if err != nil {
		return game.Session{}, wrapStoreError(errorSubjectSession, errorCodeInvalid, err)
	}
	return session, nil
}

// UpdateSession writes the mutable columns guarded by the version counter.
func (store *Store) UpdateSession(ctx context.Context, session game.Session) error {
	result := store.db.WithContext(ctx).
		Model(&Session{}).
		Where("session_id = ? AND version = ?", session.ID.String(), session.Version).
		Updates(map[string]any{
			"cashout_balance_cents": session.CashoutBalance.Int64(),
			"status":                session.Status.String(),
			"ended_at":              unixOrNil(session.EndedUnixUTC),
			"credit_tx_ref":         refOrNil(session.CreditTxRef),
			"credit_pending":        session.CreditPending,
			"version":               gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSession, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := store.db.WithContext(ctx).Model(&Session{}).Where("session_id = ?", session.ID.String()).Count(&count).Error; err != nil {
		return wrapStoreError(errorSubjectSession, errorCodeUpdate, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectSession, errorCodeUpdate, game.ErrUnknownSession)
	}
	return wrapStoreError(errorSubjectSession, errorCodeVersion, game.ErrStaleSession)
}

func (store *Store) AppendFlip(ctx context.Context, flip game.Flip) error {
	model := Flip{
		SessionID:           flip.SessionID.String(),
		FlipNumber:          flip.Number,
		DenominationCents:   flip.Denomination.Int64(),
		IsZero:              flip.IsZero,
		ResultHash:          flip.ResultHash,
		CashoutBalanceAfter: flip.CashoutBalanceAfter.Int64(),
		CreatedAt:           unixTime(flip.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectFlip, errorCodeDuplicate, game.ErrDuplicateFlip)
	}
	if err != nil {
		return wrapStoreError(errorSubjectFlip, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListPlayerSessions(ctx context.Context, partnerID game.PartnerID, playerID game.PlayerID, limit int) ([]game.Session, error) {
	var rows []Session
	err := store.db.WithContext(ctx).
		Where("partner_id = ? AND player_id = ?", partnerID.String(), playerID.String()).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSession, errorCodeList, err)
	}
	if len(rows) == 0 {
		return []game.Session{}, nil
	}
	sessionIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		sessionIDs = append(sessionIDs, row.SessionID)
	}
	var flips []Flip
	err = store.db.WithContext(ctx).
		Where("session_id IN ?", sessionIDs).
		Order("session_id, flip_number").
		Find(&flips).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectFlip, errorCodeList, err)
	}
	flipsBySession := make(map[string][]Flip, len(rows))
	for _, flip := range flips {
		flipsBySession[flip.SessionID] = append(flipsBySession[flip.SessionID], flip)
	}
	sessions := make([]game.Session, 0, len(rows))
	for _, row := range rows {
		session, err := mapSession(row, flipsBySession[row.SessionID])
		if err != nil {
			return nil, wrapStoreError(errorSubjectSession, errorCodeInvalid, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (store *Store) ListExpirableSessions(ctx context.Context, nowUnixUTC int64, limit int) ([]game.SessionID, error) {
	var rawIDs []string
	err := store.db.WithContext(ctx).
		Model(&Session{}).
		Where("status = ? AND credit_pending = ? AND expires_at IS NOT NULL AND expires_at < ?",
			game.SessionStatusActive.String(), false, unixTime(nowUnixUTC)).
		Order("expires_at").
		Limit(limit).
		Pluck("session_id", &rawIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSession, errorCodeList, err)
	}
	sessionIDs := make([]game.SessionID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		sessionID, err := game.NewSessionID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSession, errorCodeInvalid, err)
		}
		sessionIDs = append(sessionIDs, sessionID)
	}
	return sessionIDs, nil
}

func (store *Store) InsertWalletTransaction(ctx context.Context, transaction game.WalletTransaction) error {
	model := WalletTransaction{
		TxRef:         transaction.TxRef.String(),
		Type:          transaction.Type.String(),
		PartnerID:     transaction.PartnerID.String(),
		PlayerID:      transaction.PlayerID.String(),
		SessionID:     transaction.SessionID.String(),
		AmountCents:   transaction.Amount.Int64(),
		Currency:      transaction.Currency.String(),
		Status:        transaction.Status.String(),
		OriginalTxRef: refOrNil(transaction.OriginalTxRef),
		CreatedAt:     unixTime(transaction.CreatedUnixUTC),
		UpdatedAt:     unixTime(transaction.UpdatedUnixUTC),
	}
	if model.CreatedAt.IsZero() || transaction.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	if transaction.UpdatedUnixUTC == 0 {
		model.UpdatedAt = model.CreatedAt
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, game.ErrDuplicateTxRef)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) UpdateWalletTransactionStatus(ctx context.Context, txRef game.TxRef, status game.WalletTransactionStatus, atUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Where("tx_ref = ?", txRef.String()).
		Updates(map[string]any{
			"status":     status.String(),
			"updated_at": unixTime(atUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectTransaction, errorCodeUpdateStatus, game.ErrUnknownTransaction)
	}
	return nil
}

func (store *Store) GetWalletTransaction(ctx context.Context, txRef game.TxRef) (game.WalletTransaction, error) {
	var model WalletTransaction
	err := store.db.WithContext(ctx).Where("tx_ref = ?", txRef.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.WalletTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, game.ErrUnknownTransaction)
	}
	if err != nil {
		return game.WalletTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	transaction, err := mapWalletTransaction(model)
	if err != nil {
		return game.WalletTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) SumWalletTransactions(ctx context.Context, partnerID game.PartnerID, txType game.WalletTransactionType, period game.SettlementPeriod) (game.AmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&WalletTransaction{}).
		Select("coalesce(sum(amount_cents),0) as total").
		Where("partner_id = ? AND type = ? AND status = ?", partnerID.String(), txType.String(), game.WalletTransactionSuccess.String()).
		Where("created_at >= ? AND created_at < ?", unixTime(period.StartUnixUTC), unixTime(period.EndUnixUTC)).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeSum, err)
	}
	return game.AmountCents(sum.Total), nil
}

func (store *Store) GetSettlement(ctx context.Context, partnerID game.PartnerID, periodKey string) (game.Settlement, error) {
	var model Settlement
	err := store.db.WithContext(ctx).
		Where("partner_id = ? AND period_key = ?", partnerID.String(), periodKey).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return game.Settlement{}, wrapStoreError(errorSubjectSettlement, errorCodeGet, game.ErrUnknownSettlement)
	}
	if err != nil {
		return game.Settlement{}, wrapStoreError(errorSubjectSettlement, errorCodeGet, err)
	}
	settlement, err := mapSettlement(model)
	if err != nil {
		return game.Settlement{}, wrapStoreError(errorSubjectSettlement, errorCodeInvalid, err)
	}
	return settlement, nil
}

func (store *Store) InsertSettlement(ctx context.Context, settlement game.Settlement) error {
	model := Settlement{
		PartnerID:         settlement.PartnerID.String(),
		PeriodKey:         settlement.Period.Key,
		PeriodStart:       unixTime(settlement.Period.StartUnixUTC),
		PeriodEnd:         unixTime(settlement.Period.EndUnixUTC),
		TotalBetsCents:    settlement.TotalBets.Int64(),
		TotalWinsCents:    settlement.TotalWins.Int64(),
		GGRCents:          settlement.GGR.Int64(),
		CommissionPercent: settlement.CommissionPercent,
		CommissionCents:   settlement.CommissionAmount.Int64(),
		NetOperatorCents:  settlement.NetOperatorAmount.Int64(),
		CreatedAt:         unixTime(settlement.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectSettlement, errorCodeDuplicate, game.ErrSettlementExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectSettlement, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertReconciliationAlert(ctx context.Context, alert game.ReconciliationAlert) error {
	model := ReconciliationAlert{
		TxRef:       alert.TxRef.String(),
		SessionID:   alert.SessionID.String(),
		PartnerID:   alert.PartnerID.String(),
		Operation:   alert.Operation.String(),
		AmountCents: alert.Amount.Int64(),
		Reason:      alert.Reason,
		CreatedAt:   unixTime(alert.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAlert, errorCodeInsert, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return game.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func unixTime(unixUTC int64) time.Time {
	return time.Unix(unixUTC, 0).UTC()
}

func unixOrNil(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := unixTime(unixUTC)
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func refOrNil(ref game.TxRef) *string {
	if ref.IsZero() {
		return nil
	}
	value := ref.String()
	return &value
}

func encodeJSON(value any, empty string) (datatypes.JSON, error) {
	if value == nil {
		return datatypes.JSON(empty), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return datatypes.JSON(empty), nil
	}
	return datatypes.JSON(raw), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
