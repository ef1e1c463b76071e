package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreatePartner inserts a partner and its wallet settings.
func (store *Store) CreatePartner(ctx context.Context, partner game.Partner) error {
	events, err := encodeJSON(partner.SubscribedEvents, emptyJSONArray)
	if err != nil {
		return wrapStoreError(errorSubjectPartner, errorCodeEncode, err)
	}
	now := time.Now().UTC()
	model := Partner{
		PartnerID:         partner.ID.String(),
		Name:              partner.Name,
		APIKey:            partner.APIKey,
		Secret:            partner.Secret,
		DebitURL:          partner.DebitURL,
		CreditURL:         partner.CreditURL,
		RollbackURL:       partner.RollbackURL,
		WebhookURL:        partner.WebhookURL,
		SubscribedEvents:  events,
		CommissionPercent: partner.CommissionPercent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectPartner, errorCodeDuplicate, game.ErrConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPartner, errorCodeCreate, err)
	}
	return nil
}

// ActivateGameConfig stores rules for (partner, currency) and makes them the
// only active config for that pair. Sessions already started keep their pinned rules.
func (store *Store) ActivateGameConfig(ctx context.Context, partnerID game.PartnerID, currency game.Currency, rules game.GameRules) (game.GameConfig, error) {
	if err := rules.Validate(); err != nil {
		return game.GameConfig{}, err
	}
	encoded, err := encodeJSON(rules, emptyJSONObject)
	if err != nil {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeEncode, err)
	}
	model := GameConfig{
		PartnerID: partnerID.String(),
		Currency:  currency.String(),
		Rules:     encoded,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Model(&GameConfig{}).
			Where("partner_id = ? AND currency = ? AND is_active = ?", partnerID.String(), currency.String(), true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return transaction.Create(&model).Error
	})
	if isUniqueViolation(err) {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeDuplicate, game.ErrActiveConfigExists)
	}
	if err != nil {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeCreate, err)
	}
	return mapGameConfig(model)
}

// SaveSimulatedConfig inserts a simulated config. Enabling one that overlaps
// another enabled config of the same partner fails with ErrSimulationConflict.
func (store *Store) SaveSimulatedConfig(ctx context.Context, config game.SimulatedConfig) (game.SimulatedConfig, error) {
	if err := config.Validate(); err != nil {
		return game.SimulatedConfig{}, err
	}
	model, err := simulatedConfigModel(config)
	if err != nil {
		return game.SimulatedConfig{}, wrapStoreError(errorSubjectSimulation, errorCodeEncode, err)
	}
	err = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if config.IsEnabled {
			if err := ensureNoOverlap(ctx, &Store{db: transaction}, config); err != nil {
				return err
			}
		}
		return transaction.Create(&model).Error
	})
	if err != nil {
		if errors.Is(err, game.ErrSimulationConflict) {
			return game.SimulatedConfig{}, err
		}
		return game.SimulatedConfig{}, wrapStoreError(errorSubjectSimulation, errorCodeCreate, err)
	}
	return mapSimulatedConfig(model)
}

// SetSimulatedConfigEnabled toggles a simulated config, applying the same
// overlap rule as SaveSimulatedConfig on enable.
func (store *Store) SetSimulatedConfigEnabled(ctx context.Context, configID string, enabled bool) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var model SimulatedConfig
		err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).Where("config_id = ?", configID).Take(&model).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapStoreError(errorSubjectSimulation, errorCodeGet, game.ErrUnknownSimulation)
		}
		if err != nil {
			return wrapStoreError(errorSubjectSimulation, errorCodeGet, err)
		}
		if enabled {
			config, err := mapSimulatedConfig(model)
			if err != nil {
				return wrapStoreError(errorSubjectSimulation, errorCodeInvalid, err)
			}
			if err := ensureNoOverlap(ctx, &Store{db: transaction}, config); err != nil {
				return err
			}
		}
		err = transaction.Model(&SimulatedConfig{}).
			Where("config_id = ?", configID).
			Updates(map[string]any{"is_enabled": enabled, "updated_at": time.Now().UTC()}).Error
		if err != nil {
			return wrapStoreError(errorSubjectSimulation, errorCodeUpdate, err)
		}
		return nil
	})
}

func ensureNoOverlap(ctx context.Context, store *Store, config game.SimulatedConfig) error {
	enabled, err := store.ListEnabledSimulatedConfigs(ctx, config.PartnerID)
	if err != nil {
		return err
	}
	for _, other := range enabled {
		if other.ID != config.ID && other.Overlaps(config) {
			return wrapStoreError(errorSubjectSimulation, errorCodeDuplicate, game.ErrSimulationConflict)
		}
	}
	return nil
}

// ListReconciliationAlerts returns unresolved alerts, oldest first.
func (store *Store) ListReconciliationAlerts(ctx context.Context, limit int) ([]game.ReconciliationAlert, error) {
	var rows []ReconciliationAlert
	err := store.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAlert, errorCodeList, err)
	}
	alerts := make([]game.ReconciliationAlert, 0, len(rows))
	for _, row := range rows {
		txRef, err := game.NewTxRef(row.TxRef)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAlert, errorCodeInvalid, err)
		}
		sessionID, err := game.NewSessionID(row.SessionID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAlert, errorCodeInvalid, err)
		}
		partnerID, err := game.NewPartnerID(row.PartnerID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAlert, errorCodeInvalid, err)
		}
		operation, err := game.ParseWalletTransactionType(row.Operation)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAlert, errorCodeInvalid, err)
		}
		alerts = append(alerts, game.ReconciliationAlert{
			TxRef:          txRef,
			SessionID:      sessionID,
			PartnerID:      partnerID,
			Operation:      operation,
			Amount:         game.AmountCents(row.AmountCents),
			Reason:         row.Reason,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return alerts, nil
}
