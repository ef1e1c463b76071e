package gormstore

import (
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
)

func mapPartner(model Partner) (game.Partner, error) {
	partnerID, err := game.NewPartnerID(model.PartnerID)
	if err != nil {
		return game.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeInvalid, err)
	}
	var rawEvents []string
	if len(model.SubscribedEvents) > 0 {
		if err := json.Unmarshal(model.SubscribedEvents, &rawEvents); err != nil {
			return game.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeInvalid, err)
		}
	}
	events, err := game.ParseEventTypes(rawEvents)
	if err != nil {
		return game.Partner{}, wrapStoreError(errorSubjectPartner, errorCodeInvalid, err)
	}
	return game.Partner{
		ID:                partnerID,
		Name:              model.Name,
		APIKey:            model.APIKey,
		Secret:            model.Secret,
		DebitURL:          model.DebitURL,
		CreditURL:         model.CreditURL,
		RollbackURL:       model.RollbackURL,
		WebhookURL:        model.WebhookURL,
		SubscribedEvents:  events,
		CommissionPercent: model.CommissionPercent,
	}, nil
}

func mapPlayer(model Player) (game.Player, error) {
	playerID, err := game.NewPlayerID(model.PlayerID)
	if err != nil {
		return game.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeInvalid, err)
	}
	partnerID, err := game.NewPartnerID(model.PartnerID)
	if err != nil {
		return game.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeInvalid, err)
	}
	return game.Player{
		ID:          playerID,
		PartnerID:   partnerID,
		ExternalID:  model.ExternalID,
		DisplayName: model.DisplayName,
	}, nil
}

func mapGameConfig(model GameConfig) (game.GameConfig, error) {
	partnerID, err := game.NewPartnerID(model.PartnerID)
	if err != nil {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeInvalid, err)
	}
	currency, err := game.NewCurrency(model.Currency)
	if err != nil {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeInvalid, err)
	}
	var rules game.GameRules
	if err := json.Unmarshal(model.Rules, &rules); err != nil {
		return game.GameConfig{}, wrapStoreError(errorSubjectConfig, errorCodeInvalid, err)
	}
	return game.GameConfig{
		ID:        model.ConfigID,
		PartnerID: partnerID,
		Currency:  currency,
		Rules:     rules,
		IsActive:  model.IsActive,
	}, nil
}

func mapSimulatedConfig(model SimulatedConfig) (game.SimulatedConfig, error) {
	partnerID, err := game.NewPartnerID(model.PartnerID)
	if err != nil {
		return game.SimulatedConfig{}, err
	}
	var playerID game.PlayerID
	if model.PlayerID != nil {
		playerID, err = game.NewPlayerID(*model.PlayerID)
		if err != nil {
			return game.SimulatedConfig{}, err
		}
	}
	mode, err := game.ParseOutcomeMode(model.OutcomeMode)
	if err != nil {
		return game.SimulatedConfig{}, err
	}
	rule, err := game.NewOutcomeRule(mode, model.ForceZeroAtFlip, model.FixedZeroProbability, model.WinStreakLength)
	if err != nil {
		return game.SimulatedConfig{}, err
	}
	var overrides game.SimulationOverrides
	if len(model.Overrides) > 0 {
		if err := json.Unmarshal(model.Overrides, &overrides); err != nil {
			return game.SimulatedConfig{}, err
		}
	}
	return game.SimulatedConfig{
		ID:                model.ConfigID,
		PartnerID:         partnerID,
		ApplyToAllPlayers: model.ApplyToAllPlayers,
		PlayerID:          playerID,
		Rule:              rule,
		Overrides:         overrides,
		IsEnabled:         model.IsEnabled,
		AutoDisableAfter:  model.AutoDisableAfter,
		SessionsUsed:      model.SessionsUsed,
		Notes:             model.Notes,
	}, nil
}

func simulatedConfigModel(config game.SimulatedConfig) (SimulatedConfig, error) {
	overrides, err := encodeJSON(config.Overrides, emptyJSONObject)
	if err != nil {
		return SimulatedConfig{}, err
	}
	mode, forceZeroAtFlip, fixedZeroProbability, winStreakLength := game.FlattenOutcomeRule(config.Rule)
	var playerID *string
	if !config.ApplyToAllPlayers {
		value := config.PlayerID.String()
		playerID = &value
	}
	now := time.Now().UTC()
	return SimulatedConfig{
		ConfigID:             config.ID,
		PartnerID:            config.PartnerID.String(),
		ApplyToAllPlayers:    config.ApplyToAllPlayers,
		PlayerID:             playerID,
		OutcomeMode:          string(mode),
		ForceZeroAtFlip:      forceZeroAtFlip,
		FixedZeroProbability: fixedZeroProbability,
		WinStreakLength:      winStreakLength,
		Overrides:            overrides,
		IsEnabled:            config.IsEnabled,
		AutoDisableAfter:     config.AutoDisableAfter,
		SessionsUsed:         config.SessionsUsed,
		Notes:                config.Notes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

func sessionModel(session game.Session) (Session, error) {
	rules, err := encodeJSON(session.Rules, emptyJSONObject)
	if err != nil {
		return Session{}, err
	}
	var simulation []byte
	if session.Simulation != nil {
		simulation, err = json.Marshal(session.Simulation)
		if err != nil {
			return Session{}, err
		}
	}
	model := Session{
		SessionID:           session.ID.String(),
		PartnerID:           session.PartnerID.String(),
		PlayerID:            session.PlayerID.String(),
		ExternalRef:         session.ExternalRef,
		Currency:            session.Currency.String(),
		StakeCents:          session.Stake.Int64(),
		ServerSeed:          session.ServerSeed,
		ServerSeedHash:      session.ServerSeedHash,
		ClientSeed:          session.ClientSeed.String(),
		CashoutBalanceCents: session.CashoutBalance.Int64(),
		Status:              session.Status.String(),
		StartedAt:           unixTime(session.StartedUnixUTC),
		EndedAt:             unixOrNil(session.EndedUnixUTC),
		DebitTxRef:          refOrNil(session.DebitTxRef),
		CreditTxRef:         refOrNil(session.CreditTxRef),
		CreditPending:       session.CreditPending,
		IsTest:              session.IsTest,
		Rules:               rules,
		Simulation:          simulation,
		Version:             session.Version,
	}
	if duration := session.Rules.MaxSessionDurationSeconds(); duration > 0 {
		model.ExpiresAt = unixOrNil(session.StartedUnixUTC + duration)
	}
	return model, nil
}

func mapSession(model Session, flips []Flip) (game.Session, error) {
	sessionID, err := game.NewSessionID(model.SessionID)
	if err != nil {
		return game.Session{}, err
	}
	partnerID, err := game.NewPartnerID(model.PartnerID)
	if err != nil {
		return game.Session{}, err
	}
	playerID, err := game.NewPlayerID(model.PlayerID)
	if err != nil {
		return game.Session{}, err
	}
	currency, err := game.NewCurrency(model.Currency)
	if err != nil {
		return game.Session{}, err
	}
	clientSeed, err := game.NewClientSeed(model.ClientSeed)
	if err != nil {
		return game.Session{}, err
	}
	status, err := game.ParseSessionStatus(model.Status)
	if err != nil {
		return game.Session{}, err
	}
	var rules game.GameRules
	if err := json.Unmarshal(model.Rules, &rules); err != nil {
		return game.Session{}, err
	}
	var simulation *game.SimulationSnapshot
	if len(model.Simulation) > 0 && string(model.Simulation) != "null" {
		var snapshot game.SimulationSnapshot
		if err := json.Unmarshal(model.Simulation, &snapshot); err != nil {
			return game.Session{}, err
		}
		simulation = &snapshot
	}
	debitTxRef, err := optionalTxRef(model.DebitTxRef)
	if err != nil {
		return game.Session{}, err
	}
	creditTxRef, err := optionalTxRef(model.CreditTxRef)
	if err != nil {
		return game.Session{}, err
	}
	mappedFlips := make([]game.Flip, 0, len(flips))
	for _, flip := range flips {
		mappedFlips = append(mappedFlips, game.Flip{
			SessionID:           sessionID,
			Number:              flip.FlipNumber,
			Denomination:        game.AmountCents(flip.DenominationCents),
			IsZero:              flip.IsZero,
			ResultHash:          flip.ResultHash,
			CashoutBalanceAfter: game.AmountCents(flip.CashoutBalanceAfter),
			CreatedUnixUTC:      flip.CreatedAt.Unix(),
		})
	}
	return game.Session{
		ID:             sessionID,
		PartnerID:      partnerID,
		PlayerID:       playerID,
		ExternalRef:    model.ExternalRef,
		Currency:       currency,
		Stake:          game.AmountCents(model.StakeCents),
		ServerSeed:     model.ServerSeed,
		ServerSeedHash: model.ServerSeedHash,
		ClientSeed:     clientSeed,
		Flips:          mappedFlips,
		CashoutBalance: game.AmountCents(model.CashoutBalanceCents),
		Status:         status,
		StartedUnixUTC: model.StartedAt.Unix(),
		EndedUnixUTC:   timeOrZero(model.EndedAt),
		DebitTxRef:     debitTxRef,
		CreditTxRef:    creditTxRef,
		CreditPending:  model.CreditPending,
		IsTest:         model.IsTest,
		Rules:          rules,
		Simulation:     simulation,
		Version:        model.Version,
	}, nil
}

func mapWalletTransaction(model WalletTransaction) (game.WalletTransaction, error) {
	txRef, err := game.NewTxRef(model.TxRef)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	txType, err := game.ParseWalletTransactionType(model.Type)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	status, err := game.ParseWalletTransactionStatus(model.Status)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	partnerID, err := game.NewPartnerID(model.PartnerID)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	playerID, err := game.NewPlayerID(model.PlayerID)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	sessionID, err := game.NewSessionID(model.SessionID)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	currency, err := game.NewCurrency(model.Currency)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	originalTxRef, err := optionalTxRef(model.OriginalTxRef)
	if err != nil {
		return game.WalletTransaction{}, err
	}
	return game.WalletTransaction{
		TxRef:          txRef,
		Type:           txType,
		PartnerID:      partnerID,
		PlayerID:       playerID,
		SessionID:      sessionID,
		Amount:         game.AmountCents(model.AmountCents),
		Currency:       currency,
		Status:         status,
		OriginalTxRef:  originalTxRef,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}, nil
}

func mapSettlement(model Settlement) (game.Settlement, error) {
	partnerID, err := game.NewPartnerID(model.PartnerID)
	if err != nil {
		return game.Settlement{}, err
	}
	return game.Settlement{
		PartnerID: partnerID,
		Period: game.SettlementPeriod{
			Key:          model.PeriodKey,
			StartUnixUTC: model.PeriodStart.Unix(),
			EndUnixUTC:   model.PeriodEnd.Unix(),
		},
		TotalBets:         game.AmountCents(model.TotalBetsCents),
		TotalWins:         game.AmountCents(model.TotalWinsCents),
		GGR:               game.AmountCents(model.GGRCents),
		CommissionPercent: model.CommissionPercent,
		CommissionAmount:  game.AmountCents(model.CommissionCents),
		NetOperatorAmount: game.AmountCents(model.NetOperatorCents),
		CreatedUnixUTC:    model.CreatedAt.Unix(),
	}, nil
}

func optionalTxRef(raw *string) (game.TxRef, error) {
	if raw == nil || *raw == "" {
		return game.TxRef{}, nil
	}
	return game.NewTxRef(*raw)
}
