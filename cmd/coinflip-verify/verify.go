package main

import (
	"strings"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
)

type flipReport struct {
	Number           int     `json:"number"`
	ResultHash       string  `json:"result_hash"`
	ZeroDraw         float64 `json:"zero_draw"`
	DenominationDraw float64 `json:"denomination_draw"`
	HashMatches      *bool   `json:"hash_matches,omitempty"`
	IsZero           *bool   `json:"is_zero,omitempty"`
	Denomination     *int64  `json:"denomination,omitempty"`
	OutcomeMatches   *bool   `json:"outcome_matches,omitempty"`
}

type report struct {
	SessionID       string       `json:"session_id,omitempty"`
	ServerSeedHash  string       `json:"server_seed_hash"`
	HashValid       bool         `json:"hash_valid"`
	OutcomesChecked bool         `json:"outcomes_checked"`
	Flips           []flipReport `json:"flips"`
	Consistent      bool         `json:"consistent"`
}

// verifyDocument checks the commitment and recomputes every flip. Outcomes are
// only replayed when rules are known and the session ran on the regular curve.
func verifyDocument(document sessionDocument, rules *game.GameRules) (report, error) {
	clientSeed, err := game.NewClientSeed(document.ClientSeed)
	if err != nil {
		return report{}, err
	}
	commitment := document.ServerSeedHash
	if commitment == "" {
		commitment = game.CommitSeed(document.ServerSeed)
	}
	result := report{
		SessionID:      document.SessionID,
		ServerSeedHash: commitment,
		HashValid:      game.VerifySeed(document.ServerSeed, commitment),
		Flips:          make([]flipReport, 0, len(document.Flips)),
	}
	consistent := result.HashValid

	var replay *game.Verification
	if rules != nil && !document.Simulated {
		replayed, err := replaySession(document, clientSeed, *rules)
		if err != nil {
			return report{}, err
		}
		replay = &replayed
		result.OutcomesChecked = true
	}

	for index, flip := range document.Flips {
		draw := game.DrawFlip(document.ServerSeed, clientSeed, flip.Number)
		entry := flipReport{
			Number:           flip.Number,
			ResultHash:       draw.ResultHash(),
			ZeroDraw:         draw.ZeroDraw,
			DenominationDraw: draw.DenominationDraw,
		}
		if flip.ResultHash != "" {
			matches := strings.EqualFold(flip.ResultHash, entry.ResultHash)
			entry.HashMatches = &matches
			consistent = consistent && matches
		}
		if replay != nil {
			verified := replay.Flips[index]
			isZero := verified.IsZero
			denomination := verified.Denomination.Int64()
			matches := verified.Matches
			entry.IsZero = &isZero
			entry.Denomination = &denomination
			if !flip.generated {
				entry.OutcomeMatches = &matches
				consistent = consistent && matches
			}
		}
		result.Flips = append(result.Flips, entry)
	}
	result.Consistent = consistent
	return result, nil
}

func replaySession(document sessionDocument, clientSeed game.ClientSeed, rules game.GameRules) (game.Verification, error) {
	rawID := document.SessionID
	if strings.TrimSpace(rawID) == "" {
		rawID = offlineSessionID
	}
	sessionID, err := game.NewSessionID(rawID)
	if err != nil {
		return game.Verification{}, err
	}
	session := game.Session{
		ID:             sessionID,
		ServerSeed:     document.ServerSeed,
		ServerSeedHash: game.CommitSeed(document.ServerSeed),
		ClientSeed:     clientSeed,
		Stake:          game.AmountCents(document.Stake),
		Rules:          rules,
		Flips:          make([]game.Flip, 0, len(document.Flips)),
	}
	for _, flip := range document.Flips {
		stored := game.Flip{
			SessionID:           sessionID,
			Number:              flip.Number,
			Denomination:        game.AmountCents(flip.Denomination),
			IsZero:              flip.IsZero,
			ResultHash:          flip.ResultHash,
			CashoutBalanceAfter: game.AmountCents(flip.BalanceAfter),
		}
		if stored.ResultHash == "" {
			stored.ResultHash = game.DrawFlip(document.ServerSeed, clientSeed, flip.Number).ResultHash()
		}
		session.Flips = append(session.Flips, stored)
	}
	return game.ReplaySession(session), nil
}
