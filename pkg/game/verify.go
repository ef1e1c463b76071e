package game

import (
	"context"
	"strings"
)

// VerifiedFlip compares a stored flip with its recomputation.
type VerifiedFlip struct {
	Number       int
	IsZero       bool
	Denomination AmountCents
	ResultHash   string
	Matches      bool
}

// Verification is the replay of a closed session from its revealed seed.
type Verification struct {
	SessionID      SessionID
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     ClientSeed
	HashValid      bool
	Simulated      bool
	Flips          []VerifiedFlip
	Consistent     bool
}

// Verify replays a terminal session. Open sessions keep their seed secret.
func (service *Service) Verify(ctx context.Context, sessionID SessionID) (Verification, error) {
	verification, partnerID, err := service.verify(ctx, sessionID)
	service.logOperation(ctx, OperationLog{
		Operation: operationVerify,
		PartnerID: partnerID,
		SessionID: sessionID,
		Error:     err,
	})
	return verification, err
}

func (service *Service) verify(ctx context.Context, sessionID SessionID) (Verification, PartnerID, error) {
	session, err := service.loadSession(ctx, sessionID)
	if err != nil {
		return Verification{}, PartnerID{}, err
	}
	if !session.Status.IsTerminal() {
		return Verification{}, session.PartnerID, ErrSeedNotRevealed
	}
	return ReplaySession(session), session.PartnerID, nil
}

// ReplaySession recomputes every flip of a session from its seeds.
func ReplaySession(session Session) Verification {
	verification := Verification{
		SessionID:      session.ID,
		ServerSeed:     session.ServerSeed,
		ServerSeedHash: session.ServerSeedHash,
		ClientSeed:     session.ClientSeed,
		HashValid:      VerifySeed(session.ServerSeed, session.ServerSeedHash),
		Simulated:      session.Simulation != nil,
		Flips:          make([]VerifiedFlip, 0, len(session.Flips)),
	}
	consistent := verification.HashValid
	limits := session.Limits()
	for _, stored := range session.Flips {
		draw := DrawFlip(session.ServerSeed, session.ClientSeed, stored.Number)
		outcome, err := resolveOutcome(draw, stored.Number, session.Rules, session.Stake, session.Simulation)
		matches := err == nil &&
			strings.EqualFold(outcome.ResultHash, stored.ResultHash) &&
			outcome.IsZero == stored.IsZero &&
			denominationMatches(outcome, stored, limits)
		if !matches {
			consistent = false
		}
		verification.Flips = append(verification.Flips, VerifiedFlip{
			Number:       stored.Number,
			IsZero:       outcome.IsZero,
			Denomination: outcome.Denomination,
			ResultHash:   outcome.ResultHash,
			Matches:      matches,
		})
	}
	verification.Consistent = consistent
	return verification
}

// denominationMatches accepts an award trimmed by the cashout cap.
func denominationMatches(outcome Outcome, stored Flip, limits Limits) bool {
	if outcome.IsZero {
		return stored.Denomination == 0
	}
	if outcome.Denomination == stored.Denomination {
		return true
	}
	return limits.MaxCashout > 0 &&
		stored.CashoutBalanceAfter == limits.MaxCashout &&
		stored.Denomination < outcome.Denomination
}
