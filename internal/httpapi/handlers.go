package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/gin-gonic/gin"
)

type playerAuthRequest struct {
	ExternalPlayerID string `json:"external_player_id"`
	DisplayName      string `json:"display_name"`
}

type startRequest struct {
	ExternalPlayerID string `json:"external_player_id"`
	Currency         string `json:"currency"`
	Stake            int64  `json:"stake"`
	ClientSeed       string `json:"client_seed"`
	ExternalRef      string `json:"external_ref"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func (handler *httpHandler) handlePlayerAuth(ctx *gin.Context) {
	partner, _ := getPartner(ctx)
	var request playerAuthRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	player, err := handler.games.RegisterPlayer(ctx.Request.Context(), partner.ID, request.ExternalPlayerID, request.DisplayName)
	if err != nil {
		handler.respondError(ctx, "players.auth", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"player_id":          player.ID.String(),
		"external_player_id": player.ExternalID,
		"display_name":       player.DisplayName,
	})
}

func (handler *httpHandler) handleGameConfig(ctx *gin.Context) {
	partner, _ := getPartner(ctx)
	currency, err := game.NewCurrency(ctx.Query("currency"))
	if err != nil {
		handler.respondError(ctx, "game.config", err)
		return
	}
	config, err := handler.games.GameConfig(ctx.Request.Context(), partner.ID, currency)
	if err != nil {
		handler.respondError(ctx, "game.config", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"currency":                     config.Currency.String(),
		"house_edge_percent":           config.Rules.HouseEdgePercent,
		"min_stake":                    int64(config.Rules.MinStake),
		"max_stake":                    int64(config.Rules.MaxStake),
		"max_cashout":                  int64(config.Rules.MaxCashout),
		"pause_cost_percent":           config.Rules.PauseCostPercent,
		"min_flips_before_zero":        config.Rules.MinFlipsBeforeZero,
		"max_session_duration_minutes": config.Rules.MaxSessionDurationMinutes,
	})
}

func (handler *httpHandler) handleStart(ctx *gin.Context) {
	partner, _ := getPartner(ctx)
	var request startRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	currency, err := game.NewCurrency(request.Currency)
	if err != nil {
		handler.respondError(ctx, "game.start", err)
		return
	}
	stake, err := game.NewStakeAmount(request.Stake)
	if err != nil {
		handler.respondError(ctx, "game.start", err)
		return
	}
	clientSeed, err := game.NewClientSeed(request.ClientSeed)
	if err != nil {
		handler.respondError(ctx, "game.start", err)
		return
	}
	result, err := handler.games.Start(ctx.Request.Context(), game.StartRequest{
		PartnerID:        partner.ID,
		ExternalPlayerID: strings.TrimSpace(request.ExternalPlayerID),
		Currency:         currency,
		Stake:            stake,
		ClientSeed:       clientSeed,
		ExternalRef:      strings.TrimSpace(request.ExternalRef),
	})
	if err != nil {
		handler.respondError(ctx, "game.start", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"session_id":       result.SessionID.String(),
		"server_seed_hash": result.ServerSeedHash,
		"currency":         result.Currency.String(),
		"stake":            int64(result.Stake),
		"limits": gin.H{
			"min_stake":   int64(result.Limits.MinStake),
			"max_stake":   int64(result.Limits.MaxStake),
			"max_cashout": int64(result.Limits.MaxCashout),
		},
		"is_test":    result.IsTest,
		"started_at": result.StartedUnixUTC,
	})
}

func (handler *httpHandler) handleFlip(ctx *gin.Context) {
	sessionID, ok := handler.ownedSessionFromBody(ctx, "game.flip")
	if !ok {
		return
	}
	result, err := handler.games.Flip(ctx.Request.Context(), sessionID)
	if err != nil {
		handler.respondError(ctx, "game.flip", err)
		return
	}
	response := gin.H{
		"session_id":      result.SessionID.String(),
		"flip":            flipPayload(result.Flip),
		"status":          result.Status.String(),
		"cashout_balance": int64(result.CashoutBalance),
	}
	if result.ServerSeed != "" {
		response["server_seed"] = result.ServerSeed
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleCashout(ctx *gin.Context) {
	sessionID, ok := handler.ownedSessionFromBody(ctx, "game.cashout")
	if !ok {
		return
	}
	result, err := handler.games.Cashout(ctx.Request.Context(), sessionID)
	if err != nil && !errors.Is(err, game.ErrReconciliationRequired) {
		handler.respondError(ctx, "game.cashout", err)
		return
	}
	status := http.StatusOK
	response := gin.H{
		"session_id":     result.SessionID.String(),
		"amount":         int64(result.Amount),
		"status":         result.Status.String(),
		"tx_ref":         result.TxRef.String(),
		"credit_pending": err != nil,
	}
	if err != nil {
		// Credit unconfirmed: the session stays credit-pending until reconciled.
		status = http.StatusAccepted
	}
	if result.ServerSeed != "" {
		response["server_seed"] = result.ServerSeed
		response["server_seed_hash"] = result.ServerSeedHash
	}
	ctx.JSON(status, response)
}

func (handler *httpHandler) handleState(ctx *gin.Context) {
	view, ok := handler.ownedSession(ctx, "game.state", ctx.Param("id"))
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, sessionPayload(view))
}

func (handler *httpHandler) handleVerify(ctx *gin.Context) {
	view, ok := handler.ownedSession(ctx, "game.verify", ctx.Param("id"))
	if !ok {
		return
	}
	verification, err := handler.games.Verify(ctx.Request.Context(), view.SessionID)
	if err != nil {
		handler.respondError(ctx, "game.verify", err)
		return
	}
	flips := make([]gin.H, 0, len(verification.Flips))
	for _, flip := range verification.Flips {
		flips = append(flips, gin.H{
			"number":       flip.Number,
			"is_zero":      flip.IsZero,
			"denomination": int64(flip.Denomination),
			"result_hash":  flip.ResultHash,
			"matches":      flip.Matches,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"session_id":       verification.SessionID.String(),
		"server_seed":      verification.ServerSeed,
		"server_seed_hash": verification.ServerSeedHash,
		"client_seed":      verification.ClientSeed.String(),
		"hash_valid":       verification.HashValid,
		"simulated":        verification.Simulated,
		"consistent":       verification.Consistent,
		"flips":            flips,
	})
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	partner, _ := getPartner(ctx)
	limit, err := parseLimit(ctx.Query("limit"))
	if err != nil {
		handler.respondError(ctx, "game.history", err)
		return
	}
	views, err := handler.games.History(ctx.Request.Context(), partner.ID, ctx.Param("ext_player_id"), limit)
	if err != nil {
		handler.respondError(ctx, "game.history", err)
		return
	}
	sessions := make([]gin.H, 0, len(views))
	for _, view := range views {
		sessions = append(sessions, sessionPayload(view))
	}
	ctx.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (handler *httpHandler) handleGGR(ctx *gin.Context) {
	partner, _ := getPartner(ctx)
	period := game.MonthlyPeriod(handler.now().UTC())
	if raw := strings.TrimSpace(ctx.Query("period")); raw != "" {
		parsed, err := game.ParsePeriod(raw)
		if err != nil {
			handler.respondError(ctx, "reports.ggr", err)
			return
		}
		period = parsed
	}
	// Reports never settle; generation belongs to the scheduler and admin CLI.
	final := true
	settlement, err := handler.settlements.Stored(ctx.Request.Context(), partner.ID, period)
	if errors.Is(err, game.ErrUnknownSettlement) {
		final = false
		settlement, err = handler.settlements.Preview(ctx.Request.Context(), partner.ID, period)
	}
	if err != nil {
		handler.respondError(ctx, "reports.ggr", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"period":              settlement.Period.Key,
		"final":               final,
		"total_bets":          int64(settlement.TotalBets),
		"total_wins":          int64(settlement.TotalWins),
		"ggr":                 int64(settlement.GGR),
		"commission_percent":  settlement.CommissionPercent.String(),
		"commission_amount":   int64(settlement.CommissionAmount),
		"net_operator_amount": int64(settlement.NetOperatorAmount),
	})
}

func (handler *httpHandler) handleConfigureWebhook(ctx *gin.Context) {
	partner, _ := getPartner(ctx)
	var request webhookRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	events, err := game.ParseEventTypes(request.Events)
	if err != nil {
		handler.respondError(ctx, "webhooks.configure", err)
		return
	}
	if err := handler.games.ConfigureWebhook(ctx.Request.Context(), partner.ID, request.URL, events); err != nil {
		handler.respondError(ctx, "webhooks.configure", err)
		return
	}
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.String())
	}
	ctx.JSON(http.StatusOK, gin.H{"url": strings.TrimSpace(request.URL), "events": names})
}

func (handler *httpHandler) ownedSessionFromBody(ctx *gin.Context, operation string) (game.SessionID, bool) {
	var request sessionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return game.SessionID{}, false
	}
	view, ok := handler.ownedSession(ctx, operation, request.SessionID)
	return view.SessionID, ok
}

// ownedSession loads a session and hides sessions of other partners as unknown.
func (handler *httpHandler) ownedSession(ctx *gin.Context, operation string, rawSessionID string) (game.SessionView, bool) {
	partner, _ := getPartner(ctx)
	sessionID, err := game.NewSessionID(rawSessionID)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return game.SessionView{}, false
	}
	view, err := handler.games.State(ctx.Request.Context(), sessionID)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return game.SessionView{}, false
	}
	if view.PartnerID != partner.ID {
		handler.respondError(ctx, operation, game.ErrUnknownSession)
		return game.SessionView{}, false
	}
	return view, true
}

func flipPayload(flip game.Flip) gin.H {
	return gin.H{
		"number":                flip.Number,
		"denomination":          int64(flip.Denomination),
		"is_zero":               flip.IsZero,
		"result_hash":           flip.ResultHash,
		"cashout_balance_after": int64(flip.CashoutBalanceAfter),
		"created_at":            flip.CreatedUnixUTC,
	}
}

func sessionPayload(view game.SessionView) gin.H {
	flips := make([]gin.H, 0, len(view.Flips))
	for _, flip := range view.Flips {
		flips = append(flips, flipPayload(flip))
	}
	payload := gin.H{
		"session_id":       view.SessionID.String(),
		"player_id":        view.PlayerID.String(),
		"external_ref":     view.ExternalRef,
		"currency":         view.Currency.String(),
		"stake":            int64(view.Stake),
		"server_seed_hash": view.ServerSeedHash,
		"client_seed":      view.ClientSeed.String(),
		"flips":            flips,
		"cashout_balance":  int64(view.CashoutBalance),
		"status":           view.Status.String(),
		"started_at":       view.StartedUnixUTC,
		"credit_pending":   view.CreditPending,
		"is_test":          view.IsTest,
	}
	if view.ServerSeed != "" {
		payload["server_seed"] = view.ServerSeed
	}
	if view.EndedUnixUTC > 0 {
		payload["ended_at"] = view.EndedUnixUTC
	}
	return payload
}
