package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/gin-gonic/gin"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: reconciliation errors also wrap the wallet cause.
var errorMappings = []errorMapping{
	{target: game.ErrAuth, status: http.StatusUnauthorized, code: "unauthorized"},
	{target: game.ErrValidation, status: http.StatusBadRequest, code: "invalid_request"},
	{target: game.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: game.ErrInsufficientFunds, status: http.StatusPaymentRequired, code: "insufficient_funds"},
	{target: game.ErrWalletDeclined, status: http.StatusUnprocessableEntity, code: "wallet_declined"},
	{target: game.ErrReconciliationRequired, status: http.StatusBadGateway, code: "reconciliation_required"},
	{target: game.ErrWalletTimeout, status: http.StatusGatewayTimeout, code: "wallet_timeout"},
	{target: game.ErrWalletUnavailable, status: http.StatusBadGateway, code: "wallet_unavailable"},
	{target: game.ErrConflict, status: http.StatusConflict, code: "conflict"},
	{target: game.ErrInvalidState, status: http.StatusConflict, code: "invalid_state"},
}

func statusFor(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
