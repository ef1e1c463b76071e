package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/internal/signature"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerAPIKey    = "X-API-Key"
	headerTimestamp = "X-Timestamp"
	partnerKey      = "partner"
)

// authenticate resolves the partner from X-API-Key and checks X-Signature
// over the raw body. X-Timestamp, when present, must fall inside the window.
func (handler *httpHandler) authenticate(ctx *gin.Context) {
	apiKey := strings.TrimSpace(ctx.GetHeader(headerAPIKey))
	if apiKey == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing api key"))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, handler.cfg.MaxBodyBytes))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse("invalid_payload", "request body too large"))
		return
	}
	ctx.Request.Body = io.NopCloser(bytes.NewReader(body))

	partner, err := handler.partners.GetPartnerByAPIKey(ctx.Request.Context(), apiKey)
	if err != nil {
		if !errors.Is(err, game.ErrNotFound) && !errors.Is(err, game.ErrAuth) {
			handler.logger.Error("partner lookup failed", zap.Error(err))
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse("internal_error", "partner lookup failed"))
			return
		}
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "unknown api key"))
		return
	}
	if !signature.Verify(partner.Secret, body, ctx.GetHeader(signature.Header)) {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid signature"))
		return
	}
	if rawTimestamp := strings.TrimSpace(ctx.GetHeader(headerTimestamp)); rawTimestamp != "" {
		timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid timestamp"))
			return
		}
		skew := handler.now().Sub(time.Unix(timestamp, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > handler.cfg.SignatureWindow {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "timestamp outside replay window"))
			return
		}
	}
	ctx.Set(partnerKey, partner)
	ctx.Next()
}

func getPartner(ctx *gin.Context) (game.Partner, bool) {
	value, ok := ctx.Get(partnerKey)
	if !ok {
		return game.Partner{}, false
	}
	partner, ok := value.(game.Partner)
	return partner, ok
}
