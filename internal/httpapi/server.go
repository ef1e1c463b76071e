// Package httpapi serves the partner-facing REST surface of the game engine.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/internal/metrics"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GameService is the slice of game.Service the API drives.
type GameService interface {
	RegisterPlayer(ctx context.Context, partnerID game.PartnerID, externalID string, displayName string) (game.Player, error)
	GameConfig(ctx context.Context, partnerID game.PartnerID, currency game.Currency) (game.GameConfig, error)
	ConfigureWebhook(ctx context.Context, partnerID game.PartnerID, webhookURL string, events []game.EventType) error
	Start(ctx context.Context, request game.StartRequest) (game.StartResult, error)
	Flip(ctx context.Context, sessionID game.SessionID) (game.FlipResult, error)
	Cashout(ctx context.Context, sessionID game.SessionID) (game.CashoutResult, error)
	State(ctx context.Context, sessionID game.SessionID) (game.SessionView, error)
	History(ctx context.Context, partnerID game.PartnerID, externalPlayerID string, limit int) ([]game.SessionView, error)
	Verify(ctx context.Context, sessionID game.SessionID) (game.Verification, error)
}

// SettlementService reads GGR for a partner and period.
type SettlementService interface {
	Preview(ctx context.Context, partnerID game.PartnerID, period game.SettlementPeriod) (game.Settlement, error)
	Stored(ctx context.Context, partnerID game.PartnerID, period game.SettlementPeriod) (game.Settlement, error)
}

// PartnerDirectory authenticates API keys.
type PartnerDirectory interface {
	GetPartnerByAPIKey(ctx context.Context, apiKey string) (game.Partner, error)
}

// Dependencies wires the router to the domain.
type Dependencies struct {
	Games       GameService
	Settlements SettlementService
	Partners    PartnerDirectory
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// NewRouter builds the gin engine for the partner API.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Games == nil || deps.Settlements == nil || deps.Partners == nil {
		return nil, fmt.Errorf("httpapi: games, settlements and partners are required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	handler := &httpHandler{
		cfg:         cfg,
		games:       deps.Games,
		settlements: deps.Settlements,
		partners:    deps.Partners,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	return setupRouter(cfg, handler), nil
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.observe)
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept", headerAPIKey, "X-Signature", headerTimestamp},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(handler.metrics.Handler()))

	api := router.Group("/")
	api.Use(handler.authenticate, handler.withTimeout)

	api.POST("/players/auth", handler.handlePlayerAuth)
	api.GET("/game/config", handler.handleGameConfig)
	api.POST("/game/start", handler.handleStart)
	api.POST("/game/flip", handler.handleFlip)
	api.POST("/game/cashout", handler.handleCashout)
	api.GET("/game/state/:id", handler.handleState)
	api.GET("/game/verify/:id", handler.handleVerify)
	api.GET("/game/history/:ext_player_id", handler.handleHistory)
	api.GET("/reports/ggr", handler.handleGGR)
	api.POST("/webhooks/configure", handler.handleConfigureWebhook)

	return router
}

// Run serves handler on cfg.ListenAddr until ctx is cancelled.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coinflip api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type httpHandler struct {
	cfg         Config
	games       GameService
	settlements SettlementService
	partners    PartnerDirectory
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

func (handler *httpHandler) observe(ctx *gin.Context) {
	done := handler.metrics.TrackInFlight()
	defer done()
	started := time.Now()
	ctx.Next()
	route := ctx.FullPath()
	if route == "" {
		route = "unmatched"
	}
	handler.metrics.ObserveHTTP(ctx.Request.Method, route, ctx.Writer.Status(), time.Since(started))
}

func (handler *httpHandler) withTimeout(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	ctx.Request = ctx.Request.WithContext(requestCtx)
	ctx.Next()
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("operation", operation),
			zap.String("route", ctx.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", game.ErrValidation)
	}
	return limit, nil
}
