package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/coinflip/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/coinflip/pkg/game"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagPartnerID   = "partner-id"
	flagName        = "name"
	flagAPIKey      = "api-key"
	flagSecret      = "secret"
	flagDebitURL    = "debit-url"
	flagCreditURL   = "credit-url"
	flagRollbackURL = "rollback-url"
	flagWebhookURL  = "webhook-url"
	flagEvents      = "events"
	flagCommission  = "commission-percent"

	flagCurrency           = "currency"
	flagHouseEdge          = "house-edge-percent"
	flagMinStake           = "min-stake"
	flagMaxStake           = "max-stake"
	flagMaxCashout         = "max-cashout"
	flagPauseCost          = "pause-cost-percent"
	flagZeroBaseRate       = "zero-base-rate"
	flagZeroGrowthRate     = "zero-growth-rate"
	flagMinFlipsBeforeZero = "min-flips-before-zero"
	flagMaxSessionMinutes  = "max-session-minutes"

	flagPlayerID          = "player-id"
	flagMode              = "mode"
	flagForceZeroAt       = "force-zero-at"
	flagFixedProbability  = "fixed-probability"
	flagWinStreak         = "win-streak"
	flagForceDenomination = "force-denomination"
	flagOverrideMinStake  = "override-min-stake"
	flagOverrideCashout   = "override-max-cashout"
	flagTestBalance       = "test-balance"
	flagAutoDisableAfter  = "auto-disable-after"
	flagNotes             = "notes"
	flagDisabled          = "disabled"

	flagPeriod = "period"
	flagLimit  = "limit"

	defaultAlertLimit = 100

	generatedSecretBytes = 32
)

// withStore opens the database for one admin command.
func withStore(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, store *gormstore.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	database, store, err := openStore(ctx, v, nil)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()
	return fn(ctx, store)
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func newMigrateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := databaseURL(v)
			if err != nil {
				return err
			}
			database, err := gormstore.Open(cmd.Context(), dsn, newGormLogger(zap.NewNop()))
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = database.Close() }()
			if err := gormstore.Migrate(database.DB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema migrated (%s)\n", database.Driver)
			return nil
		},
	}
}

func newPartnerCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "partner", Short: "Manage partners"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a partner and print its credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			partner, err := partnerFromFlags(cmd)
			if err != nil {
				return err
			}
			return withStore(cmd, v, func(ctx context.Context, store *gormstore.Store) error {
				if err := store.CreatePartner(ctx, partner); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"partner_id": partner.ID.String(),
					"api_key":    partner.APIKey,
					"secret":     partner.Secret,
				})
			})
		},
	}
	add.Flags().String(flagPartnerID, "", "partner identifier (required)")
	add.Flags().String(flagName, "", "display name")
	add.Flags().String(flagAPIKey, "", "API key; generated when empty")
	add.Flags().String(flagSecret, "", "HMAC secret; generated when empty")
	add.Flags().String(flagDebitURL, "", "wallet debit endpoint")
	add.Flags().String(flagCreditURL, "", "wallet credit endpoint")
	add.Flags().String(flagRollbackURL, "", "wallet rollback endpoint")
	add.Flags().String(flagWebhookURL, "", "webhook endpoint")
	add.Flags().StringSlice(flagEvents, nil, "subscribed webhook events")
	add.Flags().String(flagCommission, "0", "commission percent charged on positive GGR")

	list := &cobra.Command{
		Use:   "list",
		Short: "List partners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, v, func(ctx context.Context, store *gormstore.Store) error {
				partners, err := store.ListPartners(ctx)
				if err != nil {
					return err
				}
				rows := make([]map[string]any, 0, len(partners))
				for _, partner := range partners {
					rows = append(rows, map[string]any{
						"partner_id":         partner.ID.String(),
						"name":               partner.Name,
						"webhook_url":        partner.WebhookURL,
						"commission_percent": partner.CommissionPercent.String(),
					})
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func partnerFromFlags(cmd *cobra.Command) (game.Partner, error) {
	flags := cmd.Flags()
	rawID, _ := flags.GetString(flagPartnerID)
	partnerID, err := game.NewPartnerID(rawID)
	if err != nil {
		return game.Partner{}, err
	}
	rawEvents, _ := flags.GetStringSlice(flagEvents)
	events, err := game.ParseEventTypes(rawEvents)
	if err != nil {
		return game.Partner{}, err
	}
	rawCommission, _ := flags.GetString(flagCommission)
	commission, err := decimal.NewFromString(strings.TrimSpace(rawCommission))
	if err != nil || commission.IsNegative() || commission.GreaterThan(decimal.NewFromInt(100)) {
		return game.Partner{}, fmt.Errorf("%w: commission percent must be within [0, 100]", game.ErrValidation)
	}
	apiKey, _ := flags.GetString(flagAPIKey)
	if apiKey, err = valueOrRandom(apiKey); err != nil {
		return game.Partner{}, err
	}
	secret, _ := flags.GetString(flagSecret)
	if secret, err = valueOrRandom(secret); err != nil {
		return game.Partner{}, err
	}
	name, _ := flags.GetString(flagName)
	debitURL, _ := flags.GetString(flagDebitURL)
	creditURL, _ := flags.GetString(flagCreditURL)
	rollbackURL, _ := flags.GetString(flagRollbackURL)
	webhookURL, _ := flags.GetString(flagWebhookURL)
	return game.Partner{
		ID:                partnerID,
		Name:              defaultIfBlank(name, partnerID.String()),
		APIKey:            apiKey,
		Secret:            secret,
		DebitURL:          strings.TrimSpace(debitURL),
		CreditURL:         strings.TrimSpace(creditURL),
		RollbackURL:       strings.TrimSpace(rollbackURL),
		WebhookURL:        strings.TrimSpace(webhookURL),
		SubscribedEvents:  events,
		CommissionPercent: commission,
	}, nil
}

func valueOrRandom(value string) (string, error) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed, nil
	}
	buffer := make([]byte, generatedSecretBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return hex.EncodeToString(buffer), nil
}

func defaultIfBlank(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func newConfigCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage game configs"}
	set := &cobra.Command{
		Use:   "set",
		Short: "Activate game rules for a partner and currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			rawPartner, _ := flags.GetString(flagPartnerID)
			partnerID, err := game.NewPartnerID(rawPartner)
			if err != nil {
				return err
			}
			rawCurrency, _ := flags.GetString(flagCurrency)
			currency, err := game.NewCurrency(rawCurrency)
			if err != nil {
				return err
			}
			houseEdge, _ := flags.GetFloat64(flagHouseEdge)
			minStake, _ := flags.GetInt64(flagMinStake)
			maxStake, _ := flags.GetInt64(flagMaxStake)
			maxCashout, _ := flags.GetInt64(flagMaxCashout)
			pauseCost, _ := flags.GetFloat64(flagPauseCost)
			zeroBase, _ := flags.GetFloat64(flagZeroBaseRate)
			zeroGrowth, _ := flags.GetFloat64(flagZeroGrowthRate)
			minFlips, _ := flags.GetInt(flagMinFlipsBeforeZero)
			maxMinutes, _ := flags.GetInt(flagMaxSessionMinutes)
			rules := game.GameRules{
				HouseEdgePercent:          houseEdge,
				MinStake:                  game.AmountCents(minStake),
				MaxStake:                  game.AmountCents(maxStake),
				MaxCashout:                game.AmountCents(maxCashout),
				PauseCostPercent:          pauseCost,
				ZeroBaseRate:              zeroBase,
				ZeroGrowthRate:            zeroGrowth,
				MinFlipsBeforeZero:        minFlips,
				MaxSessionDurationMinutes: maxMinutes,
			}
			return withStore(cmd, v, func(ctx context.Context, store *gormstore.Store) error {
				if _, err := store.GetPartner(ctx, partnerID); err != nil {
					return err
				}
				config, err := store.ActivateGameConfig(ctx, partnerID, currency, rules)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"config_id":  config.ID,
					"partner_id": config.PartnerID.String(),
					"currency":   config.Currency.String(),
					"rules":      config.Rules,
				})
			})
		},
	}
	set.Flags().String(flagPartnerID, "", "partner identifier (required)")
	set.Flags().String(flagCurrency, "", "currency code (required)")
	set.Flags().Float64(flagHouseEdge, 4, "house edge percent")
	set.Flags().Int64(flagMinStake, 100, "minimum stake in cents")
	set.Flags().Int64(flagMaxStake, 100000, "maximum stake in cents")
	set.Flags().Int64(flagMaxCashout, 1000000, "maximum cashout balance in cents")
	set.Flags().Float64(flagPauseCost, 0, "pause cost percent")
	set.Flags().Float64(flagZeroBaseRate, 0.05, "zero probability at the first eligible flip")
	set.Flags().Float64(flagZeroGrowthRate, 0.15, "growth of the zero probability per flip")
	set.Flags().Int(flagMinFlipsBeforeZero, 3, "flips guaranteed to be non-zero")
	set.Flags().Int(flagMaxSessionMinutes, 30, "session lifetime before expiry")
	cmd.AddCommand(set)
	return cmd
}

func newSimulationCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "simulation", Short: "Manage operator test-mode configs"}

	add := &cobra.Command{
		Use:   "add",
		Short: "Store a simulated config (enabled unless --disabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := simulationFromFlags(cmd)
			if err != nil {
				return err
			}
			return withStore(cmd, v, func(ctx context.Context, store *gormstore.Store) error {
				if !config.ApplyToAllPlayers {
					if _, err := store.GetPlayer(ctx, config.PlayerID); err != nil {
						return err
					}
				}
				saved, err := store.SaveSimulatedConfig(ctx, config)
				if err != nil {
					return err
				}
				mode, _, _, _ := game.FlattenOutcomeRule(saved.Rule)
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"config_id":  saved.ID,
					"partner_id": saved.PartnerID.String(),
					"mode":       mode,
					"enabled":    saved.IsEnabled,
				})
			})
		},
	}
	add.Flags().String(flagPartnerID, "", "partner identifier (required)")
	add.Flags().String(flagPlayerID, "", "engine player id; empty applies to all players")
	add.Flags().String(flagMode, string(game.OutcomeModeNormal), "normal, force_zero_at, fixed_probability or streak_then_lose")
	add.Flags().Int(flagForceZeroAt, 0, "flip that loses in force_zero_at mode")
	add.Flags().Float64(flagFixedProbability, 0, "zero probability in fixed_probability mode")
	add.Flags().Int(flagWinStreak, 0, "winning flips before the loss in streak_then_lose mode")
	add.Flags().Int64(flagForceDenomination, 0, "fixed denomination per flip in cents")
	add.Flags().Int64(flagOverrideMinStake, 0, "minimum stake override in cents")
	add.Flags().Int64(flagOverrideCashout, 0, "maximum cashout override in cents")
	add.Flags().Int64(flagTestBalance, 0, "test balance; sessions skip the wallet")
	add.Flags().Int(flagAutoDisableAfter, 0, "disable after this many sessions (0 = never)")
	add.Flags().String(flagNotes, "", "free-form notes")
	add.Flags().Bool(flagDisabled, false, "store the config disabled")

	toggle := func(use string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " CONFIG_ID",
			Short: strings.ToUpper(use[:1]) + use[1:] + " a simulated config",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, v, func(ctx context.Context, store *gormstore.Store) error {
					if err := store.SetSimulatedConfigEnabled(ctx, strings.TrimSpace(args[0]), enabled); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "simulated config %s enabled=%t\n", args[0], enabled)
					return nil
				})
			},
		}
	}

	cmd.AddCommand(add, toggle("enable", true), toggle("disable", false))
	return cmd
}

func simulationFromFlags(cmd *cobra.Command) (game.SimulatedConfig, error) {
	flags := cmd.Flags()
	rawPartner, _ := flags.GetString(flagPartnerID)
	partnerID, err := game.NewPartnerID(rawPartner)
	if err != nil {
		return game.SimulatedConfig{}, err
	}
	rawMode, _ := flags.GetString(flagMode)
	mode, err := game.ParseOutcomeMode(strings.TrimSpace(rawMode))
	if err != nil {
		return game.SimulatedConfig{}, err
	}
	forceZeroAt, _ := flags.GetInt(flagForceZeroAt)
	fixedProbability, _ := flags.GetFloat64(flagFixedProbability)
	winStreak, _ := flags.GetInt(flagWinStreak)
	rule, err := game.NewOutcomeRule(mode, forceZeroAt, fixedProbability, winStreak)
	if err != nil {
		return game.SimulatedConfig{}, err
	}
	config := game.SimulatedConfig{
		PartnerID: partnerID,
		Rule:      rule,
	}
	rawPlayer, _ := flags.GetString(flagPlayerID)
	if strings.TrimSpace(rawPlayer) == "" {
		config.ApplyToAllPlayers = true
	} else {
		playerID, err := game.NewPlayerID(rawPlayer)
		if err != nil {
			return game.SimulatedConfig{}, err
		}
		config.PlayerID = playerID
	}
	forceDenomination, _ := flags.GetInt64(flagForceDenomination)
	overrideMinStake, _ := flags.GetInt64(flagOverrideMinStake)
	overrideCashout, _ := flags.GetInt64(flagOverrideCashout)
	testBalance, _ := flags.GetInt64(flagTestBalance)
	config.Overrides = game.SimulationOverrides{
		ForceDenomination: game.AmountCents(forceDenomination),
		MinStake:          game.AmountCents(overrideMinStake),
		MaxCashout:        game.AmountCents(overrideCashout),
		TestBalance:       game.AmountCents(testBalance),
	}
	config.AutoDisableAfter, _ = flags.GetInt(flagAutoDisableAfter)
	config.Notes, _ = flags.GetString(flagNotes)
	disabled, _ := flags.GetBool(flagDisabled)
	config.IsEnabled = !disabled
	return config, config.Validate()
}

func newSettleCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Generate settlements for a closed month",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawPeriod, _ := cmd.Flags().GetString(flagPeriod)
			period := game.MonthlyPeriod(time.Now().UTC()).Previous()
			if strings.TrimSpace(rawPeriod) != "" {
				parsed, err := game.ParsePeriod(rawPeriod)
				if err != nil {
					return err
				}
				period = parsed
			}
			return withStore(cmd, v, func(ctx context.Context, store *gormstore.Store) error {
				aggregator, err := game.NewSettlementAggregator(store, func() int64 { return time.Now().UTC().Unix() })
				if err != nil {
					return err
				}
				settlements, err := aggregator.GenerateAll(ctx, period)
				rows := make([]map[string]any, 0, len(settlements))
				for _, settlement := range settlements {
					rows = append(rows, map[string]any{
						"partner_id":          settlement.PartnerID.String(),
						"period":              settlement.Period.Key,
						"total_bets":          settlement.TotalBets.Int64(),
						"total_wins":          settlement.TotalWins.Int64(),
						"ggr":                 settlement.GGR.Int64(),
						"commission_amount":   settlement.CommissionAmount.Int64(),
						"net_operator_amount": settlement.NetOperatorAmount.Int64(),
					})
				}
				if printErr := printJSON(cmd.OutOrStdout(), rows); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
	cmd.Flags().String(flagPeriod, "", "settlement month as YYYY-MM (defaults to the previous month)")
	return cmd
}

func newAlertsCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List wallet operations awaiting manual reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt(flagLimit)
			if limit <= 0 {
				return fmt.Errorf("%w: limit must be positive", game.ErrValidation)
			}
			return withStore(cmd, v, func(ctx context.Context, store *gormstore.Store) error {
				alerts, err := store.ListReconciliationAlerts(ctx, limit)
				if err != nil {
					return err
				}
				rows := make([]map[string]any, 0, len(alerts))
				for _, alert := range alerts {
					rows = append(rows, map[string]any{
						"tx_ref":     alert.TxRef.String(),
						"session_id": alert.SessionID.String(),
						"partner_id": alert.PartnerID.String(),
						"operation":  alert.Operation.String(),
						"amount":     alert.Amount.Int64(),
						"reason":     alert.Reason,
						"created_at": time.Unix(alert.CreatedUnixUTC, 0).UTC().Format(time.RFC3339),
					})
				}
				return printJSON(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().Int(flagLimit, defaultAlertLimit, "maximum number of alerts to print")
	return cmd
}
