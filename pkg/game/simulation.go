package game

import (
	"fmt"
	"math"
)

// OutcomeMode names an operator test-mode rule.
type OutcomeMode string

const (
	OutcomeModeNormal           OutcomeMode = "normal"
	OutcomeModeForceZeroAt      OutcomeMode = "force_zero_at"
	OutcomeModeFixedProbability OutcomeMode = "fixed_probability"
	OutcomeModeStreakThenLose   OutcomeMode = "streak_then_lose"
)

// ParseOutcomeMode validates a stored mode.
func ParseOutcomeMode(raw string) (OutcomeMode, error) {
	switch OutcomeMode(raw) {
	case OutcomeModeNormal, OutcomeModeForceZeroAt, OutcomeModeFixedProbability, OutcomeModeStreakThenLose:
		return OutcomeMode(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown outcome mode %q", ErrInvalidSimulation, raw)
	}
}

// OutcomeRule is the mode-specific part of a SimulatedConfig.
// The set of implementations is closed to this package.
type OutcomeRule interface {
	Mode() OutcomeMode
	isOutcomeRule()
}

// NormalRule keeps the configured probability curve.
type NormalRule struct{}

// ForceZeroAtRule makes every flip before Flip win and Flip itself lose.
type ForceZeroAtRule struct {
	Flip int
}

// FixedProbabilityRule replaces the curve with a constant zero probability.
type FixedProbabilityRule struct {
	Probability float64
}

// StreakThenLoseRule grants WinStreak non-zero flips followed by a zero.
type StreakThenLoseRule struct {
	WinStreak int
}

func (NormalRule) Mode() OutcomeMode           { return OutcomeModeNormal }
func (ForceZeroAtRule) Mode() OutcomeMode      { return OutcomeModeForceZeroAt }
func (FixedProbabilityRule) Mode() OutcomeMode { return OutcomeModeFixedProbability }
func (StreakThenLoseRule) Mode() OutcomeMode   { return OutcomeModeStreakThenLose }

func (NormalRule) isOutcomeRule()           {}
func (ForceZeroAtRule) isOutcomeRule()      {}
func (FixedProbabilityRule) isOutcomeRule() {}
func (StreakThenLoseRule) isOutcomeRule()   {}

// NewOutcomeRule builds the rule for mode from its flat storage fields.
func NewOutcomeRule(mode OutcomeMode, forceZeroAtFlip int, fixedZeroProbability float64, winStreakLength int) (OutcomeRule, error) {
	var rule OutcomeRule
	switch mode {
	case OutcomeModeNormal:
		rule = NormalRule{}
	case OutcomeModeForceZeroAt:
		rule = ForceZeroAtRule{Flip: forceZeroAtFlip}
	case OutcomeModeFixedProbability:
		rule = FixedProbabilityRule{Probability: fixedZeroProbability}
	case OutcomeModeStreakThenLose:
		rule = StreakThenLoseRule{WinStreak: winStreakLength}
	default:
		return nil, fmt.Errorf("%w: unknown outcome mode %q", ErrInvalidSimulation, mode)
	}
	if err := validateOutcomeRule(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// FlattenOutcomeRule is the inverse of NewOutcomeRule.
func FlattenOutcomeRule(rule OutcomeRule) (mode OutcomeMode, forceZeroAtFlip int, fixedZeroProbability float64, winStreakLength int) {
	switch typed := rule.(type) {
	case ForceZeroAtRule:
		return OutcomeModeForceZeroAt, typed.Flip, 0, 0
	case FixedProbabilityRule:
		return OutcomeModeFixedProbability, 0, typed.Probability, 0
	case StreakThenLoseRule:
		return OutcomeModeStreakThenLose, 0, 0, typed.WinStreak
	default:
		return OutcomeModeNormal, 0, 0, 0
	}
}

func validateOutcomeRule(rule OutcomeRule) error {
	switch typed := rule.(type) {
	case NormalRule:
		return nil
	case ForceZeroAtRule:
		if typed.Flip < 1 {
			return fmt.Errorf("%w: force_zero_at_flip must be at least 1", ErrInvalidSimulation)
		}
		return nil
	case FixedProbabilityRule:
		if math.IsNaN(typed.Probability) || typed.Probability < 0 || typed.Probability > 1 {
			return fmt.Errorf("%w: fixed_zero_probability must be in [0,1]", ErrInvalidSimulation)
		}
		return nil
	case StreakThenLoseRule:
		if typed.WinStreak < 0 {
			return fmt.Errorf("%w: win_streak_length must not be negative", ErrInvalidSimulation)
		}
		return nil
	default:
		return fmt.Errorf("%w: missing outcome rule", ErrInvalidSimulation)
	}
}

// SimulationOverrides are the optional knobs of a SimulatedConfig. Zero means unset.
type SimulationOverrides struct {
	ForceDenomination AmountCents `json:"force_denomination_value,omitempty"`
	MinStake          AmountCents `json:"override_min_stake,omitempty"`
	MaxCashout        AmountCents `json:"override_max_cashout,omitempty"`
	TestBalance       AmountCents `json:"grant_test_balance,omitempty"`
}

// SimulatedConfig is an operator test-mode override.
type SimulatedConfig struct {
	ID                string
	PartnerID         PartnerID
	ApplyToAllPlayers bool
	PlayerID          PlayerID
	Rule              OutcomeRule
	Overrides         SimulationOverrides
	IsEnabled         bool
	AutoDisableAfter  int
	SessionsUsed      int
	Notes             string
}

// Validate checks the config before it is stored.
func (config SimulatedConfig) Validate() error {
	if config.PartnerID.String() == "" {
		return fmt.Errorf("%w: partner is required", ErrInvalidSimulation)
	}
	if !config.ApplyToAllPlayers && config.PlayerID.String() == "" {
		return fmt.Errorf("%w: player is required unless applied to all players", ErrInvalidSimulation)
	}
	if err := validateOutcomeRule(config.Rule); err != nil {
		return err
	}
	overrides := config.Overrides
	if overrides.ForceDenomination < 0 || overrides.MinStake < 0 || overrides.MaxCashout < 0 || overrides.TestBalance < 0 {
		return fmt.Errorf("%w: overrides must not be negative", ErrInvalidSimulation)
	}
	if config.AutoDisableAfter < 0 || config.SessionsUsed < 0 {
		return fmt.Errorf("%w: usage counters must not be negative", ErrInvalidSimulation)
	}
	return nil
}

// AppliesTo reports whether the config targets the given player.
func (config SimulatedConfig) AppliesTo(partnerID PartnerID, playerID PlayerID) bool {
	if config.PartnerID != partnerID {
		return false
	}
	return config.ApplyToAllPlayers || config.PlayerID == playerID
}

// Overlaps reports whether both configs could match the same session.
func (config SimulatedConfig) Overlaps(other SimulatedConfig) bool {
	if config.PartnerID != other.PartnerID {
		return false
	}
	if config.ApplyToAllPlayers || other.ApplyToAllPlayers {
		return true
	}
	return config.PlayerID == other.PlayerID
}

// RecordUse counts one more session and disables the config once its budget is spent.
func (config SimulatedConfig) RecordUse() SimulatedConfig {
	config.SessionsUsed++
	if config.AutoDisableAfter > 0 && config.SessionsUsed >= config.AutoDisableAfter {
		config.IsEnabled = false
	}
	return config
}

// Snapshot returns the form pinned into a session.
func (config SimulatedConfig) Snapshot() SimulationSnapshot {
	mode, forceZeroAtFlip, fixedZeroProbability, winStreakLength := FlattenOutcomeRule(config.Rule)
	return SimulationSnapshot{
		ConfigID:             config.ID,
		Mode:                 mode,
		ForceZeroAtFlip:      forceZeroAtFlip,
		FixedZeroProbability: fixedZeroProbability,
		WinStreakLength:      winStreakLength,
		Overrides:            config.Overrides,
	}
}

// SimulationSnapshot is the simulated config as pinned to one session.
type SimulationSnapshot struct {
	ConfigID             string              `json:"config_id"`
	Mode                 OutcomeMode         `json:"outcome_mode"`
	ForceZeroAtFlip      int                 `json:"force_zero_at_flip,omitempty"`
	FixedZeroProbability float64             `json:"fixed_zero_probability,omitempty"`
	WinStreakLength      int                 `json:"win_streak_length,omitempty"`
	Overrides            SimulationOverrides `json:"overrides"`
}

// Rule rebuilds the tagged rule from the snapshot.
func (snapshot SimulationSnapshot) Rule() (OutcomeRule, error) {
	return NewOutcomeRule(snapshot.Mode, snapshot.ForceZeroAtFlip, snapshot.FixedZeroProbability, snapshot.WinStreakLength)
}

// ResolveSimulation picks the enabled config applying to the player.
// Returns nil when none applies and ErrAmbiguousSimulation when several do.
func ResolveSimulation(candidates []SimulatedConfig, partnerID PartnerID, playerID PlayerID) (*SimulatedConfig, error) {
	var selected *SimulatedConfig
	for index := range candidates {
		candidate := candidates[index]
		if !candidate.IsEnabled || !candidate.AppliesTo(partnerID, playerID) {
			continue
		}
		if selected != nil {
			return nil, fmt.Errorf("%w: configs %s and %s", ErrAmbiguousSimulation, selected.ID, candidate.ID)
		}
		selected = &candidate
	}
	return selected, nil
}

// Limits are the effective stake and cashout bounds of a session.
type Limits struct {
	MinStake   AmountCents
	MaxStake   AmountCents
	MaxCashout AmountCents
}

// EffectiveLimits applies simulation overrides to the configured rules.
func EffectiveLimits(rules GameRules, simulation *SimulationSnapshot) Limits {
	limits := Limits{
		MinStake:   rules.MinStake,
		MaxStake:   rules.MaxStake,
		MaxCashout: rules.MaxCashout,
	}
	if simulation == nil {
		return limits
	}
	if simulation.Overrides.MinStake > 0 {
		limits.MinStake = simulation.Overrides.MinStake
		if limits.MaxStake < limits.MinStake {
			limits.MaxStake = limits.MinStake
		}
	}
	if simulation.Overrides.MaxCashout > 0 {
		limits.MaxCashout = simulation.Overrides.MaxCashout
	}
	return limits
}

func resolveOutcome(draw FlipDraw, flipNumber int, rules GameRules, stake AmountCents, simulation *SimulationSnapshot) (Outcome, error) {
	var rule OutcomeRule = NormalRule{}
	if simulation != nil {
		resolved, err := simulation.Rule()
		if err != nil {
			return Outcome{}, err
		}
		rule = resolved
	}

	var probability float64
	switch typed := rule.(type) {
	case NormalRule:
		probability = ZeroProbability(flipNumber, rules)
	case ForceZeroAtRule:
		if flipNumber >= typed.Flip {
			probability = 1
		}
	case FixedProbabilityRule:
		probability = clampProbability(typed.Probability, 1)
	case StreakThenLoseRule:
		if flipNumber > typed.WinStreak {
			probability = 1
		}
	default:
		return Outcome{}, fmt.Errorf("%w: unhandled outcome rule %T", ErrInvalidSimulation, rule)
	}

	outcome := Outcome{
		IsZero:          draw.ZeroDraw < probability,
		ZeroProbability: probability,
		ResultHash:      draw.ResultHash(),
	}
	if outcome.IsZero {
		return outcome, nil
	}
	if simulation != nil && simulation.Overrides.ForceDenomination > 0 {
		outcome.Denomination = simulation.Overrides.ForceDenomination
		return outcome, nil
	}
	outcome.Denomination = NewPayoutTable(stake, rules.HouseEdgePercent).Select(draw.DenominationDraw)
	return outcome, nil
}
