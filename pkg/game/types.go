package game

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountCents is an integer currency amount in cents. Settlement figures may be negative.
type AmountCents int64

// Int64 exposes the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewStakeAmount validates a stake, which must be strictly positive.
func NewStakeAmount(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return AmountCents(raw), nil
}

// PartnerID identifies an operator integrating the game.
type PartnerID struct {
	value string
}

// PlayerID identifies a player record owned by the engine.
type PlayerID struct {
	value string
}

// SessionID identifies a game session.
type SessionID struct {
	value string
}

// TxRef tags one logical wallet operation.
type TxRef struct {
	value string
}

// ClientSeed is the player-supplied half of the fairness input.
type ClientSeed struct {
	value string
}

// Currency is an upper-case ISO-4217 style code.
type Currency struct {
	value string
}

// NewPartnerID validates and normalizes a partner id.
func NewPartnerID(raw string) (PartnerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PartnerID{}, fmt.Errorf("%w: empty value", ErrInvalidPartnerID)
	}
	return PartnerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PartnerID) String() string {
	return id.value
}

// NewPlayerID validates and normalizes a player id.
func NewPlayerID(raw string) (PlayerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PlayerID{}, fmt.Errorf("%w: empty value", ErrInvalidPlayerID)
	}
	return PlayerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PlayerID) String() string {
	return id.value
}

// NewSessionID validates and normalizes a session id.
func NewSessionID(raw string) (SessionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SessionID{}, fmt.Errorf("%w: empty value", ErrInvalidSessionID)
	}
	return SessionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id SessionID) String() string {
	return id.value
}

// NewTxRef validates a stored transaction reference.
func NewTxRef(raw string) (TxRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TxRef{}, fmt.Errorf("%w: empty value", ErrInvalidTxRef)
	}
	return TxRef{value: trimmed}, nil
}

// String returns the reference.
func (ref TxRef) String() string {
	return ref.value
}

// IsZero reports whether the reference was never assigned.
func (ref TxRef) IsZero() bool {
	return ref.value == ""
}

const maxClientSeedLength = 128

// NewClientSeed validates a client seed.
func NewClientSeed(raw string) (ClientSeed, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ClientSeed{}, fmt.Errorf("%w: empty value", ErrInvalidClientSeed)
	}
	if len(trimmed) > maxClientSeedLength {
		return ClientSeed{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidClientSeed, maxClientSeedLength)
	}
	return ClientSeed{value: trimmed}, nil
}

// String returns the seed.
func (seed ClientSeed) String() string {
	return seed.value
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3,5}$`)

// NewCurrency validates and upper-cases a currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if !currencyPattern.MatchString(normalized) {
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	return Currency{value: normalized}, nil
}

// String returns the currency code.
func (currency Currency) String() string {
	return currency.value
}

// SessionStatus defines the session lifecycle.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusLost      SessionStatus = "lost"
	SessionStatusCashedOut SessionStatus = "cashed_out"
	SessionStatusExpired   SessionStatus = "expired"
)

// ParseSessionStatus validates a stored status.
func ParseSessionStatus(raw string) (SessionStatus, error) {
	switch SessionStatus(raw) {
	case SessionStatusPending, SessionStatusActive, SessionStatusLost, SessionStatusCashedOut, SessionStatusExpired:
		return SessionStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionStatus, raw)
	}
}

// String returns the raw status.
func (status SessionStatus) String() string {
	return string(status)
}

// IsTerminal reports whether the status can no longer change.
func (status SessionStatus) IsTerminal() bool {
	return status == SessionStatusLost || status == SessionStatusCashedOut || status == SessionStatusExpired
}

// GameRules are the per-currency rules pinned into every session at creation.
type GameRules struct {
	HouseEdgePercent          float64     `json:"house_edge_percent"`
	MinStake                  AmountCents `json:"min_stake"`
	MaxStake                  AmountCents `json:"max_stake"`
	MaxCashout                AmountCents `json:"max_cashout"`
	PauseCostPercent          float64     `json:"pause_cost_percent"`
	ZeroBaseRate              float64     `json:"zero_base_rate"`
	ZeroGrowthRate            float64     `json:"zero_growth_rate"`
	MinFlipsBeforeZero        int         `json:"min_flips_before_zero"`
	MaxSessionDurationMinutes int         `json:"max_session_duration_minutes"`
}

// Validate checks the rules are internally consistent.
func (rules GameRules) Validate() error {
	if math.IsNaN(rules.HouseEdgePercent) || rules.HouseEdgePercent < 0 || rules.HouseEdgePercent >= 100 {
		return fmt.Errorf("%w: house edge must be in [0,100)", ErrInvalidGameRules)
	}
	if rules.MinStake <= 0 {
		return fmt.Errorf("%w: min stake must be positive", ErrInvalidGameRules)
	}
	if expected := expectedPayout(rules.MinStake, rules.HouseEdgePercent); expected < MinExpectedPayoutCents {
		return fmt.Errorf("%w: min stake %d returns %.2f cents per flip, below %d", ErrInvalidGameRules, rules.MinStake, expected, MinExpectedPayoutCents)
	}
	if rules.MaxStake < rules.MinStake {
		return fmt.Errorf("%w: max stake below min stake", ErrInvalidGameRules)
	}
	if rules.MaxCashout < 0 {
		return fmt.Errorf("%w: max cashout must not be negative", ErrInvalidGameRules)
	}
	if rules.PauseCostPercent < 0 || rules.PauseCostPercent > 100 {
		return fmt.Errorf("%w: pause cost must be in [0,100]", ErrInvalidGameRules)
	}
	if rules.ZeroBaseRate < 0 || rules.ZeroBaseRate >= 1 {
		return fmt.Errorf("%w: zero base rate must be in [0,1)", ErrInvalidGameRules)
	}
	if rules.ZeroGrowthRate < 0 {
		return fmt.Errorf("%w: zero growth rate must not be negative", ErrInvalidGameRules)
	}
	if rules.MinFlipsBeforeZero < 0 {
		return fmt.Errorf("%w: min flips before zero must not be negative", ErrInvalidGameRules)
	}
	if rules.MaxSessionDurationMinutes < 0 {
		return fmt.Errorf("%w: max session duration must not be negative", ErrInvalidGameRules)
	}
	return nil
}

// MaxSessionDurationSeconds returns the duration limit, zero meaning unlimited.
func (rules GameRules) MaxSessionDurationSeconds() int64 {
	return int64(rules.MaxSessionDurationMinutes) * 60
}

// GameConfig is the active rule set for a (partner, currency) pair.
type GameConfig struct {
	ID        string
	PartnerID PartnerID
	Currency  Currency
	Rules     GameRules
	IsActive  bool
}

// Partner holds integration settings for an operator.
type Partner struct {
	ID                PartnerID
	Name              string
	APIKey            string
	Secret            string
	DebitURL          string
	CreditURL         string
	RollbackURL       string
	WebhookURL        string
	SubscribedEvents  []EventType
	CommissionPercent decimal.Decimal
}

// WalletEndpoints returns the seamless wallet callout targets.
func (partner Partner) WalletEndpoints() WalletEndpoints {
	return WalletEndpoints{
		DebitURL:    partner.DebitURL,
		CreditURL:   partner.CreditURL,
		RollbackURL: partner.RollbackURL,
		Secret:      partner.Secret,
	}
}

// Subscribes reports whether the partner wants the given webhook event.
func (partner Partner) Subscribes(eventType EventType) bool {
	if strings.TrimSpace(partner.WebhookURL) == "" {
		return false
	}
	for _, subscribed := range partner.SubscribedEvents {
		if subscribed == eventType {
			return true
		}
	}
	return false
}

// Player is a partner-scoped player.
type Player struct {
	ID          PlayerID
	PartnerID   PartnerID
	ExternalID  string
	DisplayName string
}

// Flip is one draw inside a session.
type Flip struct {
	SessionID           SessionID
	Number              int
	Denomination        AmountCents
	IsZero              bool
	ResultHash          string
	CashoutBalanceAfter AmountCents
	CreatedUnixUTC      int64
}

// Session is the full stored session record, including the secret seed.
type Session struct {
	ID             SessionID
	PartnerID      PartnerID
	PlayerID       PlayerID
	ExternalRef    string
	Currency       Currency
	Stake          AmountCents
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     ClientSeed
	Flips          []Flip
	CashoutBalance AmountCents
	Status         SessionStatus
	StartedUnixUTC int64
	EndedUnixUTC   int64
	DebitTxRef     TxRef
	CreditTxRef    TxRef
	CreditPending  bool
	IsTest         bool
	Rules          GameRules
	Simulation     *SimulationSnapshot
	Version        int64
}

// NextFlipNumber returns the number the next flip will carry.
func (session Session) NextFlipNumber() int {
	return len(session.Flips) + 1
}

// Limits returns the effective stake and cashout limits for the session.
func (session Session) Limits() Limits {
	return EffectiveLimits(session.Rules, session.Simulation)
}

func (session Session) expiredAt(nowUnixUTC int64) bool {
	if session.Status != SessionStatusActive || session.CreditPending {
		return false
	}
	maxDuration := session.Rules.MaxSessionDurationSeconds()
	if maxDuration <= 0 {
		return false
	}
	return nowUnixUTC-session.StartedUnixUTC > maxDuration
}

// View returns the externally visible projection; the seed only appears once terminal.
func (session Session) View() SessionView {
	view := SessionView{
		SessionID:      session.ID,
		PartnerID:      session.PartnerID,
		PlayerID:       session.PlayerID,
		ExternalRef:    session.ExternalRef,
		Currency:       session.Currency,
		Stake:          session.Stake,
		ServerSeedHash: session.ServerSeedHash,
		ClientSeed:     session.ClientSeed,
		Flips:          append([]Flip(nil), session.Flips...),
		CashoutBalance: session.CashoutBalance,
		Status:         session.Status,
		StartedUnixUTC: session.StartedUnixUTC,
		EndedUnixUTC:   session.EndedUnixUTC,
		CreditPending:  session.CreditPending,
		IsTest:         session.IsTest,
	}
	if session.Status.IsTerminal() {
		view.ServerSeed = session.ServerSeed
	}
	return view
}

// SessionView is a session as returned to partners.
type SessionView struct {
	SessionID      SessionID
	PartnerID      PartnerID
	PlayerID       PlayerID
	ExternalRef    string
	Currency       Currency
	Stake          AmountCents
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     ClientSeed
	Flips          []Flip
	CashoutBalance AmountCents
	Status         SessionStatus
	StartedUnixUTC int64
	EndedUnixUTC   int64
	CreditPending  bool
	IsTest         bool
}

// WalletTransactionType enumerates wallet operations.
type WalletTransactionType string

const (
	WalletTransactionDebit    WalletTransactionType = "debit"
	WalletTransactionCredit   WalletTransactionType = "credit"
	WalletTransactionRollback WalletTransactionType = "rollback"
)

// ParseWalletTransactionType validates a stored type.
func ParseWalletTransactionType(raw string) (WalletTransactionType, error) {
	switch WalletTransactionType(raw) {
	case WalletTransactionDebit, WalletTransactionCredit, WalletTransactionRollback:
		return WalletTransactionType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWalletTransaction, raw)
	}
}

// String returns the raw type.
func (txType WalletTransactionType) String() string {
	return string(txType)
}

// WalletTransactionStatus tracks confirmation of a wallet operation.
type WalletTransactionStatus string

const (
	WalletTransactionPending WalletTransactionStatus = "pending"
	WalletTransactionSuccess WalletTransactionStatus = "success"
	WalletTransactionFailed  WalletTransactionStatus = "failed"
)

// ParseWalletTransactionStatus validates a stored status.
func ParseWalletTransactionStatus(raw string) (WalletTransactionStatus, error) {
	switch WalletTransactionStatus(raw) {
	case WalletTransactionPending, WalletTransactionSuccess, WalletTransactionFailed:
		return WalletTransactionStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWalletTransaction, raw)
	}
}

// String returns the raw status.
func (status WalletTransactionStatus) String() string {
	return string(status)
}

// WalletTransaction is one row of the local wallet ledger.
type WalletTransaction struct {
	TxRef          TxRef
	Type           WalletTransactionType
	PartnerID      PartnerID
	PlayerID       PlayerID
	SessionID      SessionID
	Amount         AmountCents
	Currency       Currency
	Status         WalletTransactionStatus
	OriginalTxRef  TxRef
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// SettlementPeriod is a half-open [Start, End) UTC range keyed by Key.
type SettlementPeriod struct {
	Key          string
	StartUnixUTC int64
	EndUnixUTC   int64
}

// Settlement is the commission rollup for one partner and period.
type Settlement struct {
	PartnerID         PartnerID
	Period            SettlementPeriod
	TotalBets         AmountCents
	TotalWins         AmountCents
	GGR               AmountCents
	CommissionPercent decimal.Decimal
	CommissionAmount  AmountCents
	NetOperatorAmount AmountCents
	CreatedUnixUTC    int64
}

// ReconciliationAlert records a wallet operation that could not be confirmed.
type ReconciliationAlert struct {
	TxRef          TxRef
	SessionID      SessionID
	PartnerID      PartnerID
	Operation      WalletTransactionType
	Amount         AmountCents
	Reason         string
	CreatedUnixUTC int64
}
