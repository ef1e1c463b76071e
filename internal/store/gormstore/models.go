package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Partner represents the partners table.
type Partner struct {
	PartnerID         string          `gorm:"primaryKey"`
	Name              string          `gorm:"not null"`
	APIKey            string          `gorm:"not null;uniqueIndex:uniq_partners_api_key"`
	Secret            string          `gorm:"not null"`
	DebitURL          string          `gorm:"not null"`
	CreditURL         string          `gorm:"not null"`
	RollbackURL       string          `gorm:"not null"`
	WebhookURL        string          `gorm:"not null;default:''"`
	SubscribedEvents  datatypes.JSON  `gorm:"not null"`
	CommissionPercent decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

func (Partner) TableName() string { return "partners" }

// Player mirrors the players table.
type Player struct {
	PlayerID    string    `gorm:"primaryKey"`
	PartnerID   string    `gorm:"not null;uniqueIndex:uniq_players_partner_external,priority:1"`
	ExternalID  string    `gorm:"not null;uniqueIndex:uniq_players_partner_external,priority:2"`
	DisplayName string    `gorm:"not null;default:''"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Player) TableName() string { return "players" }

func (player *Player) BeforeCreate(tx *gorm.DB) error {
	if player.PlayerID == "" {
		player.PlayerID = uuid.NewString()
	}
	return nil
}

// GameConfig mirrors the game_configs table. At most one row per
// (partner, currency) may be active.
type GameConfig struct {
	ConfigID  string         `gorm:"primaryKey"`
	PartnerID string         `gorm:"not null;index:uniq_game_configs_active,unique,where:is_active = true,priority:1"`
	Currency  string         `gorm:"not null;index:uniq_game_configs_active,unique,where:is_active = true,priority:2"`
	Rules     datatypes.JSON `gorm:"not null"`
	IsActive  bool           `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (GameConfig) TableName() string { return "game_configs" }

func (config *GameConfig) BeforeCreate(tx *gorm.DB) error {
	if config.ConfigID == "" {
		config.ConfigID = uuid.NewString()
	}
	return nil
}

// SimulatedConfig mirrors the simulated_configs table.
type SimulatedConfig struct {
	ConfigID             string         `gorm:"primaryKey"`
	PartnerID            string         `gorm:"not null;index:idx_simulated_configs_partner"`
	ApplyToAllPlayers    bool           `gorm:"not null"`
	PlayerID             *string        `gorm:""`
	OutcomeMode          string         `gorm:"not null"`
	ForceZeroAtFlip      int            `gorm:"not null;default:0"`
	FixedZeroProbability float64        `gorm:"not null;default:0"`
	WinStreakLength      int            `gorm:"not null;default:0"`
	Overrides            datatypes.JSON `gorm:"not null"`
	IsEnabled            bool           `gorm:"not null"`
	AutoDisableAfter     int            `gorm:"not null;default:0"`
	SessionsUsed         int            `gorm:"not null;default:0"`
	Notes                string         `gorm:"not null;default:''"`
	CreatedAt            time.Time      `gorm:"not null"`
	UpdatedAt            time.Time      `gorm:"not null"`
}

func (SimulatedConfig) TableName() string { return "simulated_configs" }

func (config *SimulatedConfig) BeforeCreate(tx *gorm.DB) error {
	if config.ConfigID == "" {
		config.ConfigID = uuid.NewString()
	}
	return nil
}

// Session mirrors the game_sessions table.
type Session struct {
	SessionID           string         `gorm:"primaryKey"`
	PartnerID           string         `gorm:"not null;index:idx_sessions_player_started,priority:1"`
	PlayerID            string         `gorm:"not null;index:idx_sessions_player_started,priority:2"`
	ExternalRef         string         `gorm:"not null;default:''"`
	Currency            string         `gorm:"not null"`
	StakeCents          int64          `gorm:"not null"`
	ServerSeed          string         `gorm:"not null"`
	ServerSeedHash      string         `gorm:"not null"`
	ClientSeed          string         `gorm:"not null"`
	CashoutBalanceCents int64          `gorm:"not null"`
	Status              string         `gorm:"not null;index:idx_sessions_status_expires,priority:1"`
	StartedAt           time.Time      `gorm:"not null;index:idx_sessions_player_started,priority:3"`
	EndedAt             *time.Time     `gorm:""`
	ExpiresAt           *time.Time     `gorm:"index:idx_sessions_status_expires,priority:2"`
	DebitTxRef          *string        `gorm:""`
	CreditTxRef         *string        `gorm:""`
	CreditPending       bool           `gorm:"not null"`
	IsTest              bool           `gorm:"not null"`
	Rules               datatypes.JSON `gorm:"not null"`
	Simulation          datatypes.JSON `gorm:""`
	Version             int64          `gorm:"not null"`
}

func (Session) TableName() string { return "game_sessions" }

// Flip mirrors the game_flips table; (session_id, flip_number) is unique.
type Flip struct {
	SessionID           string    `gorm:"primaryKey"`
	FlipNumber          int       `gorm:"primaryKey;autoIncrement:false"`
	DenominationCents   int64     `gorm:"not null"`
	IsZero              bool      `gorm:"not null"`
	ResultHash          string    `gorm:"not null"`
	CashoutBalanceAfter int64     `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null"`
}

func (Flip) TableName() string { return "game_flips" }

// WalletTransaction mirrors the wallet_transactions table.
type WalletTransaction struct {
	TxRef         string    `gorm:"primaryKey"`
	Type          string    `gorm:"not null;index:idx_wallet_tx_settlement,priority:2"`
	PartnerID     string    `gorm:"not null;index:idx_wallet_tx_settlement,priority:1"`
	PlayerID      string    `gorm:"not null"`
	SessionID     string    `gorm:"not null;index:idx_wallet_tx_session"`
	AmountCents   int64     `gorm:"not null"`
	Currency      string    `gorm:"not null"`
	Status        string    `gorm:"not null;index:idx_wallet_tx_settlement,priority:3"`
	OriginalTxRef *string   `gorm:""`
	CreatedAt     time.Time `gorm:"not null;index:idx_wallet_tx_settlement,priority:4"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

// Settlement mirrors the settlements table.
type Settlement struct {
	PartnerID         string          `gorm:"primaryKey"`
	PeriodKey         string          `gorm:"primaryKey"`
	PeriodStart       time.Time       `gorm:"not null"`
	PeriodEnd         time.Time       `gorm:"not null"`
	TotalBetsCents    int64           `gorm:"not null"`
	TotalWinsCents    int64           `gorm:"not null"`
	GGRCents          int64           `gorm:"column:ggr_cents;not null"`
	CommissionPercent decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	CommissionCents   int64           `gorm:"not null"`
	NetOperatorCents  int64           `gorm:"not null"`
	CreatedAt         time.Time       `gorm:"not null"`
}

func (Settlement) TableName() string { return "settlements" }

// ReconciliationAlert mirrors the reconciliation_alerts table.
type ReconciliationAlert struct {
	AlertID     string     `gorm:"primaryKey"`
	TxRef       string     `gorm:"not null;index:idx_alerts_tx_ref"`
	SessionID   string     `gorm:"not null"`
	PartnerID   string     `gorm:"not null"`
	Operation   string     `gorm:"not null"`
	AmountCents int64      `gorm:"not null"`
	Reason      string     `gorm:"not null"`
	CreatedAt   time.Time  `gorm:"not null"`
	ResolvedAt  *time.Time `gorm:""`
}

func (ReconciliationAlert) TableName() string { return "reconciliation_alerts" }

func (alert *ReconciliationAlert) BeforeCreate(tx *gorm.DB) error {
	if alert.AlertID == "" {
		alert.AlertID = uuid.NewString()
	}
	return nil
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{
		&Partner{},
		&Player{},
		&GameConfig{},
		&SimulatedConfig{},
		&Session{},
		&Flip{},
		&WalletTransaction{},
		&Settlement{},
		&ReconciliationAlert{},
	}
}
