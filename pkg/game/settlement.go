package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const settlementPeriodLayout = "2006-01"

// MonthlyPeriod returns the UTC calendar month containing at.
func MonthlyPeriod(at time.Time) SettlementPeriod {
	utc := at.UTC()
	start := time.Date(utc.Year(), utc.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return SettlementPeriod{
		Key:          start.Format(settlementPeriodLayout),
		StartUnixUTC: start.Unix(),
		EndUnixUTC:   end.Unix(),
	}
}

// ParsePeriod parses a "YYYY-MM" key.
func ParsePeriod(raw string) (SettlementPeriod, error) {
	parsed, err := time.Parse(settlementPeriodLayout, strings.TrimSpace(raw))
	if err != nil {
		return SettlementPeriod{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
	return MonthlyPeriod(parsed), nil
}

// Previous returns the month before the period.
func (period SettlementPeriod) Previous() SettlementPeriod {
	return MonthlyPeriod(time.Unix(period.StartUnixUTC, 0).UTC().AddDate(0, -1, 0))
}

// ComputeSettlement derives GGR and commission. Commission is only charged on
// positive GGR and is rounded half away from zero to whole cents.
func ComputeSettlement(totalBets AmountCents, totalWins AmountCents, commissionPercent decimal.Decimal) (ggr AmountCents, commission AmountCents, net AmountCents) {
	ggr = totalBets - totalWins
	if ggr > 0 && commissionPercent.IsPositive() {
		commission = AmountCents(decimal.NewFromInt(ggr.Int64()).
			Mul(commissionPercent).
			Div(decimal.NewFromInt(100)).
			Round(0).
			IntPart())
	}
	return ggr, commission, ggr - commission
}

// SettlementAggregator rolls wallet transactions into periodic settlements.
type SettlementAggregator struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
	events EventPublisher
}

// SettlementOption configures a SettlementAggregator.
type SettlementOption func(*SettlementAggregator)

// WithSettlementLogger wires the operation logger.
func WithSettlementLogger(logger OperationLogger) SettlementOption {
	return func(aggregator *SettlementAggregator) {
		aggregator.logger = logger
	}
}

// WithSettlementPublisher wires the settlement.ready publisher.
func WithSettlementPublisher(publisher EventPublisher) SettlementOption {
	return func(aggregator *SettlementAggregator) {
		aggregator.events = publisher
	}
}

// NewSettlementAggregator wires an aggregator.
func NewSettlementAggregator(store Store, now func() int64, options ...SettlementOption) (*SettlementAggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	aggregator := &SettlementAggregator{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(aggregator)
		}
	}
	return aggregator, nil
}

// Preview computes figures without persisting; open periods are allowed.
func (aggregator *SettlementAggregator) Preview(ctx context.Context, partnerID PartnerID, period SettlementPeriod) (Settlement, error) {
	partner, err := aggregator.store.GetPartner(ctx, partnerID)
	if err != nil {
		return Settlement{}, err
	}
	return aggregator.compute(ctx, partner, period)
}

// Stored returns the persisted settlement for a period, or ErrUnknownSettlement
// when none was generated yet.
func (aggregator *SettlementAggregator) Stored(ctx context.Context, partnerID PartnerID, period SettlementPeriod) (Settlement, error) {
	return aggregator.store.GetSettlement(ctx, partnerID, period.Key)
}

// Generate persists the settlement for a closed period. Re-running returns
// the stored record unchanged.
func (aggregator *SettlementAggregator) Generate(ctx context.Context, partnerID PartnerID, period SettlementPeriod) (Settlement, error) {
	settlement, err := aggregator.generate(ctx, partnerID, period)
	logOperation(ctx, aggregator.logger, OperationLog{
		Operation: operationSettlement,
		PartnerID: partnerID,
		Amount:    settlement.GGR,
		Outcome:   period.Key,
		Error:     err,
	})
	return settlement, err
}

func (aggregator *SettlementAggregator) generate(ctx context.Context, partnerID PartnerID, period SettlementPeriod) (Settlement, error) {
	if aggregator.nowFn() < period.EndUnixUTC {
		return Settlement{}, ErrPeriodOpen
	}
	existing, err := aggregator.store.GetSettlement(ctx, partnerID, period.Key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUnknownSettlement) {
		return Settlement{}, err
	}
	partner, err := aggregator.store.GetPartner(ctx, partnerID)
	if err != nil {
		return Settlement{}, err
	}
	settlement, err := aggregator.compute(ctx, partner, period)
	if err != nil {
		return Settlement{}, err
	}
	if err := aggregator.store.InsertSettlement(ctx, settlement); err != nil {
		if errors.Is(err, ErrSettlementExists) {
			return aggregator.store.GetSettlement(ctx, partnerID, period.Key)
		}
		return Settlement{}, WrapError(operationSettlement, errorSubjectSettlement, errorCodeGenerate, err)
	}
	publish(ctx, aggregator.events, Event{
		Type:            EventSettlementReady,
		PartnerID:       partnerID,
		OccurredUnixUTC: settlement.CreatedUnixUTC,
		Payload: map[string]any{
			"period":             period.Key,
			"total_bets":         settlement.TotalBets.Int64(),
			"total_wins":         settlement.TotalWins.Int64(),
			"ggr":                settlement.GGR.Int64(),
			"commission_percent": settlement.CommissionPercent.String(),
			"commission_amount":  settlement.CommissionAmount.Int64(),
			"net_operator":       settlement.NetOperatorAmount.Int64(),
		},
	})
	return settlement, nil
}

// GenerateAll settles the period for every partner, stopping at the first failure.
func (aggregator *SettlementAggregator) GenerateAll(ctx context.Context, period SettlementPeriod) ([]Settlement, error) {
	partners, err := aggregator.store.ListPartners(ctx)
	if err != nil {
		return nil, err
	}
	settlements := make([]Settlement, 0, len(partners))
	for _, partner := range partners {
		settlement, err := aggregator.Generate(ctx, partner.ID, period)
		if err != nil {
			return settlements, fmt.Errorf("partner %s: %w", partner.ID, err)
		}
		settlements = append(settlements, settlement)
	}
	return settlements, nil
}

func (aggregator *SettlementAggregator) compute(ctx context.Context, partner Partner, period SettlementPeriod) (Settlement, error) {
	debits, err := aggregator.store.SumWalletTransactions(ctx, partner.ID, WalletTransactionDebit, period)
	if err != nil {
		return Settlement{}, err
	}
	rollbacks, err := aggregator.store.SumWalletTransactions(ctx, partner.ID, WalletTransactionRollback, period)
	if err != nil {
		return Settlement{}, err
	}
	credits, err := aggregator.store.SumWalletTransactions(ctx, partner.ID, WalletTransactionCredit, period)
	if err != nil {
		return Settlement{}, err
	}
	totalBets := debits - rollbacks
	ggr, commission, net := ComputeSettlement(totalBets, credits, partner.CommissionPercent)
	return Settlement{
		PartnerID:         partner.ID,
		Period:            period,
		TotalBets:         totalBets,
		TotalWins:         credits,
		GGR:               ggr,
		CommissionPercent: partner.CommissionPercent,
		CommissionAmount:  commission,
		NetOperatorAmount: net,
		CreatedUnixUTC:    aggregator.nowFn(),
	}, nil
}
