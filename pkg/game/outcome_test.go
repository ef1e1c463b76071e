package game

import (
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestZeroProbabilityCurve(test *testing.T) {
	test.Parallel()
	rules := GameRules{
		HouseEdgePercent:   60,
		MinStake:           1,
		MaxStake:           1,
		ZeroBaseRate:       0.05,
		ZeroGrowthRate:     0.3,
		MinFlipsBeforeZero: 2,
	}
	for _, flipNumber := range []int{1, 2} {
		if probability := ZeroProbability(flipNumber, rules); probability != 0 {
			test.Fatalf("flip %d inside the safe window has probability %f", flipNumber, probability)
		}
	}
	third := ZeroProbability(3, rules)
	if math.Abs(third-0.596) > 0.001 {
		test.Fatalf("expected flip 3 probability near 0.596, got %f", third)
	}
	previous := third
	for flipNumber := 4; flipNumber <= 200; flipNumber++ {
		probability := ZeroProbability(flipNumber, rules)
		if probability < previous {
			test.Fatalf("probability decreased at flip %d", flipNumber)
		}
		if probability >= 1 {
			test.Fatalf("probability reached certainty at flip %d", flipNumber)
		}
		previous = probability
	}
}

func TestDrawFlipIsDeterministic(test *testing.T) {
	test.Parallel()
	seed := mustClientSeed(test, "client")
	first := DrawFlip("server-seed", seed, 7)
	second := DrawFlip("server-seed", seed, 7)
	if first.ResultHash() != second.ResultHash() || first.ZeroDraw != second.ZeroDraw || first.DenominationDraw != second.DenominationDraw {
		test.Fatalf("same inputs produced different draws")
	}
	if other := DrawFlip("server-seed", seed, 8); other.ResultHash() == first.ResultHash() {
		test.Fatalf("different flip numbers produced the same hash")
	}
	if other := DrawFlip("another-seed", seed, 7); other.ResultHash() == first.ResultHash() {
		test.Fatalf("different server seeds produced the same hash")
	}
	if first.ZeroDraw < 0 || first.ZeroDraw >= 1 || first.DenominationDraw < 0 || first.DenominationDraw >= 1 {
		test.Fatalf("draws must lie in [0,1), got %f and %f", first.ZeroDraw, first.DenominationDraw)
	}
	if len(first.ResultHash()) != 64 {
		test.Fatalf("expected 64 hex characters, got %d", len(first.ResultHash()))
	}
}

func TestDrawOutcomeIsPure(test *testing.T) {
	test.Parallel()
	rules := testRules()
	seed := mustClientSeed(test, "purity")
	for flipNumber := 1; flipNumber <= 50; flipNumber++ {
		first := DrawOutcome("fixed-server-seed", seed, flipNumber, rules, 1000)
		second := DrawOutcome("fixed-server-seed", seed, flipNumber, rules, 1000)
		if first != second {
			test.Fatalf("flip %d: outcomes differ %+v vs %+v", flipNumber, first, second)
		}
		if first.IsZero && first.Denomination != 0 {
			test.Fatalf("zero flip carries denomination %d", first.Denomination)
		}
		if !first.IsZero && first.Denomination <= 0 {
			test.Fatalf("winning flip has no denomination")
		}
	}
}

func TestPayoutTableMatchesHouseEdge(test *testing.T) {
	test.Parallel()
	table := NewPayoutTable(10000, 5)
	if math.Abs(table.ExpectedValue()-9500) > 1 {
		test.Fatalf("expected value near 9500, got %f", table.ExpectedValue())
	}
	denominations := table.Denominations()
	for index := 1; index < len(denominations); index++ {
		if denominations[index] <= denominations[index-1] {
			test.Fatalf("denominations must increase, got %v", denominations)
		}
	}
	if table.Select(0) != denominations[0] {
		test.Fatalf("lowest draw must select the smallest denomination")
	}
	if table.Select(0.999999) != denominations[len(denominations)-1] {
		test.Fatalf("highest draw must select the largest denomination")
	}
}

func TestPayoutTableNeverPaysZero(test *testing.T) {
	test.Parallel()
	table := NewPayoutTable(1, 99)
	for _, denomination := range table.Denominations() {
		if denomination < 1 {
			test.Fatalf("denomination below one cent: %v", table.Denominations())
		}
	}
}

func TestPayoutTableTracksReturnDownToMinStake(test *testing.T) {
	test.Parallel()
	for _, edge := range []float64{0, 4, 5, 25, 60, 90} {
		rules := testRules()
		rules.HouseEdgePercent = edge
		rules.MinStake = AmountCents(math.Ceil(MinExpectedPayoutCents / (1 - edge/100)))
		rules.MaxStake = 5000
		if err := rules.Validate(); err != nil {
			test.Fatalf("edge %.0f: smallest accepted stake rejected: %v", edge, err)
		}
		for stake := rules.MinStake; stake <= rules.MaxStake; stake++ {
			if deviation := PayoutDeviation(stake, edge); deviation > 0.01 {
				test.Fatalf("edge %.0f stake %d: expected value off target by %.4f", edge, stake, deviation)
			}
		}
		rules.MinStake--
		if err := rules.Validate(); !errors.Is(err, ErrInvalidGameRules) {
			test.Fatalf("edge %.0f: stake %d below payout resolution accepted", edge, rules.MinStake)
		}
	}
}

func TestZeroRateOverManyFlipsTracksCurve(test *testing.T) {
	test.Parallel()
	rules := GameRules{HouseEdgePercent: 5, MinStake: 1, MaxStake: 1, ZeroBaseRate: 0.2, ZeroGrowthRate: 0, MinFlipsBeforeZero: 0}
	expected := ZeroProbability(1, rules)
	const samples = 20000
	zeros := 0
	for index := 0; index < samples; index++ {
		seed := mustClientSeed(test, "sample-"+strconv.Itoa(index))
		if DrawOutcome("statistics-seed", seed, 1, rules, 100).IsZero {
			zeros++
		}
	}
	observed := float64(zeros) / samples
	if math.Abs(observed-expected) > 0.02 {
		test.Fatalf("observed zero rate %f too far from %f", observed, expected)
	}
}
