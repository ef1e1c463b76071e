package game

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
)

const (
	maxZeroProbability = 0.99
	flipMessageSep     = ":"
	unitIntervalBits   = 53
)

// ZeroProbability returns the chance that flipNumber is a zero under rules.
// Flips inside the safe window never lose; beyond it the curve rises along a
// sigmoid and is clamped so the outcome is never certain.
func ZeroProbability(flipNumber int, rules GameRules) float64 {
	if flipNumber <= rules.MinFlipsBeforeZero {
		return 0
	}
	steps := float64(flipNumber - rules.MinFlipsBeforeZero)
	probability := rules.ZeroBaseRate + (1-rules.ZeroBaseRate)*sigmoid(rules.ZeroGrowthRate*steps)
	return clampProbability(probability, maxZeroProbability)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clampProbability(value float64, upper float64) float64 {
	if math.IsNaN(value) || value < 0 {
		return 0
	}
	if value > upper {
		return upper
	}
	return value
}

// FlipDraw is the raw randomness of one flip derived from the seeds.
type FlipDraw struct {
	digest           []byte
	ZeroDraw         float64
	DenominationDraw float64
}

// ResultHash returns the hex HMAC the draw was taken from.
func (draw FlipDraw) ResultHash() string {
	return hex.EncodeToString(draw.digest)
}

// DrawFlip computes HMAC-SHA256(serverSeed, clientSeed ":" flipNumber). Bytes 0-7
// feed the zero draw and bytes 8-15 the denomination draw.
func DrawFlip(serverSeed string, clientSeed ClientSeed, flipNumber int) FlipDraw {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed.String() + flipMessageSep + strconv.Itoa(flipNumber)))
	digest := mac.Sum(nil)
	return FlipDraw{
		digest:           digest,
		ZeroDraw:         unitInterval(digest[0:8]),
		DenominationDraw: unitInterval(digest[8:16]),
	}
}

func unitInterval(raw []byte) float64 {
	bits := binary.BigEndian.Uint64(raw) >> (64 - unitIntervalBits)
	return float64(bits) / float64(uint64(1)<<unitIntervalBits)
}

// Outcome is the resolved result of a flip.
type Outcome struct {
	IsZero          bool
	Denomination    AmountCents
	ZeroProbability float64
	ResultHash      string
}

// DrawOutcome resolves a flip under the regular probability curve.
func DrawOutcome(serverSeed string, clientSeed ClientSeed, flipNumber int, rules GameRules, stake AmountCents) Outcome {
	draw := DrawFlip(serverSeed, clientSeed, flipNumber)
	// The regular curve has no failure path.
	outcome, _ := resolveOutcome(draw, flipNumber, rules, stake, nil)
	return outcome
}

type payoutStep struct {
	multiplier float64
	weight     int
}

// Shape of the payout table before calibration; scaled per stake and house edge.
var payoutShape = []payoutStep{
	{multiplier: 0.25, weight: 32},
	{multiplier: 0.5, weight: 24},
	{multiplier: 1, weight: 20},
	{multiplier: 2, weight: 12},
	{multiplier: 4, weight: 8},
	{multiplier: 8, weight: 4},
}

// PayoutTable is a weighted denomination table for one stake.
type PayoutTable struct {
	denominations []AmountCents
	weights       []int
	totalWeight   int
}

// NewPayoutTable scales payoutShape so a non-zero flip returns
// (1 - houseEdgePercent/100) of the stake in expectation. Rounding drift is
// folded into the largest denomination.
func NewPayoutTable(stake AmountCents, houseEdgePercent float64) PayoutTable {
	target := expectedPayout(stake, houseEdgePercent)
	scale := 0.0
	if stake > 0 {
		scale = target / float64(stake) / shapeExpectedMultiplier()
	}
	table := PayoutTable{
		denominations: make([]AmountCents, 0, len(payoutShape)),
		weights:       make([]int, 0, len(payoutShape)),
	}
	for _, step := range payoutShape {
		value := int64(math.Round(float64(stake) * step.multiplier * scale))
		if value < 1 {
			value = 1
		}
		table.denominations = append(table.denominations, AmountCents(value))
		table.weights = append(table.weights, step.weight)
		table.totalWeight += step.weight
	}
	table.absorbRounding(target)
	return table
}

func (table *PayoutTable) absorbRounding(target float64) {
	last := len(table.denominations) - 1
	if last < 0 {
		return
	}
	var weighted float64
	for index, denomination := range table.denominations {
		weighted += float64(denomination) * float64(table.weights[index])
	}
	residual := target*float64(table.totalWeight) - weighted
	adjusted := table.denominations[last] + AmountCents(math.Round(residual/float64(table.weights[last])))
	floor := AmountCents(1)
	if last > 0 {
		floor = table.denominations[last-1]
	}
	if adjusted < floor {
		adjusted = floor
	}
	table.denominations[last] = adjusted
}

func expectedPayout(stake AmountCents, houseEdgePercent float64) float64 {
	returnRatio := 1 - houseEdgePercent/100
	if returnRatio < 0 {
		returnRatio = 0
	}
	return float64(stake) * returnRatio
}

// PayoutDeviation is the relative gap between the table's expected value for
// stake and the calibrated return.
func PayoutDeviation(stake AmountCents, houseEdgePercent float64) float64 {
	target := expectedPayout(stake, houseEdgePercent)
	if target <= 0 {
		return math.Inf(1)
	}
	return math.Abs(NewPayoutTable(stake, houseEdgePercent).ExpectedValue()-target) / target
}

func shapeExpectedMultiplier() float64 {
	var weighted, total float64
	for _, step := range payoutShape {
		weighted += step.multiplier * float64(step.weight)
		total += float64(step.weight)
	}
	return weighted / total
}

// Select maps a uniform draw in [0,1) to a denomination.
func (table PayoutTable) Select(draw float64) AmountCents {
	if len(table.denominations) == 0 {
		return 0
	}
	slot := int(draw * float64(table.totalWeight))
	if slot >= table.totalWeight {
		slot = table.totalWeight - 1
	}
	if slot < 0 {
		slot = 0
	}
	cumulative := 0
	for index, weight := range table.weights {
		cumulative += weight
		if slot < cumulative {
			return table.denominations[index]
		}
	}
	return table.denominations[len(table.denominations)-1]
}

// ExpectedValue returns the weighted mean denomination in cents.
func (table PayoutTable) ExpectedValue() float64 {
	if table.totalWeight == 0 {
		return 0
	}
	var weighted float64
	for index, denomination := range table.denominations {
		weighted += float64(denomination) * float64(table.weights[index])
	}
	return weighted / float64(table.totalWeight)
}

// Denominations returns a copy of the table's values.
func (table PayoutTable) Denominations() []AmountCents {
	return append([]AmountCents(nil), table.denominations...)
}
