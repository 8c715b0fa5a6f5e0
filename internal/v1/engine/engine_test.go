package engine

import (
	"testing"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRng struct {
	values []int
	idx    int
}

func (f *fixedRng) Intn(n int) int {
	v := f.values[f.idx]
	f.idx++
	return v
}

func TestRollDiceKeepsKeptAndRollsRest(t *testing.T) {
	rng := &fixedRng{values: []int{5, 1}} // Intn(6) returns 0-5, +1 applied
	prior := [5]int{3, 3, 3, 3, 3}
	kept := [5]bool{true, true, true, false, false}

	out := RollDice(rng, prior, kept)
	assert.Equal(t, [5]int{3, 3, 3, 6, 2}, out)
}

func TestScoreUpperSections(t *testing.T) {
	dice := [5]int{1, 1, 2, 3, 1}
	assert.Equal(t, 3, ScoreCategory(dice, protocol.CategoryOnes))
	assert.Equal(t, 2, ScoreCategory(dice, protocol.CategoryTwos))
	assert.Equal(t, 3, ScoreCategory(dice, protocol.CategoryThrees))
}

func TestThreeOfAKind(t *testing.T) {
	assert.Equal(t, 16, ScoreCategory([5]int{3, 3, 3, 2, 5}, protocol.CategoryThreeOfAKind))
	assert.Equal(t, 0, ScoreCategory([5]int{3, 3, 2, 2, 5}, protocol.CategoryThreeOfAKind))
}

func TestFourOfAKind(t *testing.T) {
	assert.Equal(t, 17, ScoreCategory([5]int{3, 3, 3, 3, 5}, protocol.CategoryFourOfAKind))
	assert.Equal(t, 0, ScoreCategory([5]int{3, 3, 3, 2, 5}, protocol.CategoryFourOfAKind))
}

func TestFullHouse(t *testing.T) {
	assert.Equal(t, 25, ScoreCategory([5]int{2, 2, 3, 3, 3}, protocol.CategoryFullHouse))
	assert.Equal(t, 0, ScoreCategory([5]int{2, 2, 3, 3, 4}, protocol.CategoryFullHouse))
	assert.Equal(t, 0, ScoreCategory([5]int{2, 2, 2, 2, 2}, protocol.CategoryFullHouse))
}

func TestSmallStraight(t *testing.T) {
	assert.Equal(t, 30, ScoreCategory([5]int{1, 2, 3, 4, 6}, protocol.CategorySmallStraight))
	assert.Equal(t, 30, ScoreCategory([5]int{2, 3, 4, 5, 5}, protocol.CategorySmallStraight))
	assert.Equal(t, 0, ScoreCategory([5]int{1, 2, 4, 5, 6}, protocol.CategorySmallStraight))
}

func TestLargeStraight(t *testing.T) {
	assert.Equal(t, 40, ScoreCategory([5]int{1, 2, 3, 4, 5}, protocol.CategoryLargeStraight))
	assert.Equal(t, 0, ScoreCategory([5]int{1, 2, 3, 4, 4}, protocol.CategoryLargeStraight))
}

func TestChance(t *testing.T) {
	assert.Equal(t, 15, ScoreCategory([5]int{1, 2, 3, 4, 5}, protocol.CategoryChance))
}

// Scenario 1: Dicee on first roll scores 50, no bonus.
func TestDiceeFirstOccurrenceNoBonus(t *testing.T) {
	dice := [5]int{5, 5, 5, 5, 5}
	assert.Equal(t, 50, ScoreCategory(dice, protocol.CategoryDicee))
	assert.Equal(t, 0, DiceeBonusDelta(dice, false))
}

// Scenario 2: second Dicee (scored into a different category) awards +100 bonus.
func TestDiceeSecondOccurrenceAwardsBonus(t *testing.T) {
	dice := [5]int{3, 3, 3, 3, 3}
	score := ScoreCategory(dice, protocol.CategoryThrees)
	bonus := DiceeBonusDelta(dice, true)

	assert.Equal(t, 15, score)
	assert.Equal(t, 100, bonus)
}

func TestUpperBonusThreshold(t *testing.T) {
	full := func(v int) *int { return &v }
	slots := map[protocol.CategoryType]*int{
		protocol.CategoryOnes: full(3), protocol.CategoryTwos: full(6), protocol.CategoryThrees: full(9),
		protocol.CategoryFours: full(12), protocol.CategoryFives: full(15), protocol.CategorySixes: full(18),
	}
	assert.Equal(t, 63, UpperSum(slots))
	assert.Equal(t, 35, UpperBonus(slots))

	slots[protocol.CategoryOnes] = full(2)
	assert.Equal(t, 62, UpperSum(slots))
	assert.Equal(t, 0, UpperBonus(slots))
}

func TestUpperBonusZeroUntilSectionComplete(t *testing.T) {
	full := func(v int) *int { return &v }
	slots := map[protocol.CategoryType]*int{
		protocol.CategoryOnes: full(100), // impossible value, proves early-return matters
	}
	assert.Equal(t, 0, UpperBonus(slots))
}

func TestTotalScoreSumsSlotsAndBonuses(t *testing.T) {
	full := func(v int) *int { return &v }
	slots := map[protocol.CategoryType]*int{
		protocol.CategoryOnes: full(3), protocol.CategoryTwos: full(6), protocol.CategoryThrees: full(9),
		protocol.CategoryFours: full(12), protocol.CategoryFives: full(15), protocol.CategorySixes: full(18),
		protocol.CategoryChance: full(20),
	}
	total := TotalScore(slots, 100)
	assert.Equal(t, 63+35+20+100, total)
}

func TestLowestEvUnusedCategoryEnumerationOrder(t *testing.T) {
	full := func(v int) *int { return &v }
	slots := map[protocol.CategoryType]*int{
		protocol.CategoryOnes: full(1), protocol.CategoryTwos: full(2),
	}
	cat, ok := LowestEvUnusedCategory(slots)
	require.True(t, ok)
	assert.Equal(t, protocol.CategoryThrees, cat)
}

func TestLowestEvUnusedCategoryNoneLeft(t *testing.T) {
	full := func(v int) *int { return &v }
	slots := map[protocol.CategoryType]*int{}
	for _, c := range protocol.Categories {
		slots[c] = full(0)
	}
	_, ok := LowestEvUnusedCategory(slots)
	assert.False(t, ok)
}

func TestAdvanceTurnStepsAndWraps(t *testing.T) {
	order := []protocol.PlayerIdType{"p1", "p2", "p3"}

	next, wrapped, ok := AdvanceTurn(order, "p1")
	require.True(t, ok)
	assert.Equal(t, protocol.PlayerIdType("p2"), next)
	assert.False(t, wrapped)

	next, wrapped, ok = AdvanceTurn(order, "p3")
	require.True(t, ok)
	assert.Equal(t, protocol.PlayerIdType("p1"), next)
	assert.True(t, wrapped)
}

func TestAdvanceTurnLandsOnForfeitedSeatRatherThanSkippingIt(t *testing.T) {
	// AdvanceTurn no longer takes a forfeited set: a forfeited seat still
	// occupies its place in the rotation, and it's the room package's job
	// to auto-score it rather than engine skipping past it.
	order := []protocol.PlayerIdType{"p1", "p2", "p3"}

	next, wrapped, ok := AdvanceTurn(order, "p1")
	require.True(t, ok)
	assert.Equal(t, protocol.PlayerIdType("p2"), next)
	assert.False(t, wrapped)
}

func TestRankTieBreakOrder(t *testing.T) {
	entries := []RankingKey{
		{PlayerId: "a", TotalScore: 100, DiceeBonus: 0, TurnOrder: 0},
		{PlayerId: "b", TotalScore: 100, DiceeBonus: 100, TurnOrder: 1},
		{PlayerId: "c", TotalScore: 150, DiceeBonus: 0, TurnOrder: 2},
		{PlayerId: "d", TotalScore: 100, DiceeBonus: 100, TurnOrder: 0},
	}
	ranked := Rank(entries)
	require.Len(t, ranked, 4)
	assert.Equal(t, protocol.PlayerIdType("c"), ranked[0].PlayerId)
	assert.Equal(t, protocol.PlayerIdType("d"), ranked[1].PlayerId)
	assert.Equal(t, protocol.PlayerIdType("b"), ranked[2].PlayerId)
	assert.Equal(t, protocol.PlayerIdType("a"), ranked[3].PlayerId)
}
