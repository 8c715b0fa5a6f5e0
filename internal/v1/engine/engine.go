// Package engine implements the Dicee scoring rules as pure functions: given
// dice and a scorecard they return a number, never touching storage or the
// clock. The GameRoom actor is the only caller; keeping these functions free
// of side effects is what makes them exhaustively unit-testable without
// standing up an actor.
package engine

import (
	"crypto/rand"
	"math/big"
	"sort"

	"github.com/dicee-dev/dicee-server/internal/v1/protocol"
)

// Rng is the seam between deterministic tests and the crypto-strong
// production roll.
type Rng interface {
	// Intn returns a uniform value in [0, n).
	Intn(n int) int
}

// CryptoRng implements Rng using crypto/rand so production rolls cannot be
// predicted or replayed by a client.
type CryptoRng struct{}

func (CryptoRng) Intn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand failure means the platform entropy source is broken;
		// there is no sane fallback for a fairness-critical roll.
		panic("engine: crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}

// RollDice rolls every die whose index is not marked kept. kept may be the
// zero value to roll all five dice. Dice values are 1-6.
func RollDice(rng Rng, prior [5]int, kept [5]bool) [5]int {
	out := prior
	for i := 0; i < 5; i++ {
		if !kept[i] {
			out[i] = rng.Intn(6) + 1
		}
	}
	return out
}

func counts(dice [5]int) map[int]int {
	c := make(map[int]int, 6)
	for _, d := range dice {
		c[d]++
	}
	return c
}

func sum(dice [5]int) int {
	total := 0
	for _, d := range dice {
		total += d
	}
	return total
}

func sumFace(dice [5]int, face int) int {
	total := 0
	for _, d := range dice {
		if d == face {
			total += face
		}
	}
	return total
}

func maxCount(c map[int]int) int {
	max := 0
	for _, n := range c {
		if n > max {
			max = n
		}
	}
	return max
}

func hasRun(dice [5]int, run int) bool {
	present := make(map[int]bool, 6)
	for _, d := range dice {
		present[d] = true
	}
	sequences := [][]int{{1, 2, 3, 4, 5}, {2, 3, 4, 5, 6}}
	for _, seq := range sequences {
		streak := 0
		best := 0
		for _, v := range seq {
			if present[v] {
				streak++
				if streak > best {
					best = streak
				}
			} else {
				streak = 0
			}
		}
		if best >= run {
			return true
		}
	}
	return false
}

func isFullHouse(c map[int]int) bool {
	has3, has2 := false, false
	for _, n := range c {
		if n == 3 {
			has3 = true
		}
		if n == 2 {
			has2 = true
		}
	}
	return has3 && has2
}

// ScoreCategory computes the score for dice in the given category, per the
// canonical Yahtzee-family rules. It does not mutate the scorecard — the
// caller combines this with DiceeBonusDelta and writes the slot.
func ScoreCategory(dice [5]int, category protocol.CategoryType) int {
	switch category {
	case protocol.CategoryOnes:
		return sumFace(dice, 1)
	case protocol.CategoryTwos:
		return sumFace(dice, 2)
	case protocol.CategoryThrees:
		return sumFace(dice, 3)
	case protocol.CategoryFours:
		return sumFace(dice, 4)
	case protocol.CategoryFives:
		return sumFace(dice, 5)
	case protocol.CategorySixes:
		return sumFace(dice, 6)
	case protocol.CategoryThreeOfAKind:
		if maxCount(counts(dice)) >= 3 {
			return sum(dice)
		}
		return 0
	case protocol.CategoryFourOfAKind:
		if maxCount(counts(dice)) >= 4 {
			return sum(dice)
		}
		return 0
	case protocol.CategoryFullHouse:
		if isFullHouse(counts(dice)) {
			return 25
		}
		return 0
	case protocol.CategorySmallStraight:
		if hasRun(dice, 4) {
			return 30
		}
		return 0
	case protocol.CategoryLargeStraight:
		if hasRun(dice, 5) {
			return 40
		}
		return 0
	case protocol.CategoryDicee:
		if maxCount(counts(dice)) == 5 {
			return 50
		}
		return 0
	case protocol.CategoryChance:
		return sum(dice)
	default:
		return 0
	}
}

// IsDicee reports whether dice is a five-of-a-kind, independent of which
// category it is ultimately scored into — used to decide whether a Dicee
// bonus accrues even when the Dicee category slot is already filled.
func IsDicee(dice [5]int) bool {
	return maxCount(counts(dice)) == 5
}

// DiceeBonusDelta returns the bonus to add to diceeBonus when dice is a
// five-of-a-kind and diceeAlreadyScored is true (the Dicee category slot is
// non-null). A Dicee rolled before the Dicee category itself has ever been
// scored earns its 50 through the category slot alone, not a bonus.
func DiceeBonusDelta(dice [5]int, diceeAlreadyScored bool) int {
	if IsDicee(dice) && diceeAlreadyScored {
		return 100
	}
	return 0
}

// UpperSum totals the filled upper-section slots (ones..sixes).
func UpperSum(slots map[protocol.CategoryType]*int) int {
	total := 0
	for _, cat := range protocol.Categories[:6] {
		if v := slots[cat]; v != nil {
			total += *v
		}
	}
	return total
}

// UpperFilled reports whether every upper-section category has been scored,
// which is the trigger condition for evaluating the bonus.
func UpperFilled(slots map[protocol.CategoryType]*int) bool {
	for _, cat := range protocol.Categories[:6] {
		if slots[cat] == nil {
			return false
		}
	}
	return true
}

// UpperBonus returns 35 iff every upper category is filled and their sum is
// at least 63; otherwise 0. Returns 0 while any upper category is still
// empty, since the bonus isn't decided until the section is complete.
func UpperBonus(slots map[protocol.CategoryType]*int) int {
	if !UpperFilled(slots) {
		return 0
	}
	if UpperSum(slots) >= 63 {
		return 35
	}
	return 0
}

// TotalScore sums every filled category slot plus the upper bonus and the
// accumulated Dicee bonus.
func TotalScore(slots map[protocol.CategoryType]*int, diceeBonus int) int {
	total := diceeBonus + UpperBonus(slots)
	for _, v := range slots {
		if v != nil {
			total += *v
		}
	}
	return total
}

// LowestEvUnusedCategory picks the category forced-scored by the AFK
// timeout and the seat-forfeit auto-skip: the first unused category in
// canonical enumeration order. The spec defines this tie-break explicitly
// rather than by actual expected value, so ties never need real EV math.
func LowestEvUnusedCategory(slots map[protocol.CategoryType]*int) (protocol.CategoryType, bool) {
	for _, cat := range protocol.Categories {
		if slots[cat] == nil {
			return cat, true
		}
	}
	return "", false
}

// AdvanceTurn returns the next player in playerOrder after current, and
// whether the round number should increment (wraparound back to the first
// entry of playerOrder). Forfeited seats still occupy their slot in the
// rotation — spec.md §4.6.3/§9 resolves the open question of what happens
// to a forfeited player's future turns by auto-scoring zero into their
// lowest unused category each time rotation reaches them, not by skipping
// them, so they must keep consuming playerOrder arithmetic like anyone
// else. The caller is responsible for detecting a forfeited `next` and
// auto-scoring it.
func AdvanceTurn(playerOrder []protocol.PlayerIdType, current protocol.PlayerIdType) (next protocol.PlayerIdType, wrapped bool, ok bool) {
	if len(playerOrder) == 0 {
		return "", false, false
	}
	startIdx := -1
	for i, p := range playerOrder {
		if p == current {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		startIdx = len(playerOrder) - 1
	}
	idx := (startIdx + 1) % len(playerOrder)
	return playerOrder[idx], idx <= startIdx, true
}

// RankingKey supports the completion ranking: totalScore desc, diceeBonus
// desc, turnOrder asc.
type RankingKey struct {
	PlayerId   protocol.PlayerIdType
	TotalScore int
	DiceeBonus int
	TurnOrder  int
}

// Rank sorts entries per the spec's tie-break order and returns them in
// final ranking order (rank 1 first).
func Rank(entries []RankingKey) []RankingKey {
	out := make([]RankingKey, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		if out[i].DiceeBonus != out[j].DiceeBonus {
			return out[i].DiceeBonus > out[j].DiceeBonus
		}
		return out[i].TurnOrder < out[j].TurnOrder
	})
	return out
}
