package rating

import "math"

// Elo holds the knobs for beast rating updates.
type Elo struct {
	Start float64 // rating for a beast with no history
	K     float64 // base K
}

func NewElo(start, k float64) Elo {
	if start <= 0 {
		start = 1500
	}
	if k <= 0 {
		k = 24
	}
	return Elo{Start: start, K: k}
}

// Expect returns the expected scores of a against b.
func Expect(a, b float64) (ea, eb float64) {
	ea = 1.0 / (1.0 + math.Pow(10, (b-a)/400.0))
	return ea, 1.0 - ea
}

// Seed replaces an unset rating with the starting value.
func (e Elo) Seed(r float64) float64 {
	if r <= 0 {
		return e.Start
	}
	return r
}

// Update applies one decisive result and returns the new ratings and the
// winner's delta. K anneals slowly with the loser's experience so veteran
// beasts move less per battle.
func (e Elo) Update(winner, loser float64, games int) (newWinner, newLoser, delta float64) {
	winner, loser = e.Seed(winner), e.Seed(loser)
	ew, _ := Expect(winner, loser)
	k := e.K * decay(games)
	delta = k * (1 - ew)
	return winner + delta, loser - delta, delta
}

func decay(games int) float64 {
	if games < 0 {
		games = 0
	}
	return 1.0 / (1.0 + 0.01*float64(games)) // slow anneal
}
