package rating

import "math"

// WinRate is a win percentage with its 95% Wilson score interval.
type WinRate struct {
	Rate float64 `json:"win_rate"`
	Low  float64 `json:"win_rate_low"`
	High float64 `json:"win_rate_high"`
}

// Wilson95 returns the win rate and its 95% interval. No games gives [0, 1].
func Wilson95(wins, games int) WinRate {
	if games <= 0 {
		return WinRate{Low: 0, High: 1}
	}
	if wins > games {
		wins = games
	}
	z := 1.96
	n := float64(games)
	p := float64(wins) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return WinRate{Rate: p, Low: (center - half) / den, High: (center + half) / den}
}
