package services

import "math"

// ExpectedScore is the Elo win expectancy of a player rated r against opp.
func ExpectedScore(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// NextRating applies one Elo update. actual is 1, 0.5 or 0.
func NextRating(r, opp int, actual, k float64) int {
	return int(math.Round(float64(r) + k*(actual-ExpectedScore(r, opp))))
}

// RatePair updates both sides of a 1v1 from A's point of view.
func RatePair(a, b int, scoreA, k float64) (newA, newB int) {
	return NextRating(a, b, scoreA, k), NextRating(b, a, 1-scoreA, k)
}
