package trace

import (
	"math"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/store/ledger"
)

// Reward shaping constants for feedback events.
const (
	PositiveFeedbackReward  = 0.1
	NegativeFeedbackPenalty = -0.15
	ResolvedOutcomeBonus    = 0.05
	WrongOutcomePenalty     = -0.2
	EscalatedOutcomePenalty = -0.1
	MaxConfidenceAdjustment = 0.3
	positiveRatingThreshold = 4
	negativeRatingThreshold = 2
)

// Reward derives the bounded reward for a feedback event. Ratings of 4 or 5
// are positive, 1 or 2 negative, 3 neutral; an outcome tag adds its bonus or
// penalty and the sum is clamped to ±MaxConfidenceAdjustment.
func Reward(fb ledger.FeedbackDetails) float64 {
	r := 0.0
	switch {
	case fb.Rating >= positiveRatingThreshold:
		r += PositiveFeedbackReward
	case fb.Rating <= negativeRatingThreshold:
		r += NegativeFeedbackPenalty
	}

	switch fb.OutcomeTag {
	case "resolved":
		r += ResolvedOutcomeBonus
	case "wrong":
		r += WrongOutcomePenalty
	case "escalated":
		r += EscalatedOutcomePenalty
	}

	r = math.Max(-MaxConfidenceAdjustment, math.Min(MaxConfidenceAdjustment, r))
	return math.Round(r*1e4) / 1e4
}
