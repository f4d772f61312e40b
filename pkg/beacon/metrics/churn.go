package metrics

import (
	"math"
	"time"
)

// RiskCategory buckets a churn risk score.
type RiskCategory string

// Risk categories, inclusive at the low end of each band.
const (
	RiskLow      RiskCategory = "low"      // [0, 25)
	RiskMedium   RiskCategory = "medium"   // [25, 50)
	RiskHigh     RiskCategory = "high"     // [50, 75)
	RiskCritical RiskCategory = "critical" // [75, 100]
)

// CategoryFor maps a score to its band.
func CategoryFor(score float64) RiskCategory {
	switch {
	case score < 25:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 75:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// ChurnFactors are the behavioural and billing signals churn risk is
// computed from.
type ChurnFactors struct {
	EngagementScore     float64 `json:"engagement_score"`
	DaysSinceLastActive int     `json:"days_since_last_active"`
	// FeatureAdoptionRate is the fraction of features used, 0..1.
	FeatureAdoptionRate float64 `json:"feature_adoption_rate"`
	SupportTickets      int     `json:"support_tickets"`
	NegativeFeedback    int     `json:"negative_feedback"`
	PaymentFailures     int     `json:"payment_failures"`
}

// FactorScores is the per-factor contribution to a risk score.
type FactorScores struct {
	Engagement      float64 `json:"engagement"`
	Inactivity      float64 `json:"inactivity"`
	FeatureAdoption float64 `json:"feature_adoption"`
	SupportTickets  float64 `json:"support_tickets"`
	Feedback        float64 `json:"feedback"`
	PaymentFailures float64 `json:"payment_failures"`
}

// Total sums the contributions.
func (f FactorScores) Total() float64 {
	return f.Engagement + f.Inactivity + f.FeatureAdoption +
		f.SupportTickets + f.Feedback + f.PaymentFailures
}

// ChurnRisk is a point-in-time churn assessment.
type ChurnRisk struct {
	RiskScore               float64      `json:"risk_score"`
	RiskCategory            RiskCategory `json:"risk_category"`
	Factors                 FactorScores `json:"factors"`
	Inputs                  ChurnFactors `json:"inputs"`
	PredictedChurnDate      *time.Time   `json:"predicted_churn_date,omitempty"`
	InterventionRecommended bool         `json:"intervention_recommended"`
}

const (
	predictionThreshold   = 50
	interventionThreshold = 60
	minDaysToChurn        = 7
	churnHorizonDays      = 90
)

// CalculateChurnRisk scores f. now anchors the predicted churn date.
func CalculateChurnRisk(f ChurnFactors, now time.Time) ChurnRisk {
	scores := FactorScores{
		Engagement:      engagementRisk(f.EngagementScore),
		Inactivity:      inactivityRisk(f.DaysSinceLastActive),
		FeatureAdoption: adoptionRisk(f.FeatureAdoptionRate),
		SupportTickets:  ticketRisk(f.SupportTickets),
		Feedback:        feedbackRisk(f.NegativeFeedback),
		PaymentFailures: paymentRisk(f.PaymentFailures),
	}

	score := clamp(scores.Total(), 0, 100)
	risk := ChurnRisk{
		RiskScore:               score,
		RiskCategory:            CategoryFor(score),
		Factors:                 scores,
		Inputs:                  f,
		InterventionRecommended: score > interventionThreshold,
	}

	if score > predictionThreshold {
		days := math.Max(minDaysToChurn, churnHorizonDays-score)
		predicted := now.Add(time.Duration(days * float64(24*time.Hour)))
		risk.PredictedChurnDate = &predicted
	}
	return risk
}

// engagementRisk contributes up to 30 points.
func engagementRisk(score float64) float64 {
	switch {
	case score < 20:
		return 30
	case score < 40:
		return 20
	case score < 60:
		return 10
	default:
		return 0
	}
}

// inactivityRisk contributes up to 40 points.
func inactivityRisk(days int) float64 {
	switch {
	case days > 30:
		return 40
	case days > 14:
		return 25
	case days > 7:
		return 15
	case days > 3:
		return 5
	default:
		return 0
	}
}

// adoptionRisk contributes up to 15 points.
func adoptionRisk(rate float64) float64 {
	switch {
	case rate < 0.2:
		return 15
	case rate < 0.4:
		return 10
	case rate < 0.6:
		return 5
	default:
		return 0
	}
}

// ticketRisk contributes up to 10 points.
func ticketRisk(tickets int) float64 {
	switch {
	case tickets > 5:
		return 10
	case tickets > 2:
		return 5
	default:
		return 0
	}
}

// feedbackRisk contributes up to 20 points.
func feedbackRisk(negative int) float64 {
	switch {
	case negative >= 3:
		return 20
	case negative >= 1:
		return 10
	default:
		return 0
	}
}

// paymentRisk contributes up to 30 points.
func paymentRisk(failures int) float64 {
	switch {
	case failures >= 3:
		return 30
	case failures == 2:
		return 20
	case failures == 1:
		return 10
	default:
		return 0
	}
}
