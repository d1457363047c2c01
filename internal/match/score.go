// Package match computes field-level and composite similarity between a
// manually entered transaction and one imported from a bank feed. Everything
// here is a pure function of its inputs and safe for concurrent use.
package match

import (
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/jask/bankmatch/internal/database/repository"
)

// Classification describes which field groups lined up for a candidate pair.
type Classification string

const (
	ClassDateAmountPayee Classification = "date_amount_payee"
	ClassAmountPayee     Classification = "amount_payee"
	ClassDateAmount      Classification = "date_amount"
	ClassPotential       Classification = "potential"
)

// Component weights of the composite score.
const (
	amountWeight = 40.0
	dateWeight   = 30.0
	payeeWeight  = 30.0
)

// payeeFuzzyFloor is the levenshtein similarity at which two payees are
// treated as the same merchant for classification purposes.
const payeeFuzzyFloor = 0.8

// StringSimilarity returns a case-insensitive edit-distance similarity in
// [0,1]. Two empty strings are identical; exactly one empty string shares
// nothing with the other.
func StringSimilarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	return 1 - float64(dist)/float64(maxLen)
}

// DateSimilarity returns 1 for equal calendar dates and decays linearly by
// a tenth per day apart, dropping to 0 once the gap exceeds dayThreshold.
// A zero time on either side means the date never parsed and scores 0.
func DateSimilarity(a, b time.Time, dayThreshold int) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	days := daysApart(a, b)
	if days == 0 {
		return 1
	}
	if days > dayThreshold {
		return 0
	}
	sim := 1 - float64(days)/10
	if sim < 0 {
		return 0
	}
	return sim
}

// Scorer holds the tunable thresholds for composite scoring.
type Scorer struct {
	// AmountThresholdCents is the amount gap at which the amount component
	// reaches zero.
	AmountThresholdCents int64
	// DateDayThreshold is the day gap beyond which dates contribute nothing.
	DateDayThreshold int
}

// NewScorer returns a scorer with the stock thresholds (100 minor units,
// 3 days).
func NewScorer() Scorer {
	return Scorer{AmountThresholdCents: 100, DateDayThreshold: 3}
}

// PairScore returns a composite similarity in [0,100] between a manual and
// an imported transaction: up to 40 points for amount, 30 for date and 30
// for payee.
func (s Scorer) PairScore(manual, imported repository.Transaction) float64 {
	score := s.amountComponent(manual.AmountCents, imported.AmountCents)
	score += s.dateComponent(manual.Date, imported.Date)
	score += payeeComponent(manual.Payee, imported.Payee)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Classify reports which field groups matched. Payees count as matching on
// an exact or substring hit, or when their edit-distance similarity clears
// the fuzzy floor.
func (s Scorer) Classify(manual, imported repository.Transaction) Classification {
	amountMatch := manual.AmountCents == imported.AmountCents
	dateMatch := !manual.Date.IsZero() && !imported.Date.IsZero() &&
		daysApart(manual.Date, imported.Date) <= s.DateDayThreshold
	payeeMatch := payeeComponent(manual.Payee, imported.Payee) > 0 ||
		StringSimilarity(manual.Payee, imported.Payee) >= payeeFuzzyFloor

	switch {
	case amountMatch && dateMatch && payeeMatch:
		return ClassDateAmountPayee
	case amountMatch && payeeMatch:
		return ClassAmountPayee
	case amountMatch && dateMatch:
		return ClassDateAmount
	default:
		return ClassPotential
	}
}

func (s Scorer) amountComponent(a, b int64) float64 {
	if a == b {
		return amountWeight
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	threshold := s.AmountThresholdCents
	if threshold <= 0 {
		return 0
	}
	if diff >= threshold {
		return 0
	}
	return amountWeight * (1 - float64(diff)/float64(threshold))
}

// dateComponent decays relative to the day threshold: one day apart under
// the default 3-day threshold keeps two thirds of the date points. Unlike
// DateSimilarity it never uses the fixed tenth-a-day scale.
func (s Scorer) dateComponent(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() || s.DateDayThreshold <= 0 {
		return 0
	}
	days := daysApart(a, b)
	if days == 0 {
		return dateWeight
	}
	if days > s.DateDayThreshold {
		return 0
	}
	return dateWeight * (1 - float64(days)/float64(s.DateDayThreshold))
}

func payeeComponent(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return payeeWeight
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return payeeWeight / 2
	}
	return 0
}

func daysApart(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}
