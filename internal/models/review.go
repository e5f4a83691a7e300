package models

import (
	"fmt"
	"math"
	"time"
)

const (
	SubjectTour        = "tour"
	SubjectDestination = "destination"
)

const (
	MinRating = 1
	MaxRating = 5
)

// NoRatingDisplay is shown instead of an average when nothing was rated yet.
const NoRatingDisplay = "no rating yet"

type Review struct {
	ID          string    `json:"id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment"`
	CreatedAt   time.Time `json:"created_at"`
}

type RatingSummary struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
	Display string  `json:"display"`
}

// Summarize averages the ratings rounded to one decimal place.
func Summarize(reviews []Review) RatingSummary {
	if len(reviews) == 0 {
		return RatingSummary{Display: NoRatingDisplay}
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	return SummaryFromTotals(sum, len(reviews))
}

// SummaryFromTotals builds a summary from a precomputed sum and count.
func SummaryFromTotals(sum, count int) RatingSummary {
	if count <= 0 {
		return RatingSummary{Display: NoRatingDisplay}
	}
	avg := math.Round(float64(sum)/float64(count)*10) / 10
	return RatingSummary{
		Average: avg,
		Count:   count,
		Display: fmt.Sprintf("%.1f", avg),
	}
}
