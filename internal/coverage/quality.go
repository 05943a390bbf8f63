// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package coverage

import (
	"math"
	"time"

	"github.com/tomtom215/channelmetrics/internal/models"
)

// Tier is a backfill-depth recommendation keyed on the age of the oldest stored date.
type Tier struct {
	Name string `json:"name"`

	// MaxAgeDays is the exclusive upper bound on the oldest date's age for this tier.
	// Zero means unbounded.
	MaxAgeDays int `json:"max_age_days,omitempty"`

	// LookbackDays is how far back from the newest available date to walk.
	LookbackDays int `json:"lookback_days"`

	// ExecuteFraction is the share of the walk to actually execute (0..1].
	ExecuteFraction float64 `json:"execute_fraction"`
}

// DefaultTiers are ordered by MaxAgeDays ascending; the last tier is unbounded.
var DefaultTiers = []Tier{
	{Name: "aggressive", MaxAgeDays: 7, LookbackDays: 90, ExecuteFraction: 1.0},
	{Name: "moderate", MaxAgeDays: 30, LookbackDays: 60, ExecuteFraction: 0.75},
	{Name: "conservative", MaxAgeDays: 365, LookbackDays: 30, ExecuteFraction: 0.5},
	{Name: "minimal", LookbackDays: 14, ExecuteFraction: 0.25},
}

// FreshTier is used when nothing has been stored yet.
var FreshTier = Tier{Name: "fresh", LookbackDays: DefaultFreshWindowDays, ExecuteFraction: 1.0}

// Quality summarizes how complete the stored date coverage is.
type Quality struct {
	// CoveragePercent is distinct stored dates over the inclusive span between
	// oldest and newest stored date, as a percentage.
	CoveragePercent float64 `json:"coverage_percent"`
	SpanDays        int     `json:"span_days"`
	DistinctDates   int     `json:"distinct_dates"`
	OldestAgeDays   int     `json:"oldest_age_days"`
	Tier            Tier    `json:"tier"`

	// RecommendedDays is LookbackDays * ExecuteFraction, rounded up and capped at 365.
	RecommendedDays int `json:"recommended_days"`
}

// Quality computes coverage quality for the stored dates.
func (a *Analyzer) Quality(existing []time.Time) *Quality {
	dates := normalize(existing)
	if len(dates) == 0 {
		tier := FreshTier
		tier.LookbackDays = a.freshWindow
		return &Quality{Tier: tier, RecommendedDays: recommendedDays(tier)}
	}

	oldest, newest := dates[0], dates[len(dates)-1]
	span := models.DaysBetween(oldest, newest) + 1
	age := models.DaysBetween(oldest, models.Day(a.now().UTC()))
	tier := TierForAge(age)

	return &Quality{
		CoveragePercent: math.Round(float64(len(dates))/float64(span)*10000) / 100,
		SpanDays:        span,
		DistinctDates:   len(dates),
		OldestAgeDays:   age,
		Tier:            tier,
		RecommendedDays: recommendedDays(tier),
	}
}

// TierForAge selects the tier for an oldest-date age in days.
func TierForAge(ageDays int) Tier {
	for _, t := range DefaultTiers {
		if t.MaxAgeDays == 0 || ageDays < t.MaxAgeDays {
			return t
		}
	}
	return DefaultTiers[len(DefaultTiers)-1]
}

func recommendedDays(t Tier) int {
	days := int(math.Ceil(float64(t.LookbackDays) * t.ExecuteFraction))
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}
	return days
}
