// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package coverage

import (
	"sort"
	"time"

	"github.com/tomtom215/channelmetrics/internal/models"
)

// Default analyzer settings.
const (
	DefaultPublicationDelayDays = 4
	DefaultFreshWindowDays      = 30
)

// Recommended actions.
const (
	ActionFreshStart = "fresh_start"
	ActionFillGap    = "fill_gap"
	ActionCatchUp    = "catch_up"
	ActionUpToDate   = "up_to_date"
)

// Analysis is the result of a gap analysis.
type Analysis struct {
	Gaps             []models.Gap `json:"gaps"`
	TotalMissingDays int          `json:"total_missing_days"`
	FirstDate        *time.Time   `json:"first_date"`
	LastDate         *time.Time   `json:"last_date"`
	NextMissingDate  *time.Time   `json:"next_missing_date"`
	RecommendedRange *models.Gap  `json:"recommended_range"`
	Action           string       `json:"recommended_action"`
	DistinctDates    int          `json:"distinct_dates"`
	AvailableThrough time.Time    `json:"available_through"`
}

// Analyzer computes gaps over stored dates.
type Analyzer struct {
	publicationDelay int
	freshWindow      int
	now              func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithPublicationDelay sets how many days the reporting service lags real time.
func WithPublicationDelay(days int) Option {
	return func(a *Analyzer) {
		if days >= 0 {
			a.publicationDelay = days
		}
	}
}

// WithFreshWindow sets the size of the recommended window when nothing is stored.
func WithFreshWindow(days int) Option {
	return func(a *Analyzer) {
		if days > 0 {
			a.freshWindow = days
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAnalyzer creates an analyzer with the given options.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		publicationDelay: DefaultPublicationDelayDays,
		freshWindow:      DefaultFreshWindowDays,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PublicationDelay returns the configured publication delay in days.
func (a *Analyzer) PublicationDelay() int {
	return a.publicationDelay
}

// AvailableThrough returns the newest date the reporting service is expected
// to have published: today minus the publication delay.
func (a *Analyzer) AvailableThrough() time.Time {
	return models.AddDays(a.now().UTC(), -a.publicationDelay)
}

// Analyze walks the stored dates and reports gaps and a recommendation.
// Input need not be sorted or unique; it never returns an error.
func (a *Analyzer) Analyze(existing []time.Time) *Analysis {
	dates := normalize(existing)
	availableThrough := a.AvailableThrough()

	result := &Analysis{
		Gaps:             []models.Gap{},
		DistinctDates:    len(dates),
		AvailableThrough: availableThrough,
	}

	if len(dates) == 0 {
		start := models.AddDays(availableThrough, -(a.freshWindow - 1))
		fresh := models.NewGap(start, availableThrough)
		result.RecommendedRange = &fresh
		result.Action = ActionFreshStart
		return result
	}

	for i := 1; i < len(dates); i++ {
		diff := models.DaysBetween(dates[i-1], dates[i])
		if diff > 1 {
			gap := models.NewGap(models.AddDays(dates[i-1], 1), models.AddDays(dates[i], -1))
			result.Gaps = append(result.Gaps, gap)
			result.TotalMissingDays += gap.DayCount
		}
	}

	first := dates[0]
	last := dates[len(dates)-1]
	next := models.AddDays(last, 1)
	result.FirstDate = &first
	result.LastDate = &last
	result.NextMissingDate = &next

	if largest := largestGap(result.Gaps); largest != nil {
		result.RecommendedRange = largest
		result.Action = ActionFillGap
		return result
	}

	if next.After(availableThrough) {
		result.Action = ActionUpToDate
		return result
	}

	catchUp := models.NewGap(next, availableThrough)
	result.RecommendedRange = &catchUp
	result.Action = ActionCatchUp
	return result
}

// largestGap returns the gap with the most days; ties go to the oldest gap.
func largestGap(gaps []models.Gap) *models.Gap {
	if len(gaps) == 0 {
		return nil
	}
	best := gaps[0]
	for _, g := range gaps[1:] {
		if g.DayCount > best.DayCount {
			best = g
		}
	}
	return &best
}

// normalize truncates to calendar days, sorts ascending and removes duplicates.
func normalize(dates []time.Time) []time.Time {
	if len(dates) == 0 {
		return nil
	}
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		days = append(days, models.Day(d))
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := days[:1]
	for _, d := range days[1:] {
		if !d.Equal(out[len(out)-1]) {
			out = append(out, d)
		}
	}
	return out
}
