// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

// Package merge combines the per-kind raw rows downloaded for one date into
// unified per-video analytics records.
//
// Each report kind supplies a subset of the record's fields. Kinds are applied
// in models.MergePriority order and a later kind overwrites the fields it
// supplies, so the combined kind overrides the basic kind on the shared core
// metrics. Fields that no kind supplied stay nil ("not reported").
//
// Within one kind the service emits several rows per video (one per country,
// subscription status, device and so on). Those rows are aggregated first:
// counts are summed, average view duration is view-weighted, click-through
// rate is impression-weighted and demographic shares are renormalised to 100.
package merge

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/channelmetrics/internal/models"
)

// Report column names.
const (
	ColVideoID             = "video_id"
	ColViews               = "views"
	ColWatchTimeMinutes    = "watch_time_minutes"
	ColAverageViewDuration = "average_view_duration_seconds"
	ColSubscribersGained   = "subscribers_gained"
	ColSubscribersLost     = "subscribers_lost"
	ColImpressions         = "video_thumbnail_impressions"
	ColImpressionsCTR      = "video_thumbnail_impressions_ctr"
	ColTrafficSourceType   = "traffic_source_type"
	ColDeviceType          = "device_type"
	ColAgeGroup            = "age_group"
	ColGender              = "gender"
	ColViewsPercentage     = "views_percentage"
)

// Input is the parsed rows of one report kind for one date.
type Input struct {
	Rows []models.RawRow

	// Approximate marks rows served from a report instance that did not
	// cover the target date exactly.
	Approximate bool
}

// Merge builds one record per video from the rows of every available kind.
// Output order is by video_id; each video_id appears at most once.
func Merge(date time.Time, rowsByKind map[models.ReportKind]Input) []*models.AnalyticsRecord {
	day := models.Day(date)
	records := make(map[string]*models.AnalyticsRecord)

	for _, kind := range orderedKinds(rowsByKind) {
		input := rowsByKind[kind]
		for videoID, agg := range aggregate(kind, input.Rows) {
			rec, ok := records[videoID]
			if !ok {
				rec = &models.AnalyticsRecord{VideoID: videoID, Date: day}
				records[videoID] = rec
			}
			agg.apply(rec)
			rec.ReportKinds = append(rec.ReportKinds, kind)
			if input.Approximate {
				rec.Approximate = true
				rec.ApproximateKinds = append(rec.ApproximateKinds, kind)
			}
		}
	}

	out := make([]*models.AnalyticsRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out
}

// orderedKinds returns the known kinds present in rowsByKind in merge order.
// Unknown kinds are ignored.
func orderedKinds(rowsByKind map[models.ReportKind]Input) []models.ReportKind {
	kinds := make([]models.ReportKind, 0, len(rowsByKind))
	for _, kind := range models.MergePriority {
		if _, ok := rowsByKind[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// videoAggregate accumulates one video's rows for one kind.
type videoAggregate struct {
	kind models.ReportKind

	views, subsGained, subsLost, impressions int64
	watchMinutes                             float64
	durationWeighted, ctrWeighted            float64

	hasViews, hasWatch, hasDuration, hasSubsGained, hasSubsLost bool
	hasImpressions, hasCTR                                      bool

	traffic      map[string]int64
	devices      map[string]int64
	demographics map[string]float64
}

func aggregate(kind models.ReportKind, rows []models.RawRow) map[string]*videoAggregate {
	out := make(map[string]*videoAggregate)
	for _, row := range rows {
		if row.VideoID == "" {
			continue
		}
		agg, ok := out[row.VideoID]
		if !ok {
			agg = &videoAggregate{kind: kind}
			out[row.VideoID] = agg
		}
		agg.add(row)
	}
	return out
}

func (a *videoAggregate) add(row models.RawRow) {
	views, hasViews := parseInt(row.Get(ColViews))
	if hasViews {
		a.views += views
		a.hasViews = true
	}
	if v, ok := parseFloat(row.Get(ColWatchTimeMinutes)); ok {
		a.watchMinutes += v
		a.hasWatch = true
	}
	if v, ok := parseFloat(row.Get(ColAverageViewDuration)); ok && hasViews {
		a.durationWeighted += v * float64(views)
		a.hasDuration = true
	}
	if v, ok := parseInt(row.Get(ColSubscribersGained)); ok {
		a.subsGained += v
		a.hasSubsGained = true
	}
	if v, ok := parseInt(row.Get(ColSubscribersLost)); ok {
		a.subsLost += v
		a.hasSubsLost = true
	}
	impressions, hasImpressions := parseInt(row.Get(ColImpressions))
	if hasImpressions {
		a.impressions += impressions
		a.hasImpressions = true
	}
	if v, ok := parseFloat(row.Get(ColImpressionsCTR)); ok && hasImpressions {
		a.ctrWeighted += v * float64(impressions)
		a.hasCTR = true
	}

	switch a.kind {
	case models.ReportKindCombined:
		if hasViews {
			addCount(&a.devices, DeviceLabel(row.Get(ColDeviceType)), views)
			addCount(&a.traffic, TrafficSourceLabel(row.Get(ColTrafficSourceType)), views)
		}
	case models.ReportKindTrafficSource:
		if hasViews {
			addCount(&a.traffic, TrafficSourceLabel(row.Get(ColTrafficSourceType)), views)
		}
	case models.ReportKindDemographics:
		if pct, ok := parseFloat(row.Get(ColViewsPercentage)); ok {
			key := demographicKey(row.Get(ColAgeGroup), row.Get(ColGender))
			if a.demographics == nil {
				a.demographics = make(map[string]float64)
			}
			a.demographics[key] += pct
		}
	}
}

// apply overlays the aggregate's fields onto rec.
func (a *videoAggregate) apply(rec *models.AnalyticsRecord) {
	if a.hasViews {
		rec.Views = int64Ptr(a.views)
	}
	if a.hasWatch {
		rec.WatchTimeMinutes = float64Ptr(a.watchMinutes)
	}
	if a.hasDuration {
		avg := 0.0
		if a.views > 0 {
			avg = round2(a.durationWeighted / float64(a.views))
		}
		rec.AverageViewDuration = float64Ptr(avg)
	} else if a.hasWatch && a.hasViews && a.views > 0 {
		rec.AverageViewDuration = float64Ptr(round2(a.watchMinutes * 60 / float64(a.views)))
	}
	if a.hasSubsGained {
		rec.SubscribersGained = int64Ptr(a.subsGained)
	}
	if a.hasSubsLost {
		rec.SubscribersLost = int64Ptr(a.subsLost)
	}
	if a.hasImpressions {
		rec.Impressions = int64Ptr(a.impressions)
	}
	if a.hasCTR {
		ctr := 0.0
		if a.impressions > 0 {
			ctr = math.Round(a.ctrWeighted/float64(a.impressions)*10000) / 10000
		}
		rec.ClickThroughRate = float64Ptr(ctr)
	}
	if a.traffic != nil {
		rec.TrafficSources = a.traffic
	}
	if a.devices != nil {
		rec.Devices = a.devices
	}
	if a.demographics != nil {
		rec.Demographics = normalizePercentages(a.demographics)
	}
}

func addCount(m *map[string]int64, key string, n int64) {
	if *m == nil {
		*m = make(map[string]int64)
	}
	(*m)[key] += n
}

func demographicKey(ageGroup, gender string) string {
	age := strings.TrimPrefix(strings.TrimSpace(ageGroup), "AGE_")
	if age == "" {
		age = "unknown"
	}
	g := strings.ToLower(strings.TrimSpace(gender))
	if g == "" {
		g = "unknown"
	}
	return age + "|" + g
}

// normalizePercentages rescales values so they sum to 100.
func normalizePercentages(m map[string]float64) map[string]float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if total > 0 {
			out[k] = round2(v / total * 100)
		} else {
			out[k] = 0
		}
	}
	return out
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	// Some exports render integer metrics as "12.0".
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return int64(math.Round(f)), true
	}
	return 0, false
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func int64Ptr(v int64) *int64 {
	return &v
}

func float64Ptr(v float64) *float64 {
	return &v
}
