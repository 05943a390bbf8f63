// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package models

import (
	"fmt"
	"strings"
)

// ReportKind identifies one category of exported metrics on the reporting service.
// The string value is the service's report type identifier.
type ReportKind string

const (
	// ReportKindBasic carries views, watch time and subscriber changes.
	ReportKindBasic ReportKind = "channel_basic_a2"

	// ReportKindCombined carries the basic metrics broken down by device,
	// playback location and traffic source. Considered more complete than basic.
	ReportKindCombined ReportKind = "channel_combined_a2"

	// ReportKindDemographics carries viewer percentages by age group and gender.
	ReportKindDemographics ReportKind = "channel_demographics_a1"

	// ReportKindTrafficSource carries views by traffic source type and detail.
	ReportKindTrafficSource ReportKind = "channel_traffic_source_a2"
)

// MergePriority lists report kinds in merge order. A kind later in the list
// wins over an earlier kind on overlapping fields.
var MergePriority = []ReportKind{
	ReportKindBasic,
	ReportKindCombined,
	ReportKindDemographics,
	ReportKindTrafficSource,
}

// AllReportKinds returns every supported report kind in merge order.
func AllReportKinds() []ReportKind {
	kinds := make([]ReportKind, len(MergePriority))
	copy(kinds, MergePriority)
	return kinds
}

// Valid reports whether k is a supported report kind.
func (k ReportKind) Valid() bool {
	for _, known := range MergePriority {
		if k == known {
			return true
		}
	}
	return false
}

// Priority returns the merge position of k, or -1 for unknown kinds.
func (k ReportKind) Priority() int {
	for i, known := range MergePriority {
		if k == known {
			return i
		}
	}
	return -1
}

// String implements fmt.Stringer.
func (k ReportKind) String() string {
	return string(k)
}

// ParseReportKind accepts either the full report type id or a short alias
// (basic, combined, demographics, traffic_source).
func ParseReportKind(s string) (ReportKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic", string(ReportKindBasic):
		return ReportKindBasic, nil
	case "combined", string(ReportKindCombined):
		return ReportKindCombined, nil
	case "demographics", string(ReportKindDemographics):
		return ReportKindDemographics, nil
	case "traffic", "traffic_source", string(ReportKindTrafficSource):
		return ReportKindTrafficSource, nil
	default:
		return "", fmt.Errorf("unknown report kind %q", s)
	}
}

// RawRow is one decoded line from a single report kind for a single date.
// Fields holds every column of the line keyed by header name.
type RawRow struct {
	VideoID string
	Fields  map[string]string
}

// Get returns the value of a column, or "" if absent.
func (r RawRow) Get(column string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[column]
}
