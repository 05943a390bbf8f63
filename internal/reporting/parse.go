// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package reporting

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tomtom215/channelmetrics/internal/models"
)

// ColVideoID is the column every report kind keys its rows on.
const ColVideoID = "video_id"

// requiredColumns lists the metric columns each kind must carry besides video_id.
var requiredColumns = map[models.ReportKind][]string{
	models.ReportKindBasic:         {"views"},
	models.ReportKindCombined:      {"views"},
	models.ReportKindDemographics:  {"age_group", "gender", "views_percentage"},
	models.ReportKindTrafficSource: {"traffic_source_type", "views"},
}

// Parse decodes a CSV report payload into rows keyed by header name.
// Rows without a video_id are dropped. A header-only payload yields no rows.
// Any structural problem returns an error wrapping ErrParse.
func Parse(raw []byte, kind models.ReportKind) ([]models.RawRow, error) {
	required, ok := requiredColumns[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown report kind %q", ErrParse, kind)
	}

	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload for %s", ErrParse, kind)
	}

	r := csv.NewReader(bytes.NewReader(raw))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header for %s: %v", ErrParse, kind, err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, col := range append([]string{ColVideoID}, required...) {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: %s report missing column %q", ErrParse, kind, col)
		}
	}

	var rows []models.RawRow
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrParse, kind, line, err)
		}

		videoID := strings.TrimSpace(record[index[ColVideoID]])
		if videoID == "" {
			continue
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			fields[name] = strings.TrimSpace(record[i])
		}
		rows = append(rows, models.RawRow{VideoID: videoID, Fields: fields})
	}
	return rows, nil
}
