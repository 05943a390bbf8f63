// Channelmetrics - Video Performance Analytics Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/channelmetrics

package merge

import "strings"

// trafficSourceLabels maps the service's numeric traffic source codes to labels.
var trafficSourceLabels = map[string]string{
	"0":  "direct_or_unknown",
	"1":  "advertising",
	"3":  "browse_features",
	"4":  "channel_pages",
	"5":  "search",
	"7":  "suggested_videos",
	"8":  "other_features",
	"9":  "external",
	"11": "cards_and_annotations",
	"14": "playlists",
	"17": "notifications",
	"18": "playlist_pages",
	"19": "claimed_content",
	"20": "end_screens",
	"23": "stories",
	"24": "shorts_feed",
	"25": "product_pages",
	"26": "hashtag_pages",
	"27": "sound_pages",
	"28": "live_redirect",
	"30": "remixed_video",
	"31": "vertical_live_feed",
	"32": "related_video",
}

// deviceLabels maps the service's numeric device type codes to labels.
var deviceLabels = map[string]string{
	"100": "unknown",
	"101": "desktop",
	"102": "tv",
	"103": "game_console",
	"104": "mobile",
	"105": "tablet",
}

// TrafficSourceLabel returns the label for a traffic source code.
// Unknown codes become "source_<code>"; empty codes become "unknown".
func TrafficSourceLabel(code string) string {
	return label(trafficSourceLabels, "source_", code)
}

// DeviceLabel returns the label for a device type code.
func DeviceLabel(code string) string {
	return label(deviceLabels, "device_", code)
}

func label(known map[string]string, prefix, code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "unknown"
	}
	if l, ok := known[code]; ok {
		return l
	}
	return prefix + strings.ToLower(code)
}
