package analytics

import "strings"

// UAInfo holds the coarse device dimensions derived from a User-Agent
// header. These feed both live ingestion and offline rollups, so the
// classification must stay deterministic and side-effect free.
type UAInfo struct {
	DeviceType string
	OS         string
	Browser    string
}

// ClassifyUserAgent pattern-matches a raw User-Agent string into coarse
// dimensions. Tablet markers are checked before generic mobile markers so
// tablets are not misclassified as phones. Unmatched os/browser values come
// back as "unknown"; an unmatched device falls back to deviceFallback.
func ClassifyUserAgent(ua string, deviceFallback string) UAInfo {
	if deviceFallback == "" {
		deviceFallback = "desktop"
	}
	lower := strings.ToLower(ua)

	info := UAInfo{
		DeviceType: deviceFallback,
		OS:         "unknown",
		Browser:    "unknown",
	}
	if lower == "" {
		return info
	}

	switch {
	case containsAny(lower, "ipad", "tablet", "kindle", "silk/", "playbook"):
		info.DeviceType = "tablet"
	case containsAny(lower, "mobi", "iphone", "ipod", "windows phone"),
		strings.Contains(lower, "android") && strings.Contains(lower, "mobile"):
		info.DeviceType = "mobile"
	case containsAny(lower, "windows", "macintosh", "x11", "cros"):
		info.DeviceType = "desktop"
	}

	switch {
	case containsAny(lower, "iphone", "ipad", "ipod"):
		info.OS = "ios"
	case strings.Contains(lower, "android"):
		info.OS = "android"
	case strings.Contains(lower, "windows"):
		info.OS = "windows"
	case containsAny(lower, "mac os x", "macintosh"):
		info.OS = "macos"
	case strings.Contains(lower, "cros"):
		info.OS = "chromeos"
	case strings.Contains(lower, "linux"):
		info.OS = "linux"
	}

	// Chromium UAs also claim Safari, and Edge/Opera also claim Chrome, so
	// the more specific tokens must win.
	switch {
	case strings.Contains(lower, "edg"):
		info.Browser = "edge"
	case containsAny(lower, "opr/", "opera"):
		info.Browser = "opera"
	case containsAny(lower, "chrome/", "crios/"):
		info.Browser = "chrome"
	case strings.Contains(lower, "firefox/"):
		info.Browser = "firefox"
	case strings.Contains(lower, "safari/"):
		info.Browser = "safari"
	case containsAny(lower, "msie", "trident/"):
		info.Browser = "ie"
	}

	return info
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
