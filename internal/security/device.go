package security

import "strings"

const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

var (
	botMarkers    = []string{"bot", "crawler", "spider", "curl/", "wget/", "python-requests", "go-http-client"}
	tabletMarkers = []string{"ipad", "tablet", "kindle", "silk/"}
	mobileMarkers = []string{"iphone", "ipod", "android", "mobile", "windows phone", "blackberry"}
	deskMarkers   = []string{"windows nt", "macintosh", "x11", "linux x86_64", "cros"}
)

// DetectDeviceType classifies a User-Agent string into a coarse device class.
func DetectDeviceType(userAgent string) string {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return DeviceUnknown
	}
	switch {
	case containsAny(ua, botMarkers):
		return DeviceBot
	case containsAny(ua, tabletMarkers):
		return DeviceTablet
	// Android tablets omit "mobile" from their UA.
	case strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return DeviceTablet
	case containsAny(ua, mobileMarkers):
		return DeviceMobile
	case containsAny(ua, deskMarkers):
		return DeviceDesktop
	}
	return DeviceUnknown
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
