package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns hex(SHA-256(userAgent NUL ip)). Identical inputs always
// yield the same id.
func Fingerprint(userAgent, ip string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(userAgent)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(ip)))
	return hex.EncodeToString(h.Sum(nil))
}

var browsers = []struct{ token, name string }{
	{"Edg/", "Edge"},
	{"OPR/", "Opera"},
	{"Firefox/", "Firefox"},
	{"Chrome/", "Chrome"},
	{"Safari/", "Safari"},
	{"curl/", "curl"},
}

var platforms = []struct{ token, name string }{
	{"iPhone", "iOS"},
	{"iPad", "iPadOS"},
	{"Android", "Android"},
	{"Windows", "Windows"},
	{"Mac OS X", "macOS"},
	{"Macintosh", "macOS"},
	{"Linux", "Linux"},
}

// Name renders a short label such as "Chrome on macOS" for session lists.
func Name(userAgent string) string {
	browser, platform := "", ""
	for _, b := range browsers {
		if strings.Contains(userAgent, b.token) {
			browser = b.name
			break
		}
	}
	for _, p := range platforms {
		if strings.Contains(userAgent, p.token) {
			platform = p.name
			break
		}
	}
	switch {
	case browser != "" && platform != "":
		return browser + " on " + platform
	case browser != "":
		return browser
	case platform != "":
		return platform
	default:
		return "Unknown device"
	}
}
