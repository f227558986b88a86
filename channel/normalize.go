package channel

import (
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// normalizeRelayURL lowercases the scheme/host and converts an
// internationalized relay hostname to its ASCII (punycode) form.
func normalizeRelayURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := strings.ToLower(u.Host)
	if ascii, err := idna.ToASCII(stripPort(host)); err == nil && ascii != "" {
		if port := portOf(host); port != "" {
			host = ascii + ":" + port
		} else {
			host = ascii
		}
	}
	u.Host = host
	return u.String()
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

func portOf(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[i+1:]
	}
	return ""
}
