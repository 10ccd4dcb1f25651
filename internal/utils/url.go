package utils

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

var (
	invitePattern = regexp.MustCompile(`(?i)(discord\.(gg|io|me|li)|discordapp\.com/invite|discord\.com/invite)(/[\w-]+)?`)
	linkPattern   = regexp.MustCompile(`(?i)(https?://|www\.|discord\.(gg|io|me|li)|discordapp\.com/invite)`)
)

// FindInvite returns the first invite link in content, if any.
func FindInvite(content string) (string, bool) {
	match := invitePattern.FindString(content)
	return match, match != ""
}

// ContainsLink reports whether text looks like it carries a URL or invite.
func ContainsLink(text string) bool {
	return linkPattern.MatchString(text)
}

// NormalizeURL lowercases and punycodes the host and strips fragments and
// credentials. It returns the normalized URL and its host.
func NormalizeURL(raw string) (string, string, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}

	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil
	parsed.RawQuery = ""

	return parsed.String(), host, nil
}
