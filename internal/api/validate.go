package api

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/maltedev/affiliate-scraper/internal/models"
)

const maxURLLength = 2048

// URLValidator accepts https links on an allowed Amazon storefront or a
// known short-link host and nothing else.
type URLValidator struct {
	domains    map[string]struct{}
	shorteners map[string]struct{}
}

// NewURLValidator creates a validator accepting the given registrable
// domains and short-link hosts.
func NewURLValidator(allowedDomains, shortenerHosts []string) *URLValidator {
	return &URLValidator{
		domains:    hostSet(allowedDomains),
		shorteners: hostSet(shortenerHosts),
	}
}

// Validate returns the normalized URL or an error wrapping
// models.ErrInvalidURL.
func (v *URLValidator) Validate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", models.ErrInvalidURL)
	}
	if len(raw) > maxURLLength {
		return "", fmt.Errorf("%w: url is too long", models.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidURL, err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("%w: only https urls are accepted", models.ErrInvalidURL)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials are not allowed", models.ErrInvalidURL)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("%w: missing host", models.ErrInvalidURL)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return "", fmt.Errorf("%w: local hosts are not allowed", models.ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isInternalIP(ip) {
			return "", fmt.Errorf("%w: internal addresses are not allowed", models.ErrInvalidURL)
		}
		return "", fmt.Errorf("%w: ip addresses are not allowed", models.ErrInvalidURL)
	}
	if p := u.Port(); p != "" && p != "443" {
		return "", fmt.Errorf("%w: non-standard port", models.ErrInvalidURL)
	}

	if _, ok := v.shorteners[host]; ok {
		return u.String(), nil
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidURL, err)
	}
	if _, ok := v.domains[domain]; !ok {
		return "", fmt.Errorf("%w: %s is not an amazon domain", models.ErrInvalidURL, domain)
	}

	return u.String(), nil
}

func isInternalIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

func hostSet(hosts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}
