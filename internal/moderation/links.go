package moderation

import (
	"net/url"
	"regexp"
	"strings"
)

var DefaultTrustedDomains = []string{"t.me", "youtube.com", "youtu.be"}

var linkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)https?://\S+`),
	regexp.MustCompile(`(?i)www\.\S+`),
	regexp.MustCompile(`(?i)t\.me/\S+`),
	regexp.MustCompile(`(?i)@[a-z0-9_]+`),
}

// LinkDetector finds links and username mentions and tells trusted ones
// from the rest. A host is trusted when it contains one of the configured
// domains.
type LinkDetector struct {
	trusted []string
}

func NewLinkDetector(trustedDomains []string) *LinkDetector {
	if len(trustedDomains) == 0 {
		trustedDomains = DefaultTrustedDomains
	}
	trusted := make([]string, 0, len(trustedDomains))
	for _, d := range trustedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			trusted = append(trusted, d)
		}
	}
	return &LinkDetector{trusted: trusted}
}

func (d *LinkDetector) Detect(text string) []string {
	if text == "" {
		return nil
	}
	var links []string
	for _, re := range linkPatterns {
		links = append(links, re.FindAllString(text, -1)...)
	}
	return links
}

func (d *LinkDetector) IsTrusted(link string) bool {
	if link == "" || len(d.trusted) == 0 {
		return false
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		link = "http://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	for _, domain := range d.trusted {
		if strings.Contains(host, domain) {
			return true
		}
	}
	return false
}

// Suspicious returns the links in text that are not trusted.
func (d *LinkDetector) Suspicious(text string) []string {
	var suspicious []string
	for _, link := range d.Detect(text) {
		if !d.IsTrusted(link) {
			suspicious = append(suspicious, link)
		}
	}
	return suspicious
}
