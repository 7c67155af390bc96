package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkDetectorSuspicious(t *testing.T) {
	t.Parallel()

	d := NewLinkDetector(nil)
	tests := []struct {
		name       string
		text       string
		suspicious bool
	}{
		{name: "plain text", text: "привет всем, как дела?"},
		{name: "trusted telegram link", text: "смотри https://t.me/durov"},
		{name: "trusted youtube www", text: "вот www.youtube.com/watch?v=1"},
		{name: "trusted short youtube", text: "https://youtu.be/abc"},
		{name: "untrusted http", text: "free money http://evil.example.com/x", suspicious: true},
		{name: "untrusted www", text: "visit WWW.Casino.example", suspicious: true},
		{name: "mention", text: "пиши @cheap_deals", suspicious: true},
		{name: "userinfo trick", text: "https://t.me@evil.example", suspicious: true},
		{name: "empty", text: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Suspicious(tt.text)
			assert.Equal(t, tt.suspicious, len(got) > 0, "links: %v", got)
		})
	}
}

func TestLinkDetectorCustomDomains(t *testing.T) {
	t.Parallel()

	d := NewLinkDetector([]string{" Example.COM ", ""})
	require.True(t, d.IsTrusted("https://docs.example.com/page"))
	require.True(t, d.IsTrusted("www.example.com"))
	require.False(t, d.IsTrusted("https://t.me/x"))
	require.False(t, d.IsTrusted(""))
}

func TestLinkDetectorDetect(t *testing.T) {
	t.Parallel()

	links := NewLinkDetector(nil).Detect("go to HTTPS://A.example and @bob")
	require.Contains(t, links, "HTTPS://A.example")
	require.Contains(t, links, "@bob")
}
