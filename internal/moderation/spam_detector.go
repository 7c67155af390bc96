package moderation

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/iamwavecut/modbot/internal/db"
)

type SpamSubtype string

const (
	SpamFlood     SpamSubtype = "flood"
	SpamDuplicate SpamSubtype = "duplicate"
	SpamSimilar   SpamSubtype = "similar"
	SpamShort     SpamSubtype = "short_spam"
)

type SpamResult struct {
	Subtype    SpamSubtype
	Confidence float64
	Reason     string
}

type SpamConfig struct {
	FloodLimit          int
	FloodWindow         time.Duration
	DupWindow           time.Duration
	DuplicateLimit      int
	SimilarityThreshold float64
	SimilarMaxLen       int
	SimilarLimit        int
	ShortLen            int
	ShortLimit          int
	ShortWindow         time.Duration
	Phrases             []string
}

var DefaultSpamPhrases = []string{
	"ау", "аууу", "ответьте", "отвечайте", "эй", "где все", "алло",
	"???", "!!!", "где вода", "где", "когда", "почему", "ну и",
	"блин", "опять", "снова", "опааа",
}

func DefaultSpamConfig() SpamConfig {
	return SpamConfig{
		FloodLimit:          5,
		FloodWindow:         60 * time.Second,
		DupWindow:           300 * time.Second,
		DuplicateLimit:      2,
		SimilarityThreshold: 0.8,
		SimilarMaxLen:       20,
		SimilarLimit:        2,
		ShortLen:            10,
		ShortLimit:          3,
		ShortWindow:         120 * time.Second,
		Phrases:             DefaultSpamPhrases,
	}
}

// SpamDetector evaluates a message against the sender's recent clean
// history. Checks run in a fixed order and the first match wins.
type SpamDetector struct {
	cfg     SpamConfig
	phrases []string
}

func NewSpamDetector(cfg SpamConfig) *SpamDetector {
	phrases := make([]string, 0, len(cfg.Phrases))
	for _, p := range cfg.Phrases {
		if p = normalizeText(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	return &SpamDetector{cfg: cfg, phrases: phrases}
}

// Evaluate checks text and, when it is clean, appends it to history. Flagged
// messages are never stored, so a burst of varying spam is only compared
// against earlier clean messages and never against itself.
func (d *SpamDetector) Evaluate(history *db.History, text string, now time.Time) *SpamResult {
	result, ok := d.Check(history, text, now)
	if ok {
		return result
	}
	d.Observe(history, text, now)
	return nil
}

// Observe appends a clean message to history without checking it.
func (d *SpamDetector) Observe(history *db.History, text string, now time.Time) {
	normalized := normalizeText(text)
	if normalized == "" {
		return
	}
	history.Push(db.HistoryEntry{Text: normalized, At: now})
}

func (d *SpamDetector) Check(history *db.History, text string, now time.Time) (*SpamResult, bool) {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil, false
	}
	entries := history.Entries()

	checks := []func([]db.HistoryEntry, string, time.Time) *SpamResult{
		d.checkFlood,
		d.checkDuplicate,
		d.checkSimilar,
		d.checkShort,
	}
	for _, check := range checks {
		if result := check(entries, normalized, now); result != nil {
			return result, true
		}
	}
	return nil, false
}

// checkFlood counts the message under evaluation together with the history,
// so the FloodLimit-th message inside the window is the one flagged. A
// history-only count would let one more message through.
func (d *SpamDetector) checkFlood(entries []db.HistoryEntry, _ string, now time.Time) *SpamResult {
	recent := 1
	for _, e := range entries {
		if within(e.At, now, d.cfg.FloodWindow) {
			recent++
		}
	}
	if recent < d.cfg.FloodLimit {
		return nil
	}
	return &SpamResult{
		Subtype:    SpamFlood,
		Confidence: 0.9,
		Reason:     fmt.Sprintf("sent %d messages within %d seconds", recent, int(d.cfg.FloodWindow.Seconds())),
	}
}

func (d *SpamDetector) checkDuplicate(entries []db.HistoryEntry, text string, now time.Time) *SpamResult {
	copies := 0
	for _, e := range entries {
		if within(e.At, now, d.cfg.DupWindow) && e.Text == text {
			copies++
		}
	}
	if copies < d.cfg.DuplicateLimit {
		return nil
	}
	return &SpamResult{
		Subtype:    SpamDuplicate,
		Confidence: 1.0,
		Reason:     fmt.Sprintf("duplicate message (%d copies found)", copies),
	}
}

func (d *SpamDetector) checkSimilar(entries []db.HistoryEntry, text string, now time.Time) *SpamResult {
	if utf8.RuneCountInString(text) > d.cfg.SimilarMaxLen {
		return nil
	}
	similar := 0
	for _, e := range entries {
		if within(e.At, now, d.cfg.DupWindow) && similarity(text, e.Text) >= d.cfg.SimilarityThreshold {
			similar++
		}
	}
	if similar < d.cfg.SimilarLimit {
		return nil
	}
	return &SpamResult{
		Subtype:    SpamSimilar,
		Confidence: 0.8,
		Reason:     fmt.Sprintf("similar messages (%d found)", similar),
	}
}

func (d *SpamDetector) checkShort(entries []db.HistoryEntry, text string, now time.Time) *SpamResult {
	if !d.isShortOrPattern(text) {
		return nil
	}
	short := 0
	for _, e := range entries {
		if within(e.At, now, d.cfg.ShortWindow) && d.isShortOrPattern(e.Text) {
			short++
		}
	}
	if short < d.cfg.ShortLimit {
		return nil
	}
	return &SpamResult{
		Subtype:    SpamShort,
		Confidence: 0.7,
		Reason:     fmt.Sprintf("spamming short messages (%d within %d min)", short, int(d.cfg.ShortWindow.Minutes())),
	}
}

func (d *SpamDetector) isShortOrPattern(text string) bool {
	if utf8.RuneCountInString(text) <= d.cfg.ShortLen {
		return true
	}
	for _, p := range d.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func within(at, now time.Time, window time.Duration) bool {
	return now.Sub(at) <= window
}

func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
