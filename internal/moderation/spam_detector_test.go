package moderation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamwavecut/modbot/internal/db"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func feed(d *SpamDetector, h *db.History, texts []string, step time.Duration) []*SpamResult {
	results := make([]*SpamResult, 0, len(texts))
	for i, text := range texts {
		results = append(results, d.Evaluate(h, text, t0.Add(time.Duration(i)*step)))
	}
	return results
}

func TestSpamDetectorFlagsFifthFloodMessage(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	texts := make([]string, 5)
	for i := range texts {
		texts[i] = fmt.Sprintf("this is a perfectly normal message number %d", i)
	}
	results := feed(d, &h, texts, 2*time.Second)

	for i := 0; i < 4; i++ {
		assert.Nil(t, results[i], "message %d must pass", i+1)
	}
	require.NotNil(t, results[4])
	assert.Equal(t, SpamFlood, results[4].Subtype)
	assert.Equal(t, 0.9, results[4].Confidence)
	assert.Equal(t, 4, h.Len(), "flagged message must not be stored")
}

func TestSpamDetectorDuplicateOnThirdCopy(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	results := feed(d, &h, []string{"Hello World", "hello world ", "  HELLO WORLD"}, 10*time.Second)

	assert.Nil(t, results[0])
	assert.Nil(t, results[1])
	require.NotNil(t, results[2])
	assert.Equal(t, SpamDuplicate, results[2].Subtype)
	assert.Equal(t, 1.0, results[2].Confidence)
	assert.Equal(t, 2, h.Len())
}

func TestSpamDetectorSimilarOnThirdNearCopy(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	results := feed(d, &h, []string{"hello friends 1", "hello friends 2", "hello friends 3"}, 10*time.Second)

	assert.Nil(t, results[0])
	assert.Nil(t, results[1])
	require.NotNil(t, results[2])
	assert.Equal(t, SpamSimilar, results[2].Subtype)
	assert.Equal(t, 0.8, results[2].Confidence)
}

func TestSpamDetectorSimilarIgnoresLongMessages(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	results := feed(d, &h, []string{
		"a rather long message about the weather 1",
		"a rather long message about the weather 2",
		"a rather long message about the weather 3",
	}, 10*time.Second)

	for _, r := range results {
		assert.Nil(t, r)
	}
	assert.Equal(t, 3, h.Len())
}

func TestSpamDetectorShortSpam(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	results := feed(d, &h, []string{"ok", "yes", "no", "hmm"}, 5*time.Second)

	for i := 0; i < 3; i++ {
		assert.Nil(t, results[i], "message %d must pass", i+1)
	}
	require.NotNil(t, results[3])
	assert.Equal(t, SpamShort, results[3].Subtype)
	assert.Equal(t, 0.7, results[3].Confidence)
}

func TestSpamDetectorSpamPhraseCountsAsShort(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	results := feed(d, &h, []string{
		"ну и где все сегодня вечером",
		"опять ничего не работает в доме",
		"почему никто не отвечает до сих пор",
		"алло, кто-нибудь есть в этом чате",
	}, 5*time.Second)

	require.NotNil(t, results[3])
	assert.Equal(t, SpamShort, results[3].Subtype)
}

func TestSpamDetectorRespectsWindows(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	assert.Nil(t, d.Evaluate(&h, "see you tomorrow", t0))
	assert.Nil(t, d.Evaluate(&h, "see you tomorrow", t0.Add(time.Second)))
	assert.Nil(t, d.Evaluate(&h, "see you tomorrow", t0.Add(400*time.Second)),
		"copies older than the duplicate window must not count")
	assert.Equal(t, 3, h.Len())
}

func TestSpamDetectorIgnoresEmptyText(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	assert.Nil(t, d.Evaluate(&h, "   ", t0))
	assert.Equal(t, 0, h.Len())
}

// Known characteristic: flagged messages never enter history, so repeated
// spam is always judged against the clean messages that preceded it and a
// burst never accumulates evidence against itself.
func TestSpamDetectorFlaggedMessagesAreNotStored(t *testing.T) {
	t.Parallel()
	d := NewSpamDetector(DefaultSpamConfig())
	h := db.NewHistory(20)

	results := feed(d, &h, []string{
		"promo code xyz123 here",
		"promo code xyz123 here",
		"promo code xyz123 here",
		"promo code xyz123 here",
	}, 10*time.Second)

	assert.Nil(t, results[0])
	assert.Nil(t, results[1])
	require.NotNil(t, results[2])
	require.NotNil(t, results[3])
	assert.Equal(t, "duplicate message (2 copies found)", results[3].Reason,
		"the third copy was flagged and therefore not counted for the fourth")
	assert.Equal(t, 2, h.Len())

	varying := NewSpamDetector(DefaultSpamConfig())
	clean := db.NewHistory(20)
	feed(varying, &clean, []string{
		"first clean message in the morning",
		"second clean message in the morning",
		"third clean message in the morning",
		"fourth clean message in the morning",
	}, time.Second)
	for i := 0; i < 3; i++ {
		r := varying.Evaluate(&clean, fmt.Sprintf("buy followers cheap offer %d", i), t0.Add(5*time.Second))
		require.NotNil(t, r)
		assert.Equal(t, SpamFlood, r.Subtype)
		assert.Equal(t, "sent 5 messages within 60 seconds", r.Reason)
	}
	assert.Equal(t, 4, clean.Len())
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.Equal(t, 1.0, similarity("", ""))
	assert.Equal(t, 0.0, similarity("abc", "xyz"))
	assert.Equal(t, similarity("kitten", "sitting"), similarity("sitting", "kitten"))
	assert.InDelta(t, 1-3.0/7.0, similarity("kitten", "sitting"), 1e-9)
	assert.InDelta(t, 0.75, similarity("тест", "тост"), 1e-9)
}
