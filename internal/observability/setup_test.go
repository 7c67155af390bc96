package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsServerServesRegistry(t *testing.T) {
	RecordDecision("warn", "spam")
	RecordSpamDetection("flood")
	RecordBansSwept(2)
	StartMessageProcessing()("ok")

	srv := NewMetricsServer("127.0.0.1:0")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	require.True(t, strings.Contains(out, `modbot_decisions_total{action="warn",class="spam"}`), out)
	require.Contains(t, out, `modbot_spam_messages_total{type="flood"}`)
	require.Contains(t, out, "modbot_bans_swept_total 2")
	require.Contains(t, out, "modbot_message_processing_duration_seconds_count")

	require.NoError(t, srv.Stop(ctx))
	require.Empty(t, srv.Addr())
	require.NoError(t, srv.Stop(ctx))
}
