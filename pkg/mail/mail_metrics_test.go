package mail

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/mailguard/pkg/metrics"
)

func TestSendMetrics(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		relay := newFakeRelay(t)
		tr, _ := newTestTransport(t, relay, &recordingTracker{})

		before := testutil.ToFloat64(metrics.MailSendSuccess.WithLabelValues(relayHost))
		attempts := testutil.ToFloat64(metrics.MailSendAttempts.WithLabelValues(relayHost, "success"))

		_, err := tr.Send(context.Background(), testConfig(relay), testMessage())
		require.NoError(t, err)

		assert.InDelta(t, before+1, testutil.ToFloat64(metrics.MailSendSuccess.WithLabelValues(relayHost)), 0)
		assert.InDelta(t, attempts+1, testutil.ToFloat64(metrics.MailSendAttempts.WithLabelValues(relayHost, "success")), 0)
	})

	t.Run("retried timeout", func(t *testing.T) {
		tr, _ := newTestTransport(t, &timeoutDialer{}, &recordingTracker{})

		failures := testutil.ToFloat64(metrics.MailSendFailure.WithLabelValues(relayHost, string(KindTimeout)))
		retries := testutil.ToFloat64(metrics.MailSendRetries.WithLabelValues(relayHost))

		_, err := tr.Send(context.Background(), testConfig(newFakeRelay(t)), testMessage())
		require.Error(t, err)

		assert.InDelta(t, failures+1, testutil.ToFloat64(metrics.MailSendFailure.WithLabelValues(relayHost, string(KindTimeout))), 0)
		assert.InDelta(t, retries+2, testutil.ToFloat64(metrics.MailSendRetries.WithLabelValues(relayHost)), 0)
	})
}
