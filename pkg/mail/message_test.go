package mail

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/mailguard/api/v1alpha1"
)

func TestNewMessage(t *testing.T) {
	cfg := &v1alpha1.MailConfig{FromAddress: "noreply@example.com", FromName: "Ops Team"}
	msg := &v1alpha1.OutboundMessage{
		To:      "user@example.com",
		Subject: "Grüße",
		Body:    "line1\nline2 &lt;b&gt;",
		ReplyTo: "support@example.com",
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	m, id := newMessage(cfg, msg, now)
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()

	assert.Contains(t, out, `From: "Ops Team" <noreply@example.com>`)
	assert.Contains(t, out, "To: user@example.com")
	assert.Contains(t, out, "Reply-To: support@example.com")
	assert.Contains(t, out, "Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=")
	assert.Contains(t, out, "Message-Id: "+id)
	assert.Contains(t, out, "Date: Sun, 01 Mar 2026 10:00:00 +0000")
	assert.Contains(t, out, "Content-Type: text/html")
	assert.Contains(t, out, "X-Mailer: mailguard/")
}

func TestNewMessageIDWithoutDomain(t *testing.T) {
	assert.True(t, strings.HasSuffix(newMessageID("broken"), "@localhost>"))
	assert.NotEqual(t, newMessageID("a@b.c"), newMessageID("a@b.c"))
}
