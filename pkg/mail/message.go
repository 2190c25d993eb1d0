package mail

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/telekom/mailguard/api/v1alpha1"
	"github.com/telekom/mailguard/pkg/version"
)

// The body wrapper keeps line breaks of the escaped body visible in HTML clients.
const (
	bodyOpen  = `<div style="white-space: pre-wrap">`
	bodyClose = `</div>`
)

// newMessage builds the message for one recipient. Header values and body are
// expected to be validated and sanitized already; gomail takes care of
// encoded-word and quoted-printable encoding.
func newMessage(cfg *v1alpha1.MailConfig, msg *v1alpha1.OutboundMessage, now time.Time) (*gomail.Message, string) {
	id := newMessageID(cfg.FromAddress)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", cfg.FromAddress, cfg.FromName)
	m.SetHeader("To", msg.To)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetDateHeader("Date", now)
	m.SetHeader("Message-Id", id)
	m.SetHeader("X-Mailer", version.Mailer())
	m.SetBody("text/html", bodyOpen+msg.Body+bodyClose)
	return m, id
}

func newMessageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndexByte(from, '@'); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
