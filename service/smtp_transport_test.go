package services

import (
	"errors"
	"net/smtp"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	t.Run("allows up to the limit", func(t *testing.T) {
		rl := NewRateLimiter(3, time.Minute)
		assert.True(t, rl.Allow("smtp_send"))
		assert.True(t, rl.Allow("smtp_send"))
		assert.True(t, rl.Allow("smtp_send"))
		assert.False(t, rl.Allow("smtp_send"))
		assert.False(t, rl.Allow("smtp_send"))
	})

	t.Run("keys are counted independently", func(t *testing.T) {
		rl := NewRateLimiter(1, time.Minute)
		assert.True(t, rl.Allow("mail"))
		assert.False(t, rl.Allow("mail"))
		assert.True(t, rl.Allow("calendar"))
	})

	t.Run("counters reset after the window", func(t *testing.T) {
		rl := &RateLimiter{
			requestCount: map[string]int{"mail": 5},
			limit:        5,
			window:       time.Minute,
			lastReset:    time.Now().Add(-2 * time.Minute),
		}
		assert.True(t, rl.Allow("mail"))
		assert.Equal(t, 1, rl.requestCount["mail"])
	})
}

func testTransport() *SMTPTransport {
	return &SMTPTransport{
		host:     "smtp.test",
		port:     "2525",
		username: "robot",
		password: "hunter2",
		from:     "robot@firm.example",
		domain:   "firm.example",
	}
}

func TestSend_BuildsThreadableMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotEnvelope []string
	var gotMessage string
	patches := gomonkey.ApplyFunc(smtp.SendMail, func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotFrom = from
		gotEnvelope = to
		gotMessage = string(msg)
		return nil
	})
	defer patches.Reset()

	ref, err := testTransport().Send(&MailMessage{
		To:      []string{"cfo@acme.example", "gst@acme.example"},
		CC:      []string{"manager@firm.example"},
		BCC:     []string{"archive@firm.example"},
		Subject: "Task started: GSTR-3B Filing",
		Body:    "Work has begun.",
	})

	assert.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^<[0-9a-f-]+@firm\.example>$`), ref)
	assert.Equal(t, "smtp.test:2525", gotAddr)
	assert.Equal(t, "robot@firm.example", gotFrom)
	// BCC recipients ride the envelope only.
	assert.Equal(t, []string{"cfo@acme.example", "gst@acme.example", "manager@firm.example", "archive@firm.example"}, gotEnvelope)
	assert.Contains(t, gotMessage, "To: cfo@acme.example, gst@acme.example\r\n")
	assert.Contains(t, gotMessage, "Cc: manager@firm.example\r\n")
	assert.Contains(t, gotMessage, "Message-ID: "+ref+"\r\n")
	assert.NotContains(t, gotMessage, "Bcc")
	assert.NotContains(t, gotMessage, "In-Reply-To")
	assert.True(t, strings.HasSuffix(gotMessage, "\r\n\r\nWork has begun."))
}

func TestReply_ContinuesTheThread(t *testing.T) {
	var gotMessage string
	patches := gomonkey.ApplyFunc(smtp.SendMail, func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotMessage = string(msg)
		return nil
	})
	defer patches.Reset()

	err := testTransport().Reply("<seed@firm.example>", &MailMessage{
		To:      []string{"cfo@acme.example"},
		Subject: "Task completed: GSTR-3B Filing",
		Body:    "Filed.",
	})

	assert.NoError(t, err)
	assert.Contains(t, gotMessage, "In-Reply-To: <seed@firm.example>\r\n")
	assert.Contains(t, gotMessage, "References: <seed@firm.example>\r\n")
}

func TestSend_WrapsDeliveryFailure(t *testing.T) {
	patches := gomonkey.ApplyFunc(smtp.SendMail, func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("550 mailbox unavailable")
	})
	defer patches.Reset()

	ref, err := testTransport().Send(&MailMessage{To: []string{"cfo@acme.example"}, Subject: "x", Body: "y"})

	assert.ErrorIs(t, err, ErrTransport)
	assert.Empty(t, ref)
}
