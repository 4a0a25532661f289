package services

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RateLimiter struct to manage outbound call rate limiting
type RateLimiter struct {
	mu           sync.Mutex
	requestCount map[string]int
	limit        int
	window       time.Duration
	lastReset    time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requestCount: make(map[string]int),
		limit:        limit,
		window:       window,
		lastReset:    time.Now(),
	}
}

// Allow checks if a request is allowed based on rate limit
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Reset counter if window has passed
	if time.Since(rl.lastReset) > rl.window {
		rl.requestCount = make(map[string]int)
		rl.lastReset = time.Now()
	}

	// Increment and check count
	rl.requestCount[key]++
	return rl.requestCount[key] <= rl.limit
}

// Global rate limiter for outbound mail
var mailRateLimiter = NewRateLimiter(60, 1*time.Minute) // 60 mails per minute

// SMTPTransport delivers mail over authenticated SMTP (Gmail-style
// submission on port 587). Thread references are RFC 5322 Message-IDs:
// Send generates one, Reply sets In-Reply-To and References from it.
type SMTPTransport struct {
	host     string
	port     string
	username string
	password string
	from     string
	domain   string
}

// NewSMTPTransportFromEnv builds the transport from SMTP_HOST, SMTP_PORT,
// SMTP_USERNAME, SMTP_PASSWORD and MAIL_FROM. Host and port default to
// Gmail submission.
func NewSMTPTransportFromEnv() *SMTPTransport {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		host = "smtp.gmail.com"
	}
	port := os.Getenv("SMTP_PORT")
	if port == "" {
		port = "587"
	}
	from := os.Getenv("MAIL_FROM")
	if from == "" {
		from = os.Getenv("SMTP_USERNAME")
	}
	domain := "complianceos.local"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return &SMTPTransport{
		host:     host,
		port:     port,
		username: os.Getenv("SMTP_USERNAME"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     from,
		domain:   domain,
	}
}

// RequiresNonEmptyTo is true for SMTP: servers reject a message whose
// To header is empty, so the orchestrator promotes a CC or BCC address.
func (t *SMTPTransport) RequiresNonEmptyTo() bool { return true }

// Send delivers msg as a new conversation and returns its Message-ID.
func (t *SMTPTransport) Send(msg *MailMessage) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), t.domain)
	if err := t.deliver(msg, messageID, ""); err != nil {
		return "", err
	}
	return messageID, nil
}

// Reply delivers msg inside the conversation identified by threadRef.
func (t *SMTPTransport) Reply(threadRef string, msg *MailMessage) error {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), t.domain)
	return t.deliver(msg, messageID, threadRef)
}

func (t *SMTPTransport) deliver(msg *MailMessage, messageID, inReplyTo string) error {
	if !mailRateLimiter.Allow("smtp_send") {
		log.Printf("[deliver] Rate limit exceeded for outbound mail")
		return fmt.Errorf("rate limit exceeded for outbound mail: %w", ErrTransport)
	}

	// Construct the message. BCC recipients only appear in the envelope.
	headers := "From: " + t.from + "\r\n" +
		"To: " + strings.Join(msg.To, ", ") + "\r\n"
	if len(msg.CC) > 0 {
		headers += "Cc: " + strings.Join(msg.CC, ", ") + "\r\n"
	}
	headers += "Subject: " + msg.Subject + "\r\n" +
		"Message-ID: " + messageID + "\r\n"
	if inReplyTo != "" {
		headers += "In-Reply-To: " + inReplyTo + "\r\n" +
			"References: " + inReplyTo + "\r\n"
	}
	headers += "MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"
	message := []byte(headers + msg.Body)

	var envelope []string
	envelope = append(envelope, msg.To...)
	envelope = append(envelope, msg.CC...)
	envelope = append(envelope, msg.BCC...)

	// Set up authentication.
	auth := smtp.PlainAuth("", t.username, t.password, t.host)

	if err := smtp.SendMail(t.host+":"+t.port, auth, t.from, envelope, message); err != nil {
		log.Printf("[deliver] Error sending mail %s: %v", messageID, err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	log.Printf("[deliver] Mail %s sent to %d recipients", messageID, len(envelope))
	return nil
}
