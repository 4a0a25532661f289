package services

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// Mail triggers.
const (
	TriggerStart      = "start"
	TriggerCompletion = "completion"
)

// MailMessage is what the transport sends. BCC addresses are delivered
// but never appear in headers.
type MailMessage struct {
	To      []string
	CC      []string
	BCC     []string
	Subject string
	Body    string
}

// EmailTransport abstracts the outbound mail system. Send returns an
// opaque thread reference the orchestrator stores on the task; Reply
// continues the conversation identified by such a reference. The
// orchestrator never interprets the reference's structure.
type EmailTransport interface {
	Send(msg *MailMessage) (string, error)
	Reply(threadRef string, msg *MailMessage) error
	RequiresNonEmptyTo() bool
}

// Recipients is a resolved To/CC/BCC set.
type Recipients struct {
	To  []string
	CC  []string
	BCC []string
}

// Empty reports whether no address survived resolution.
func (r Recipients) Empty() bool {
	return len(r.To) == 0 && len(r.CC) == 0 && len(r.BCC) == 0
}

// MailContext carries the values the fixed template token table resolves.
// Tokens outside this set are left in the text untouched.
type MailContext struct {
	ClientName     string
	TaskTitle      string
	StartDate      string
	DueDate        string
	CalendarLink   string
	CompletionTime string
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// RenderTemplate substitutes {{field}} tokens from the fixed lookup
// table. Unknown tokens pass through as literal text: templates are
// author-entered free text and predictable output beats strict
// validation.
func RenderTemplate(text string, ctx MailContext) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		switch name {
		case "client_name":
			return ctx.ClientName
		case "task_title":
			return ctx.TaskTitle
		case "start_date":
			return ctx.StartDate
		case "due_date":
			return ctx.DueDate
		case "calendar_link":
			return ctx.CalendarLink
		case "completion_time":
			return ctx.CompletionTime
		default:
			return match
		}
	})
}

// ResolveRecipients applies the recipient rules for one trigger:
// client defaults first, then field-wise task overrides (a non-empty
// override list replaces the matching default list), then the
// start-mail-disabled stripping of client "To" addresses, then the
// completion extensions, and finally first-CC/first-BCC promotion when
// the transport insists on a non-empty "To".
func ResolveRecipients(client *model.Client, task *model.Task, trigger string, extraCC []string, requireTo bool) Recipients {
	var to []string
	if client.PrimaryEmail != "" {
		to = []string{client.PrimaryEmail}
	}
	cc, _ := model.EmailList(client.CCList)
	bcc, _ := model.EmailList(client.BCCList)

	if list, ok := model.EmailList(task.OverrideTo); ok && len(list) > 0 {
		to = list
	}
	if list, ok := model.EmailList(task.OverrideCC); ok && len(list) > 0 {
		cc = list
	}
	if list, ok := model.EmailList(task.OverrideBCC); ok && len(list) > 0 {
		bcc = list
	}

	// With start mail disabled the client must not be addressed directly;
	// internal CC/BCC recipients still get their copy.
	if trigger == TriggerStart && !task.StartMailEnabled {
		to = nil
	}

	if trigger == TriggerCompletion && len(extraCC) > 0 {
		cc = append(cc, extraCC...)
	}

	r := dedupe(Recipients{To: to, CC: cc, BCC: bcc})

	if requireTo && len(r.To) == 0 {
		if len(r.CC) > 0 {
			r.To = []string{r.CC[0]}
			r.CC = r.CC[1:]
		} else if len(r.BCC) > 0 {
			r.To = []string{r.BCC[0]}
			r.BCC = r.BCC[1:]
		}
	}
	return r
}

// SplitEmailList parses an operator-entered address list. Commas and
// semicolons both separate; blanks are dropped.
func SplitEmailList(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})
	var out []string
	for _, p := range parts {
		if addr := strings.TrimSpace(p); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// dedupe removes repeated addresses, keeping the highest-precedence slot
// (To over CC over BCC).
func dedupe(r Recipients) Recipients {
	seen := make(map[string]bool)
	keep := func(addrs []string) []string {
		var out []string
		for _, a := range addrs {
			key := strings.ToLower(strings.TrimSpace(a))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(a))
		}
		return out
	}
	return Recipients{To: keep(r.To), CC: keep(r.CC), BCC: keep(r.BCC)}
}

// Fallback templates used when the stored rows are missing.
const (
	defaultStartSubject      = "Work started: {{task_title}} for {{client_name}}"
	defaultStartBody         = "Dear {{client_name}},\n\nWe have started working on {{task_title}}.\nStart date: {{start_date}}\nDue date: {{due_date}}\n\nRegards,\nComplianceOS"
	defaultCompletionSubject = "Completed: {{task_title}} for {{client_name}}"
	defaultCompletionBody    = "Dear {{client_name}},\n\n{{task_title}} was completed on {{completion_time}}.\n\nRegards,\nComplianceOS"
)

// EmailService renders templates, resolves recipients and drives the
// transport for the start and completion triggers. It never persists
// anything itself: callers record the returned thread reference or the
// failure through the apply path.
type EmailService struct {
	db        *gorm.DB
	transport EmailTransport
}

func NewEmailService(db *gorm.DB, transport EmailTransport) *EmailService {
	return &EmailService{db: db, transport: transport}
}

func (s *EmailService) template(kind string) (subject, body string) {
	var tmpl model.MailTemplate
	if err := s.db.First(&tmpl, "kind = ?", kind).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[template] Error loading %s template: %v", kind, err)
		}
		if kind == model.TemplateCompletion {
			return defaultCompletionSubject, defaultCompletionBody
		}
		return defaultStartSubject, defaultStartBody
	}
	return tmpl.Subject, tmpl.Body
}

func (s *EmailService) client(clientID string) (*model.Client, error) {
	var client model.Client
	if err := s.db.First(&client, "id = ?", clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching client %s: %w", clientID, err)
	}
	return &client, nil
}

func mailContext(client *model.Client, task *model.Task, completedAt time.Time) MailContext {
	ctx := MailContext{
		ClientName:   client.Name,
		TaskTitle:    task.Title,
		StartDate:    task.StartDate.Format(model.DateLayout),
		DueDate:      task.DueDate.Format(model.DateLayout),
		CalendarLink: task.CalendarHTMLLink,
	}
	if !completedAt.IsZero() {
		ctx.CompletionTime = completedAt.Format("2006-01-02 15:04")
	}
	return ctx
}

// SendStart sends the start-trigger mail for a task and returns the
// opaque thread reference to store on it. An empty reference with a nil
// error means there was nobody to address, which is not a failure.
func (s *EmailService) SendStart(task *model.Task) (string, error) {
	client, err := s.client(task.ClientID)
	if err != nil {
		return "", err
	}

	recipients := ResolveRecipients(client, task, TriggerStart, nil, s.transport.RequiresNonEmptyTo())
	if recipients.Empty() {
		log.Printf("[SendStart] Task %s has no recipients after resolution; skipping", task.ID)
		return "", nil
	}

	subject, body := s.template(model.TemplateStart)
	ctx := mailContext(client, task, time.Time{})
	msg := &MailMessage{
		To:      recipients.To,
		CC:      recipients.CC,
		BCC:     recipients.BCC,
		Subject: RenderTemplate(subject, ctx),
		Body:    RenderTemplate(body, ctx),
	}

	ref, err := s.transport.Send(msg)
	if err != nil {
		return "", fmt.Errorf("sending start mail for task %s: %w", task.ID, err)
	}
	log.Printf("[SendStart] Start mail sent for task %s (thread %s)", task.ID, ref)
	return ref, nil
}

// SendCompletion sends the completion-trigger mail. When the task holds
// a start-mail thread reference the message replies within that thread;
// otherwise it goes out as a new conversation. Recipient extensions for
// the assignee and the client's engagement manager are applied per task
// flags.
func (s *EmailService) SendCompletion(task *model.Task, completedAt time.Time) error {
	if !task.CompletionMailEnabled {
		return nil
	}
	client, err := s.client(task.ClientID)
	if err != nil {
		return err
	}

	var extraCC []string
	if task.NotifyAssigneeOnComplete && task.AssigneeID != "" {
		if email := s.userEmail(task.AssigneeID); email != "" {
			extraCC = append(extraCC, email)
		}
	}
	if task.NotifyManagerOnComplete && client.ManagerID != "" {
		if email := s.userEmail(client.ManagerID); email != "" {
			extraCC = append(extraCC, email)
		}
	}

	recipients := ResolveRecipients(client, task, TriggerCompletion, extraCC, s.transport.RequiresNonEmptyTo())
	if recipients.Empty() {
		log.Printf("[SendCompletion] Task %s has no recipients after resolution; skipping", task.ID)
		return nil
	}

	subject, body := s.template(model.TemplateCompletion)
	ctx := mailContext(client, task, completedAt)
	msg := &MailMessage{
		To:      recipients.To,
		CC:      recipients.CC,
		BCC:     recipients.BCC,
		Subject: RenderTemplate(subject, ctx),
		Body:    RenderTemplate(body, ctx),
	}

	if err := DeliverThreaded(s.transport, task.StartMailThreadRef, msg); err != nil {
		return fmt.Errorf("sending completion mail for task %s: %w", task.ID, err)
	}
	if task.StartMailThreadRef != "" {
		log.Printf("[SendCompletion] Completion mail threaded for task %s", task.ID)
	} else {
		log.Printf("[SendCompletion] Completion mail sent (new thread) for task %s", task.ID)
	}
	return nil
}

// DeliverThreaded replies within threadRef when one is stored,
// prefixing the subject, and starts a fresh conversation when the task
// never had a start thread. A missing reference is an expected state,
// not an error.
func DeliverThreaded(transport EmailTransport, threadRef string, msg *MailMessage) error {
	if threadRef == "" {
		_, err := transport.Send(msg)
		return err
	}
	if !strings.HasPrefix(strings.ToLower(msg.Subject), "re:") {
		msg.Subject = "Re: " + msg.Subject
	}
	return transport.Reply(threadRef, msg)
}

func (s *EmailService) userEmail(userID string) string {
	var user model.User
	if err := s.db.Select("email").First(&user, "id = ?", userID).Error; err != nil {
		log.Printf("[userEmail] Could not resolve user %s: %v", userID, err)
		return ""
	}
	return user.Email
}
