package services

import (
	"testing"

	model "github.com/sahilkadam/complianceos/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRenderTemplate(t *testing.T) {
	ctx := MailContext{
		ClientName:     "Acme Traders",
		TaskTitle:      "GSTR-3B Filing",
		StartDate:      "2025-03-01",
		DueDate:        "2025-03-20",
		CalendarLink:   "https://calendar.example/evt",
		CompletionTime: "2025-03-18 16:40",
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single token", "Hello {{client_name}}", "Hello Acme Traders"},
		{"all tokens", "{{task_title}} {{start_date}} {{due_date}} {{calendar_link}} {{completion_time}}",
			"GSTR-3B Filing 2025-03-01 2025-03-20 https://calendar.example/evt 2025-03-18 16:40"},
		{"whitespace inside braces", "Hi {{ client_name }}", "Hi Acme Traders"},
		{"unknown token passes through", "Ref {{invoice_no}} for {{client_name}}", "Ref {{invoice_no}} for Acme Traders"},
		{"no tokens", "plain text", "plain text"},
		{"repeated token", "{{client_name}} / {{client_name}}", "Acme Traders / Acme Traders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.in, ctx))
		})
	}
}

func TestSplitEmailList(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@y.com", "c@z.com"}, SplitEmailList("a@x.com, b@y.com; c@z.com"))
	assert.Equal(t, []string{"a@x.com"}, SplitEmailList("  a@x.com  "))
	assert.Equal(t, []string{"a@x.com", "b@y.com"}, SplitEmailList("a@x.com,,;b@y.com"))
	assert.Nil(t, SplitEmailList(""))
	assert.Nil(t, SplitEmailList(" ;, "))
}

func TestExtractMentions(t *testing.T) {
	assert.Equal(t, []string{"ravi", "meera.k"}, ExtractMentions("ping @ravi and @meera.k about this"))
	assert.Empty(t, ExtractMentions("no mentions here"))
}

func clientWith(to string, cc, bcc []string) *model.Client {
	return &model.Client{
		Name:         "Acme Traders",
		PrimaryEmail: to,
		CCList:       model.MarshalEmailList(cc),
		BCCList:      model.MarshalEmailList(bcc),
	}
}

func TestResolveRecipients_ClientDefaults(t *testing.T) {
	client := clientWith("owner@acme.com", []string{"accounts@acme.com"}, []string{"archive@firm.com"})
	task := &model.Task{StartMailEnabled: true}

	r := ResolveRecipients(client, task, TriggerStart, nil, true)

	assert.Equal(t, []string{"owner@acme.com"}, r.To)
	assert.Equal(t, []string{"accounts@acme.com"}, r.CC)
	assert.Equal(t, []string{"archive@firm.com"}, r.BCC)
}

func TestResolveRecipients_OverridesReplaceFieldwise(t *testing.T) {
	client := clientWith("owner@acme.com", []string{"accounts@acme.com"}, nil)
	task := &model.Task{
		StartMailEnabled: true,
		OverrideTo:       model.MarshalEmailList([]string{"cfo@acme.com", "tax@acme.com"}),
	}

	r := ResolveRecipients(client, task, TriggerStart, nil, true)

	// To is replaced wholesale; CC inherits untouched.
	assert.Equal(t, []string{"cfo@acme.com", "tax@acme.com"}, r.To)
	assert.Equal(t, []string{"accounts@acme.com"}, r.CC)
}

func TestResolveRecipients_EmptyOverrideIsIgnored(t *testing.T) {
	client := clientWith("owner@acme.com", nil, nil)
	task := &model.Task{
		StartMailEnabled: true,
		OverrideTo:       model.MarshalEmailList([]string{}),
	}

	r := ResolveRecipients(client, task, TriggerStart, nil, true)

	assert.Equal(t, []string{"owner@acme.com"}, r.To)
}

func TestResolveRecipients_StartMailDisabledStripsToOnly(t *testing.T) {
	client := clientWith("owner@acme.com", []string{"accounts@acme.com"}, []string{"archive@firm.com"})
	task := &model.Task{StartMailEnabled: false}

	r := ResolveRecipients(client, task, TriggerStart, nil, false)

	assert.Empty(t, r.To)
	assert.Equal(t, []string{"accounts@acme.com"}, r.CC)
	assert.Equal(t, []string{"archive@firm.com"}, r.BCC)
}

func TestResolveRecipients_PromotionWhenToRequired(t *testing.T) {
	// First CC moves up when the transport cannot send without To.
	client := clientWith("", []string{"accounts@acme.com", "audit@acme.com"}, nil)
	task := &model.Task{StartMailEnabled: true}

	r := ResolveRecipients(client, task, TriggerStart, nil, true)

	assert.Equal(t, []string{"accounts@acme.com"}, r.To)
	assert.Equal(t, []string{"audit@acme.com"}, r.CC)

	// Without CC the first BCC is promoted instead.
	client = clientWith("", nil, []string{"archive@firm.com", "backup@firm.com"})
	r = ResolveRecipients(client, task, TriggerStart, nil, true)

	assert.Equal(t, []string{"archive@firm.com"}, r.To)
	assert.Equal(t, []string{"backup@firm.com"}, r.BCC)

	// A transport that accepts empty To gets none of this.
	r = ResolveRecipients(client, task, TriggerStart, nil, false)
	assert.Empty(t, r.To)
	assert.Len(t, r.BCC, 2)
}

func TestResolveRecipients_DisabledStartMailStillReachesInternal(t *testing.T) {
	// Disabled start mail with a To-requiring transport: the client stays
	// unaddressed and an internal CC carries the mail.
	client := clientWith("owner@acme.com", []string{"accounts@acme.com"}, nil)
	task := &model.Task{StartMailEnabled: false}

	r := ResolveRecipients(client, task, TriggerStart, nil, true)

	assert.Equal(t, []string{"accounts@acme.com"}, r.To)
	assert.Empty(t, r.CC)
	assert.NotContains(t, r.To, "owner@acme.com")
}

func TestResolveRecipients_CompletionExtensions(t *testing.T) {
	client := clientWith("owner@acme.com", []string{"accounts@acme.com"}, nil)
	task := &model.Task{StartMailEnabled: true, CompletionMailEnabled: true}

	r := ResolveRecipients(client, task, TriggerCompletion, []string{"assignee@firm.com", "manager@firm.com"}, true)

	assert.Equal(t, []string{"owner@acme.com"}, r.To)
	assert.Equal(t, []string{"accounts@acme.com", "assignee@firm.com", "manager@firm.com"}, r.CC)

	// Extensions are a completion concern only.
	r = ResolveRecipients(client, task, TriggerStart, []string{"assignee@firm.com"}, true)
	assert.Equal(t, []string{"accounts@acme.com"}, r.CC)
}

func TestResolveRecipients_DedupePrecedence(t *testing.T) {
	client := clientWith("owner@acme.com",
		[]string{"Owner@Acme.com", "accounts@acme.com", "accounts@acme.com"},
		[]string{"accounts@acme.com", "archive@firm.com"})
	task := &model.Task{StartMailEnabled: true}

	r := ResolveRecipients(client, task, TriggerStart, nil, true)

	// An address keeps its highest slot: To beats CC beats BCC, and the
	// comparison ignores case.
	assert.Equal(t, []string{"owner@acme.com"}, r.To)
	assert.Equal(t, []string{"accounts@acme.com"}, r.CC)
	assert.Equal(t, []string{"archive@firm.com"}, r.BCC)
}

type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(msg *MailMessage) (string, error) {
	args := m.Called(msg)
	return args.String(0), args.Error(1)
}

func (m *MockTransport) Reply(threadRef string, msg *MailMessage) error {
	return m.Called(threadRef, msg).Error(0)
}

func (m *MockTransport) RequiresNonEmptyTo() bool {
	return m.Called().Bool(0)
}

func TestDeliverThreaded_RepliesWithinStoredThread(t *testing.T) {
	transport := new(MockTransport)
	msg := &MailMessage{To: []string{"owner@acme.com"}, Subject: "GSTR-3B Filing completed"}
	transport.On("Reply", "<seed@firm.example>", mock.MatchedBy(func(m *MailMessage) bool {
		return m.Subject == "Re: GSTR-3B Filing completed"
	})).Return(nil)

	err := DeliverThreaded(transport, "<seed@firm.example>", msg)

	assert.NoError(t, err)
	transport.AssertExpectations(t)
	transport.AssertNotCalled(t, "Send", mock.Anything)
}

func TestDeliverThreaded_NoStoredThreadStartsFresh(t *testing.T) {
	transport := new(MockTransport)
	msg := &MailMessage{To: []string{"owner@acme.com"}, Subject: "GSTR-3B Filing completed"}
	transport.On("Send", msg).Return("<new@firm.example>", nil)

	err := DeliverThreaded(transport, "", msg)

	assert.NoError(t, err)
	assert.Equal(t, "GSTR-3B Filing completed", msg.Subject)
	transport.AssertNotCalled(t, "Reply", mock.Anything, mock.Anything)
}

func TestDeliverThreaded_ReplyPrefixNotDoubled(t *testing.T) {
	transport := new(MockTransport)
	msg := &MailMessage{To: []string{"owner@acme.com"}, Subject: "Re: GSTR-3B Filing completed"}
	transport.On("Reply", "<seed@firm.example>", mock.MatchedBy(func(m *MailMessage) bool {
		return m.Subject == "Re: GSTR-3B Filing completed"
	})).Return(nil)

	err := DeliverThreaded(transport, "<seed@firm.example>", msg)

	assert.NoError(t, err)
	transport.AssertExpectations(t)
}
