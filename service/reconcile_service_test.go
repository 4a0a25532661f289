package services

import (
	"fmt"
	"testing"
	"time"

	model "github.com/sahilkadam/complianceos/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// FixedTime is used to patch time.Now in tests.
var FixedTime = time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)

// MockTaskStore implements TaskStore for engine tests.
type MockTaskStore struct {
	mock.Mock
}

func (m *MockTaskStore) Get(taskID string) (*model.Task, error) {
	args := m.Called(taskID)
	if t, ok := args.Get(0).(*model.Task); ok && t != nil {
		cp := *t
		return &cp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTaskStore) Put(task *model.Task, expectedVersion int, entries []model.AuditEntry) error {
	args := m.Called(task, expectedVersion, entries)
	return args.Error(0)
}

func (m *MockTaskStore) AppendAudit(entry *model.AuditEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

func (m *MockTaskStore) Audit(taskID string) ([]model.AuditEntry, error) {
	args := m.Called(taskID)
	if e, ok := args.Get(0).([]model.AuditEntry); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTaskStore) AddComment(comment *model.Comment) error {
	args := m.Called(comment)
	return args.Error(0)
}

// MockEffects records completion side-effect dispatch.
type MockEffects struct {
	mock.Mock
}

func (m *MockEffects) OnCompleted(task *model.Task, actor *Actor, source string) {
	m.Called(task, actor, source)
}

func managerActor() *Actor   { return &Actor{ID: "u-mgr", Role: model.RoleManager} }
func associateActor() *Actor { return &Actor{ID: "u-asc", Role: model.RoleAssociate} }

func sampleTask(id string, version int) *model.Task {
	return &model.Task{
		ID:         id,
		ClientID:   "c1",
		Title:      "GSTR-3B Filing",
		Status:     model.StatusInProgress,
		AssigneeID: "u-asc",
		StartDate:  time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		DueDate:    time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
		Version:    version,
	}
}

func newTestEngine(store TaskStore, effects CompletionEffects) *ReconcileService {
	return &ReconcileService{store: store, gate: NewPermissionGate(), effects: effects, workers: 2}
}

func TestApplyBatch_OutcomesKeepInputOrder(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)
	store.On("Get", "t-missing").Return(nil, fmt.Errorf("task t-missing: %w", ErrNotFound))
	store.On("Get", "t2").Return(sampleTask("t2", 7), nil)
	store.On("Put", mock.MatchedBy(func(task *model.Task) bool {
		return task.ID == "t1" && task.Notes == "reviewed"
	}), 1, mock.Anything).Return(nil)
	store.On("Put", mock.MatchedBy(func(task *model.Task) bool {
		return task.ID == "t2" && task.Priority == "HIGH"
	}), 7, mock.Anything).Return(nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{FieldNotes: "reviewed"}},
		{TaskID: "t-missing", Fields: map[string]string{FieldNotes: "whatever"}},
		{TaskID: "t2", Fields: map[string]string{FieldPriority: "HIGH"}},
	}, model.SourceBulk)

	assert.Len(t, outcomes, 3)
	assert.Equal(t, "t1", outcomes[0].TaskID)
	assert.Equal(t, RowApplied, outcomes[0].Result)
	assert.Equal(t, RowNotFound, outcomes[1].Result)
	assert.Equal(t, RowApplied, outcomes[2].Result)
	store.AssertExpectations(t)
}

func TestApplyBatch_AssociatePartialApply(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 2), nil)
	store.On("Put", mock.MatchedBy(func(task *model.Task) bool {
		// The permitted field landed; the refused one did not.
		return task.Notes == "waiting on client" && task.AssigneeID == "u-asc"
	}), 2, mock.MatchedBy(func(entries []model.AuditEntry) bool {
		return len(entries) == 1 && entries[0].Field == FieldNotes && entries[0].Source == model.SourceImport
	})).Return(nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(associateActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{
			FieldNotes:    "waiting on client",
			FieldAssignee: "u-someone-else",
		}},
	}, model.SourceImport)

	assert.Equal(t, RowPartiallyApplied, outcomes[0].Result)
	assert.Len(t, outcomes[0].Skipped, 1)
	assert.Equal(t, FieldAssignee, outcomes[0].Skipped[0].Field)
	assert.Equal(t, SkipPermissionDenied, outcomes[0].Skipped[0].Reason)
	store.AssertExpectations(t)
}

func TestApplyBatch_AssociateCannotComplete(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(associateActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{FieldStatus: model.StatusCompleted}},
	}, model.SourceBulk)

	assert.Equal(t, RowPartiallyApplied, outcomes[0].Result)
	assert.Equal(t, SkipPermissionDenied, outcomes[0].Skipped[0].Reason)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyBatch_SameValueIsSilentNoOp(t *testing.T) {
	store := new(MockTaskStore)
	task := sampleTask("t1", 1)
	task.Notes = "already here"
	store.On("Get", "t1").Return(task, nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{
			FieldStatus: model.StatusInProgress,
			FieldNotes:  "already here",
		}},
	}, model.SourceBulk)

	// Nothing changed, nothing skipped, nothing written.
	assert.Equal(t, RowApplied, outcomes[0].Result)
	assert.Empty(t, outcomes[0].Skipped)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "AppendAudit", mock.Anything)
}

func TestApplyOne_CompletionFiresEffectsAfterCommit(t *testing.T) {
	store := new(MockTaskStore)
	effects := new(MockEffects)
	actor := managerActor()

	store.On("Get", "t1").Return(sampleTask("t1", 3), nil)
	store.On("Put", mock.MatchedBy(func(task *model.Task) bool {
		return task.Status == model.StatusCompleted
	}), 3, mock.MatchedBy(func(entries []model.AuditEntry) bool {
		return len(entries) == 1 &&
			entries[0].Field == FieldStatus &&
			entries[0].PrevValue == model.StatusInProgress &&
			entries[0].NewValue == model.StatusCompleted &&
			entries[0].Source == model.SourceUI
	})).Return(nil)
	effects.On("OnCompleted", mock.MatchedBy(func(task *model.Task) bool {
		return task.ID == "t1" && task.Status == model.StatusCompleted
	}), actor, model.SourceUI).Return()

	engine := newTestEngine(store, effects)
	task, err := engine.ApplyOne(actor, RowChange{
		TaskID: "t1",
		Fields: map[string]string{FieldStatus: model.StatusCompleted},
	}, model.SourceUI)

	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, task.Status)
	store.AssertExpectations(t)
	effects.AssertExpectations(t)
}

func TestApplyOne_RetriesOnVersionConflict(t *testing.T) {
	store := new(MockTaskStore)

	stale := sampleTask("t1", 1)
	fresh := sampleTask("t1", 2)
	fresh.Priority = "LOW" // a concurrent writer got here first

	store.On("Get", "t1").Return(stale, nil).Once()
	store.On("Put", mock.Anything, 1, mock.Anything).Return(fmt.Errorf("task t1 at version 1: %w", ErrVersionConflict)).Once()
	store.On("Get", "t1").Return(fresh, nil).Once()
	store.On("Put", mock.MatchedBy(func(task *model.Task) bool {
		// The retry re-read the task, so the concurrent change survives.
		return task.Notes == "updated" && task.Priority == "LOW"
	}), 2, mock.Anything).Return(nil).Once()

	engine := newTestEngine(store, nil)
	task, err := engine.ApplyOne(managerActor(), RowChange{
		TaskID: "t1",
		Fields: map[string]string{FieldNotes: "updated"},
	}, model.SourceUI)

	assert.NoError(t, err)
	assert.Equal(t, "updated", task.Notes)
	store.AssertExpectations(t)
}

func TestApplyRow_ConflictExhaustionFailsTheRow(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil).Times(applyRetryLimit)
	store.On("Put", mock.Anything, 1, mock.Anything).
		Return(fmt.Errorf("task t1 at version 1: %w", ErrVersionConflict)).
		Times(applyRetryLimit)

	engine := newTestEngine(store, nil)

	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{FieldNotes: "contended"}},
	}, model.SourceBulk)
	assert.Equal(t, RowFailed, outcomes[0].Result)
	assert.Contains(t, outcomes[0].Error, "version conflict")
	store.AssertExpectations(t)
}

func TestApplyOne_StrictModeAbortsBeforePersist(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)

	engine := newTestEngine(store, nil)

	// A refused field is a typed error, not a partial write.
	_, err := engine.ApplyOne(associateActor(), RowChange{
		TaskID: "t1",
		Fields: map[string]string{FieldNotes: "mine", FieldAssignee: "u-grab"},
	}, model.SourceUI)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// So is an unparseable value.
	_, err = engine.ApplyOne(managerActor(), RowChange{
		TaskID: "t1",
		Fields: map[string]string{FieldDueDate: "03/20/2025"},
	}, model.SourceUI)
	assert.ErrorIs(t, err, ErrInvalidValue)

	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyBatch_DateInversionRevertsDates(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)
	store.On("Put", mock.MatchedBy(func(task *model.Task) bool {
		// The due date reverted; the notes change went through.
		return task.DueDate.Equal(time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC)) &&
			task.Notes == "pulled in"
	}), 1, mock.MatchedBy(func(entries []model.AuditEntry) bool {
		return len(entries) == 1 && entries[0].Field == FieldNotes
	})).Return(nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{
			FieldDueDate: "2025-02-01", // before the existing start date
			FieldNotes:   "pulled in",
		}},
	}, model.SourceBulk)

	assert.Equal(t, RowPartiallyApplied, outcomes[0].Result)
	assert.Equal(t, FieldDueDate, outcomes[0].Skipped[0].Field)
	assert.Equal(t, SkipInvalidValue, outcomes[0].Skipped[0].Reason)
	store.AssertExpectations(t)
}

func TestApplyBatch_DateInversionAloneWritesNothing(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{FieldStartDate: "2025-04-01"}},
	}, model.SourceBulk)

	assert.Equal(t, RowPartiallyApplied, outcomes[0].Result)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplyBatch_CommentOnlyRowSkipsVersionBump(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)
	store.On("AddComment", mock.MatchedBy(func(c *model.Comment) bool {
		mentions, _ := model.EmailList(c.Mentions)
		return c.TaskID == "t1" && c.Body == "ping @ravi on this" &&
			c.AuthorID == "u-mgr" && len(mentions) == 1 && mentions[0] == "ravi"
	})).Return(nil)
	store.On("AppendAudit", mock.MatchedBy(func(e *model.AuditEntry) bool {
		return e.Field == FieldComment && e.NewValue == "ping @ravi on this" && e.Source == model.SourceBulk
	})).Return(nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{FieldComment: "ping @ravi on this"}},
	}, model.SourceBulk)

	assert.Equal(t, RowApplied, outcomes[0].Result)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
}

func TestApplyBatch_UnknownAndInvalidFieldsSkip(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)
	store.On("Put", mock.Anything, 1, mock.MatchedBy(func(entries []model.AuditEntry) bool {
		return len(entries) == 1 && entries[0].Field == FieldNotes
	})).Return(nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{
			"favorite_color":      "teal",
			FieldAttachment:       "report.pdf",
			FieldStartMailEnabled: "maybe",
			FieldTitle:            "   ",
			FieldNotes:            "kept",
		}},
	}, model.SourceImport)

	assert.Equal(t, RowPartiallyApplied, outcomes[0].Result)
	assert.Len(t, outcomes[0].Skipped, 4)
	for _, s := range outcomes[0].Skipped {
		assert.Equal(t, SkipInvalidValue, s.Reason)
	}
	store.AssertExpectations(t)
}

func TestApplyBatch_OverrideSetAndClear(t *testing.T) {
	store := new(MockTaskStore)
	task := sampleTask("t1", 1)
	task.OverrideCC = model.MarshalEmailList([]string{"old@firm.com"})
	task.OverrideBCC = model.MarshalEmailList([]string{"shadow@firm.com"})
	store.On("Get", "t1").Return(task, nil)
	store.On("Put", mock.MatchedBy(func(updated *model.Task) bool {
		ccList, ccSet := model.EmailList(updated.OverrideCC)
		_, bccSet := model.EmailList(updated.OverrideBCC)
		// CC override replaced, BCC override cleared back to inherit.
		return ccSet && len(ccList) == 2 && ccList[0] == "a@x.com" && !bccSet
	}), 1, mock.MatchedBy(func(entries []model.AuditEntry) bool {
		return len(entries) == 2
	})).Return(nil)

	engine := newTestEngine(store, nil)
	outcomes := engine.ApplyBatch(managerActor(), []RowChange{
		{TaskID: "t1", Fields: map[string]string{
			FieldOverrideCC:  "a@x.com; b@y.com",
			FieldOverrideBCC: "",
		}},
	}, model.SourceImport)

	assert.Equal(t, RowApplied, outcomes[0].Result)
	store.AssertExpectations(t)
}
