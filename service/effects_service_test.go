package services

import (
	"fmt"
	"testing"

	model "github.com/sahilkadam/complianceos/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestRecordDelivery_StoresThreadRefAndClearsNote(t *testing.T) {
	store := new(MockTaskStore)
	task := sampleTask("t1", 4)
	task.DeliveryFailureNote = "start mail failed: connection refused"
	store.On("Get", "t1").Return(task, nil)
	store.On("Put", mock.MatchedBy(func(updated *model.Task) bool {
		return updated.StartMailThreadRef == "<abc@complianceos.local>" && updated.DeliveryFailureNote == ""
	}), 4, mock.MatchedBy(func(entries []model.AuditEntry) bool {
		if len(entries) != 2 {
			return false
		}
		byField := map[string]model.AuditEntry{}
		for _, e := range entries {
			byField[e.Field] = e
		}
		ref, refOK := byField[FieldStartMailThreadRef]
		note, noteOK := byField[FieldDeliveryFailureNote]
		return refOK && noteOK &&
			ref.NewValue == "<abc@complianceos.local>" &&
			note.PrevValue == "start mail failed: connection refused" && note.NewValue == "" &&
			ref.Source == model.SourceScheduled
	})).Return(nil)

	effects := &SideEffects{store: store}
	effects.recordDelivery("t1", &Actor{ID: "u-sys", Role: model.RolePartner}, model.SourceScheduled, "", "<abc@complianceos.local>")

	store.AssertExpectations(t)
}

func TestRecordDelivery_FailureNoteOnly(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)
	store.On("Put", mock.MatchedBy(func(updated *model.Task) bool {
		return updated.StartMailThreadRef == "" && updated.DeliveryFailureNote == "start mail failed: 550"
	}), 1, mock.MatchedBy(func(entries []model.AuditEntry) bool {
		return len(entries) == 1 && entries[0].Field == FieldDeliveryFailureNote
	})).Return(nil)

	effects := &SideEffects{store: store}
	effects.recordDelivery("t1", &Actor{ID: "u-sys", Role: model.RolePartner}, model.SourceScheduled, "start mail failed: 550", "")

	store.AssertExpectations(t)
}

func TestRecordDelivery_NothingToRecordWritesNothing(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 1), nil)

	effects := &SideEffects{store: store}
	effects.recordDelivery("t1", &Actor{ID: "u-sys", Role: model.RolePartner}, model.SourceScheduled, "", "")

	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordDelivery_SameThreadRefIsIdempotent(t *testing.T) {
	store := new(MockTaskStore)
	task := sampleTask("t1", 1)
	task.StartMailThreadRef = "<abc@complianceos.local>"
	store.On("Get", "t1").Return(task, nil)

	effects := &SideEffects{store: store}
	effects.recordDelivery("t1", &Actor{ID: "u-sys", Role: model.RolePartner}, model.SourceScheduled, "", "<abc@complianceos.local>")

	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordDelivery_RetriesThroughConflict(t *testing.T) {
	store := new(MockTaskStore)
	store.On("Get", "t1").Return(sampleTask("t1", 5), nil).Once()
	store.On("Put", mock.Anything, 5, mock.Anything).
		Return(fmt.Errorf("task t1 at version 5: %w", ErrVersionConflict)).Once()
	store.On("Get", "t1").Return(sampleTask("t1", 6), nil).Once()
	store.On("Put", mock.Anything, 6, mock.Anything).Return(nil).Once()

	effects := &SideEffects{store: store}
	effects.recordDelivery("t1", &Actor{ID: "u-sys", Role: model.RolePartner}, model.SourceScheduled, "", "<ref@complianceos.local>")

	store.AssertExpectations(t)
}
