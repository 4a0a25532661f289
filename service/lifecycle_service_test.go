package services

import (
	"testing"

	model "github.com/sahilkadam/complianceos/models"
	"github.com/stretchr/testify/assert"
)

func TestLifecycle_CheckTransition(t *testing.T) {
	machine := Lifecycle{}
	manager := &Actor{ID: "u-mgr", Role: model.RoleManager}
	partner := &Actor{ID: "u-ptr", Role: model.RolePartner}
	associate := &Actor{ID: "u-asc", Role: model.RoleAssociate}

	tests := []struct {
		name      string
		current   string
		next      string
		actor     *Actor
		assignee  string
		wantErrIs error
	}{
		{"pending to in progress", model.StatusPending, model.StatusInProgress, manager, "", nil},
		{"in progress back to pending", model.StatusInProgress, model.StatusPending, manager, "", nil},
		{"client pending to approval pending", model.StatusClientPending, model.StatusApprovalPending, manager, "", nil},
		{"approval pending back to client pending", model.StatusApprovalPending, model.StatusClientPending, manager, "", nil},
		{"manager completes from pending", model.StatusPending, model.StatusCompleted, manager, "", nil},
		{"partner completes from approval pending", model.StatusApprovalPending, model.StatusCompleted, partner, "", nil},
		{"completed is terminal", model.StatusCompleted, model.StatusPending, manager, "", ErrInvalidTransition},
		{"completed to completed is allowed", model.StatusCompleted, model.StatusCompleted, manager, "", nil},
		{"unknown status refused", model.StatusPending, "DONE", manager, "", ErrInvalidTransition},
		{"associate moves own task", model.StatusPending, model.StatusInProgress, associate, "u-asc", nil},
		{"associate denied on foreign task", model.StatusPending, model.StatusInProgress, associate, "u-other", ErrPermissionDenied},
		{"associate cannot complete own task", model.StatusApprovalPending, model.StatusCompleted, associate, "u-asc", ErrPermissionDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &model.Task{ID: "t1", Status: tt.current, AssigneeID: tt.assignee}
			err := machine.CheckTransition(task, tt.next, tt.actor)
			if tt.wantErrIs == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErrIs)
			}
		})
	}
}

func TestLifecycle_EntersCompleted(t *testing.T) {
	machine := Lifecycle{}

	assert.True(t, machine.EntersCompleted(&model.Task{Status: model.StatusPending}, model.StatusCompleted))
	assert.True(t, machine.EntersCompleted(&model.Task{Status: model.StatusApprovalPending}, model.StatusCompleted))
	// Re-writing COMPLETED onto a completed task is not an entry.
	assert.False(t, machine.EntersCompleted(&model.Task{Status: model.StatusCompleted}, model.StatusCompleted))
	assert.False(t, machine.EntersCompleted(&model.Task{Status: model.StatusPending}, model.StatusInProgress))
}
