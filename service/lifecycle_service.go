package services

import (
	"fmt"

	model "github.com/sahilkadam/complianceos/models"
)

// Lifecycle is the task status state machine. Movement among PENDING,
// IN_PROGRESS, CLIENT_PENDING and APPROVAL_PENDING is free in either
// direction; entry into COMPLETED is restricted and COMPLETED is terminal
// on this path. Reopening a completed task is a separate operation with
// its own permission check and audit marker.
//
// The machine validates and stages; persistence and side-effect dispatch
// belong to the apply path, which commits the mutation first and fires
// best-effort notifications after.
type Lifecycle struct{}

// CheckTransition decides whether actor may move task to newStatus.
// A nil return with newStatus equal to the current status is a no-op for
// the caller: nothing to write, nothing to fire.
func (Lifecycle) CheckTransition(task *model.Task, newStatus string, actor *Actor) error {
	if !model.ValidStatus(newStatus) {
		return fmt.Errorf("status %q: %w", newStatus, ErrInvalidTransition)
	}
	if actor.Role == model.RoleAssociate {
		if !task.IsOwnedBy(actor.ID) {
			return fmt.Errorf("task %s is not assigned to actor: %w", task.ID, ErrPermissionDenied)
		}
		if newStatus == model.StatusCompleted {
			return fmt.Errorf("associates cannot complete tasks: %w", ErrPermissionDenied)
		}
	}
	if task.Status == model.StatusCompleted && newStatus != model.StatusCompleted {
		return fmt.Errorf("task %s is completed; use reopen: %w", task.ID, ErrInvalidTransition)
	}
	return nil
}

// EntersCompleted reports whether applying newStatus transitions the task
// into COMPLETED. Entry from any prior state behaves identically; a task
// already completed does not re-enter.
func (Lifecycle) EntersCompleted(task *model.Task, newStatus string) bool {
	return newStatus == model.StatusCompleted && task.Status != model.StatusCompleted
}
