package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	model "github.com/sahilkadam/complianceos/models"
)

// SideEffects runs the notifications that follow a committed mutation:
// start mails when a task's start date arrives, completion mails and the
// calendar retitle when a task enters COMPLETED. The mutation itself is
// already durable by the time anything here runs; failures are recorded
// on the task's delivery failure note and retried by the daily sweep,
// never bubbled back to the caller.
type SideEffects struct {
	store    TaskStore
	email    *EmailService
	calendar CalendarTransport
}

func NewSideEffects(store TaskStore, email *EmailService, calendar CalendarTransport) *SideEffects {
	return &SideEffects{store: store, email: email, calendar: calendar}
}

// OnCompleted implements CompletionEffects.
func (s *SideEffects) OnCompleted(task *model.Task, actor *Actor, source string) {
	completedAt := time.Now()
	var note string
	if err := s.email.SendCompletion(task, completedAt); err != nil {
		note = fmt.Sprintf("completion mail failed: %v", err)
		log.Printf("[OnCompleted] Completion mail for task %s failed: %v", task.ID, err)
	}
	s.recordDelivery(task.ID, actor, source, note, "")

	if s.calendar != nil {
		if err := s.calendar.MarkCompleted(task, completedAt); err != nil {
			log.Printf("[OnCompleted] Calendar retitle for task %s failed: %v", task.ID, err)
		}
	}
}

// RunStart sends the start mail for a task and records the resulting
// thread reference, or the failure, on the task.
func (s *SideEffects) RunStart(task *model.Task, actor *Actor, source string) {
	ref, err := s.email.SendStart(task)
	if err != nil {
		log.Printf("[RunStart] Start mail for task %s failed: %v", task.ID, err)
		s.recordDelivery(task.ID, actor, source, fmt.Sprintf("start mail failed: %v", err), "")
		return
	}
	if ref == "" {
		// Nobody to address; nothing to record.
		return
	}
	s.recordDelivery(task.ID, actor, source, "", ref)
}

// recordDelivery persists mail bookkeeping (thread reference, failure
// note) through the versioned store so concurrent edits are never
// clobbered. An empty note clears a previous failure.
func (s *SideEffects) recordDelivery(taskID string, actor *Actor, source, note, threadRef string) {
	for attempt := 0; attempt < applyRetryLimit; attempt++ {
		task, err := s.store.Get(taskID)
		if err != nil {
			log.Printf("[recordDelivery] Error reading task %s: %v", taskID, err)
			return
		}

		working := *task
		var entries []model.AuditEntry
		record := func(field, prev, next string) {
			entries = append(entries, model.AuditEntry{
				TaskID:    task.ID,
				ActorID:   actor.ID,
				Field:     field,
				PrevValue: prev,
				NewValue:  next,
				Source:    source,
			})
		}

		if threadRef != "" && working.StartMailThreadRef != threadRef {
			record(FieldStartMailThreadRef, working.StartMailThreadRef, threadRef)
			working.StartMailThreadRef = threadRef
		}
		if working.DeliveryFailureNote != note {
			record(FieldDeliveryFailureNote, working.DeliveryFailureNote, note)
			working.DeliveryFailureNote = note
		}
		if len(entries) == 0 {
			return
		}

		err = s.store.Put(&working, task.Version, entries)
		if err == nil {
			return
		}
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		log.Printf("[recordDelivery] Error writing bookkeeping for task %s: %v", taskID, err)
		return
	}
	log.Printf("[recordDelivery] Gave up on task %s after %d conflicts", taskID, applyRetryLimit)
}
