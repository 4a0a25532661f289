package services

import (
	"errors"
	"fmt"
	"log"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// TaskStore is the persistence contract the engine mutates tasks through.
// Put is a compare-and-set on the task's version: the caller presents the
// version it read and the write commits, together with its audit entries,
// only if no other writer got there first. This serializes writes per
// task without locking across tasks.
type TaskStore interface {
	Get(taskID string) (*model.Task, error)
	Put(task *model.Task, expectedVersion int, entries []model.AuditEntry) error
	AppendAudit(entry *model.AuditEntry) error
	Audit(taskID string) ([]model.AuditEntry, error)
	AddComment(comment *model.Comment) error
}

// GormTaskStore implements TaskStore on Postgres via gorm.
type GormTaskStore struct {
	db *gorm.DB
}

func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

func (s *GormTaskStore) Get(taskID string) (*model.Task, error) {
	var task model.Task
	if err := s.db.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching task %s: %w", taskID, err)
	}
	return &task, nil
}

// Put commits the task and its audit entries in one transaction. The row
// update is guarded by the expected version; zero rows affected means a
// concurrent writer won (or the task is gone) and the caller must re-read
// and retry.
func (s *GormTaskStore) Put(task *model.Task, expectedVersion int, entries []model.AuditEntry) error {
	task.Version = expectedVersion + 1

	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND version = ?", task.ID, expectedVersion).
			Select("*").
			Omit("id", "created_at").
			Updates(task)
		if res.Error != nil {
			return fmt.Errorf("updating task %s: %w", task.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Task{}).Where("id = ?", task.ID).Count(&count).Error; err != nil {
				return fmt.Errorf("checking task %s: %w", task.ID, err)
			}
			if count == 0 {
				return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
			}
			return fmt.Errorf("task %s at version %d: %w", task.ID, expectedVersion, ErrVersionConflict)
		}
		for i := range entries {
			if err := tx.Create(&entries[i]).Error; err != nil {
				return fmt.Errorf("appending audit for task %s: %w", task.ID, err)
			}
		}
		return nil
	})
}

func (s *GormTaskStore) AppendAudit(entry *model.AuditEntry) error {
	if err := s.db.Create(entry).Error; err != nil {
		log.Printf("[AppendAudit] Error writing audit entry for task %s: %v", entry.TaskID, err)
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

func (s *GormTaskStore) Audit(taskID string) ([]model.AuditEntry, error) {
	var entries []model.AuditEntry
	if err := s.db.Where("task_id = ?", taskID).Order("created_at asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("fetching audit trail for task %s: %w", taskID, err)
	}
	return entries, nil
}

func (s *GormTaskStore) AddComment(comment *model.Comment) error {
	if err := s.db.Create(comment).Error; err != nil {
		return fmt.Errorf("creating comment on task %s: %w", comment.TaskID, err)
	}
	return nil
}
