package services

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// FileStore persists attachment bytes and returns a retrievable
// reference. The database keeps only the reference.
type FileStore interface {
	Save(key string, body io.ReadSeeker, contentType string) (string, error)
	Remove(ref string) error
}

// S3FileStore stores objects in S3-compatible storage. When
// S3_PUBLIC_URL is set, Save returns a browsable URL; otherwise the
// bare object key.
type S3FileStore struct {
	client  *s3.S3
	bucket  string
	baseURL string
}

// NewS3FileStoreFromEnv builds the store from S3_REGION, S3_ENDPOINT,
// S3_ACCESS_KEY, S3_SECRET_KEY, S3_BUCKET and S3_PUBLIC_URL. Returns nil
// with no error when the configuration is absent: attachment storage is
// optional and handlers report it as unavailable.
func NewS3FileStoreFromEnv() (*S3FileStore, error) {
	region := os.Getenv("S3_REGION")
	endpoint := os.Getenv("S3_ENDPOINT")
	accessKey := os.Getenv("S3_ACCESS_KEY")
	secretKey := os.Getenv("S3_SECRET_KEY")
	bucket := os.Getenv("S3_BUCKET")

	if region == "" || endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		log.Println("S3 configuration incomplete; attachment storage disabled")
		return nil, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String(region),
		Endpoint:         aws.String(endpoint),
		DisableSSL:       aws.Bool(false),
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3FileStore{
		client:  s3.New(sess),
		bucket:  bucket,
		baseURL: os.Getenv("S3_PUBLIC_URL"),
	}, nil
}

func (fs *S3FileStore) Save(key string, body io.ReadSeeker, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(fs.bucket),
		Key:         aws.String(key),
		Body:        body,
		ACL:         aws.String("private"),
		ContentType: aws.String(contentType),
	}
	if _, err := fs.client.PutObject(input); err != nil {
		return "", fmt.Errorf("%w: storing object %s: %v", ErrTransport, key, err)
	}
	if fs.baseURL != "" {
		return fmt.Sprintf("%s/%s/%s", fs.baseURL, fs.bucket, key), nil
	}
	return key, nil
}

// Remove accepts either a bare key or the public URL form Save returns.
func (fs *S3FileStore) Remove(ref string) error {
	key := ref
	if fs.baseURL != "" {
		prefix := fmt.Sprintf("%s/%s/", fs.baseURL, fs.bucket)
		key = strings.TrimPrefix(key, prefix)
	}
	if _, err := fs.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("%w: deleting object %s: %v", ErrTransport, key, err)
	}
	return nil
}

// Attachments larger than this are rejected before any storage call.
const maxAttachmentBytes = 25 << 20

// AttachmentService records task attachments and keeps their bytes in a
// FileStore. The stored object is immutable; deleting an attachment
// removes the record and the object but the audit trail keeps the
// upload event.
type AttachmentService struct {
	files FileStore
	db    *gorm.DB
	gate  *PermissionGate
	store TaskStore
}

func NewAttachmentService(db *gorm.DB, gate *PermissionGate, store TaskStore, files FileStore) *AttachmentService {
	return &AttachmentService{files: files, db: db, gate: gate, store: store}
}

// Upload stores the file and records the attachment. Associates may
// attach to their own tasks only.
func (s *AttachmentService) Upload(actor *Actor, taskID string, file multipart.File, header *multipart.FileHeader) (*model.Attachment, error) {
	task, err := s.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanMutate(actor.Role, OpUpdate, FieldAttachment, task.IsOwnedBy(actor.ID)) {
		return nil, fmt.Errorf("role %s may not attach to task %s: %w", actor.Role, taskID, ErrPermissionDenied)
	}
	if header.Size > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %s exceeds %d bytes: %w", header.Filename, maxAttachmentBytes, ErrInvalidValue)
	}

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		log.Printf("[Upload] ERROR reading file: %v", err)
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	key := fmt.Sprintf("tasks/%s/%s-%s", taskID, uuid.New().String(), header.Filename)
	fileRef, err := s.files.Save(key, bytes.NewReader(fileBytes), header.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("[Upload] Storage error for task %s: %v", taskID, err)
		return nil, err
	}

	attachment := model.Attachment{
		TaskID:       taskID,
		FileRef:      fileRef,
		DisplayName:  header.Filename,
		UploadedByID: actor.ID,
	}
	if err := s.db.Create(&attachment).Error; err != nil {
		return nil, fmt.Errorf("recording attachment on task %s: %w", taskID, err)
	}
	if err := s.store.AppendAudit(&model.AuditEntry{
		TaskID:   taskID,
		ActorID:  actor.ID,
		Field:    FieldAttachment,
		NewValue: header.Filename,
		Source:   model.SourceUI,
	}); err != nil {
		log.Printf("[Upload] Audit append failed for task %s: %v", taskID, err)
	}

	log.Printf("[Upload] Attachment %s stored for task %s", header.Filename, taskID)
	return &attachment, nil
}

// List returns a task's attachments newest first.
func (s *AttachmentService) List(taskID string) ([]model.Attachment, error) {
	var attachments []model.Attachment
	if err := s.db.Where("task_id = ?", taskID).Order("created_at desc").Find(&attachments).Error; err != nil {
		return nil, fmt.Errorf("fetching attachments for task %s: %w", taskID, err)
	}
	return attachments, nil
}

// ObjectRefs returns the stored-object references for a task's
// attachments. Read them before deleting the task; the rows cascade
// away with it.
func (s *AttachmentService) ObjectRefs(taskID string) []string {
	attachments, err := s.List(taskID)
	if err != nil {
		log.Printf("[ObjectRefs] Error listing attachments for task %s: %v", taskID, err)
		return nil
	}
	refs := make([]string, 0, len(attachments))
	for _, a := range attachments {
		refs = append(refs, a.FileRef)
	}
	return refs
}

// RemoveObjects deletes stored objects by reference. Row cleanup is the
// database's job; this only reclaims the storage.
func (s *AttachmentService) RemoveObjects(refs []string) {
	for _, ref := range refs {
		if err := s.files.Remove(ref); err != nil {
			log.Printf("[RemoveObjects] Cleanup failed for %s: %v", ref, err)
		}
	}
}

// Delete removes an attachment record and its stored object.
func (s *AttachmentService) Delete(actor *Actor, attachmentID string) error {
	var attachment model.Attachment
	if err := s.db.First(&attachment, "id = ?", attachmentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
		}
		return fmt.Errorf("fetching attachment %s: %w", attachmentID, err)
	}

	task, err := s.store.Get(attachment.TaskID)
	if err != nil {
		return err
	}
	if !s.gate.CanMutate(actor.Role, OpUpdate, FieldAttachment, task.IsOwnedBy(actor.ID)) {
		return fmt.Errorf("role %s may not remove attachments on task %s: %w", actor.Role, task.ID, ErrPermissionDenied)
	}

	if err := s.db.Delete(&attachment).Error; err != nil {
		return fmt.Errorf("deleting attachment %s: %w", attachmentID, err)
	}
	if err := s.files.Remove(attachment.FileRef); err != nil {
		log.Printf("[Delete] Storage cleanup failed for attachment %s: %v", attachmentID, err)
	}
	return nil
}
