package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/elastic/go-elasticsearch/v8"
	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

const taskIndex = "tasks"

// SearchService maintains the Elasticsearch task index and serves the
// free-text work-queue search. Indexing is strictly best-effort: the
// database row is the source of truth and a search outage never fails a
// task operation.
type SearchService struct {
	esClient *elasticsearch.Client
	db       *gorm.DB
}

// NewSearchService connects to ELASTICSEARCH_URL when set; without it
// the service still constructs and every method degrades gracefully.
func NewSearchService(db *gorm.DB) *SearchService {
	var esClient *elasticsearch.Client
	if esURL := os.Getenv("ELASTICSEARCH_URL"); esURL != "" {
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: []string{esURL},
		})
		if err != nil {
			log.Printf("Warning: Failed to create Elasticsearch client: %v", err)
		} else {
			esClient = client
		}
	}
	return &SearchService{esClient: esClient, db: db}
}

// IndexTask upserts one task document.
func (s *SearchService) IndexTask(task *model.Task) error {
	if s.esClient == nil {
		return nil
	}

	doc := map[string]interface{}{
		"task_id":     task.ID,
		"client_id":   task.ClientID,
		"client_name": task.ClientNameSnapshot,
		"title":       task.Title,
		"category":    task.Category,
		"priority":    task.Priority,
		"assignee_id": task.AssigneeID,
		"status":      task.Status,
		"notes":       task.Notes,
		"start_date":  task.StartDate.Format(model.DateLayout),
		"due_date":    task.DueDate.Format(model.DateLayout),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling task %s for indexing: %w", task.ID, err)
	}

	res, err := s.esClient.Index(
		taskIndex,
		bytes.NewReader(body),
		s.esClient.Index.WithDocumentID(task.ID),
		s.esClient.Index.WithContext(context.Background()),
	)
	if err != nil {
		log.Printf("Elasticsearch indexing error for task %s: %v", task.ID, err)
		return nil
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Printf("Elasticsearch indexing failed for task %s: %s", task.ID, res.String())
	}
	return nil
}

// ReindexByID re-reads a task and refreshes its document. Used after
// apply-path mutations; a deleted task falls through to removal.
func (s *SearchService) ReindexByID(taskID string) {
	if s.esClient == nil || taskID == "" {
		return
	}
	var task model.Task
	if err := s.db.First(&task, "id = ?", taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.RemoveTask(taskID)
			return
		}
		log.Printf("[ReindexByID] Error reading task %s: %v", taskID, err)
		return
	}
	_ = s.IndexTask(&task)
}

// ReindexMany refreshes a set of task documents.
func (s *SearchService) ReindexMany(taskIDs []string) {
	for _, id := range taskIDs {
		s.ReindexByID(id)
	}
}

// RemoveTask drops a task's document after deletion.
func (s *SearchService) RemoveTask(taskID string) {
	if s.esClient == nil {
		return
	}
	res, err := s.esClient.Delete(
		taskIndex,
		taskID,
		s.esClient.Delete.WithContext(context.Background()),
	)
	if err != nil {
		log.Printf("Elasticsearch delete error for task %s: %v", taskID, err)
		return
	}
	defer res.Body.Close()
}

// SearchTasks runs a free-text query over titles, notes, client names
// and categories and returns the matching documents.
func (s *SearchService) SearchTasks(query string) ([]map[string]interface{}, error) {
	if s.esClient == nil {
		return nil, fmt.Errorf("elasticsearch client is not initialized")
	}

	searchQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "notes", "client_name", "category"},
			},
		},
	}
	body, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(context.Background()),
		s.esClient.Search.WithIndex(taskIndex),
		s.esClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search failed: %s", res.String())
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	var docs []map[string]interface{}
	if hits, ok := result["hits"].(map[string]interface{}); ok {
		if hitList, ok := hits["hits"].([]interface{}); ok {
			for _, h := range hitList {
				if hit, ok := h.(map[string]interface{}); ok {
					if source, ok := hit["_source"].(map[string]interface{}); ok {
						docs = append(docs, source)
					}
				}
			}
		}
	}
	log.Printf("[SearchTasks] Query %q matched %d documents", query, len(docs))
	return docs, nil
}
