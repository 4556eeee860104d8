package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trakhq/trak/pkg/models"
)

// StoredResponse is a courtesy copy of a dispatched notification kept
// for the response viewer. Not crash-durable.
type StoredResponse struct {
	ID            string          `json:"id"`
	Project       string          `json:"project"`
	Summary       *models.Summary `json:"summary"`
	FullResponse  string          `json:"fullResponse,omitempty"`
	AudioFilename string          `json:"audioFilename,omitempty"`
	UserPrompt    string          `json:"userPrompt,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
}

// ResponseStore is a bounded in-memory id → response map. Entries
// expire by TTL; when full, the oldest entry by creation time is
// evicted.
type ResponseStore struct {
	mu         sync.Mutex
	entries    map[string]*StoredResponse
	ttl        time.Duration
	maxEntries int
}

// NewResponseStore bounds the store by ttl and maxEntries.
func NewResponseStore(ttl time.Duration, maxEntries int) *ResponseStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &ResponseStore{
		entries:    make(map[string]*StoredResponse),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Add stores a response and returns its generated id.
func (s *ResponseStore) Add(resp StoredResponse) string {
	now := time.Now()
	resp.ID = uuid.New().String()
	resp.CreatedAt = now
	resp.ExpiresAt = now.Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.entries[resp.ID] = &resp
	return resp.ID
}

// Get returns the response for id, or nil when unknown or expired.
func (s *ResponseStore) Get(id string) *StoredResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.entries[id]
	if !ok || time.Now().After(resp.ExpiresAt) {
		return nil
	}
	return resp
}

// LatestByProject returns the most recently created unexpired response
// for project, or nil.
func (s *ResponseStore) LatestByProject(project string) *StoredResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var latest *StoredResponse
	for _, resp := range s.entries {
		if resp.Project != project || now.After(resp.ExpiresAt) {
			continue
		}
		if latest == nil || resp.CreatedAt.After(latest.CreatedAt) {
			latest = resp
		}
	}
	return latest
}

// Evict removes expired entries and returns how many were dropped. The
// daemon runs this on a 5-minute schedule.
func (s *ResponseStore) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	dropped := 0
	for id, resp := range s.entries {
		if now.After(resp.ExpiresAt) {
			delete(s.entries, id)
			dropped++
		}
	}
	return dropped
}

// Len returns the current entry count.
func (s *ResponseStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *ResponseStore) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for id, resp := range s.entries {
		if oldestID == "" || resp.CreatedAt.Before(oldestAt) {
			oldestID = id
			oldestAt = resp.CreatedAt
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
	}
}
