package mockbackend

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/holon-run/prquiz/pkg/quiz"
)

// ErrNotFound is returned by a Store when no quiz has the requested id.
var ErrNotFound = errors.New("quiz not found")

// Metadata is the pull request summary a quiz was generated from, stored as
// received.
type Metadata struct {
	RepoOwner    string            `json:"repoOwner"`
	RepoName     string            `json:"repoName"`
	PRNumber     int               `json:"prNumber"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	CommitSHA    string            `json:"commitSHA"`
	BaseBranch   string            `json:"baseBranch"`
	HeadBranch   string            `json:"headBranch"`
	Author       string            `json:"author"`
	FilesChanged []quiz.FileChange `json:"filesChanged"`
}

// Record is one quiz held by the service.
type Record struct {
	ID            string
	URL           string
	Metadata      Metadata
	State         quiz.State
	Attempts      int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
}

// Store persists quiz records. Implementations must be safe for concurrent
// use.
type Store interface {
	Create(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, r Record) error
	List(ctx context.Context) ([]Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore keeps records in a map for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; ok {
		return errors.New("quiz already exists: " + r.ID)
	}
	s.records[r.ID] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Update(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[r.ID]; !ok {
		return ErrNotFound
	}
	s.records[r.ID] = r
	return nil
}

// List returns records oldest first.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
