package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record describes one saved snapshot.
type Record struct {
	Name      string    `json:"name"`
	Seq       uint64    `json:"seq"`
	Size      int       `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the JSON catalog of saved snapshots.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore keeps the catalog at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// ensureDir creates the directory if it doesn't exist
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}

// Records reads the catalog, oldest first.
func (s *Store) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, err
	}

	if len(data) == 0 {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		// Corrupted file, the next Add overwrites it.
		return []Record{}, nil
	}
	return records, nil
}

// Add appends rec, drops records older than retention and saves the catalog.
// It returns the dropped records. A zero retention keeps everything.
func (s *Store) Add(rec Record, retention time.Duration) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	records = append(records, rec)

	var kept, expired []Record
	cutoff := time.Now().Add(-retention)
	for _, r := range records {
		if retention > 0 && !r.Timestamp.After(cutoff) {
			expired = append(expired, r)
			continue
		}
		kept = append(kept, r)
	}

	newData, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := ensureDir(s.path); err != nil {
		return nil, err
	}
	return expired, os.WriteFile(s.path, newData, 0644)
}
