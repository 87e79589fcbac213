package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DiskStore writes run records as JSON files. With an empty dir the
// directory is created lazily under the system temp dir; records then
// last as long as the process environment keeps them.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a DiskStore rooted at dir. An empty dir means a
// lazily-created temp directory.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Save writes a record as a JSON file. Records can carry target data,
// so files are readable only by the owner.
func (s *DiskStore) Save(rec *RunRecord) error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", rec.ID, err)
	}
	path := filepath.Join(dir, rec.ID+".json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing run %s: %w", rec.ID, err)
	}
	return nil
}

// Load reads a record from disk.
func (s *DiskStore) Load(runID string) (*RunRecord, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, runID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	return &rec, nil
}

// List returns saved run IDs, most recently written first.
func (s *DiskStore) List() ([]string, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	type idTime struct {
		id  string
		mod int64
	}
	var runs []idTime
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		runs = append(runs, idTime{strings.TrimSuffix(name, ".json"), info.ModTime().UnixNano()})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].mod > runs[j].mod })
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o700); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "msfbridge-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
