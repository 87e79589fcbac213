package report

import (
	"sync"
	"time"
)

// LRUStore is an in-memory LRU cache of run records with optional
// expiry. When a backing Store is set, saves are written through and
// misses fall back to it; without one, the cache is the only copy.
type LRUStore struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration // 0 means entries never expire
	back Store         // may be nil

	// Doubly-linked list for LRU ordering (most recent at head).
	head, tail *lruEntry
	items      map[string]*lruEntry
}

type lruEntry struct {
	key     string
	rec     *RunRecord
	savedAt time.Time
	prev    *lruEntry
	next    *lruEntry
}

// NewLRUStore creates an LRU cache with the given capacity and expiry
// that delegates to back on cache misses. Capacity must be >= 1; back
// and ttl may be zero.
func NewLRUStore(cap int, ttl time.Duration, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cap:   cap,
		ttl:   ttl,
		back:  back,
		items: make(map[string]*lruEntry, cap),
	}
}

// Save writes the record to the cache and through to the backing store
// when one is configured.
func (s *LRUStore) Save(rec *RunRecord) error {
	s.mu.Lock()
	if e, ok := s.items[rec.ID]; ok {
		e.rec = rec
		e.savedAt = time.Now()
		s.moveToFront(e)
	} else {
		s.insert(rec.ID, rec)
	}
	s.mu.Unlock()

	if s.back == nil {
		return nil
	}
	return s.back.Save(rec)
}

// Load checks the cache first, treating expired entries as misses. On
// miss, the backing store is consulted and its record promoted into the
// cache.
func (s *LRUStore) Load(runID string) (*RunRecord, error) {
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		if s.fresh(e) {
			s.moveToFront(e)
			r := e.rec
			s.mu.Unlock()
			return r, nil
		}
		s.remove(e)
		delete(s.items, e.key)
	}
	s.mu.Unlock()

	if s.back == nil {
		return nil, ErrNotFound
	}
	rec, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}

	// Promote into cache.
	s.mu.Lock()
	if e, ok := s.items[runID]; ok {
		// Concurrent load already inserted it.
		e.rec = rec
		e.savedAt = time.Now()
		s.moveToFront(e)
	} else {
		s.insert(runID, rec)
	}
	s.mu.Unlock()

	return rec, nil
}

// List returns run IDs most recent first. A listing backing store's
// view wins; otherwise the cache order is used.
func (s *LRUStore) List() ([]string, error) {
	if l, ok := s.back.(Lister); ok {
		return l.List()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for e := s.head; e != nil; e = e.next {
		if s.fresh(e) {
			ids = append(ids, e.key)
		}
	}
	return ids, nil
}

func (s *LRUStore) fresh(e *lruEntry) bool {
	return s.ttl <= 0 || time.Since(e.savedAt) < s.ttl
}

func (s *LRUStore) insert(key string, rec *RunRecord) {
	e := &lruEntry{key: key, rec: rec, savedAt: time.Now()}
	s.items[key] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
}

func (s *LRUStore) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRUStore) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRUStore) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRUStore) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
