package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryChatStore keeps chat rows in process memory. It backs tests and
// instances started without DATABASE_URL; the log is lost on restart.
type MemoryChatStore struct {
	mu    sync.Mutex
	chats map[int32][]chatRow
}

type chatRow struct {
	ts      time.Time
	content string
}

// NewMemoryChatStore returns an empty in-memory chat store.
func NewMemoryChatStore() *MemoryChatStore {
	return &MemoryChatStore{chats: make(map[int32][]chatRow)}
}

// AppendChat adds one line to a room's log.
func (s *MemoryChatStore) AppendChat(_ context.Context, chatroomID int32, ts time.Time, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatroomID] = append(s.chats[chatroomID], chatRow{ts: ts, content: content})
	return nil
}

// ChatsSince returns a room's lines newer than since, oldest first.
func (s *MemoryChatStore) ChatsSince(_ context.Context, chatroomID int32, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []string
	for _, row := range s.chats[chatroomID] {
		if row.ts.After(since) {
			msgs = append(msgs, row.content)
		}
	}
	return msgs, nil
}

// Close is a no-op.
func (s *MemoryChatStore) Close() {}

var _ ChatStore = (*MemoryChatStore)(nil)

type instanceKey struct {
	region  string
	address string
}

// MemoryDirectoryStore keeps leases and bindings in process memory. It
// backs tests and discovery daemons started without SCYLLA_URL.
type MemoryDirectoryStore struct {
	mu        sync.Mutex
	instances map[instanceKey]InstanceRow
	bindings  map[string]BindingRow
}

// NewMemoryDirectoryStore returns an empty in-memory directory store.
func NewMemoryDirectoryStore() *MemoryDirectoryStore {
	return &MemoryDirectoryStore{
		instances: make(map[instanceKey]InstanceRow),
		bindings:  make(map[string]BindingRow),
	}
}

// UpsertInstance writes the lease row for an instance.
func (s *MemoryDirectoryStore) UpsertInstance(_ context.Context, row InstanceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instanceKey{row.Region, row.Address}] = row
	return nil
}

// Instance returns the lease row for (region, address), or ErrNotFound.
func (s *MemoryDirectoryStore) Instance(_ context.Context, region, address string) (InstanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.instances[instanceKey{region, address}]
	if !ok {
		return InstanceRow{}, ErrNotFound
	}
	return row, nil
}

// InstancesInRegion returns every lease row in the region, fresh or not,
// ordered by address to match the clustering order of the Scylla table.
func (s *MemoryDirectoryStore) InstancesInRegion(_ context.Context, region string) ([]InstanceRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []InstanceRow
	for key, row := range s.instances {
		if key.region == region {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Address < rows[j].Address })
	return rows, nil
}

// TouchInstance sets last_accessed for an existing lease.
func (s *MemoryDirectoryStore) TouchInstance(_ context.Context, region, address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := instanceKey{region, address}
	row, ok := s.instances[key]
	if !ok {
		return ErrNotFound
	}
	row.LastAccessed = at
	s.instances[key] = row
	return nil
}

// Binding returns the row for a term, or ErrNotFound.
func (s *MemoryDirectoryStore) Binding(_ context.Context, term string) (BindingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.bindings[term]
	if !ok {
		return BindingRow{}, ErrNotFound
	}
	return row, nil
}

// UpsertBinding writes the binding row for a term.
func (s *MemoryDirectoryStore) UpsertBinding(_ context.Context, row BindingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[row.Term] = row
	return nil
}

// Close is a no-op.
func (s *MemoryDirectoryStore) Close() {}

var _ DirectoryStore = (*MemoryDirectoryStore)(nil)
