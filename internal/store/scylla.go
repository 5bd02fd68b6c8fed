package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// ScyllaDirectoryStore persists instance leases and term bindings in
// ScyllaDB. Lease timestamps are stored as epoch milliseconds.
type ScyllaDirectoryStore struct {
	session *gocql.Session
}

// OpenScylla connects to the cluster named by url, a whitespace
// separated node list, and runs migrations.
func OpenScylla(ctx context.Context, url string) (*ScyllaDirectoryStore, error) {
	hosts := strings.Fields(url)
	if len(hosts) == 0 {
		return nil, fmt.Errorf("scylla url is required")
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Timeout = 5 * time.Second
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}

	st := &ScyllaDirectoryStore{session: session}
	if err := st.migrate(ctx); err != nil {
		session.Close()
		return nil, err
	}
	slog.Info("scylla directory store opened", "hosts", len(hosts))
	return st, nil
}

// Close shuts down the session.
func (s *ScyllaDirectoryStore) Close() {
	if s != nil && s.session != nil {
		s.session.Close()
	}
}

func (s *ScyllaDirectoryStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE KEYSPACE IF NOT EXISTS searchbuddy
			WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		`CREATE TABLE IF NOT EXISTS searchbuddy.instance (
			region text,
			address text,
			instance_id int,
			last_accessed bigint,
			PRIMARY KEY (region, address))`,
		`CREATE TABLE IF NOT EXISTS searchbuddy.chatroom (
			term text PRIMARY KEY,
			address text,
			instance_id int)`,
	}
	for _, stmt := range stmts {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("run scylla migrations: %w", err)
		}
	}
	slog.Debug("scylla migrations applied")
	return nil
}

// UpsertInstance writes the lease row for an instance.
func (s *ScyllaDirectoryStore) UpsertInstance(ctx context.Context, row InstanceRow) error {
	const q = `INSERT INTO searchbuddy.instance (region, address, instance_id, last_accessed) VALUES (?, ?, ?, ?)`
	err := s.session.Query(q, row.Region, row.Address, row.InstanceID, row.LastAccessed.UnixMilli()).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("upsert instance: %w", err)
	}
	return nil
}

// Instance returns the lease row for (region, address), or ErrNotFound.
func (s *ScyllaDirectoryStore) Instance(ctx context.Context, region, address string) (InstanceRow, error) {
	const q = `SELECT instance_id, last_accessed FROM searchbuddy.instance WHERE region = ? AND address = ?`
	var (
		id int32
		ms int64
	)
	err := s.session.Query(q, region, address).WithContext(ctx).Scan(&id, &ms)
	if errors.Is(err, gocql.ErrNotFound) {
		return InstanceRow{}, ErrNotFound
	}
	if err != nil {
		return InstanceRow{}, fmt.Errorf("query instance: %w", err)
	}
	return InstanceRow{
		Region:       region,
		Address:      address,
		InstanceID:   id,
		LastAccessed: time.UnixMilli(ms).UTC(),
	}, nil
}

// InstancesInRegion returns every lease row in the region. The region
// is the partition key, so this is a single-partition read; freshness
// filtering is the caller's concern.
func (s *ScyllaDirectoryStore) InstancesInRegion(ctx context.Context, region string) ([]InstanceRow, error) {
	const q = `SELECT address, instance_id, last_accessed FROM searchbuddy.instance WHERE region = ?`
	iter := s.session.Query(q, region).WithContext(ctx).Iter()

	var (
		rows []InstanceRow
		addr string
		id   int32
		ms   int64
	)
	for iter.Scan(&addr, &id, &ms) {
		rows = append(rows, InstanceRow{
			Region:       region,
			Address:      addr,
			InstanceID:   id,
			LastAccessed: time.UnixMilli(ms).UTC(),
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	return rows, nil
}

// TouchInstance sets last_accessed for an existing lease.
func (s *ScyllaDirectoryStore) TouchInstance(ctx context.Context, region, address string, at time.Time) error {
	const q = `UPDATE searchbuddy.instance SET last_accessed = ? WHERE region = ? AND address = ?`
	if err := s.session.Query(q, at.UnixMilli(), region, address).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("touch instance: %w", err)
	}
	return nil
}

// Binding returns the row for a term, or ErrNotFound.
func (s *ScyllaDirectoryStore) Binding(ctx context.Context, term string) (BindingRow, error) {
	const q = `SELECT address, instance_id FROM searchbuddy.chatroom WHERE term = ?`
	var (
		addr string
		id   int32
	)
	err := s.session.Query(q, term).WithContext(ctx).Scan(&addr, &id)
	if errors.Is(err, gocql.ErrNotFound) {
		return BindingRow{}, ErrNotFound
	}
	if err != nil {
		return BindingRow{}, fmt.Errorf("query binding: %w", err)
	}
	return BindingRow{Term: term, Address: addr, InstanceID: id}, nil
}

// UpsertBinding writes the binding row for a term.
func (s *ScyllaDirectoryStore) UpsertBinding(ctx context.Context, row BindingRow) error {
	const q = `INSERT INTO searchbuddy.chatroom (term, address, instance_id) VALUES (?, ?, ?)`
	if err := s.session.Query(q, row.Term, row.Address, row.InstanceID).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

var _ DirectoryStore = (*ScyllaDirectoryStore)(nil)
