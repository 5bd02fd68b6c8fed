// Package store defines the persistence ports of the fabric and their
// backends: Postgres for chat rows, Scylla for the discovery directory,
// and in-memory variants used by tests and by daemons started without a
// DSN.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row exists for a lookup key.
var ErrNotFound = errors.New("row not found")

// ChatStore persists the per-room message log.
type ChatStore interface {
	// AppendChat adds one line to a room's log.
	AppendChat(ctx context.Context, chatroomID int32, ts time.Time, content string) error
	// ChatsSince returns a room's lines newer than since, oldest first.
	ChatsSince(ctx context.Context, chatroomID int32, since time.Time) ([]string, error)
	Close()
}

// InstanceRow is one instance lease.
type InstanceRow struct {
	Region       string
	Address      string
	InstanceID   int32
	LastAccessed time.Time
}

// BindingRow maps a term to the instance hosting its room.
type BindingRow struct {
	Term       string
	Address    string
	InstanceID int32
}

// LocalMidnight returns the start of now's day in its own location.
// "Chats from today" cuts the log at this boundary.
func LocalMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// DirectoryStore persists instance leases and term bindings for the
// discovery service. Upserts are last-writer-wins.
type DirectoryStore interface {
	UpsertInstance(ctx context.Context, row InstanceRow) error
	// Instance returns the lease row for (region, address), or ErrNotFound.
	Instance(ctx context.Context, region, address string) (InstanceRow, error)
	// InstancesInRegion returns every lease row in the region, fresh or not.
	InstancesInRegion(ctx context.Context, region string) ([]InstanceRow, error)
	// TouchInstance sets last_accessed for an existing lease.
	TouchInstance(ctx context.Context, region, address string, at time.Time) error
	// Binding returns the row for a term, or ErrNotFound.
	Binding(ctx context.Context, term string) (BindingRow, error)
	UpsertBinding(ctx context.Context, row BindingRow) error
	Close()
}
