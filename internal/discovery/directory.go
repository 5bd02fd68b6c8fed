// Package discovery implements the lease registry and the sticky
// term-to-instance directory: instances register and ping to keep a
// lease alive, and the gateway resolves search terms to whichever
// instance currently owns them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/gerber4/searchbuddy/internal/metrics"
	"github.com/gerber4/searchbuddy/internal/protocol"
	"github.com/gerber4/searchbuddy/internal/store"
)

// Region is the single region every instance registers under.
const Region = "US1"

// LeaseTTL is how long a lease stays active without a ping. A row whose
// last_accessed is older than this counts as dead, but is left in place.
const LeaseTTL = 10 * time.Second

// Directory is the registry logic over a DirectoryStore. The clock and
// the random pick are fields so tests can pin them.
type Directory struct {
	store store.DirectoryStore
	now   func() time.Time
	pick  func(n int) int
}

// NewDirectory wraps a DirectoryStore with the production clock and a
// uniform random pick.
func NewDirectory(st store.DirectoryStore) *Directory {
	return &Directory{
		store: st,
		now:   time.Now,
		pick:  rand.IntN,
	}
}

// Register leases an address and returns its freshly minted instance id.
// Registering an address that already holds a lease replaces the lease;
// the old id stops pinging successfully.
func (d *Directory) Register(ctx context.Context, address string) (int32, error) {
	id := int32(rand.Uint32())
	row := store.InstanceRow{
		Region:       Region,
		Address:      address,
		InstanceID:   id,
		LastAccessed: d.now(),
	}
	if err := d.store.UpsertInstance(ctx, row); err != nil {
		return 0, fmt.Errorf("upsert instance: %w", err)
	}
	metrics.Registrations.Inc()
	slog.Info("instance registered", "address", address, "instance_id", id)
	return id, nil
}

// Ping reports whether the lease named by (address, id) is still active
// and refreshes it when it is. A lease is active while the row exists,
// the ids match, and the last ping is newer than LeaseTTL.
func (d *Directory) Ping(ctx context.Context, address string, instanceID int32) (string, error) {
	now := d.now()

	row, err := d.store.Instance(ctx, Region, address)
	if errors.Is(err, store.ErrNotFound) {
		metrics.Pings.WithLabelValues("no_longer_active").Inc()
		return protocol.PingNoLongerActive, nil
	}
	if err != nil {
		return "", fmt.Errorf("load instance: %w", err)
	}
	if row.InstanceID != instanceID || !fresh(row, now) {
		metrics.Pings.WithLabelValues("no_longer_active").Inc()
		slog.Info("rejected ping from stale instance", "address", address, "instance_id", instanceID)
		return protocol.PingNoLongerActive, nil
	}

	if err := d.store.TouchInstance(ctx, Region, address, now); err != nil {
		return "", fmt.Errorf("touch instance: %w", err)
	}
	metrics.Pings.WithLabelValues("ok").Inc()
	return protocol.PingOk, nil
}

// Resolve returns the instance that owns term. An existing binding wins
// as long as its instance is still active; otherwise a random active
// instance is picked and the binding rewritten. nil means no instance is
// active anywhere, and nothing is written.
func (d *Directory) Resolve(ctx context.Context, term string) (*protocol.Instance, error) {
	now := d.now()

	active, err := d.activeInstances(ctx, now)
	if err != nil {
		return nil, err
	}

	binding, err := d.store.Binding(ctx, term)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load binding: %w", err)
	}
	if err == nil {
		for _, row := range active {
			if row.InstanceID == binding.InstanceID {
				metrics.Resolves.WithLabelValues("sticky").Inc()
				return &protocol.Instance{InstanceID: row.InstanceID, Address: row.Address}, nil
			}
		}
	}

	if len(active) == 0 {
		metrics.Resolves.WithLabelValues("none").Inc()
		return nil, nil
	}

	chosen := active[d.pick(len(active))]
	err = d.store.UpsertBinding(ctx, store.BindingRow{
		Term:       term,
		Address:    chosen.Address,
		InstanceID: chosen.InstanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert binding: %w", err)
	}
	metrics.Resolves.WithLabelValues("rebound").Inc()
	slog.Info("term bound", "term", term, "address", chosen.Address, "instance_id", chosen.InstanceID)
	return &protocol.Instance{InstanceID: chosen.InstanceID, Address: chosen.Address}, nil
}

func (d *Directory) activeInstances(ctx context.Context, now time.Time) ([]store.InstanceRow, error) {
	rows, err := d.store.InstancesInRegion(ctx, Region)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	var active []store.InstanceRow
	for _, row := range rows {
		if fresh(row, now) {
			active = append(active, row)
		}
	}
	return active, nil
}

func fresh(row store.InstanceRow, now time.Time) bool {
	return now.Sub(row.LastAccessed) < LeaseTTL
}
