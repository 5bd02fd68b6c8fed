package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/gerber4/searchbuddy/internal/protocol"
	"github.com/gerber4/searchbuddy/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestDirectory(t *testing.T) (*Directory, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	dir := NewDirectory(store.NewMemoryDirectoryStore())
	dir.now = clk.Now
	dir.pick = func(int) int { return 0 }
	return dir, clk
}

// ----------------------------------------------------------------------------
// Register / Ping
// ----------------------------------------------------------------------------

func TestRegisterThenPingOk(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	id, err := dir.Register(ctx, "10.0.0.1:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := dir.Ping(ctx, "10.0.0.1:3000", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != protocol.PingOk {
		t.Errorf("got %q, want %q", result, protocol.PingOk)
	}
}

func TestRegisterReplacesLease(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	oldID, err := dir.Register(ctx, "10.0.0.1:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	newID, err := dir.Register(ctx, "10.0.0.1:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oldID == newID {
		t.Fatalf("expected a fresh instance id, got %d twice", oldID)
	}

	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", oldID); result != protocol.PingNoLongerActive {
		t.Errorf("displaced id should be inactive, got %q", result)
	}
	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", newID); result != protocol.PingOk {
		t.Errorf("replacement id should be active, got %q", result)
	}
}

func TestPingUnknownAddress(t *testing.T) {
	dir, _ := newTestDirectory(t)

	result, err := dir.Ping(context.Background(), "10.0.0.9:3000", 17)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != protocol.PingNoLongerActive {
		t.Errorf("got %q, want %q", result, protocol.PingNoLongerActive)
	}
}

func TestPingExpiresAtTTL(t *testing.T) {
	dir, clk := newTestDirectory(t)
	ctx := context.Background()

	id, err := dir.Register(ctx, "10.0.0.1:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(LeaseTTL - time.Millisecond)
	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", id); result != protocol.PingOk {
		t.Errorf("lease just inside TTL should be active, got %q", result)
	}

	clk.Advance(LeaseTTL)
	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", id); result != protocol.PingNoLongerActive {
		t.Errorf("lease at TTL should be expired, got %q", result)
	}
}

func TestPingRefreshesLease(t *testing.T) {
	dir, clk := newTestDirectory(t)
	ctx := context.Background()

	id, err := dir.Register(ctx, "10.0.0.1:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two pings each inside the TTL keep the lease alive past twice the
	// TTL measured from registration.
	clk.Advance(9 * time.Second)
	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", id); result != protocol.PingOk {
		t.Fatalf("first ping should succeed, got %q", result)
	}
	clk.Advance(9 * time.Second)
	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", id); result != protocol.PingOk {
		t.Errorf("refreshed lease should still be active, got %q", result)
	}
}

func TestPingWrongIDDoesNotRefresh(t *testing.T) {
	dir, clk := newTestDirectory(t)
	ctx := context.Background()

	id, err := dir.Register(ctx, "10.0.0.1:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.Advance(9 * time.Second)
	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", id+1); result != protocol.PingNoLongerActive {
		t.Fatalf("mismatched id should be rejected, got %q", result)
	}

	// The failed ping must not have touched the row.
	clk.Advance(2 * time.Second)
	if result, _ := dir.Ping(ctx, "10.0.0.1:3000", id); result != protocol.PingNoLongerActive {
		t.Errorf("lease should have expired untouched, got %q", result)
	}
}

// ----------------------------------------------------------------------------
// Resolve
// ----------------------------------------------------------------------------

func TestResolveNoActiveInstances(t *testing.T) {
	dir, _ := newTestDirectory(t)

	instance, err := dir.Resolve(context.Background(), "rust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instance != nil {
		t.Errorf("expected nil instance, got %+v", instance)
	}
}

func TestResolveBindsActiveInstance(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	id, err := dir.Register(ctx, "10.0.0.1:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	instance, err := dir.Resolve(ctx, "rust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instance == nil {
		t.Fatal("expected an instance")
	}
	if instance.InstanceID != id || instance.Address != "10.0.0.1:3000" {
		t.Errorf("got %+v, want id %d at 10.0.0.1:3000", instance, id)
	}
}

func TestResolveIsSticky(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Register(ctx, "10.0.0.1:3000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := dir.Resolve(ctx, "rust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A second instance arrives and the pick is steered at it. The
	// binding must not move while the first instance stays active.
	if _, err := dir.Register(ctx, "10.0.0.2:3000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir.pick = func(n int) int { return n - 1 }

	second, err := dir.Resolve(ctx, "rust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.InstanceID != first.InstanceID || second.Address != first.Address {
		t.Errorf("binding moved from %+v to %+v", first, second)
	}
}

func TestResolveReboundAfterInstanceDies(t *testing.T) {
	dir, clk := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Register(ctx, "10.0.0.1:3000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dir.Resolve(ctx, "rust"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Let the bound instance's lease lapse while a newcomer stays fresh.
	clk.Advance(6 * time.Second)
	liveID, err := dir.Register(ctx, "10.0.0.2:3000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.Advance(6 * time.Second)

	instance, err := dir.Resolve(ctx, "rust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instance == nil {
		t.Fatal("expected a rebound instance")
	}
	if instance.InstanceID != liveID || instance.Address != "10.0.0.2:3000" {
		t.Errorf("got %+v, want id %d at 10.0.0.2:3000", instance, liveID)
	}
}

func TestResolveDistinctTermsIndependent(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Register(ctx, "10.0.0.1:3000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dir.Register(ctx, "10.0.0.2:3000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dir.pick = func(int) int { return 0 }
	a, err := dir.Resolve(ctx, "term-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dir.pick = func(n int) int { return n - 1 }
	b, err := dir.Resolve(ctx, "term-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Address == b.Address {
		t.Errorf("expected distinct instances, both terms on %s", a.Address)
	}
}

func TestResolveAllInstancesDead(t *testing.T) {
	dir, clk := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Register(ctx, "10.0.0.1:3000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dir.Resolve(ctx, "rust"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The bound instance expires with no replacement. The stale binding
	// must not be served.
	clk.Advance(LeaseTTL + time.Second)

	instance, err := dir.Resolve(ctx, "rust")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instance != nil {
		t.Errorf("expected nil instance with the fleet dead, got %+v", instance)
	}
}

func TestResolveEmptyTermIsValid(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	if _, err := dir.Register(ctx, "10.0.0.1:3000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	instance, err := dir.Resolve(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instance == nil {
		t.Error("empty term should still bind to an instance")
	}
}
