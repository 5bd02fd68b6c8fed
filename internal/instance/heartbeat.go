package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gerber4/searchbuddy/internal/discovery"
	"github.com/gerber4/searchbuddy/internal/protocol"
)

// pingInterval is how often the lease is renewed. Well inside the
// registry's 10 s TTL, so a few lost pings are survivable.
const pingInterval = 2 * time.Second

// ErrLeaseExpired reports that discovery no longer recognizes this
// instance. The daemon must exit; a restart registers afresh.
var ErrLeaseExpired = errors.New("discovery lease expired")

// Heartbeat holds one instance's discovery lease.
type Heartbeat struct {
	client   *discovery.Client
	address  string
	id       int32
	interval time.Duration
}

// Register leases the advertised address with discovery. Called once at
// boot; failure is fatal for the instance.
func Register(ctx context.Context, client *discovery.Client, address string) (*Heartbeat, error) {
	id, err := client.Register(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("register with discovery: %w", err)
	}
	slog.Info("registered with discovery", "address", address, "instance_id", id)
	return &Heartbeat{client: client, address: address, id: id, interval: pingInterval}, nil
}

// InstanceID returns the id discovery minted for this lease.
func (h *Heartbeat) InstanceID() int32 {
	return h.id
}

// Run renews the lease every pingInterval until ctx ends. Transport
// errors are logged and retried on the next tick; a NoLongerActive
// verdict is final and returns ErrLeaseExpired.
func (h *Heartbeat) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.interval):
		}

		result, err := h.client.Ping(ctx, h.address, h.id)
		if err != nil {
			slog.Error("discovery unreachable", "instance_id", h.id, "err", err)
			continue
		}
		if result == protocol.PingNoLongerActive {
			slog.Error("lease lost", "instance_id", h.id)
			return ErrLeaseExpired
		}
	}
}
