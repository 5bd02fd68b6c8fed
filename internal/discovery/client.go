package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gerber4/searchbuddy/internal/protocol"
)

// clientTimeout bounds each call to the discovery service. Kept short so
// a stalled registry never hangs an instance heartbeat or a search.
const clientTimeout = 5 * time.Second

// Client calls the discovery service over HTTP. Instances use it to hold
// their lease; the gateway uses it to resolve terms.
type Client struct {
	base string
	http *http.Client
}

// NewClient wraps a discovery base URL such as "http://127.0.0.1:8081".
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: clientTimeout},
	}
}

// Register leases the given advertised address and returns the instance
// id the registry minted for it.
func (c *Client) Register(ctx context.Context, listenAddress string) (int32, error) {
	var resp protocol.RegisterResponse
	err := c.post(ctx, "/register", protocol.RegisterRequest{ListenAddress: listenAddress}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.InstanceID, nil
}

// Ping refreshes the lease and returns the registry's verdict, one of
// protocol.PingOk or protocol.PingNoLongerActive.
func (c *Client) Ping(ctx context.Context, listenAddress string, instanceID int32) (string, error) {
	var resp protocol.PingResponse
	err := c.post(ctx, "/ping", protocol.PingRequest{ListenAddress: listenAddress, InstanceID: instanceID}, &resp)
	if err != nil {
		return "", err
	}
	return resp.PingResult, nil
}

// Chatroom resolves a term to the instance hosting its room. A nil
// instance means no instance is currently active.
func (c *Client) Chatroom(ctx context.Context, term string) (*protocol.Instance, error) {
	var resp protocol.ChatroomResponse
	err := c.post(ctx, "/chatroom", protocol.ChatroomRequest{Term: term}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Instance, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
