package instance

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gerber4/searchbuddy/internal/protocol"
	"github.com/gerber4/searchbuddy/internal/store"
)

func startTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	reg := NewRegistry(store.NewMemoryChatStore())
	t.Cleanup(reg.Close)
	ts := httptest.NewServer(NewServer(reg, 1000, 1000).Echo())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return ts, wsURL
}

// connectClient dials, joins chatroomID, and waits for the greeting.
func connectClient(t *testing.T, baseWSURL string, chatroomID int32) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(baseWSURL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	writeClient(t, conn, protocol.Join{ChatroomID: chatroomID})
	readUntil(t, conn, func(m protocol.ServerMessage) bool {
		joined, ok := m.(protocol.Joined)
		return ok && joined.ChatroomID == chatroomID
	})
	return conn
}

func writeClient(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	data, err := protocol.MarshalClient(msg)
	if err != nil {
		t.Fatalf("marshal client message: %v", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.ServerMessage) bool) protocol.ServerMessage {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			t.Fatalf("read message: %v", err)
		}
		msg, err := protocol.ParseServer(data)
		if err != nil {
			t.Fatalf("parse server frame %q: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
	t.Fatal("timed out waiting for matching message")
	return nil
}

// ----------------------------------------------------------------------------
// websocket flow
// ----------------------------------------------------------------------------

func TestJoinIsGreeted(t *testing.T) {
	_, wsURL := startTestServer(t)
	connectClient(t, wsURL, 42)
}

func TestSecondJoinerAnnounced(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := connectClient(t, wsURL, 42)
	connectClient(t, wsURL, 42)

	readUntil(t, alice, func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.NewUser)
		return ok
	})
}

func TestMessageReachesEveryMember(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := connectClient(t, wsURL, 42)
	bob := connectClient(t, wsURL, 42)
	readUntil(t, alice, func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.NewUser)
		return ok
	})

	writeClient(t, alice, protocol.NewMessage{Content: "hello"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		readUntil(t, conn, func(m protocol.ServerMessage) bool {
			msg, ok := m.(protocol.NewMessage)
			return ok && msg.Content == "hello"
		})
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := connectClient(t, wsURL, 1)
	bob := connectClient(t, wsURL, 2)

	writeClient(t, alice, protocol.NewMessage{Content: "for room one"})
	writeClient(t, bob, protocol.NewMessage{Content: "for room two"})

	// Bob's room never saw alice's message, so the first chat bob
	// receives must be his own.
	first := readUntil(t, bob, func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.NewMessage)
		return ok
	})
	if got := first.(protocol.NewMessage).Content; got != "for room two" {
		t.Errorf("got %q, want %q", got, "for room two")
	}
}

func TestPeerDisconnectAnnounced(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := connectClient(t, wsURL, 42)
	bob := connectClient(t, wsURL, 42)
	readUntil(t, alice, func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.NewUser)
		return ok
	})

	bob.Close()

	readUntil(t, alice, func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.UserDisconnected)
		return ok
	})
}

func TestFirstFrameMustBeJoin(t *testing.T) {
	_, wsURL := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	writeClient(t, conn, protocol.NewMessage{Content: "no join"})

	// The server drops the connection without responding.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}

func TestRepeatedJoinIgnored(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := connectClient(t, wsURL, 42)
	writeClient(t, alice, protocol.Join{ChatroomID: 7})
	writeClient(t, alice, protocol.NewMessage{Content: "still here"})

	readUntil(t, alice, func(m protocol.ServerMessage) bool {
		msg, ok := m.(protocol.NewMessage)
		return ok && msg.Content == "still here"
	})
}

func TestBinaryFramesIgnored(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := connectClient(t, wsURL, 42)

	_ = alice.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := alice.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	writeClient(t, alice, protocol.NewMessage{Content: "after binary"})

	readUntil(t, alice, func(m protocol.ServerMessage) bool {
		msg, ok := m.(protocol.NewMessage)
		return ok && msg.Content == "after binary"
	})
}

func TestHistoryReturnsTodaysChats(t *testing.T) {
	_, wsURL := startTestServer(t)

	alice := connectClient(t, wsURL, 42)
	writeClient(t, alice, protocol.NewMessage{Content: "logged line"})
	readUntil(t, alice, func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.NewMessage)
		return ok
	})

	writeClient(t, alice, protocol.ChatsFromTodayRequest{})

	history := readUntil(t, alice, func(m protocol.ServerMessage) bool {
		_, ok := m.(protocol.ChatsFromTodayResponse)
		return ok
	})
	messages := history.(protocol.ChatsFromTodayResponse).Messages
	if len(messages) != 1 || messages[0] != "logged line" {
		t.Errorf("got %q, want [\"logged line\"]", messages)
	}
}

func TestConnectionRateLimit(t *testing.T) {
	reg := NewRegistry(store.NewMemoryChatStore())
	t.Cleanup(reg.Close)
	ts := httptest.NewServer(NewServer(reg, 0.001, 1).Echo())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	connectClient(t, wsURL, 42)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err == nil {
		t.Fatal("expected the second dial to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 handshake response, got %+v", resp)
	}
}

func TestConnectionRateLimitPerIP(t *testing.T) {
	reg := NewRegistry(store.NewMemoryChatStore())
	t.Cleanup(reg.Close)
	ts := httptest.NewServer(NewServer(reg, 0.001, 1).Echo())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	dial := func(ip string) (*websocket.Conn, *http.Response, error) {
		hdr := http.Header{"X-Forwarded-For": []string{ip}}
		return websocket.DefaultDialer.Dial(wsURL+"/ws", hdr)
	}

	conn, _, err := dial("198.51.100.1")
	if err != nil {
		t.Fatalf("dial from first address: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if _, resp, err := dial("198.51.100.1"); err == nil {
		t.Fatal("expected the drained address to be rejected")
	} else if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429 handshake response, got %+v", resp)
	}

	// One greedy client must not starve everyone else.
	conn2, _, err := dial("203.0.113.9")
	if err != nil {
		t.Fatalf("dial from second address: %v", err)
	}
	t.Cleanup(func() { conn2.Close() })
}

// ----------------------------------------------------------------------------
// lookup endpoints
// ----------------------------------------------------------------------------

func TestChatroomsMaterializesRooms(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := http.Post(ts.URL+"/chatrooms", "application/json", strings.NewReader(`["rust","go"]`))
	if err != nil {
		t.Fatalf("POST /chatrooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /chatrooms, got %d", resp.StatusCode)
	}

	var counts map[string]protocol.RoomStatus
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("got %d entries, want 2", len(counts))
	}
	for _, term := range []string{"rust", "go"} {
		status, ok := counts[term]
		if !ok {
			t.Fatalf("missing term %q in %v", term, counts)
		}
		if status.ChatroomID != protocol.ChannelID(term) {
			t.Errorf("%s: got id %d, want %d", term, status.ChatroomID, protocol.ChannelID(term))
		}
		if status.UserCount != 0 {
			t.Errorf("%s: got %d users, want 0", term, status.UserCount)
		}
	}
}

func TestChatroomsCountsJoinedUsers(t *testing.T) {
	ts, wsURL := startTestServer(t)

	connectClient(t, wsURL, protocol.ChannelID("rust"))

	resp, err := http.Post(ts.URL+"/chatrooms", "application/json", strings.NewReader(`["rust"]`))
	if err != nil {
		t.Fatalf("POST /chatrooms: %v", err)
	}
	defer resp.Body.Close()

	var counts map[string]protocol.RoomStatus
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if counts["rust"].UserCount != 1 {
		t.Errorf("got %d users, want 1", counts["rust"].UserCount)
	}
}

func TestChatroomsRejectsMalformedBody(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := http.Post(ts.URL+"/chatrooms", "application/json", strings.NewReader(`{"terms":`))
	if err != nil {
		t.Fatalf("POST /chatrooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthzReportsRoomsAndUsers(t *testing.T) {
	ts, wsURL := startTestServer(t)

	connectClient(t, wsURL, 1)
	connectClient(t, wsURL, 2)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Rooms != 2 || health.Users != 2 {
		t.Errorf("unexpected health payload: %+v", health)
	}
}
