package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gerber4/searchbuddy/internal/metrics"
	"github.com/gerber4/searchbuddy/internal/protocol"
	"github.com/gerber4/searchbuddy/internal/room"
)

const writeTimeout = 5 * time.Second

// Server is the Echo application exposing rooms over websockets plus the
// lookup endpoint the gateway fans out to.
type Server struct {
	echo     *echo.Echo
	registry *Registry
	limiter  *connLimiter
	upgrader websocket.Upgrader
}

// NewServer constructs the Echo app. connRate and connBurst bound how
// fast any one client IP is admitted to new websocket connections; a
// wider process-wide bucket caps the total.
func NewServer(registry *Registry, connRate float64, connBurst int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		registry: registry,
		limiter:  newConnLimiter(connRate, connBurst, globalConnRate, globalConnBurst),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.POST("/chatrooms", s.handleChatrooms)
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// handleWebSocket upgrades one connection and serves it until the peer
// goes away.
func (s *Server) handleWebSocket(c echo.Context) error {
	if !s.limiter.allow(c.RealIP()) {
		metrics.WSRejected.WithLabelValues("rate_limit").Inc()
		return echo.NewHTTPError(http.StatusTooManyRequests, "connection rate exceeded")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	metrics.WSConnections.Inc()
	s.serveConn(conn)
	return nil
}

func (s *Server) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	userID := int32(rand.Uint32())
	slog.Info("websocket connected", "user_id", userID)

	kind, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	join, ok := parseJoin(kind, data)
	if !ok {
		metrics.WSRejected.WithLabelValues("bad_join").Inc()
		slog.Warn("expected a join message from new client", "user_id", userID)
		return
	}

	// From here on the room actor owns the write half; this goroutine
	// only reads.
	r := s.registry.Room(join.ChatroomID)
	r.Send(room.Connect{UserID: userID, Conn: &wsSender{conn: conn}})
	slog.Info("user joined room", "user_id", userID, "chatroom_id", join.ChatroomID)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseClient(data)
		if err != nil {
			slog.Warn("dropping unparseable frame", "user_id", userID, "err", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.Join:
			// Joining again once in a room is not supported.
		case protocol.NewMessage:
			r.Send(room.Message{Content: m.Content})
		case protocol.ChatsFromTodayRequest:
			r.Send(room.HistoryRequest{})
		}
	}

	r.Send(room.Disconnect{UserID: userID})
	slog.Info("websocket disconnected", "user_id", userID)
}

// parseJoin decodes the first frame of a connection, which must be a
// text frame holding a Join.
func parseJoin(kind int, data []byte) (protocol.Join, bool) {
	if kind != websocket.TextMessage {
		return protocol.Join{}, false
	}
	msg, err := protocol.ParseClient(data)
	if err != nil {
		return protocol.Join{}, false
	}
	join, ok := msg.(protocol.Join)
	return join, ok
}

// wsSender adapts a gorilla connection to the room's Sender.
type wsSender struct {
	conn *websocket.Conn
}

func (w *wsSender) SendText(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// handleChatrooms resolves a list of terms to room descriptors,
// materializing any room not yet seen so its count starts at zero.
func (s *Server) handleChatrooms(c echo.Context) error {
	var terms []string
	if err := c.Bind(&terms); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed terms list")
	}

	counts := make(map[string]protocol.RoomStatus, len(terms))
	for _, term := range terms {
		id := protocol.ChannelID(term)
		counts[term] = protocol.RoomStatus{
			ChatroomID: id,
			UserCount:  s.registry.Room(id).UserCount(),
		}
	}
	return c.JSON(http.StatusOK, counts)
}

type healthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
	Users  uint32 `json:"users"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status: "ok",
		Rooms:  s.registry.RoomCount(),
		Users:  s.registry.UserCount(),
	})
}
