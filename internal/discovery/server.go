package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gerber4/searchbuddy/internal/protocol"
)

// Server is the Echo application fronting a Directory.
type Server struct {
	echo      *echo.Echo
	directory *Directory
}

// NewServer constructs an Echo app with the registry routes.
func NewServer(directory *Directory) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, directory: directory}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.POST("/register", s.handleRegister)
	s.echo.POST("/ping", s.handlePing)
	s.echo.POST("/chatroom", s.handleChatroom)
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

func (s *Server) handleRegister(c echo.Context) error {
	var req protocol.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed register request")
	}
	if req.ListenAddress == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "listen_address is required")
	}

	id, err := s.directory.Register(c.Request().Context(), req.ListenAddress)
	if err != nil {
		slog.Error("register instance", "address", req.ListenAddress, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "register instance")
	}
	return c.JSON(http.StatusOK, protocol.RegisterResponse{InstanceID: id})
}

func (s *Server) handlePing(c echo.Context) error {
	var req protocol.PingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed ping request")
	}

	result, err := s.directory.Ping(c.Request().Context(), req.ListenAddress, req.InstanceID)
	if err != nil {
		slog.Error("ping instance", "address", req.ListenAddress, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "ping instance")
	}
	return c.JSON(http.StatusOK, protocol.PingResponse{PingResult: result})
}

func (s *Server) handleChatroom(c echo.Context) error {
	var req protocol.ChatroomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed chatroom request")
	}

	instance, err := s.directory.Resolve(c.Request().Context(), req.Term)
	if err != nil {
		slog.Error("resolve term", "term", req.Term, "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "resolve term")
	}
	return c.JSON(http.StatusOK, protocol.ChatroomResponse{Instance: instance})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}
