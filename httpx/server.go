package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Server hosts the example service and fake identity providers on echo.
type Server struct {
	echo     *Echo
	address  string
	shutdown time.Duration
}

type RouteRegistrar func(*Echo)

func NewServer(opts ...ServerOption) *Server {
	cfg := defaultServerOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	e := NewEcho()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = writeError
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Use(cfg.Middlewares...)

	return &Server{echo: e, address: cfg.Address, shutdown: cfg.ShutdownTimeout}
}

func (s *Server) RegisterRoutes(reg RouteRegistrar) {
	if reg != nil {
		reg(s.echo)
	}
}

func (s *Server) Echo() *Echo { return s.echo }

func (s *Server) Handler() http.Handler { return s.echo.Echo }

// Start serves until ctx is done, then drains in-flight requests for at most
// the shutdown timeout and returns ctx.Err().
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(s.address) }()

	select {
	case <-ctx.Done():
		drain, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdown)
		defer cancel()
		if err := s.echo.Shutdown(drain); err != nil {
			return fmt.Errorf("httpx: shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// writeError renders handler errors as OAuth error documents. Errors that
// are not *echo.HTTPError become a 500 without leaking their text.
func writeError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, msg := StatusInternalError, http.StatusText(StatusInternalError)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch m := he.Message.(type) {
		case nil:
			msg = http.StatusText(status)
		case error:
			msg = m.Error()
		default:
			msg = fmt.Sprint(m)
		}
	}
	_ = c.JSON(status, OAuthError{Code: errorCode(status), Description: msg})
}

// errorCode picks the OAuth error code closest to an HTTP status.
func errorCode(status int) string {
	switch {
	case status == StatusUnauthorized:
		return "invalid_token"
	case status == http.StatusForbidden:
		return "insufficient_scope"
	case status >= 400 && status < 500:
		return "invalid_request"
	default:
		return "server_error"
	}
}
