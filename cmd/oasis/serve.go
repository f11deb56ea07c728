package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/adeilh/oasis"
	"github.com/adeilh/oasis/auth"
	"github.com/adeilh/oasis/config"
	"github.com/adeilh/oasis/httpx"
	"github.com/adeilh/oasis/result"
)

type serveOptions struct {
	addr     string
	audience string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := serveOptions{addr: ":3000"}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the example service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := root.logger()
			c, err := root.client(log)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if root.configPath != "" {
				err := config.Watch(ctx, root.configPath, func(cfg config.Config) {
					_ = c.Reload(cfg)
				}, config.WithWatchLogger(log))
				if err != nil {
					return err
				}
			}

			srv := httpx.NewServer(
				httpx.WithAddress(opts.addr),
				httpx.WithTimeouts(10*time.Second, 30*time.Second),
				httpx.AppendMiddlewares(httpx.RequestLogger(log)),
			)
			srv.RegisterRoutes(routes(c, opts.audience, log))
			log.Info("listening", "addr", opts.addr)
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", opts.addr, "Listen address.")
	cmd.Flags().StringVar(&opts.audience, "audience", "", "Audience used by /api/obo when the request has no audience parameter.")
	return cmd
}

func routes(c *oasis.Client, defaultAudience string, log logr.Logger) httpx.RouteRegistrar {
	return func(e *httpx.Echo) {
		alive := func(ctx httpx.Context) error { return ctx.String(http.StatusOK, "ok") }
		e.GET("/isalive", alive)
		e.GET("/isready", alive)
		e.GET("/metrics", httpx.WrapHandler(promhttp.Handler()))

		e.GET("/api/authenticated", func(ctx httpx.Context) error {
			token, err := bearer(ctx)
			if err != nil {
				return err
			}
			return result.Match(c.ValidateToken(ctx.Request().Context(), token),
				func(struct{}) error {
					claims, _ := auth.DecodeUnverified(token)
					return ctx.String(http.StatusOK, "Authenticated as "+claims.Subject)
				},
				func(err error) error {
					log.V(1).Info("validation failed", "error", err.Error())
					return httpx.HTTPError(auth.StatusFor(err), err.Error())
				},
			)
		})

		e.GET("/api/obo", func(ctx httpx.Context) error {
			token, err := bearer(ctx)
			if err != nil {
				return err
			}
			audience := ctx.QueryParam("audience")
			if audience == "" {
				audience = defaultAudience
			}
			rctx := ctx.Request().Context()
			if err := c.ValidateToken(rctx, token).Error(); err != nil {
				return httpx.HTTPError(auth.StatusFor(err), err.Error())
			}
			obo, err := c.RequestOboToken(rctx, token, audience).Unwrap()
			if err != nil {
				return httpx.HTTPError(auth.StatusFor(err), err.Error())
			}
			return ctx.String(http.StatusOK, fmt.Sprintf("Made obo-token request: got %d", len(obo)))
		})
	}
}

func bearer(ctx httpx.Context) (string, error) {
	token, err := auth.BearerTokenExtractor()(ctx.Request())
	if err != nil {
		return "", httpx.HTTPError(http.StatusUnauthorized, err.Error())
	}
	return token, nil
}
