package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lead-board/api"
	"lead-board/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the board HTTP API and live stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	},
}

func newAuthenticator(c *config.Config) (api.Authenticator, func(), error) {
	switch c.AuthMode() {
	case "disabled":
		log.Warn("authentication disabled")
		return api.Disabled{}, func() {}, nil
	case "shared-secret":
		return api.NewSharedSecretAuth([]byte(c.Auth.SharedSecret), c.Auth.Audience, ""), func() {}, nil
	default:
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, nil, fmt.Errorf("jwks: %w", err)
		}
		return api.NewAuth(jwks, c.Auth.Audience, "https://"+c.Auth.Domain+"/"), jwks.EndBackground, nil
	}
}

func newServer(deps api.Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, deps)
	return e
}

func serve(ctx context.Context, c *config.Config) error {
	auth, stopAuth, err := newAuthenticator(c)
	if err != nil {
		return err
	}
	defer stopAuth()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	e := newServer(a.handlerDeps(auth))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runFeed(gctx) })
	g.Go(func() error {
		log.WithField("addr", c.ListenAddr).Info("listening")
		if err := e.Start(c.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
