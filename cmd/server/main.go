package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/membank/authserver/auth"
	"github.com/membank/authserver/internal/config"
	"github.com/membank/authserver/internal/obs"
	"github.com/membank/authserver/server"
	"github.com/membank/authserver/store"
	"github.com/membank/authserver/token"
	"github.com/membank/authserver/tokenhash"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	for {
		if err := run(logger); err != nil {
			logger.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	logger.Info().Msg("server stopped")
}

func run(logger zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config.Load")
	}
	displayAppname("auth server")
	obs.Init()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return errors.Wrap(err, "store.Open")
	}
	defer db.Close()
	if err := store.Migrate(db, cfg.Database.Driver); err != nil {
		return errors.Wrap(err, "store.Migrate")
	}

	hasher := tokenhash.NewHasher(cfg.Tokens.BcryptCost)
	sqlStore := store.New(db, cfg.Database.Driver, hasher)

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}

	issuer, err := token.NewIssuer(signer, sqlStore.RefreshTokens(), hasher, cfg.IssuerURL,
		token.WithTokenTTLs(cfg.Tokens.BrowserTTL, cfg.Tokens.CLITTL, cfg.Tokens.RefreshTTL),
		token.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "token.NewIssuer")
	}

	// Refresh tokens written before slow hashing get revoked here; they
	// cannot be upgraded in place.
	flagged, err := tokenhash.MigrateLegacyHashes(context.Background(), sqlStore.RefreshTokenCredentials())
	if err != nil {
		return errors.Wrap(err, "tokenhash.MigrateLegacyHashes")
	}
	if flagged > 0 {
		logger.Warn().Int("flagged", flagged).Msg("legacy fast-hashed refresh tokens revoked")
	}

	authenticator, err := buildAuthenticator(cfg, logger)
	if err != nil {
		return err
	}
	registry := auth.NewStaticRegistry(buildClients(cfg))

	authService, err := auth.NewService(sqlStore.Sessions(), issuer, authenticator, registry, cfg.LoginURL,
		auth.WithSessionTTLs(cfg.Sessions.AuthTTL, cfg.Sessions.CodeTTL),
		auth.WithLogger(logger))
	if err != nil {
		return errors.Wrap(err, "auth.NewService")
	}

	srv, err := server.New(cfg, authService, logger)
	if err != nil {
		return errors.Wrap(err, "server.New")
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := store.NewSweeper(sqlStore.Sessions(), sqlStore.RefreshTokens(), cfg.Sessions.SweepInterval, logger)
	go sweeper.Run(sweepCtx)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv}
	go listenAndServe(httpServer, logger)
	waitForStopSignal()
	return shutdown(httpServer)
}

func buildSigner(cfg *config.AppConfig) (token.Signer, error) {
	switch cfg.Signing.Method {
	case "RS256":
		pem, err := os.ReadFile(cfg.Signing.PrivateKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read signing key")
		}
		return token.NewRSASigner(pem)
	default:
		return token.NewHMACSigner(cfg.Signing.Secret)
	}
}

func buildAuthenticator(cfg *config.AppConfig, logger zerolog.Logger) (auth.Authenticator, error) {
	if !cfg.DevMode {
		return nil, errors.New("no identity adapter configured; enable dev_mode or wire an upstream adapter")
	}
	users := make([]auth.StaticUser, 0, len(cfg.DevUsers))
	for i, u := range cfg.DevUsers {
		users = append(users, auth.StaticUser{
			Email:          u.Email,
			Password:       u.Password,
			APIKey:         u.APIKey,
			UserID:         fmt.Sprintf("dev-user-%d", i+1),
			VendorCode:     u.VendorCode,
			OrganizationID: u.OrganizationID,
			Scopes:         u.Scopes,
		})
	}
	return auth.NewStaticAuthenticator(users, logger), nil
}

func buildClients(cfg *config.AppConfig) []auth.Client {
	clients := make([]auth.Client, 0, len(cfg.Clients))
	for _, c := range cfg.Clients {
		profile := token.ProfileBrowser
		if c.Profile == "cli" {
			profile = token.ProfileCLI
		}
		clients = append(clients, auth.Client{
			ID:               c.ID,
			RedirectPatterns: c.RedirectPatterns,
			Profile:          profile,
		})
	}
	return clients
}

func listenAndServe(httpServer *http.Server, logger zerolog.Logger) {
	logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
