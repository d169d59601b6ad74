package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/everdeals/backend/internal/affiliate"
	"github.com/everdeals/backend/internal/alerts"
	"github.com/everdeals/backend/internal/auth"
	"github.com/everdeals/backend/internal/config"
	"github.com/everdeals/backend/internal/database"
	"github.com/everdeals/backend/internal/deals"
	"github.com/everdeals/backend/internal/logging"
	"github.com/everdeals/backend/internal/server"
	"github.com/everdeals/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "everdeals-api",
		Short: "EverDeals marketplace backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("provider-audience", defaults.GetString("provider.audience"), "Identity provider OAuth client ID")
	cmd.PersistentFlags().String("provider-jwks-url", defaults.GetString("provider.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "API token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "API token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "provider.audience", "provider-audience")
	bindFlag(cmd, "provider.jwks_url", "provider-jwks-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      time.Duration(appConfig.TokenTTLMinutes) * time.Minute,
	})

	providerVerifier, err := auth.NewProviderVerifier(auth.ProviderVerifierConfig{
		Audience:       appConfig.ProviderAudience,
		JWKSURL:        appConfig.ProviderJWKSURL,
		AllowedIssuers: appConfig.ProviderIssuers,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	dealsService, err := deals.NewService(deals.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: deals.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	affiliateLedger, err := affiliate.NewLedger(affiliate.LedgerConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: deals.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	alertMatcher, err := alerts.NewMatcher(alerts.MatcherConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: deals.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ProviderVerifier: providerVerifier,
		TokenManager:     tokenManager,
		UsersService:     usersService,
		DealsService:     dealsService,
		AffiliateLedger:  affiliateLedger,
		AlertMatcher:     alertMatcher,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
