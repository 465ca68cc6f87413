package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/collab"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/config"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/database"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/server"
	"github.com/MarcoPoloResearchLab/notecollab/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notecollab-api",
		Short: "Realtime note collaboration backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newUsersCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated browser origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "cors.allowed_origins", "allowed-origins")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

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

// environment is the loaded configuration plus the resources opened from it.
type environment struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

func openEnvironment() (*environment, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &environment{config: appConfig, logger: logger, db: db}, nil
}

func (r *environment) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.logger.Sync()
}

func (r *environment) tokenIssuer() (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(r.config.SigningSecret),
		Issuer:        r.config.TokenIssuer,
		Audience:      r.config.TokenAudience,
		TokenTTL:      r.config.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.logger

	tokenIssuer, err := env.tokenIssuer()
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: env.db, Clock: time.Now})
	if err != nil {
		return err
	}

	authenticator, err := auth.NewAuthenticator(tokenIssuer, userService, logger)
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   env.db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Users:      userService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	chatService, err := chat.NewService(chat.ServiceConfig{
		Database: env.db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	realtime := env.config.Realtime
	hub, err := collab.NewHub(collab.HubConfig{
		Notes:        notesService,
		Chat:         chatService,
		Logger:       logger.Named("realtime"),
		HistoryLimit: realtime.HistoryLimit,
		SendBuffer:   realtime.SendBuffer,
		InboxSize:    realtime.InboxSize,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Authenticator:  authenticator,
		NotesService:   notesService,
		ChatService:    chatService,
		UsersService:   userService,
		Hub:            hub,
		Logger:         logger,
		AllowedOrigins: env.config.AllowedOrigins,
		Realtime: server.RealtimeOptions{
			PingPeriod:      realtime.PingPeriod,
			ReadLimitBytes:  realtime.ReadLimitBytes,
			EventsPerSecond: realtime.EventsPerSecond,
			EventBurst:      realtime.EventBurst,
		},
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              env.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		return hub.Run(groupCtx)
	})
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", env.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
