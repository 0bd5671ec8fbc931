package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/gateway/api/handlers"
	"github.com/remote-agent-terminal/gateway/internal/config"
	"github.com/remote-agent-terminal/gateway/internal/db"
	"github.com/remote-agent-terminal/gateway/internal/events"
	"github.com/remote-agent-terminal/gateway/internal/logger"
	"github.com/remote-agent-terminal/gateway/internal/metrics"
	"github.com/remote-agent-terminal/gateway/internal/pty"
	"github.com/remote-agent-terminal/gateway/internal/repository"
	"github.com/remote-agent-terminal/gateway/internal/session"
	"github.com/remote-agent-terminal/gateway/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		port    int
	)

	cmd := &cobra.Command{
		Use:           "termgw",
		Short:         "Remote terminal gateway",
		Long:          "termgw runs shells and commands in pseudo-terminals and streams them to clients over WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			log := logger.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			if err := run(cmd.Context(), cfg, log); err != nil {
				log.Error().Err(err).Msg("server stopped with error")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "load environment variables from this file (default ./.env if present)")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port, overrides TERMGW_PORT")
	return cmd
}

func run(ctx context.Context, cfg *config.Settings, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	eventRepo := repository.NewEventRepository(database)
	m := metrics.New()
	dispatcher := events.NewDispatcher(log, events.DefaultQueueSize, eventRepo, m)

	factory := pty.NewNativeFactory(cfg.TerminateGrace, log)
	sessionManager := session.NewManager(factory, dispatcher, cfg.SessionDefaults(), log)

	reaper, err := session.NewReaper(sessionManager, cfg.ReapSchedule, log)
	if err != nil {
		return err
	}
	reaper.Start()

	gateway := ws.NewGateway(sessionManager, ws.Options{
		CheckOrigin: func(r *http.Request) bool { return cfg.OriginAllowed(r.Header.Get("Origin")) },
		Observer:    m,
	}, log)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(log), handlers.CORSMiddleware(cfg.OriginAllowed), handlers.OwnerMiddleware())

	handlers.RegisterOps(r, sessionManager, m.Handler())
	handlers.NewSessionHandler(sessionManager, eventRepo).RegisterRoutes(r.Group("/api"))
	handlers.NewWebSocketHandler(gateway).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Terminating sessions first ends every bound WebSocket with SESSION_TERMINATED.
	reaper.Stop(shutdownCtx)
	if err := sessionManager.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("session shutdown incomplete")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("event backlog not fully delivered")
	}

	log.Info().Msg("server stopped")
	return nil
}
