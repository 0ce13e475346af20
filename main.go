package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"komnata/internal/auth"
	"komnata/internal/commands"
	"komnata/internal/config"
	"komnata/internal/http"
	"komnata/internal/profile"
	"komnata/internal/storage"
	"komnata/internal/ws"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("komnata", flag.ContinueOnError)
	addUser := flags.String("add-user", "", "Account to create as email:username (creates it with a random password and prints details)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if *addUser != "" {
		return commands.AddUser(*addUser, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}
	profiles := profile.NewResolver(bbStorage, cfg.ProfileRetry)
	hub := ws.NewHub()

	adminServer := http.NewAdminServer(authService, profiles, hub, cfg.AdminAddr, cfg.BaseURL)
	apiServer := http.NewAPIServer(http.APIConfig{
		Addr:       cfg.APIAddr,
		Auth:       authService,
		Profiles:   profiles,
		Store:      bbStorage,
		Hub:        hub,
		AutoSelect: cfg.AutoSelect,
	})

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
