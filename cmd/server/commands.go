package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/logger"
	"dispatch/internal/service"
)

const defaultConfigFile = "config.yaml"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "dispatch",
	Short:         "Dispatch and route optimization service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          serve,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, claim reaper and unassigned-booking monitor",
	RunE:  serve,
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Run one route optimization pass and exit",
	RunE:  optimize,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	RunE:  migrate,
}

var (
	optimizeRegion  string
	optimizeHorizon time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML configuration file (default config.yaml when present)")
	optimizeCmd.Flags().StringVar(&optimizeRegion, "region", "", "postcode area to restrict candidates to, e.g. M1")
	optimizeCmd.Flags().DurationVar(&optimizeHorizon, "horizon", 0, "look-ahead window (default from configuration)")
	rootCmd.AddCommand(serveCmd, optimizeCmd, migrateCmd)
}

func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" && config.FileExists(defaultConfigFile) {
		path = defaultConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New("main")

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(connectCtx, cfg)
	cancel()
	if err != nil {
		return err
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	waitWorkers := a.StartWorkers(workersCtx)

	server := a.Server()
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Infof("shutting down server...")
	case runErr = <-serverErr:
		log.Errorf("server error: %v", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}
	stopWorkers()
	waitWorkers()
	if err := a.Close(shutdownCtx); err != nil {
		log.Errorf("close: %v", err)
	}

	log.Infof("server exited")
	return runErr
}

func optimize(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if optimizeHorizon > 0 {
		cfg.Optimizer.Horizon = optimizeHorizon
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.New("optimize-command").Errorf("close: %v", err)
		}
	}()

	res, err := a.Routes.OptimizeRoutes(ctx, service.OptimizeRequest{Region: optimizeRegion})
	if err != nil {
		return fmt.Errorf("optimize routes: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "routes=%d eligible=%d assigned=%d unassigned=%d\n",
		len(res.Routes), res.Stats.EligibleCount, res.Stats.AssignedCount, res.Stats.UnassignedCount)
	return nil
}

func migrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate needs the postgres driver, configured %q", cfg.Database.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbCfg := cfg.Database
	dbCfg.Migrate = true
	db, err := app.NewDatabase(ctx, dbCfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.New("migrate-command").Infof("schema applied to %s", dbCfg.DBName)
	return nil
}
