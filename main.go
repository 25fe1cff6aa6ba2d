package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/choraleia/chatengine/pkg/config"
	"github.com/choraleia/chatengine/pkg/db"
	"github.com/choraleia/chatengine/pkg/store"
	"github.com/choraleia/chatengine/pkg/utils"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatengine",
		Short: "Multi-user character chat backend",
		Long: `chatengine runs personality-bound chat sessions for game servers.

Examples:
  chatengine init
  chatengine serve --config ./config.yaml
  chatengine migrate
  chatengine version`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig reads .env files, the config file and env overrides, then
// installs the process logger.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	config.LoadEnvFiles()

	path, _ := cmd.Flags().GetString("config")
	cfg, usedPath, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logger := utils.InitLogger(utils.LogOptions{Level: level, Format: cfg.Logging.Format})
	logger.Info("config loaded", "path", usedPath, "environment", cfg.Environment)
	return cfg, nil
}

func openRepository(cfg *config.AppConfig) (*store.GormRepository, error) {
	database, err := db.Open(cfg.DatabaseDriver(), cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	repo := store.New(database)
	if err := repo.AutoMigrate(); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server, err := NewServer(ctx, cfg, repo)
			if err != nil {
				return err
			}
			if err := server.Start(ctx); err != nil {
				return fmt.Errorf("start server: %w", err)
			}

			<-ctx.Done()
			utils.GetLogger().Info("shutdown signal received, stopping...")
			<-server.Done()
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.EnsureDefaultConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			repo, err := openRepository(cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			utils.GetLogger().Info("database migrated", "driver", cfg.DatabaseDriver())
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
