package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/faceid/internal/app"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "facectl",
	Short: "Operate the faceid enrollment and recognition pipeline",
	Long: `facectl runs enrollment, recognition, status and revocation against the
same sample store, identity store and model artifact the API server uses.

The API server should not be running against the same dataset while facectl
mutates it; each process keeps its own copy of the trained model.`,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "Path to config file (defaults are used if it does not exist)")
	rootCmd.PersistentFlags().Bool("memory", false, "Keep identity records in memory instead of Postgres")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the --config file, falling back to defaults plus
// environment overrides when the file is absent.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := mustGetString(cmd, "config")
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		err = cfg.Validate()
	}
	if err != nil {
		return nil, err
	}
	// stdout carries command output
	observability.SetupLoggerTo(os.Stderr, cfg.Logging.Level, "text")
	return cfg, nil
}

// openApp loads config and builds the service for one command.
func openApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, app.Options{MemoryIdentities: mustGetBool(cmd, "memory")})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
