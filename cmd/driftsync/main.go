package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/driftlock/driftsync/internal/config"
	"github.com/driftlock/driftsync/internal/daemon"
	"github.com/driftlock/driftsync/internal/utils"
	"github.com/driftlock/driftsync/internal/version"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "driftsync",
	Short:   "driftsync offline-first sync daemon",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			Path:        viper.ConfigFileUsed(),
			Email:       viper.GetString("email"),
			DataDir:     viper.GetString("data_dir"),
			ServerURL:   viper.GetString("server_url"),
			ServerToken: viper.GetString("server_token"),
			ClientURL:   viper.GetString("client_url"),
			ClientToken: viper.GetString("client_token"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		d, err := daemon.New(cfg)
		if err != nil {
			return err
		}

		defer slog.Info("bye")
		if err := d.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("daemon", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("email", "e", "", "account email to sync as")
	rootCmd.Flags().StringP("datadir", "d", config.DefaultDataDir, "local state directory")
	rootCmd.Flags().StringP("server", "s", config.DefaultServerURL, "backend server URL")
	rootCmd.Flags().String("http-addr", "", "local control plane address")
	rootCmd.Flags().String("http-token", "", "local control plane access token")
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file")
}

func main() {
	// a .env next to the binary is convenient for dev setups
	_ = godotenv.Load()

	setupLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	handlers := []slog.Handler{stdoutHandler}

	logDir := filepath.Join(config.DefaultDataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err == nil {
		file, err := os.OpenFile(filepath.Join(logDir, "driftsync.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			handlers = append(handlers, slog.NewTextHandler(file, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}))
		}
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
}

func loadConfig(cmd *cobra.Command) error {
	home, _ := os.UserHomeDir()

	if cmd.Flag("config").Changed {
		path, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".driftsync"))
		viper.AddConfigPath(filepath.Join(home, ".config/driftsync"))
		viper.SetConfigName("config")
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("email", cmd.Flags().Lookup("email"))
	viper.BindPFlag("data_dir", cmd.Flags().Lookup("datadir"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	if f := cmd.Flags().Lookup("http-addr"); f != nil && f.Changed {
		viper.Set("client_url", "http://"+f.Value.String())
	}
	if f := cmd.Flags().Lookup("http-token"); f != nil && f.Changed {
		viper.Set("client_token", f.Value.String())
	}

	viper.SetEnvPrefix("DRIFTSYNC")
	viper.AutomaticEnv()
	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("driftsync %s\n", version.Version)
}
