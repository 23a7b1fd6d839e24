// Package cli implements the pageledger CLI commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/pageledger/internal/access"
	"github.com/rcliao/pageledger/internal/config"
	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/notify"
	"github.com/rcliao/pageledger/internal/store"
)

var (
	dataDir    string
	configPath string
	logLevel   string
	formatFlag string

	cfg config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "pageledger",
	Short: "Reading history, shared view settings and saved sessions",
	Long: "A local ledger of opened archives and images. Tracks what was read and where, " +
		"shares view settings between copies of the same content, and restores saved window sessions.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := setup(); err != nil {
			exitErr("config", err)
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", "", "Data directory (default: $PAGELEDGER_DATA_DIR or ~/.pageledger)")
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $PAGELEDGER_CONFIG or ~/.pageledger/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func setup() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	path := configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return err
		}
		path = p
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}
	if dataDir != "" {
		c.DataDir = dataDir
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	level, err := c.SlogLevel()
	if err != nil {
		return err
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
	cfg = c
	return nil
}

// app bundles what a command needs. The bus is shared so the access cache
// sees ledger changes.
type app struct {
	store *store.Store
	bus   *notify.Bus
	cache *access.Cache
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

func storeOptions(bus notify.Notifier) store.Options {
	return store.Options{
		Dir:              cfg.DataDir,
		LegacyDir:        cfg.LegacyDir,
		MaxHistoryCount:  cfg.MaxHistoryCount,
		MaxCatalogCount:  cfg.MaxCatalogCount,
		MaxSessionGroups: cfg.MaxSessionGroups,
		Notifier:         bus,
		Hasher:           identity.NewXXHash(),
		Logger:           slog.Default(),
	}
}

// openApp opens the store and wires the notification bus.
func openApp(ctx context.Context) (*app, error) {
	bus := notify.NewBus()
	bus.Subscribe(notify.Logger{Log: slog.Default()}.Notify)

	cache := access.New(
		access.WithDelay(cfg.SweepDelay),
		access.WithNotifier(bus),
		access.WithLogger(slog.Default()),
	)
	bus.Subscribe(cache.OnEvent)

	s, err := store.Open(ctx, storeOptions(bus))
	if err != nil {
		var mismatch *store.SchemaVersionMismatchError
		if errors.As(err, &mismatch) {
			return nil, fmt.Errorf("%w (upgrade pageledger, or run `pageledger reset` to discard the store)", err)
		}
		return nil, err
	}
	for _, merr := range s.MigrationErrors() {
		slog.Warn("store opened with a failed migration", "error", merr)
	}
	return &app{store: s, bus: bus, cache: cache}, nil
}

func mustOpen(cmd *cobra.Command) *app {
	a, err := openApp(cmd.Context())
	if err != nil {
		exitErr("open store", err)
	}
	return a
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
