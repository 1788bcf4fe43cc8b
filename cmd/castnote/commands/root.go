package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"castnote/internal/platform/config"
	"castnote/internal/platform/logger"
	"castnote/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// Version is set at build time.
var Version = "dev"

// env is what every command gets after setup.
type env struct {
	settingsPath string
	stored       config.Settings // as persisted
	settings     config.Settings // with environment overrides
	log          *slog.Logger
	metrics      *metrics.Metrics
	metricsAddr  string
}

var app env

var rootCmd = &cobra.Command{
	Use:   "castnote",
	Short: "Cast Markdown notes to a TV on the local network",
	Long: `castnote renders a Markdown note to HTML, serves it from a local,
token-protected HTTP endpoint and asks a cast receiver on the LAN to open it.

Use "castnote [command] --help" for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("settings", "", "Settings file (default: $XDG_CONFIG_HOME/castnote/settings.ini)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(castCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	_ = config.Load()

	path, _ := cmd.Flags().GetString("settings")
	if path == "" {
		p, err := config.SettingsPath()
		if err != nil {
			return err
		}
		path = p
	}
	stored, err := config.LoadSettings(path)
	if err != nil {
		return err
	}
	settings := config.ApplyEnv(stored)
	rt := config.LoadRuntime(settings)

	app = env{
		settingsPath: path,
		stored:       stored,
		settings:     settings,
		log:          logger.New(os.Stderr, rt.LogLevel, rt.LogFormat),
		metrics:      metrics.New(),
		metricsAddr:  rt.MetricsAddr,
	}
	return nil
}

// serveMetrics exposes /metrics on METRICS_ADDR until ctx ends. It does
// nothing when METRICS_ADDR is unset.
func serveMetrics(ctx context.Context, updateGauges func()) {
	if app.metricsAddr == "" {
		return
	}

	r := chi.NewRouter()
	r.Get("/metrics", app.metrics.Handler(updateGauges).ServeHTTP)
	srv := &http.Server{Addr: app.metricsAddr, Handler: r, ReadHeaderTimeout: shutdownTimeout}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.log.Error("metrics shutdown error", "error", err)
		}
	}()
	app.log.Info("metrics listening", "addr", app.metricsAddr)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "castnote %s\n", Version)
	},
}
