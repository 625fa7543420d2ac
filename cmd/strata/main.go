package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/strata/pkg/config"
	"github.com/ajitpratap0/strata/pkg/logger"
	"github.com/ajitpratap0/strata/pkg/observability"
)

var version = "0.1.0"

// app holds the state shared by every command once the root has run.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	log      *zap.Logger
	shutdown func(context.Context) error

	configFile   string
	printMetrics bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	a := &app{v: viper.New()}
	err := newRootCommand(a).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata - column store index for document collections",
		Long: `Strata loads extended JSON documents into an in-memory collection, builds a
column store index over every path and answers find and aggregate queries,
reading only the columns a query needs when that is cheaper than a row scan.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Path to a YAML configuration file")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (json, console)")
	flags.Bool("trace", false, "Write OpenTelemetry spans to stderr")
	flags.Int("workers", 0, "Goroutines used to build the index (0 means one per CPU)")
	flags.Bool("column-scan", true, "Allow the planner to choose column scans")
	flags.BoolVar(&a.printMetrics, "print-metrics", false, "Print Prometheus metrics to stderr on exit")

	for key, flag := range map[string]string{
		"observability.log_level":      "log-level",
		"observability.log_format":     "log-format",
		"observability.enable_tracing": "trace",
		"index.build_workers":          "workers",
		"planner.enable_column_scan":   "column-scan",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	a.v.SetEnvPrefix("STRATA")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newVersionCommand(),
		newFindCommand(a),
		newAggregateCommand(a),
		newIndexCommand(a),
		newValidateCommand(a),
		newConfigCommand(a),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Strata v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// setup resolves the configuration and starts logging and tracing.
// Precedence: flags, then STRATA_* environment variables, then the file,
// then defaults.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg := config.NewConfig("default")
	if a.configFile != "" {
		loaded, err := config.LoadFile(a.configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	// Without a file the CLI only logs warnings unless asked otherwise.
	if !a.v.IsSet("observability.log_level") && a.configFile == "" {
		cfg.Observability.LogLevel = "warn"
	}
	a.override(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogFormat,
	}); err != nil {
		return err
	}
	a.log = logger.Get().With(zap.String("component", "strata-cli"))

	tc := observability.DefaultConfig()
	tc.Enabled = cfg.Observability.EnableTracing
	tc.ServiceVersion = version
	tc.SamplingRate = cfg.Observability.TracingSampleRate
	tc.Writer = os.Stderr
	tc.Sync = true
	shutdown, err := observability.Initialize(tc)
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	a.log.Debug("configuration resolved",
		zap.String("config_file", a.configFile),
		zap.String("collection", cfg.Name),
		zap.Bool("column_scan", cfg.Planner.EnableColumnScan),
		zap.Bool("tracing", cfg.Observability.EnableTracing))
	return nil
}

// override applies every key viper has a flag or environment value for.
func (a *app) override(cfg *config.Config) {
	v := a.v
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}

	str("name", &cfg.Name)
	num("index.build_workers", &cfg.Index.BuildWorkers)
	flag("planner.enable_column_scan", &cfg.Planner.EnableColumnScan)
	num("planner.max_fields_unfiltered", &cfg.Planner.MaxFieldsUnfiltered)
	num("planner.max_fields_filtered", &cfg.Planner.MaxFieldsFiltered)
	str("storage.compression", &cfg.Storage.Compression)
	num("storage.compression_level", &cfg.Storage.CompressionLevel)
	str("storage.snapshot_path", &cfg.Storage.SnapshotPath)
	str("observability.log_level", &cfg.Observability.LogLevel)
	str("observability.log_format", &cfg.Observability.LogFormat)
	flag("observability.enable_metrics", &cfg.Observability.EnableMetrics)
	flag("observability.enable_tracing", &cfg.Observability.EnableTracing)
	if v.IsSet("observability.tracing_sample_rate") {
		cfg.Observability.TracingSampleRate = v.GetFloat64("observability.tracing_sample_rate")
	}
}

func (a *app) teardown(cmd *cobra.Command) error {
	if a.printMetrics && a.cfg != nil && a.cfg.Observability.EnableMetrics {
		if err := writeMetrics(cmd.ErrOrStderr()); err != nil {
			a.log.Warn("failed to write metrics", zap.Error(err))
		}
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
	}
	_ = logger.Sync()
	return nil
}

// writeMetrics dumps the strata metric families in the text exposition
// format.
func writeMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "strata_") {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var format string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Long: `Print the configuration after applying the file, STRATA_* environment
variables and flags. Environment keys use underscores for nesting, for
example STRATA_PLANNER_MAX_FIELDS_FILTERED=20.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(a.cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				return writeJSON(out, a.cfg)
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	show.Flags().StringVarP(&format, "format", "f", "yaml", "Output format (yaml, json)")
	cmd.AddCommand(show)
	return cmd
}
