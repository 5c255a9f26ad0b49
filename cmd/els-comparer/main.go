// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the els-comparer CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/OnlyFart/ElsParsers/internal/secrets"
	"github.com/OnlyFart/ElsParsers/internal/store"
	"github.com/OnlyFart/ElsParsers/internal/store/mongostore"
	"github.com/OnlyFart/ElsParsers/internal/store/sqlstore"
	"github.com/OnlyFart/ElsParsers/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds credentials loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// logger is built in PersistentPreRunE from --log-format and --verbose.
var logger = zap.NewNop()

// rootCmd is the base command for the els-comparer CLI.
var rootCmd = &cobra.Command{
	Use:   "els-comparer",
	Short: "Find records that describe the same book across library catalogs",
	Long: `els-comparer links catalog records harvested from different electronic
library systems when they describe the same book. Records are compared by
normalized authors and title; every match is stored on both records as a
similarity link.

Typical use: import crawler output, run compare (repeatable; only new or
failed records are compared again), then export or report.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}

		l, err := buildLogger(cmd)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./els-comparer.yaml or ~/.config/els-comparer/els-comparer.yaml)")
	pf.String("log-format", "", "log format: json or console")
	pf.Bool("verbose", false, "enable debug logging")
	pf.String("driver", "", "store driver: sqlite, postgres or mongo")
	pf.String("dsn", "", "store DSN: sqlite file path, postgres connection string or mongodb:// URI")
	pf.String("database", "", "mongo database name")
	pf.String("collection", "", "mongo collection name")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("els-comparer")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "els-comparer"))
		}
	}

	viper.SetEnvPrefix("ELS_COMPARER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(types.DefaultConfig())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every key so that AutomaticEnv can override it.
// store.dsn has no default here: an unset DSN is filled from .secrets/ first.
func setDefaults(d types.Config) {
	viper.SetDefault("normalizer.non_sign_words", d.Normalizer.NonSignWords)
	viper.SetDefault("normalizer.vowels", d.Normalizer.Vowels)
	viper.SetDefault("normalizer.author_stopwords", d.Normalizer.AuthorStopwords)
	viper.SetDefault("normalizer.bib_stopwords", d.Normalizer.BibStopwords)
	viper.SetDefault("normalizer.bib_stopwords_file", d.Normalizer.BibStopwordsFile)
	viper.SetDefault("comparer.levenshtein_border", d.Comparer.LevenshteinBorder)
	viper.SetDefault("comparer.intersection_border", d.Comparer.IntersectionBorder)
	viper.SetDefault("comparer.max_parallelism", d.Comparer.MaxParallelism)
	viper.SetDefault("comparer.enrich_from_bibliography", d.Comparer.EnrichFromBibliography)
	viper.SetDefault("reconciler.batch_size", d.Reconciler.BatchSize)
	viper.SetDefault("reconciler.retry_attempts", d.Reconciler.RetryAttempts)
	viper.SetDefault("reconciler.retry_delay", d.Reconciler.RetryDelay)
	viper.SetDefault("store.driver", d.Store.Driver)
	viper.BindEnv("store.dsn")
	viper.SetDefault("store.database", d.Store.Database)
	viper.SetDefault("store.collection", d.Store.Collection)
	viper.SetDefault("events.enabled", d.Events.Enabled)
	viper.SetDefault("events.brokers", d.Events.Brokers)
	viper.SetDefault("events.topic", d.Events.Topic)
	viper.SetDefault("events.batch_size", d.Events.BatchSize)
	viper.SetDefault("events.batch_timeout", d.Events.BatchTimeout)
	viper.BindEnv("events.sasl_username")
	viper.BindEnv("events.sasl_password")
	viper.SetDefault("lock.enabled", d.Lock.Enabled)
	viper.SetDefault("lock.addr", d.Lock.Addr)
	viper.BindEnv("lock.password")
	viper.SetDefault("lock.db", d.Lock.DB)
	viper.SetDefault("lock.ttl", d.Lock.TTL)
	viper.SetDefault("log.format", d.Log.Format)
	viper.SetDefault("log.verbose", d.Log.Verbose)
	viper.SetDefault("metrics_addr", d.MetricsAddr)
}

// loadConfig merges defaults, the config file, the environment, .secrets/
// and the persistent flags, in increasing precedence, and validates the result.
func loadConfig(cmd *cobra.Command) (types.Config, error) {
	cfg := types.DefaultConfig()
	defaultDSN := cfg.Store.DSN
	cfg.Store.DSN = ""
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading configuration: %w", err)
	}
	secrets.Apply(&cfg, loadedSecrets)
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = defaultDSN
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		v, _ := flags.GetString("driver")
		cfg.Store.Driver = types.StoreDriver(v)
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("database") {
		cfg.Store.Database, _ = flags.GetString("database")
	}
	if flags.Changed("collection") {
		cfg.Store.Collection, _ = flags.GetString("collection")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("verbose") {
		cfg.Log.Verbose, _ = flags.GetBool("verbose")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func buildLogger(cmd *cobra.Command) (*zap.Logger, error) {
	format := viper.GetString("log.format")
	if cmd.Flags().Changed("log-format") {
		format, _ = cmd.Flags().GetString("log-format")
	}
	verbose := viper.GetBool("log.verbose")
	if cmd.Flags().Changed("verbose") {
		verbose, _ = cmd.Flags().GetBool("verbose")
	}

	var zcfg zap.Config
	switch format {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json", "":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unsupported log format %q: use json or console", format)
	}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l.With(zap.String("version", version)), nil
}

// openStore returns the store selected by cfg.Driver.
func openStore(ctx context.Context, cfg types.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case types.DriverMongo:
		return mongostore.NewStore(ctx, cfg, logger)
	case types.DriverSQLite, types.DriverPostgres:
		return sqlstore.NewStore(cfg, logger)
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
}

func main() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
