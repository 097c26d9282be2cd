// Package cmd is the cobra/viper CLI surface for the demo HiPS viewer:
// a persistent config file, env-bound flags, and slog logging
// configured once on cobra.OnInitialize.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string
var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "hipsviewer",
	Short: "A HiPS sky-survey tile viewer",
	Long: `hipsviewer demonstrates the HiPS tile-caching and progressive-refinement
engine: it fetches HEALPix-addressed tiles from a HiPS service in the
background, decodes and caches them, and renders the best tile currently
available for a single focus position as you navigate the pyramid.`,
	RunE: runView,
}

// Execute runs the root command; it's the single entry point called
// from cmd/hipsviewer/main.go.
func Execute() {
	if logger == nil {
		initLogging()
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("service-url", "https://alasky.u-strasbg.fr/DSS/DSSColor", "HiPS service base URL")
	rootCmd.PersistentFlags().Int64("cache-budget", 0, "tile cache cost budget in bytes (0 = tilecache.DefaultBudget)")
	rootCmd.PersistentFlags().Int64("workers", 10, "async decode worker pool size")
	rootCmd.PersistentFlags().Int("width", 1024, "window width")
	rootCmd.PersistentFlags().Int("height", 768, "window height")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBind("log-level", "log-level")
	mustBind("service-url", "service-url")
	mustBind("cache-budget", "cache-budget")
	mustBind("workers", "workers")
	mustBind("width", "width")
	mustBind("height", "height")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("HIPSVIEWER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if logger != nil {
			logger.Debug("using config file", "path", viper.ConfigFileUsed())
		}
	}
}

func initLogging() {
	levelStr := strings.ToLower(viper.GetString("log-level"))
	level := slog.LevelInfo
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "err":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "unknown log level %q, defaulting to info\n", levelStr)
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
